// Package loader streams NDJSON files into an index through a bulk buffer,
// checkpointing after every committed batch so an interrupted load resumes
// where it stopped.
package loader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leonunix/eshelper/internal/bulk"
	"github.com/leonunix/eshelper/internal/config"
	"github.com/leonunix/eshelper/internal/metrics"
)

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 16 << 20

// Progress tracks real-time load progress.
type Progress struct {
	File      string
	Index     string
	Loaded    atomic.Int64
	StartTime time.Time
}

// Loader loads the configured files into the configured index.
type Loader struct {
	cfg              config.LoadConfig
	batchSize        int
	engine           bulk.Indexer
	checkpoint       *CheckpointStore
	reporter         Reporter // optional
	progressInterval time.Duration
}

// Option configures optional Loader behavior.
type Option func(*Loader)

// WithReporter records a Report after every file.
func WithReporter(r Reporter) Option {
	return func(l *Loader) {
		l.reporter = r
	}
}

// WithCheckpointStore overrides the checkpoint store built from
// load.checkpoint_dir.
func WithCheckpointStore(store *CheckpointStore) Option {
	return func(l *Loader) {
		l.checkpoint = store
	}
}

// New creates a Loader.
func New(cfg *config.Config, engine bulk.Indexer, opts ...Option) (*Loader, error) {
	if cfg.Load.Index == "" {
		return nil, fmt.Errorf("load.index is required")
	}

	l := &Loader{
		cfg:              cfg.Load,
		batchSize:        cfg.Bulk.BatchSize,
		engine:           engine,
		progressInterval: cfg.Load.ProgressInterval,
	}
	if l.batchSize <= 0 {
		l.batchSize = 1000
	}
	if l.progressInterval <= 0 {
		l.progressInterval = 10 * time.Second
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.checkpoint == nil {
		store, err := NewCheckpointStore(cfg.Load.CheckpointDir)
		if err != nil {
			return nil, fmt.Errorf("initializing checkpoint store: %w", err)
		}
		l.checkpoint = store
	}
	return l, nil
}

// LoadAll loads every configured file. Wildcard patterns are expanded. A
// failing file does not stop the others; all failures are returned joined.
func (l *Loader) LoadAll(ctx context.Context) error {
	files, err := resolveFiles(l.cfg.Files)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		slog.Info("no files configured for loading, skipping")
		return nil
	}

	var errs []error
	for _, file := range files {
		if _, err := l.LoadFile(ctx, file); err != nil {
			slog.Error("load failed for file", "file", file, "error", err)
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return errors.Join(errs...)
}

func resolveFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if !containsWildcard(pattern) {
			files = append(files, pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("resolving pattern %q: %w", pattern, err)
		}
		slog.Info("resolved file pattern", "pattern", pattern, "count", len(matches))
		files = append(files, matches...)
	}
	return files, nil
}

func containsWildcard(s string) bool {
	return strings.ContainsAny(s, "*?[]")
}

// LoadFile loads one file and returns its run report.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Report, error) {
	index := l.cfg.Index

	cp, err := l.checkpoint.Load(path, index)
	if err != nil {
		slog.Warn("failed to load checkpoint, starting fresh", "file", path, "error", err)
		cp = nil
	}
	resumed := cp != nil
	if cp == nil {
		cp = &Checkpoint{
			File:      path,
			Index:     index,
			RunID:     uuid.NewString(),
			StartedAt: time.Now().UTC(),
		}
	}

	slog.Info("starting load",
		"file", path,
		"index", index,
		"run_id", cp.RunID,
		"batch_size", l.batchSize,
		"resuming", resumed,
		"resume_after_line", cp.Lines,
	)

	progress := &Progress{
		File:      path,
		Index:     index,
		StartTime: time.Now(),
	}

	stopProgress := make(chan struct{})
	ticker := time.NewTicker(l.progressInterval)
	go l.reportProgress(progress, stopProgress, ticker.C)

	loadErr := l.load(ctx, path, cp, progress)

	close(stopProgress)
	ticker.Stop()

	report := newReport(cp, progress.StartTime, progress.Loaded.Load(), resumed, l.batchSize, loadErr)

	if loadErr != nil {
		if err := l.checkpoint.Save(cp); err != nil {
			slog.Warn("failed to save checkpoint", "file", path, "error", err)
		}
		l.record(ctx, report)
		return report, fmt.Errorf("loading %s into %s: %w", path, index, loadErr)
	}

	if err := l.checkpoint.MarkComplete(cp); err != nil {
		slog.Warn("failed to mark checkpoint complete", "file", path, "error", err)
	}
	l.record(ctx, report)

	elapsed := time.Since(progress.StartTime)
	slog.Info("load completed",
		"file", path,
		"index", index,
		"lines", cp.Lines,
		"loaded", cp.Loaded,
		"invalid", cp.Invalid,
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"docs_per_sec", report.DocsPerSec,
	)
	return report, nil
}

func (l *Loader) load(ctx context.Context, path string, cp *Checkpoint, progress *Progress) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	var opts []bulk.Option
	if l.cfg.IDField != "" {
		opts = append(opts, bulk.WithIDField(l.cfg.IDField))
	}
	for _, field := range l.cfg.StripFields {
		opts = append(opts, bulk.WithoutField(field))
	}
	buf, err := bulk.New(l.engine, cp.Index, l.batchSize, opts...)
	if err != nil {
		return err
	}

	var (
		baseLoaded  = cp.Loaded
		baseInvalid = cp.Invalid
		resumeAfter = cp.Lines
		lineNo      int64
		invalid     int64
	)

	commit := func() error {
		cp.Lines = lineNo
		cp.Loaded = baseLoaded + int64(buf.Committed())
		cp.Invalid = baseInvalid + invalid
		progress.Loaded.Store(int64(buf.Committed()))
		if err := l.checkpoint.Save(cp); err != nil {
			return fmt.Errorf("saving checkpoint: %w", err)
		}
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		lineNo++
		if lineNo <= resumeAfter {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		doc, err := TransformLine(scanner.Bytes())
		if errors.Is(err, errBlankLine) {
			continue
		}
		if err != nil {
			invalid++
			metrics.LoadLinesTotal.WithLabelValues(cp.Index, "invalid").Inc()
			slog.Warn("skipping invalid line", "file", path, "line", lineNo, "error", err)
			continue
		}

		if err := buf.Add(ctx, doc); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		metrics.LoadLinesTotal.WithLabelValues(cp.Index, "queued").Inc()

		if buf.Pending() == 0 {
			if err := commit(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	if resumeAfter > 0 {
		metrics.LoadLinesTotal.WithLabelValues(cp.Index, "resumed").Add(float64(min(resumeAfter, lineNo)))
	}

	if err := buf.Close(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return commit()
}

func (l *Loader) reportProgress(progress *Progress, stop <-chan struct{}, tick <-chan time.Time) {
	for {
		select {
		case <-stop:
			return
		case <-tick:
			loaded := progress.Loaded.Load()
			elapsed := time.Since(progress.StartTime)
			rate := float64(loaded) / elapsed.Seconds()
			slog.Info("load progress",
				"file", progress.File,
				"index", progress.Index,
				"loaded", loaded,
				"elapsed", elapsed.Round(time.Second).String(),
				"docs_per_sec", int(rate),
			)
		}
	}
}

func (l *Loader) record(ctx context.Context, report *Report) {
	if l.reporter == nil {
		return
	}
	if err := l.reporter.Record(context.WithoutCancel(ctx), report); err != nil {
		slog.Warn("failed to record load report", "file", report.File, "error", err)
	}
}
