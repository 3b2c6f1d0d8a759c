package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Report records the outcome of loading one file.
type Report struct {
	Timestamp   time.Time `json:"@timestamp"`
	RunID       string    `json:"run_id"`
	File        string    `json:"file"`
	Index       string    `json:"index"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationSec float64   `json:"duration_sec"`
	Lines       int64     `json:"lines"`
	Loaded      int64     `json:"documents_loaded"`
	Invalid     int64     `json:"invalid_lines"`
	Resumed     bool      `json:"resumed"`
	DocsPerSec  float64   `json:"docs_per_sec"`
	BatchSize   int       `json:"batch_size"`
	Status      string    `json:"status"` // "success" or "failed"
	Error       string    `json:"error,omitempty"`
}

// Reporter persists run reports for later analysis.
type Reporter interface {
	Record(ctx context.Context, report *Report) error
}

func newReport(cp *Checkpoint, startTime time.Time, loadedThisRun int64, resumed bool, batchSize int, err error) *Report {
	now := time.Now().UTC()
	elapsed := now.Sub(startTime)
	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(loadedThisRun) / elapsed.Seconds()
	}
	r := &Report{
		Timestamp:   now,
		RunID:       cp.RunID,
		File:        cp.File,
		Index:       cp.Index,
		StartedAt:   startTime.UTC(),
		CompletedAt: now,
		DurationSec: elapsed.Seconds(),
		Lines:       cp.Lines,
		Loaded:      cp.Loaded,
		Invalid:     cp.Invalid,
		Resumed:     resumed,
		DocsPerSec:  rate,
		BatchSize:   batchSize,
		Status:      "success",
	}
	if err != nil {
		r.Status = "failed"
		r.Error = err.Error()
	}
	return r
}

// Saver is the document operation DocumentReporter needs.
type Saver interface {
	SaveWithID(ctx context.Context, index, id string, doc []byte) (string, error)
}

// DocumentReporter stores each report as a document in an engine index.
type DocumentReporter struct {
	store Saver
	index string
}

func NewDocumentReporter(store Saver, index string) *DocumentReporter {
	return &DocumentReporter{store: store, index: index}
}

// Record saves the report under a deterministic id, so a retried write
// overwrites instead of duplicating.
func (r *DocumentReporter) Record(ctx context.Context, report *Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if _, err := r.store.SaveWithID(ctx, r.index, reportDocID(report), body); err != nil {
		return fmt.Errorf("recording report: %w", err)
	}
	return nil
}

func reportDocID(r *Report) string {
	return fmt.Sprintf("load-%s-%d", r.RunID, r.StartedAt.Unix())
}

var _ Reporter = (*DocumentReporter)(nil)
