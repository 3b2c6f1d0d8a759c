// Package bulk buffers index operations and sends them to the engine in
// batches.
package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leonunix/eshelper/internal/backend"
	"github.com/leonunix/eshelper/internal/config"
	"github.com/leonunix/eshelper/internal/metrics"
	"github.com/leonunix/eshelper/internal/shaper"
)

// ErrInvalidSize is returned by New for a batch size below one.
var ErrInvalidSize = errors.New("bulk batch size must be at least 1")

// Indexer is the subset of the engine transport the buffer needs.
type Indexer interface {
	Bulk(ctx context.Context, index string, ops []backend.BulkOperation) (*backend.BulkResponse, error)
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithCodec sets the codec used to serialize documents that are not already
// JSON bytes.
func WithCodec(c config.Codec) Option {
	return func(b *Buffer) { b.codec = c }
}

// WithoutField removes a top-level field from every document before it is
// sent.
func WithoutField(name string) Option {
	return func(b *Buffer) { b.strip = append(b.strip, name) }
}

// WithIDField uses the value of a top-level field as the document id, so
// reloading the same data overwrites rather than duplicates.
func WithIDField(name string) Option {
	return func(b *Buffer) { b.idField = name }
}

// Buffer accumulates index operations for one index and flushes them every
// size documents. A failed batch stays pending and is retried by the next
// Add or Flush; batches flushed earlier stay committed in the engine.
//
// A Buffer must be owned by a single goroutine.
type Buffer struct {
	engine Indexer
	index  string
	size   int

	codec   config.Codec
	idField string
	strip   []string

	pending   []backend.BulkOperation
	flushes   int
	committed int
}

func New(engine Indexer, index string, size int, opts ...Option) (*Buffer, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	b := &Buffer{
		engine: engine,
		index:  index,
		size:   size,
		codec:  config.JSONCodec{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pending = make([]backend.BulkOperation, 0, size)
	return b, nil
}

// Add serializes doc and queues it. Raw JSON ([]byte or json.RawMessage) is
// queued as is. When the pending count reaches the batch size the buffer
// flushes. A full batch left over from a failed flush is retried first; if
// the retry fails too, doc is not queued and the error is returned, so no
// more than size documents are ever pending.
func (b *Buffer) Add(ctx context.Context, doc any) error {
	op, err := b.operation(doc)
	if err != nil {
		return err
	}
	if len(b.pending) >= b.size {
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	b.pending = append(b.pending, op)

	if len(b.pending) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

func (b *Buffer) operation(doc any) (backend.BulkOperation, error) {
	var data []byte
	switch v := doc.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		encoded, err := b.codec.Marshal(doc)
		if err != nil {
			return backend.BulkOperation{}, fmt.Errorf("encoding document: %w", err)
		}
		data = encoded
	}

	op := backend.BulkOperation{Source: json.RawMessage(data)}
	if b.idField == "" && len(b.strip) == 0 {
		return op, nil
	}

	parsed, err := shaper.Parse(data)
	if err != nil {
		return backend.BulkOperation{}, fmt.Errorf("parsing document: %w", err)
	}
	if b.idField != "" {
		if raw, ok := parsed.Get(b.idField); ok {
			if id, ok := shaper.ScalarText(raw); ok {
				op.ID = id
			}
		}
	}
	if len(b.strip) > 0 {
		for _, name := range b.strip {
			parsed.Delete(name)
		}
		if op.Source, err = parsed.Bytes(); err != nil {
			return backend.BulkOperation{}, fmt.Errorf("encoding document: %w", err)
		}
	}
	return op, nil
}

// Flush sends every pending operation in one bulk request. It is a no-op
// when nothing is pending. If any item fails the whole batch stays pending
// and a *backend.BulkError is returned.
func (b *Buffer) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}

	b.flushes++
	resp, err := b.engine.Bulk(ctx, b.index, b.pending)
	if err != nil {
		metrics.BulkFlushesTotal.WithLabelValues(b.index, "error").Inc()
		return fmt.Errorf("flushing %d documents to %s: %w", len(b.pending), b.index, err)
	}
	if resp.HasFailures() {
		metrics.BulkFlushesTotal.WithLabelValues(b.index, "partial").Inc()
		bulkErr := &backend.BulkError{
			Index:   b.index,
			Failed:  resp.FailedCount(),
			Total:   len(b.pending),
			Message: resp.FailureMessage(),
		}
		slog.Warn("bulk flush failed",
			"index", b.index,
			"failed", bulkErr.Failed,
			"total", bulkErr.Total,
		)
		return bulkErr
	}

	metrics.BulkFlushesTotal.WithLabelValues(b.index, "ok").Inc()
	metrics.BulkDocumentsTotal.WithLabelValues(b.index).Add(float64(len(b.pending)))
	slog.Debug("bulk flush", "index", b.index, "docs", len(b.pending), "took_ms", resp.Took)

	b.committed += len(b.pending)
	b.pending = make([]backend.BulkOperation, 0, b.size)
	return nil
}

// Close drains the buffer.
func (b *Buffer) Close(ctx context.Context) error {
	return b.Flush(ctx)
}

// Flushes returns the number of bulk requests issued.
func (b *Buffer) Flushes() int { return b.flushes }

// Committed returns the number of documents acknowledged by the engine.
func (b *Buffer) Committed() int { return b.committed }

// Pending returns the number of queued documents.
func (b *Buffer) Pending() int { return len(b.pending) }

func (b *Buffer) Index() string { return b.index }
