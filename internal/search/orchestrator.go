// Package search turns Query descriptions into engine requests, drains
// scroll cursors and post-processes hits into the caller's JSON envelope.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/leonunix/eshelper/internal/backend"
	"github.com/leonunix/eshelper/internal/config"
	"github.com/leonunix/eshelper/internal/metrics"
	"github.com/leonunix/eshelper/internal/shaper"
)

// SnippetSeparator joins highlight fragments.
const SnippetSeparator = "..."

// Searcher is the subset of the engine transport the orchestrator needs.
type Searcher interface {
	Search(ctx context.Context, indices []string, body []byte, keepAlive string) (*backend.SearchResponse, error)
	Scroll(ctx context.Context, scrollID, keepAlive string) (*backend.SearchResponse, error)
	ClearScroll(ctx context.Context, scrollID string) error
}

// Result is the outcome of FindAll. Result holds a JSON array of hit
// payloads, or {"aggregations":{...}} when the query carried an
// aggregation.
type Result struct {
	Result json.RawMessage
	From   int
	Size   int // total matching documents, not len(Result)
	TookMs int64
}

// Orchestrator runs searches. It holds no per-call state and is safe for
// concurrent use.
type Orchestrator struct {
	engine Searcher
	cfg    config.ClientConfig
}

func New(engine Searcher, cfg config.ClientConfig) *Orchestrator {
	return &Orchestrator{engine: engine, cfg: cfg.WithDefaults()}
}

// FindOne returns the first hit for q with identifier and masks applied.
// Paging, highlighting, source filtering and cursor mode are ignored.
func (o *Orchestrator) FindOne(ctx context.Context, q Query) (json.RawMessage, bool, error) {
	body, err := buildFindOneRequest(q)
	if err != nil {
		return nil, false, err
	}

	resp, err := o.engine.Search(ctx, q.Indices, body, "")
	if err != nil {
		return nil, false, fmt.Errorf("find one: %w", err)
	}
	if len(resp.Hits.Hits) == 0 {
		return nil, false, nil
	}

	metrics.HitsEmittedTotal.Inc()
	return o.shape(resp.Hits.Hits[0], sortedMasks(q.MaskFields), false), true, nil
}

// FindAll runs q and assembles the result envelope. In cursor mode every
// batch is fetched before any hit is processed.
func (o *Orchestrator) FindAll(ctx context.Context, q Query) (*Result, error) {
	body, err := BuildRequest(q)
	if err != nil {
		return nil, err
	}

	resp, err := o.engine.Search(ctx, q.Indices, body, q.KeepAlive)
	if err != nil {
		return nil, fmt.Errorf("find all: %w", err)
	}

	result := &Result{
		From:   q.From,
		Size:   clampTotal(resp.Hits.Total.Value),
		TookMs: resp.Took,
	}

	hits := resp.Hits.Hits
	if q.cursorMode() {
		c := newCursor(o.engine, q.KeepAlive)
		defer c.close(ctx)

		hits, err = c.drain(ctx, resp)
		if err != nil {
			return nil, fmt.Errorf("find all: continuing cursor after %d pages: %w", c.pages, err)
		}
		slog.Debug("cursor drained", "pages", c.pages, "hits", len(hits), "state", c.state)
	}

	if q.hasAggregation() {
		aggs, err := aggregationEnvelope(resp.Aggregations)
		if err != nil {
			return nil, &backend.TransportError{Op: "search", Err: err}
		}
		result.Result = aggs
		return result, nil
	}

	result.Result = o.hitsEnvelope(hits, sortedMasks(q.MaskFields))
	metrics.HitsEmittedTotal.Add(float64(len(hits)))
	return result, nil
}

type mask struct {
	field string
	value string
}

// sortedMasks orders masks by field name so output does not depend on map
// iteration order.
func sortedMasks(m map[string]string) []mask {
	if len(m) == 0 {
		return nil
	}
	out := make([]mask, 0, len(m))
	for _, field := range slices.Sorted(maps.Keys(m)) {
		out = append(out, mask{field: field, value: m[field]})
	}
	return out
}

func (o *Orchestrator) hitsEnvelope(hits []backend.Hit, masks []mask) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, hit := range hits {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(o.shape(hit, masks, true))
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// shape applies identifier injection, masks and, when withHighlight is set,
// snippet embedding to one hit. The payload is parsed once; if it cannot be
// parsed or serialized the source is returned untouched.
func (o *Orchestrator) shape(hit backend.Hit, masks []mask, withHighlight bool) json.RawMessage {
	src := hit.Source
	if len(bytes.TrimSpace(src)) == 0 {
		// Source disabled or filtered away entirely.
		src = json.RawMessage(`{}`)
	}

	doc, err := shaper.Parse(src)
	if err != nil {
		metrics.ShapeFailuresTotal.WithLabelValues("parse").Inc()
		slog.Debug("hit source is not an object, passing through", "id", hit.ID, "error", err)
		return src
	}

	if !o.cfg.SkipIdentifier {
		if err := doc.Set(o.cfg.IdentifierField, hit.ID); err != nil {
			metrics.ShapeFailuresTotal.WithLabelValues("identifier").Inc()
		}
	}

	for _, m := range masks {
		if err := doc.Set(m.field, m.value); err != nil {
			metrics.ShapeFailuresTotal.WithLabelValues("mask").Inc()
		}
	}

	if withHighlight && hasHighlight(hit.Highlight) {
		if snippet, ok := snippetOf(hit.Highlight); ok {
			if err := doc.Set(o.cfg.SnippetField, snippet); err != nil {
				metrics.ShapeFailuresTotal.WithLabelValues("highlight").Inc()
			}
		} else {
			metrics.ShapeFailuresTotal.WithLabelValues("highlight").Inc()
		}
	}

	out, err := doc.Bytes()
	if err != nil {
		metrics.ShapeFailuresTotal.WithLabelValues("serialize").Inc()
		return src
	}
	return out
}

// snippetOf joins the fragments of each highlighted field in engine order.
// Every field overwrites the previous one, so the last field wins.
func snippetOf(raw json.RawMessage) (string, bool) {
	fields := orderedmap.New[string, []string]()
	if err := json.Unmarshal(raw, fields); err != nil {
		return "", false
	}

	var snippet string
	found := false
	for p := fields.Oldest(); p != nil; p = p.Next() {
		snippet = strings.Join(p.Value, SnippetSeparator)
		found = true
	}
	return snippet, found
}

func hasHighlight(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// aggregationEnvelope wraps the engine's aggregations under an
// "aggregations" key, the shape the engine itself serializes them in.
func aggregationEnvelope(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{"aggregations":{}}`), nil
	}
	var buf bytes.Buffer
	buf.WriteString(`{"aggregations":`)
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("compacting aggregations: %w", err)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func clampTotal(total int64) int {
	if total > math.MaxInt32 {
		return math.MaxInt32
	}
	if total < 0 {
		return 0
	}
	return int(total)
}
