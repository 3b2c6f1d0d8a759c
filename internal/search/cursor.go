package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/leonunix/eshelper/internal/backend"
	"github.com/leonunix/eshelper/internal/metrics"
)

type cursorState int

const (
	cursorInitial cursorState = iota
	cursorContinuing
	cursorDrained
)

func (s cursorState) String() string {
	switch s {
	case cursorInitial:
		return "initial"
	case cursorContinuing:
		return "continuing"
	default:
		return "drained"
	}
}

// clearTimeout bounds the best-effort release of a scroll context.
const clearTimeout = 5 * time.Second

// cursor drains a scroll search one batch at a time. It lives for a single
// FindAll call.
type cursor struct {
	engine    Searcher
	keepAlive string
	state     cursorState
	scrollID  string // latest token seen, released on close
	pages     int    // continuation round-trips issued
}

func newCursor(engine Searcher, keepAlive string) *cursor {
	return &cursor{engine: engine, keepAlive: keepAlive}
}

// drain accumulates first and every continuation batch until the engine
// returns an empty token or an empty batch. Hits keep engine order.
func (c *cursor) drain(ctx context.Context, first *backend.SearchResponse) ([]backend.Hit, error) {
	var hits []backend.Hit
	resp := first

	for {
		hits = append(hits, resp.Hits.Hits...)
		if resp.ScrollID != "" {
			c.scrollID = resp.ScrollID
		}

		if resp.ScrollID == "" || len(resp.Hits.Hits) == 0 {
			c.state = cursorDrained
			return hits, nil
		}

		c.state = cursorContinuing
		next, err := c.engine.Scroll(ctx, resp.ScrollID, c.keepAlive)
		if err != nil {
			c.state = cursorDrained
			return nil, err
		}
		c.pages++
		metrics.CursorPagesTotal.Inc()
		resp = next
	}
}

// close releases the server-side scroll context. Failures are logged only;
// the engine expires the context after keepAlive anyway.
func (c *cursor) close(ctx context.Context) {
	if c.scrollID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer cancel()

	if err := c.engine.ClearScroll(ctx, c.scrollID); err != nil {
		slog.Warn("failed to clear scroll context", "pages", c.pages, "error", err)
		return
	}
	c.scrollID = ""
}
