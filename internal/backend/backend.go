package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SearchResponse is the subset of the engine's search and scroll responses
// the helpers depend on.
type SearchResponse struct {
	Took     int64      `json:"took"`
	TimedOut bool       `json:"timed_out"`
	ScrollID string     `json:"_scroll_id,omitempty"`
	Hits     HitsResult `json:"hits"`
	// Aggregations are kept as raw JSON and returned verbatim.
	Aggregations json.RawMessage `json:"aggregations,omitempty"`
}

// HitsResult contains the search hits.
type HitsResult struct {
	Total    HitsTotal `json:"total"`
	MaxScore *float64  `json:"max_score"`
	Hits     []Hit     `json:"hits"`
}

// HitsTotal represents the total hit count. Older engines report a bare
// number, newer ones an object with a relation.
type HitsTotal struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

func (t *HitsTotal) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decoding hits.total: %w", err)
		}
		t.Value = n
		t.Relation = "eq"
		return nil
	}
	var obj struct {
		Value    int64  `json:"value"`
		Relation string `json:"relation"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding hits.total: %w", err)
	}
	t.Value = obj.Value
	t.Relation = obj.Relation
	return nil
}

// Hit is one search result document.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source"`
	// Highlight maps field names to fragments. Kept raw so callers can
	// decode it preserving the engine's field order.
	Highlight json.RawMessage `json:"highlight,omitempty"`
}

// GetResult is the engine's answer to a get-by-id or an update that
// fetched the source.
type GetResult struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source"`
}

// BulkOperation is a single index action inside a bulk request.
type BulkOperation struct {
	ID     string // Empty lets the engine assign one.
	Source json.RawMessage
}

// BulkResponse reports the per-item outcome of a bulk request.
type BulkResponse struct {
	Took   int64      `json:"took"`
	Errors bool       `json:"errors"`
	Items  []BulkItem `json:"-"`
}

// BulkItem is the outcome of one bulk action.
type BulkItem struct {
	Action string         `json:"-"`
	Index  string         `json:"_index"`
	Type   string         `json:"_type"`
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Error  *BulkItemError `json:"error,omitempty"`
}

// BulkItemError is the engine's description of a failed item.
type BulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Failed reports whether the item did not succeed.
func (i BulkItem) Failed() bool {
	return i.Error != nil || i.Status >= 300
}

// HasFailures reports whether any item failed.
func (r *BulkResponse) HasFailures() bool {
	if r.Errors {
		return true
	}
	for _, it := range r.Items {
		if it.Failed() {
			return true
		}
	}
	return false
}

// FailedCount returns the number of failed items.
func (r *BulkResponse) FailedCount() int {
	n := 0
	for _, it := range r.Items {
		if it.Failed() {
			n++
		}
	}
	return n
}

// FailureMessage composes a summary naming every failed item.
func (r *BulkResponse) FailureMessage() string {
	var b strings.Builder
	b.WriteString("failure in bulk execution:")
	for i, it := range r.Items {
		if !it.Failed() {
			continue
		}
		msg := fmt.Sprintf("status %d", it.Status)
		if it.Error != nil {
			msg = fmt.Sprintf("[type=%s, reason=%s]", it.Error.Type, it.Error.Reason)
		}
		fmt.Fprintf(&b, "\n[%d]: index [%s], type [%s], id [%s], message [%s]", i, it.Index, it.Type, it.ID, msg)
	}
	return b.String()
}

func (r *BulkResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Took   int64                        `json:"took"`
		Errors bool                         `json:"errors"`
		Items  []map[string]json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Took = raw.Took
	r.Errors = raw.Errors
	r.Items = make([]BulkItem, 0, len(raw.Items))
	for _, entry := range raw.Items {
		// Each entry has exactly one key: the action name.
		for action, body := range entry {
			var it BulkItem
			if err := json.Unmarshal(body, &it); err != nil {
				return fmt.Errorf("decoding bulk item: %w", err)
			}
			it.Action = action
			r.Items = append(r.Items, it)
		}
	}
	return nil
}
