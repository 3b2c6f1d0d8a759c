package search

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
)

// ErrMissingQuery is returned when a search is attempted without a query.
var ErrMissingQuery = errors.New("search query is required")

// SortOrder is the direction of a field sort.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Query describes one search. It is a value: the With methods return
// modified copies and never touch the receiver's slices or maps.
type Query struct {
	// Query is the engine query tree, e.g. {"match_all":{}}.
	Query json.RawMessage
	// Indices to search. Empty searches all indices.
	Indices []string

	// From and Size page the hits. -1 leaves the engine default.
	From int
	Size int

	SortField      string
	SortOrder      SortOrder
	NestedSortPath string

	// Aggregation is the request "aggs" object keyed by aggregation name.
	// When set, no hits are returned.
	Aggregation json.RawMessage

	HighlightFields []string
	// MaskFields maps a top-level field to the literal string that
	// replaces its value in every returned hit.
	MaskFields map[string]string

	IncludeFields []string
	ExcludeFields []string

	// KeepAlive (e.g. "1m") switches the search into scroll cursor mode.
	KeepAlive string
}

// NewQuery returns a description for query with engine-default paging and
// ascending sort order.
func NewQuery(query json.RawMessage) Query {
	return Query{
		Query:     query,
		From:      -1,
		Size:      -1,
		SortOrder: Asc,
	}
}

func (q Query) Validate() error {
	if len(q.Query) == 0 {
		return ErrMissingQuery
	}
	return nil
}

func (q Query) WithIndices(indices ...string) Query {
	q.Indices = slices.Clone(indices)
	return q
}

func (q Query) WithFrom(from int) Query {
	q.From = from
	return q
}

func (q Query) WithSize(size int) Query {
	q.Size = size
	return q
}

// WithSort enables sorting on field.
func (q Query) WithSort(field string, order SortOrder) Query {
	q.SortField = field
	q.SortOrder = order
	return q
}

// WithNestedSort enables sorting on a field inside the nested object at path.
func (q Query) WithNestedSort(field string, order SortOrder, path string) Query {
	q = q.WithSort(field, order)
	q.NestedSortPath = path
	return q
}

func (q Query) WithAggregation(aggs json.RawMessage) Query {
	q.Aggregation = aggs
	return q
}

func (q Query) WithHighlight(fields ...string) Query {
	q.HighlightFields = slices.Clone(fields)
	return q
}

// WithMask adds one field mask.
func (q Query) WithMask(field, replacement string) Query {
	masks := make(map[string]string, len(q.MaskFields)+1)
	maps.Copy(masks, q.MaskFields)
	masks[field] = replacement
	q.MaskFields = masks
	return q
}

// WithMasks replaces the whole mask map.
func (q Query) WithMasks(masks map[string]string) Query {
	q.MaskFields = maps.Clone(masks)
	return q
}

func (q Query) WithInclude(fields ...string) Query {
	q.IncludeFields = slices.Clone(fields)
	return q
}

func (q Query) WithExclude(fields ...string) Query {
	q.ExcludeFields = slices.Clone(fields)
	return q
}

func (q Query) WithKeepAlive(keepAlive string) Query {
	q.KeepAlive = keepAlive
	return q
}

func (q Query) cursorMode() bool { return q.KeepAlive != "" }

func (q Query) hasAggregation() bool { return len(q.Aggregation) > 0 }
