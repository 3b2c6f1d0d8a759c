package search

import (
	"encoding/json"
	"fmt"
)

// requestBody is the engine search body. Field order follows the order the
// engine documents them in.
type requestBody struct {
	From      *int                  `json:"from,omitempty"`
	Size      *int                  `json:"size,omitempty"`
	Query     json.RawMessage       `json:"query"`
	Aggs      json.RawMessage       `json:"aggs,omitempty"`
	Sort      []map[string]sortSpec `json:"sort,omitempty"`
	Highlight *highlight            `json:"highlight,omitempty"`
	Source    *sourceFilter         `json:"_source,omitempty"`
}

type sortSpec struct {
	Order  SortOrder   `json:"order"`
	Nested *nestedSort `json:"nested,omitempty"`
}

type nestedSort struct {
	Path string `json:"path"`
}

type highlight struct {
	Fields map[string]struct{} `json:"fields"`
}

type sourceFilter struct {
	Includes []string `json:"includes"`
	Excludes []string `json:"excludes"`
}

// BuildRequest renders the findAll request body for q.
func BuildRequest(q Query) ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	body := requestBody{Query: q.Query}
	if q.From >= 0 {
		body.From = intPtr(q.From)
	}
	if q.Size > 0 {
		body.Size = intPtr(q.Size)
	}
	if len(q.HighlightFields) > 0 {
		h := &highlight{Fields: make(map[string]struct{}, len(q.HighlightFields))}
		for _, f := range q.HighlightFields {
			h.Fields[f] = struct{}{}
		}
		body.Highlight = h
	}
	if q.hasAggregation() {
		body.Aggs = q.Aggregation
		body.Size = intPtr(0)
	}
	body.Sort = sortClause(q)
	if len(q.IncludeFields) > 0 || len(q.ExcludeFields) > 0 {
		body.Source = &sourceFilter{
			Includes: nonNil(q.IncludeFields),
			Excludes: nonNil(q.ExcludeFields),
		}
	}

	return encode(body)
}

// buildFindOneRequest renders a single-hit request: query, aggregation and
// sort only.
func buildFindOneRequest(q Query) ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	body := requestBody{
		Size:  intPtr(1),
		Query: q.Query,
		Aggs:  q.Aggregation,
		Sort:  sortClause(q),
	}
	return encode(body)
}

func sortClause(q Query) []map[string]sortSpec {
	if q.SortField == "" {
		return nil
	}
	order := q.SortOrder
	if order == "" {
		order = Asc
	}
	s := sortSpec{Order: order}
	if q.NestedSortPath != "" {
		s.Nested = &nestedSort{Path: q.NestedSortPath}
	}
	return []map[string]sortSpec{{q.SortField: s}}
}

func encode(body requestBody) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}
	return data, nil
}

func intPtr(v int) *int { return &v }

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
