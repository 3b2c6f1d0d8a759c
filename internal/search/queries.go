package search

import "encoding/json"

// A few query and aggregation trees for common cases. Anything richer is
// built by the caller as raw JSON.

func MatchAll() json.RawMessage {
	return json.RawMessage(`{"match_all":{}}`)
}

func Term(field string, value any) json.RawMessage {
	return mustTree(map[string]any{"term": map[string]any{field: value}})
}

// Prefix matches documents whose field starts with prefix.
func Prefix(field, prefix string) json.RawMessage {
	return mustTree(map[string]any{"prefix": map[string]any{field: prefix}})
}

// Match runs a full-text match of text against field.
func Match(field, text string) json.RawMessage {
	return mustTree(map[string]any{"match": map[string]any{field: text}})
}

// TermsAgg builds an aggs object with a single terms aggregation called name.
// A size of zero or less leaves the engine default.
func TermsAgg(name, field string, size int) json.RawMessage {
	terms := map[string]any{"field": field}
	if size > 0 {
		terms["size"] = size
	}
	return mustTree(map[string]any{name: map[string]any{"terms": terms}})
}

func mustTree(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
