package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	errBlankLine = errors.New("blank line")
	errNotObject = errors.New("line is not a JSON object")
)

// TransformLine turns one NDJSON line into a document source. Lines may be
// plain documents or search hits as exported from the engine, in which case
// the _source field is unwrapped.
func TransformLine(line []byte) (json.RawMessage, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, errBlankLine
	}
	if line[0] != '{' {
		return nil, errNotObject
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, fmt.Errorf("parsing line: %w", err)
	}

	if source, ok := doc["_source"]; ok {
		source = bytes.TrimSpace(source)
		if len(source) == 0 || source[0] != '{' {
			return nil, fmt.Errorf("hit _source: %w", errNotObject)
		}
		return source, nil
	}

	// Copy: the scanner reuses its buffer for the next line.
	out := make(json.RawMessage, len(line))
	copy(out, line)
	return out, nil
}
