// Package shaper edits the top level of JSON documents while keeping the
// original key order. A document is either an object or an array of
// objects; edits on an array apply to every element.
package shaper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrUnsupportedRoot is returned when the document is neither an object
	// nor an array.
	ErrUnsupportedRoot = errors.New("json root is not an object or array")

	// ErrNotObject is returned when an array document holds a non-object
	// element.
	ErrNotObject = errors.New("array element is not an object")
)

type object = orderedmap.OrderedMap[string, json.RawMessage]

// Doc is a parsed document that can be edited repeatedly and serialized once.
type Doc struct {
	objects []*object
	array   bool
}

// Parse decodes data into a Doc.
func Parse(data []byte) (*Doc, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrUnsupportedRoot
	}

	switch trimmed[0] {
	case '{':
		obj, err := parseObject(trimmed)
		if err != nil {
			return nil, err
		}
		return &Doc{objects: []*object{obj}}, nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("decoding array: %w", err)
		}
		doc := &Doc{objects: make([]*object, 0, len(elems)), array: true}
		for i, el := range elems {
			el = bytes.TrimSpace(el)
			if len(el) == 0 || el[0] != '{' {
				return nil, fmt.Errorf("element %d: %w", i, ErrNotObject)
			}
			obj, err := parseObject(el)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			doc.objects = append(doc.objects, obj)
		}
		return doc, nil

	default:
		return nil, ErrUnsupportedRoot
	}
}

func parseObject(data []byte) (*object, error) {
	obj := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("decoding object: %w", err)
	}
	return obj, nil
}

// IsArray reports whether the document root is an array.
func (d *Doc) IsArray() bool { return d.array }

// Set writes name = value on the root object, or on every element of an
// array root. An existing field keeps its position; a new one is appended.
func (d *Doc) Set(name string, value any) error {
	raw, err := marshal(value)
	if err != nil {
		return fmt.Errorf("encoding field %q: %w", name, err)
	}
	for _, obj := range d.objects {
		obj.Set(name, raw)
	}
	return nil
}

// Delete removes name from the root object or from every element. A missing
// field is not an error.
func (d *Doc) Delete(name string) {
	for _, obj := range d.objects {
		obj.Delete(name)
	}
}

// Get returns the raw value of a top-level field of an object root.
func (d *Doc) Get(name string) (json.RawMessage, bool) {
	if d.array || len(d.objects) == 0 {
		return nil, false
	}
	return d.objects[0].Get(name)
}

// Bytes serializes the document in compact form.
func (d *Doc) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if d.array {
		buf.WriteByte('[')
	}
	for i, obj := range d.objects {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeObject(&buf, obj); err != nil {
			return nil, err
		}
	}
	if d.array {
		buf.WriteByte(']')
	}

	var out bytes.Buffer
	if err := json.Compact(&out, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("compacting document: %w", err)
	}
	return out.Bytes(), nil
}

func writeObject(buf *bytes.Buffer, obj *object) error {
	buf.WriteByte('{')
	first := true
	for p := obj.Oldest(); p != nil; p = p.Next() {
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := marshal(p.Key)
		if err != nil {
			return fmt.Errorf("encoding key %q: %w", p.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(p.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(p.Value)
	}
	buf.WriteByte('}')
	return nil
}

// marshal encodes v without HTML escaping so highlight markup stays readable.
func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// InjectField sets name = value at the top level. On any failure data is
// returned unchanged.
func InjectField(data []byte, name string, value any) []byte {
	doc, err := Parse(data)
	if err != nil {
		return data
	}
	if err := doc.Set(name, value); err != nil {
		return data
	}
	out, err := doc.Bytes()
	if err != nil {
		return data
	}
	return out
}

// RemoveField deletes a top-level field. A missing field is a no-op; on any
// failure data is returned unchanged.
func RemoveField(data []byte, name string) []byte {
	doc, err := Parse(data)
	if err != nil {
		return data
	}
	doc.Delete(name)
	out, err := doc.Bytes()
	if err != nil {
		return data
	}
	return out
}

// OverwriteField replaces a top-level field with the string value. Unlike
// the other edits it reports parse failures.
func OverwriteField(data []byte, name, value string) ([]byte, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := doc.Set(name, value); err != nil {
		return nil, err
	}
	return doc.Bytes()
}

// ExtractField returns the text of a top-level string, number or boolean
// field of an object document.
func ExtractField(data []byte, name string) (string, bool) {
	doc, err := Parse(data)
	if err != nil {
		return "", false
	}
	raw, ok := doc.Get(name)
	if !ok {
		return "", false
	}
	return ScalarText(raw)
}

// ScalarText renders a raw JSON scalar as text: strings unquoted, numbers
// verbatim, booleans as true or false. Null, objects and arrays yield false.
func ScalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case c == 't' || c == 'f':
		b, err := strconv.ParseBool(string(raw))
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	default:
		return "", false
	}
}
