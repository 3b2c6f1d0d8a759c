// Package document implements single-document CRUD on top of the engine
// transport.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/leonunix/eshelper/internal/backend"
	"github.com/leonunix/eshelper/internal/config"
	"github.com/leonunix/eshelper/internal/shaper"
)

var (
	// ErrInvalidField is returned when a counter field name is not a plain
	// identifier or a single nested identifier such as stats.views.
	ErrInvalidField = errors.New("invalid counter field name")

	// ErrMissingID is returned when an operation needs a document id and
	// none was given.
	ErrMissingID = errors.New("document id is required")
)

var counterField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Engine is the subset of the engine transport the store needs.
type Engine interface {
	Get(ctx context.Context, index, id string) (*backend.GetResult, error)
	Index(ctx context.Context, index, id string, body []byte) (string, error)
	Update(ctx context.Context, index, id string, body []byte) (*backend.GetResult, error)
	Delete(ctx context.Context, index, id string) error
}

// Store saves, fetches, updates and deletes single documents.
type Store struct {
	engine Engine
	cfg    config.ClientConfig
}

func New(engine Engine, cfg config.ClientConfig) *Store {
	return &Store{engine: engine, cfg: cfg.WithDefaults()}
}

// Save indexes doc. If doc carries a value in the identifier field it is
// used as the document id, otherwise the engine assigns one. The id is
// returned either way.
func (s *Store) Save(ctx context.Context, index string, doc []byte) (string, error) {
	id, _ := shaper.ExtractField(doc, s.cfg.IdentifierField)

	assigned, err := s.engine.Index(ctx, index, id, doc)
	if err != nil {
		return "", fmt.Errorf("saving document to %s: %w", index, err)
	}
	return assigned, nil
}

// SaveWithID creates or overwrites the document with the given id.
func (s *Store) SaveWithID(ctx context.Context, index, id string, doc []byte) (string, error) {
	if id == "" {
		return "", ErrMissingID
	}
	assigned, err := s.engine.Index(ctx, index, id, doc)
	if err != nil {
		return "", fmt.Errorf("saving document %s/%s: %w", index, id, err)
	}
	return assigned, nil
}

// FindByID returns the stored source of a document, exactly as indexed.
func (s *Store) FindByID(ctx context.Context, index, id string) (json.RawMessage, bool, error) {
	res, err := s.engine.Get(ctx, index, id)
	if err != nil {
		return nil, false, fmt.Errorf("fetching document %s/%s: %w", index, id, err)
	}
	if !res.Found {
		return nil, false, nil
	}
	return res.Source, true, nil
}

// DeleteByID removes a document. Deleting a missing document is an error.
func (s *Store) DeleteByID(ctx context.Context, index, id string) error {
	if err := s.engine.Delete(ctx, index, id); err != nil {
		return fmt.Errorf("deleting document %s/%s: %w", index, id, err)
	}
	return nil
}

// Update merges doc into the stored document. The identifier field and any
// ignoreFields are dropped from doc first. The updated source is returned
// with the identifier injected.
func (s *Store) Update(ctx context.Context, index, id string, doc []byte, ignoreFields ...string) (json.RawMessage, bool, error) {
	if id == "" {
		return nil, false, ErrMissingID
	}

	partial, err := shaper.Parse(doc)
	if err != nil {
		return nil, false, fmt.Errorf("parsing update document: %w", err)
	}
	if partial.IsArray() {
		return nil, false, fmt.Errorf("parsing update document: %w", shaper.ErrUnsupportedRoot)
	}
	partial.Delete(s.cfg.IdentifierField)
	for _, f := range ignoreFields {
		partial.Delete(f)
	}
	partialBytes, err := partial.Bytes()
	if err != nil {
		return nil, false, fmt.Errorf("encoding update document: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"doc":     json.RawMessage(partialBytes),
		"_source": true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("encoding update request: %w", err)
	}
	return s.update(ctx, index, id, body)
}

// IncrementCounter adds one to a numeric field, creating it (and its parent
// object for a nested name) when missing. Only names of the form name or
// parent.name are accepted.
func (s *Store) IncrementCounter(ctx context.Context, index, id, field string) (json.RawMessage, bool, error) {
	if id == "" {
		return nil, false, ErrMissingID
	}
	if !counterField.MatchString(field) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidField, field)
	}

	body, err := json.Marshal(map[string]any{
		"script": map[string]any{
			"lang":   "painless",
			"source": counterScript(field),
			"params": map[string]any{"count": 1},
		},
		"_source": true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("encoding counter request: %w", err)
	}
	return s.update(ctx, index, id, body)
}

// counterScript renders the painless source for a validated field name.
func counterScript(field string) string {
	var b strings.Builder
	if parent, _, nested := strings.Cut(field, "."); nested {
		fmt.Fprintf(&b, "if (ctx._source.%[1]s == null) { ctx._source.%[1]s = new HashMap(); } ", parent)
	}
	fmt.Fprintf(&b, "ctx._source.%[1]s = ctx._source.%[1]s == null ? params.count : ctx._source.%[1]s + params.count", field)
	return b.String()
}

func (s *Store) update(ctx context.Context, index, id string, body []byte) (json.RawMessage, bool, error) {
	res, err := s.engine.Update(ctx, index, id, body)
	if err != nil {
		return nil, false, fmt.Errorf("updating document %s/%s: %w", index, id, err)
	}
	if !res.Found {
		return nil, false, nil
	}

	source := res.Source
	if !s.cfg.SkipIdentifier {
		docID := res.ID
		if docID == "" {
			docID = id
		}
		source = shaper.InjectField(source, s.cfg.IdentifierField, docID)
	}
	return source, true, nil
}
