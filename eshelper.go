// Package eshelper is a convenience layer over an Elasticsearch-compatible
// search engine. It saves and updates single JSON documents, buffers bulk
// ingestion, and runs searches whose hits come back as ready-to-use JSON:
// the engine id injected, configured fields masked, highlight fragments
// embedded, and scroll cursors drained transparently.
package eshelper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/leonunix/eshelper/internal/backend"
	"github.com/leonunix/eshelper/internal/bulk"
	"github.com/leonunix/eshelper/internal/config"
	"github.com/leonunix/eshelper/internal/document"
	"github.com/leonunix/eshelper/internal/search"
)

type (
	// Query describes one search. Build it with NewQuery and the With methods.
	Query = search.Query
	// Result is the outcome of FindAll.
	Result = search.Result
	// SortOrder is the direction of a sort clause.
	SortOrder = search.SortOrder
	// ClientConfig shapes identifier injection, snippets, the document type
	// and the codec.
	ClientConfig = config.ClientConfig
	// Codec converts entities to and from JSON documents.
	Codec = config.Codec
	// BulkBuffer batches index operations for one index.
	BulkBuffer = bulk.Buffer
	// BulkOption configures a BulkBuffer.
	BulkOption = bulk.Option
)

const (
	Asc  = search.Asc
	Desc = search.Desc
)

var (
	// ErrTransport is matched by every engine failure.
	ErrTransport = backend.ErrTransport
	// ErrBulkItem is matched when a bulk request had failed items.
	ErrBulkItem = backend.ErrBulkItem
	// ErrMissingQuery is returned for a Query without a query tree.
	ErrMissingQuery = search.ErrMissingQuery
	// ErrInvalidField is returned by IncrementCounter for a field name
	// outside the allowed grammar.
	ErrInvalidField = document.ErrInvalidField
	// ErrMissingID is returned when an operation needs an id and got none.
	ErrMissingID = document.ErrMissingID
)

// NewQuery starts a Query for the given query tree.
func NewQuery(query json.RawMessage) Query { return search.NewQuery(query) }

// MatchAll matches every document.
func MatchAll() json.RawMessage { return search.MatchAll() }

// Term matches documents whose field equals value exactly.
func Term(field string, value any) json.RawMessage { return search.Term(field, value) }

// Prefix matches documents whose field starts with prefix.
func Prefix(field, prefix string) json.RawMessage { return search.Prefix(field, prefix) }

// Match runs a full-text match on field.
func Match(field, text string) json.RawMessage { return search.Match(field, text) }

// TermsAgg builds a terms aggregation named name over field.
func TermsAgg(name, field string, size int) json.RawMessage {
	return search.TermsAgg(name, field, size)
}

// WithoutField strips a top-level field from every buffered document.
func WithoutField(name string) BulkOption { return bulk.WithoutField(name) }

// WithIDField uses a top-level field as the bulk document id.
func WithIDField(name string) BulkOption { return bulk.WithIDField(name) }

// Client is safe for concurrent use. Bulk buffers it creates are not.
type Client struct {
	engine *backend.Elasticsearch
	search *search.Orchestrator
	docs   *document.Store
	cfg    ClientConfig
}

// New connects to the engine at http://localhost:9200 with the default
// configuration.
func New() *Client {
	return NewWithConfig(config.DefaultClient(), "localhost", 9200)
}

// NewWithConfig connects to http://hostname:port with cfg. Empty fields of
// cfg take their defaults, except DocumentType where empty selects the
// typeless API.
func NewWithConfig(cfg ClientConfig, hostname string, port int) *Client {
	return newClient(cfg, config.EngineURL(hostname, port), &http.Client{})
}

// NewFromConfig builds a Client from a loaded configuration file.
func NewFromConfig(cfg *config.Config) *Client {
	return newClient(cfg.Client, cfg.Engine.URL, &http.Client{Timeout: cfg.Engine.Timeout})
}

func newClient(cfg ClientConfig, url string, httpClient *http.Client) *Client {
	cfg = cfg.WithDefaults()
	engine := backend.NewElasticsearch(url, cfg.DocumentType, httpClient)
	return &Client{
		engine: engine,
		search: search.New(engine, cfg),
		docs:   document.New(engine, cfg),
		cfg:    cfg,
	}
}

// URL returns the engine base URL.
func (c *Client) URL() string { return c.engine.BaseURL() }

// FindOne returns the first hit of q, or false when nothing matched.
func (c *Client) FindOne(ctx context.Context, q Query) (json.RawMessage, bool, error) {
	return c.search.FindOne(ctx, q)
}

// FindAll runs q and returns every hit, or the aggregation result when q
// carries an aggregation. With a keep-alive set the scroll cursor is
// drained.
func (c *Client) FindAll(ctx context.Context, q Query) (*Result, error) {
	return c.search.FindAll(ctx, q)
}

// Save indexes a JSON document and returns its id.
func (c *Client) Save(ctx context.Context, index string, doc []byte) (string, error) {
	return c.docs.Save(ctx, index, doc)
}

// SaveEntity encodes v with the configured codec and saves it.
func (c *Client) SaveEntity(ctx context.Context, index string, v any) (string, error) {
	doc, err := c.cfg.Codec.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding entity: %w", err)
	}
	return c.docs.Save(ctx, index, doc)
}

// SaveWithID indexes doc under id, replacing any existing document.
func (c *Client) SaveWithID(ctx context.Context, index, id string, doc []byte) (string, error) {
	return c.docs.SaveWithID(ctx, index, id, doc)
}

// FindByID returns the stored source of the document.
func (c *Client) FindByID(ctx context.Context, index, id string) (json.RawMessage, bool, error) {
	return c.docs.FindByID(ctx, index, id)
}

// DeleteByID deletes the document. A missing document is an error.
func (c *Client) DeleteByID(ctx context.Context, index, id string) error {
	return c.docs.DeleteByID(ctx, index, id)
}

// Update merges doc into the stored document, skipping ignoreFields, and
// returns the updated source.
func (c *Client) Update(ctx context.Context, index, id string, doc []byte, ignoreFields ...string) (json.RawMessage, bool, error) {
	return c.docs.Update(ctx, index, id, doc, ignoreFields...)
}

// IncrementCounter adds one to a numeric field such as "views" or
// "stats.views", creating it when absent.
func (c *Client) IncrementCounter(ctx context.Context, index, id, field string) (json.RawMessage, bool, error) {
	return c.docs.IncrementCounter(ctx, index, id, field)
}

// NewBulkBuffer returns a buffer that sends batches of size documents to
// index. Entities are encoded with the client codec.
func (c *Client) NewBulkBuffer(index string, size int, opts ...BulkOption) (*BulkBuffer, error) {
	opts = append([]BulkOption{bulk.WithCodec(c.cfg.Codec)}, opts...)
	return bulk.New(c.engine, index, size, opts...)
}

// FindOneAs runs FindOne and decodes the hit into T.
func FindOneAs[T any](ctx context.Context, c *Client, q Query) (T, bool, error) {
	var out T
	raw, ok, err := c.FindOne(ctx, q)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := c.cfg.Codec.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decoding hit: %w", err)
	}
	return out, true, nil
}

// FindAllAs runs FindAll and decodes the hits into a slice of T. Queries
// with an aggregation return an object, not hits; use FindAll for those.
func FindAllAs[T any](ctx context.Context, c *Client, q Query) ([]T, *Result, error) {
	res, err := c.FindAll(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	out := make([]T, 0)
	if err := c.cfg.Codec.Unmarshal(res.Result, &out); err != nil {
		return nil, res, fmt.Errorf("decoding hits: %w", err)
	}
	return out, res, nil
}

// FindByIDAs runs FindByID and decodes the source into T.
func FindByIDAs[T any](ctx context.Context, c *Client, index, id string) (T, bool, error) {
	var out T
	raw, ok, err := c.FindByID(ctx, index, id)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := c.cfg.Codec.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decoding document: %w", err)
	}
	return out, true, nil
}
