package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leonunix/eshelper/internal/metrics"
)

// Elasticsearch is the HTTP transport to an Elasticsearch-compatible
// engine. It is safe for concurrent use.
type Elasticsearch struct {
	baseURL string
	docType string
	client  *http.Client
}

// NewElasticsearch creates a transport for the engine at baseURL. docType is
// the legacy mapping type attached to document requests; empty selects the
// typeless endpoints. If httpClient is nil, a default client is used.
func NewElasticsearch(baseURL, docType string, httpClient *http.Client) *Elasticsearch {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Elasticsearch{
		baseURL: strings.TrimRight(baseURL, "/"),
		docType: docType,
		client:  httpClient,
	}
}

func (e *Elasticsearch) Name() string { return "elasticsearch" }

// BaseURL returns the engine address the transport talks to.
func (e *Elasticsearch) BaseURL() string { return e.baseURL }

// Search executes a search against indices (all indices when empty). A
// non-empty keepAlive opens a scroll cursor valid for that duration.
func (e *Elasticsearch) Search(ctx context.Context, indices []string, body []byte, keepAlive string) (*SearchResponse, error) {
	path := "/_search"
	if joined := joinIndices(indices); joined != "" {
		path = "/" + joined + "/_search"
	}
	if keepAlive != "" {
		path += "?scroll=" + url.QueryEscape(keepAlive)
	}

	resp, err := e.do(ctx, "search", http.MethodPost, path, "application/json", body)
	if err != nil {
		return nil, transportErr("search", fmt.Errorf("executing search request: %w", err))
	}
	if resp.status >= 400 {
		slog.Error("engine search error", "status", resp.status, "body", string(resp.body))
		return nil, transportErr("search", resp.statusError())
	}

	var result SearchResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, transportErr("search", fmt.Errorf("decoding search response: %w", err))
	}
	return &result, nil
}

// Scroll continues a scroll cursor, extending it by keepAlive.
func (e *Elasticsearch) Scroll(ctx context.Context, scrollID, keepAlive string) (*SearchResponse, error) {
	reqBody, err := json.Marshal(map[string]string{
		"scroll":    keepAlive,
		"scroll_id": scrollID,
	})
	if err != nil {
		return nil, transportErr("scroll", fmt.Errorf("marshaling scroll request: %w", err))
	}

	resp, err := e.do(ctx, "scroll", http.MethodPost, "/_search/scroll", "application/json", reqBody)
	if err != nil {
		return nil, transportErr("scroll", fmt.Errorf("executing scroll request: %w", err))
	}
	if resp.status >= 400 {
		return nil, transportErr("scroll", resp.statusError())
	}

	var result SearchResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, transportErr("scroll", fmt.Errorf("decoding scroll response: %w", err))
	}
	return &result, nil
}

// ClearScroll releases server-side scroll resources. A cursor that already
// expired is not an error.
func (e *Elasticsearch) ClearScroll(ctx context.Context, scrollID string) error {
	body, _ := json.Marshal(map[string]string{"scroll_id": scrollID})

	resp, err := e.do(ctx, "clear_scroll", http.MethodDelete, "/_search/scroll", "application/json", body)
	if err != nil {
		return transportErr("clear_scroll", fmt.Errorf("executing clear scroll: %w", err))
	}
	if resp.status >= 400 && resp.status != http.StatusNotFound {
		return transportErr("clear_scroll", resp.statusError())
	}
	return nil
}

// Get fetches a document by id. A missing document yields Found == false
// and no error.
func (e *Elasticsearch) Get(ctx context.Context, index, id string) (*GetResult, error) {
	resp, err := e.do(ctx, "get", http.MethodGet, e.docPath(index, id), "", nil)
	if err != nil {
		return nil, transportErr("get", fmt.Errorf("executing get request: %w", err))
	}

	var result struct {
		GetResult
		Found *bool `json:"found"`
	}
	decodeErr := json.Unmarshal(resp.body, &result)

	if resp.status == http.StatusNotFound && decodeErr == nil && result.Found != nil {
		return &GetResult{Index: index, ID: id, Found: false}, nil
	}
	if resp.status >= 400 {
		return nil, transportErr("get", resp.statusError())
	}
	if decodeErr != nil {
		return nil, transportErr("get", fmt.Errorf("decoding get response: %w", decodeErr))
	}

	out := result.GetResult
	out.Found = result.Found != nil && *result.Found
	return &out, nil
}

// Index creates or overwrites a document and returns its id. An empty id
// lets the engine assign one.
func (e *Elasticsearch) Index(ctx context.Context, index, id string, body []byte) (string, error) {
	method := http.MethodPut
	path := e.docPath(index, id)
	if id == "" {
		method = http.MethodPost
		path = "/" + url.PathEscape(index) + "/" + url.PathEscape(e.typeSegment())
	}

	resp, err := e.do(ctx, "index", method, path, "application/json", body)
	if err != nil {
		return "", transportErr("index", fmt.Errorf("executing index request: %w", err))
	}
	if resp.status >= 400 {
		return "", transportErr("index", resp.statusError())
	}

	var result struct {
		ID     string `json:"_id"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return "", transportErr("index", fmt.Errorf("decoding index response: %w", err))
	}
	if result.ID == "" {
		return "", transportErr("index", fmt.Errorf("index response carries no _id"))
	}
	return result.ID, nil
}

// Update applies an update request body (a partial doc or a script) and
// returns the document source as stored after the update.
func (e *Elasticsearch) Update(ctx context.Context, index, id string, body []byte) (*GetResult, error) {
	var path string
	if e.docType == "" {
		path = "/" + url.PathEscape(index) + "/_update/" + url.PathEscape(id)
	} else {
		path = e.docPath(index, id) + "/_update"
	}

	resp, err := e.do(ctx, "update", http.MethodPost, path, "application/json", body)
	if err != nil {
		return nil, transportErr("update", fmt.Errorf("executing update request: %w", err))
	}
	if resp.status >= 400 {
		return nil, transportErr("update", resp.statusError())
	}

	var result struct {
		ID  string    `json:"_id"`
		Get GetResult `json:"get"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, transportErr("update", fmt.Errorf("decoding update response: %w", err))
	}
	out := result.Get
	if out.ID == "" {
		out.ID = result.ID
	}
	out.Index = index
	return &out, nil
}

// Delete removes a document. Anything but 200 OK is a failure, including a
// document that does not exist.
func (e *Elasticsearch) Delete(ctx context.Context, index, id string) error {
	resp, err := e.do(ctx, "delete", http.MethodDelete, e.docPath(index, id), "", nil)
	if err != nil {
		return transportErr("delete", fmt.Errorf("executing delete request: %w", err))
	}
	if resp.status != http.StatusOK {
		return transportErr("delete", fmt.Errorf("delete failed: %s", StatusName(resp.status)))
	}
	return nil
}

// Bulk sends ops as index actions into index and returns the per-item
// outcome. Item failures are reported in the response, not as an error.
func (e *Elasticsearch) Bulk(ctx context.Context, index string, ops []BulkOperation) (*BulkResponse, error) {
	var buf bytes.Buffer
	for i, op := range ops {
		meta := map[string]string{"_index": index}
		if e.docType != "" {
			meta["_type"] = e.docType
		}
		if op.ID != "" {
			meta["_id"] = op.ID
		}
		actionBytes, _ := json.Marshal(map[string]any{"index": meta})
		buf.Write(actionBytes)
		buf.WriteByte('\n')

		// NDJSON: each source must fit on one line.
		if err := json.Compact(&buf, op.Source); err != nil {
			return nil, transportErr("bulk", fmt.Errorf("document %d is not valid JSON: %w", i, err))
		}
		buf.WriteByte('\n')
	}

	resp, err := e.do(ctx, "bulk", http.MethodPost, "/_bulk", "application/x-ndjson", buf.Bytes())
	if err != nil {
		return nil, transportErr("bulk", fmt.Errorf("executing bulk request: %w", err))
	}
	if resp.status >= 400 {
		return nil, transportErr("bulk", resp.statusError())
	}

	var result BulkResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, transportErr("bulk", fmt.Errorf("decoding bulk response: %w", err))
	}
	return &result, nil
}

type rawResponse struct {
	url    string
	status int
	body   []byte
}

func (r *rawResponse) statusError() error {
	return &HTTPStatusError{StatusCode: r.status, URL: r.url, Body: string(r.body)}
}

// do performs one round-trip and reads the full response body.
func (e *Elasticsearch) do(ctx context.Context, op, method, path, contentType string, body []byte) (*rawResponse, error) {
	reqURL := e.baseURL + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	opaqueID := uuid.NewString()
	req.Header.Set("X-Opaque-Id", opaqueID)

	start := time.Now()
	resp, err := e.client.Do(req)
	metrics.EngineRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EngineRequestsTotal.WithLabelValues(op, "error").Inc()
		slog.Debug("engine request failed", "op", op, "opaque_id", opaqueID, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.EngineRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("reading %s response: %w", op, err)
	}
	metrics.EngineRequestsTotal.WithLabelValues(op, statusClass(resp.StatusCode)).Inc()

	slog.Debug("engine request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"opaque_id", opaqueID,
		"elapsed", time.Since(start).String(),
	)

	return &rawResponse{url: reqURL, status: resp.StatusCode, body: respBody}, nil
}

func (e *Elasticsearch) typeSegment() string {
	if e.docType == "" {
		return "_doc"
	}
	return e.docType
}

func (e *Elasticsearch) docPath(index, id string) string {
	return "/" + url.PathEscape(index) + "/" + url.PathEscape(e.typeSegment()) + "/" + url.PathEscape(id)
}

func joinIndices(indices []string) string {
	escaped := make([]string, 0, len(indices))
	for _, idx := range indices {
		idx = strings.TrimSpace(idx)
		if idx == "" {
			continue
		}
		escaped = append(escaped, url.PathEscape(idx))
	}
	return strings.Join(escaped, ",")
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
