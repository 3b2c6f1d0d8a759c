package document

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonunix/eshelper/internal/backend"
	"github.com/leonunix/eshelper/internal/config"
)

// memoryEngine is a tiny stand-in for the document endpoints of the engine.
type memoryEngine struct {
	mu      sync.Mutex
	docs    map[string]json.RawMessage
	nextID  int
	updates []map[string]json.RawMessage
}

func newMemoryEngine() *memoryEngine {
	return &memoryEngine{docs: make(map[string]json.RawMessage)}
}

func (m *memoryEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[1] != "_doc" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	index := parts[0]
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodPost && len(parts) == 2:
		m.nextID++
		id := fmt.Sprintf("auto%d", m.nextID)
		m.docs[index+"/"+id] = body
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"_index":%q,"_id":%q,"result":"created"}`, index, id)

	case r.Method == http.MethodPut && len(parts) == 3:
		m.docs[index+"/"+parts[2]] = body
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"_index":%q,"_id":%q,"result":"created"}`, index, parts[2])

	case r.Method == http.MethodGet && len(parts) == 3:
		src, ok := m.docs[index+"/"+parts[2]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"_index":%q,"_id":%q,"found":false}`, index, parts[2])
			return
		}
		fmt.Fprintf(w, `{"_index":%q,"_id":%q,"found":true,"_source":%s}`, index, parts[2], src)

	case r.Method == http.MethodDelete && len(parts) == 3:
		key := index + "/" + parts[2]
		if _, ok := m.docs[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"result":"not_found"}`))
			return
		}
		delete(m.docs, key)
		w.Write([]byte(`{"result":"deleted"}`))

	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "_update":
		key := index + "/" + parts[2]
		src, ok := m.docs[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"type":"document_missing_exception"},"status":404}`))
			return
		}
		var req map[string]json.RawMessage
		json.Unmarshal(body, &req)
		m.updates = append(m.updates, req)

		var current map[string]any
		json.Unmarshal(src, &current)
		if partial, ok := req["doc"]; ok {
			var fields map[string]any
			json.Unmarshal(partial, &fields)
			for k, v := range fields {
				current[k] = v
			}
		}
		merged, _ := json.Marshal(current)
		m.docs[key] = merged
		fmt.Fprintf(w, `{"_id":%q,"result":"updated","get":{"found":true,"_source":%s}}`, parts[2], merged)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*Store, *memoryEngine) {
	t.Helper()
	mem := newMemoryEngine()
	srv := httptest.NewServer(mem)
	t.Cleanup(srv.Close)
	return New(backend.NewElasticsearch(srv.URL, "_doc", srv.Client()), config.DefaultClient()), mem
}

func TestStore_SaveAndFindByID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	doc := []byte(`{"id":46,"name":"test46"}`)
	id, err := store.Save(ctx, "test_entity", doc)
	require.NoError(t, err)
	assert.Equal(t, "46", id)

	got, ok, err := store.FindByID(ctx, "test_entity", "46")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, string(doc), string(got))
}

func TestStore_SaveWithoutIDLetsEngineAssign(t *testing.T) {
	store, mem := newTestStore(t)

	id, err := store.Save(context.Background(), "idx", []byte(`{"name":"anon"}`))
	require.NoError(t, err)
	assert.Equal(t, "auto1", id)
	assert.Contains(t, mem.docs, "idx/auto1")
}

func TestStore_SaveWithID(t *testing.T) {
	store, mem := newTestStore(t)

	id, err := store.SaveWithID(context.Background(), "idx", "k1", []byte(`{"v":1}`))
	require.NoError(t, err)
	assert.Equal(t, "k1", id)
	assert.JSONEq(t, `{"v":1}`, string(mem.docs["idx/k1"]))

	_, err = store.SaveWithID(context.Background(), "idx", "", []byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestStore_DeleteRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "test_entity", []byte(`{"id":101,"name":"test101"}`))
	require.NoError(t, err)

	_, ok, err := store.FindByID(ctx, "test_entity", "101")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.DeleteByID(ctx, "test_entity", "101"))

	got, ok, err := store.FindByID(ctx, "test_entity", "101")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	err = store.DeleteByID(ctx, "test_entity", "101")
	assert.ErrorIs(t, err, backend.ErrTransport)
	assert.Contains(t, err.Error(), "delete failed: NOT_FOUND")
}

func TestStore_Update(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "idx", []byte(`{"id":"u1","name":"old","views":3,"secret":"s"}`))
	require.NoError(t, err)

	got, ok, err := store.Update(ctx, "idx", "u1", []byte(`{"id":"u1","name":"new","secret":"leak"}`), "secret")
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, mem.updates, 1)
	assert.JSONEq(t, `{"name":"new"}`, string(mem.updates[0]["doc"]))
	assert.JSONEq(t, `true`, string(mem.updates[0]["_source"]))

	assert.JSONEq(t, `{"id":"u1","name":"new","views":3,"secret":"s"}`, string(got))
}

func TestStore_UpdateMissingDocument(t *testing.T) {
	store, _ := newTestStore(t)

	_, _, err := store.Update(context.Background(), "idx", "nope", []byte(`{"a":1}`))
	assert.ErrorIs(t, err, backend.ErrTransport)
}

func TestStore_UpdateRejectsBadInput(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Update(ctx, "idx", "", []byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingID)

	_, _, err = store.Update(ctx, "idx", "x", []byte(`[{"a":1}]`))
	assert.Error(t, err)

	_, _, err = store.Update(ctx, "idx", "x", []byte(`nope`))
	assert.Error(t, err)
}

type recordingEngine struct {
	Engine
	body []byte
}

func (r *recordingEngine) Update(_ context.Context, _, id string, body []byte) (*backend.GetResult, error) {
	r.body = body
	return &backend.GetResult{ID: id, Found: true, Source: json.RawMessage(`{"stats":{"views":2}}`)}, nil
}

func TestStore_IncrementCounter(t *testing.T) {
	rec := &recordingEngine{}
	store := New(rec, config.DefaultClient())

	got, ok, err := store.IncrementCounter(context.Background(), "idx", "p1", "stats.views")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"stats":{"views":2},"id":"p1"}`, string(got))

	var req struct {
		Script struct {
			Lang   string         `json:"lang"`
			Source string         `json:"source"`
			Params map[string]int `json:"params"`
		} `json:"script"`
		Source bool `json:"_source"`
	}
	require.NoError(t, json.Unmarshal(rec.body, &req))
	assert.Equal(t, "painless", req.Script.Lang)
	assert.Equal(t, 1, req.Script.Params["count"])
	assert.True(t, req.Source)
	assert.Equal(t,
		"if (ctx._source.stats == null) { ctx._source.stats = new HashMap(); } "+
			"ctx._source.stats.views = ctx._source.stats.views == null ? params.count : ctx._source.stats.views + params.count",
		req.Script.Source)
}

func TestStore_IncrementCounterFieldGrammar(t *testing.T) {
	store := New(&recordingEngine{}, config.DefaultClient())

	valid := []string{"views", "_count", "stats.views", "a1.b_2"}
	for _, f := range valid {
		_, _, err := store.IncrementCounter(context.Background(), "idx", "p1", f)
		assert.NoError(t, err, f)
	}

	invalid := []string{
		"",
		"1views",
		"a.b.c",
		"views; ctx._source.clear()",
		"a['b']",
		"views ",
		".views",
	}
	for _, f := range invalid {
		_, _, err := store.IncrementCounter(context.Background(), "idx", "p1", f)
		assert.ErrorIs(t, err, ErrInvalidField, f)
	}
}

func TestStore_IncrementCounterSkipIdentifier(t *testing.T) {
	store := New(&recordingEngine{}, config.ClientConfig{SkipIdentifier: true})

	got, _, err := store.IncrementCounter(context.Background(), "idx", "p1", "views")
	require.NoError(t, err)
	assert.Equal(t, `{"stats":{"views":2}}`, string(got))
}
