package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leonunix/eshelper/internal/backend"
	"github.com/leonunix/eshelper/internal/config"
)

type fakeIndexer struct {
	mu      sync.Mutex
	calls   int
	docs    map[string][]backend.BulkOperation
	failAt  int // 1-based call number that fails; 0 disables
	failErr error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{docs: make(map[string][]backend.BulkOperation)}
}

func (f *fakeIndexer) Bulk(_ context.Context, index string, ops []backend.BulkOperation) (*backend.BulkResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return nil, f.failErr
	}
	f.docs[index] = append(f.docs[index], ops...)
	items := make([]backend.BulkItem, len(ops))
	for i := range items {
		items[i] = backend.BulkItem{Index: index, ID: ops[i].ID, Status: 201}
	}
	return &backend.BulkResponse{Items: items}, nil
}

func (f *fakeIndexer) indexed(index string) []backend.BulkOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.BulkOperation(nil), f.docs[index]...)
}

type memoryReporter struct {
	mu      sync.Mutex
	reports []*Report
}

func (r *memoryReporter) Record(_ context.Context, report *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func writeLines(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func testConfig(dir string, batch int, files ...string) *config.Config {
	cfg := config.Default()
	cfg.Bulk.BatchSize = batch
	cfg.Load.Index = "products"
	cfg.Load.Files = files
	cfg.Load.CheckpointDir = filepath.Join(dir, "checkpoints")
	cfg.Load.IDField = "sku"
	cfg.Load.ProgressInterval = time.Millisecond
	return cfg
}

func TestNew_RequiresIndex(t *testing.T) {
	cfg := config.Default()
	cfg.Load.Index = ""
	if _, err := New(cfg, newFakeIndexer()); err == nil {
		t.Fatalf("expected error without load.index")
	}
}

func TestLoader_LoadFile_Success(t *testing.T) {
	dir := t.TempDir()
	path := writeLines(t, dir, "products.ndjson",
		`{"sku":"a1","name":"apple","internal":"x"}`,
		``,
		`{"_index":"old","_id":"zz","_source":{"sku":"b2","name":"banana"}}`,
		`not json`,
		`{"sku":"c3","name":"cherry"}`,
		`[1,2,3]`,
		`{"sku":"d4","name":"date"}`,
	)

	engine := newFakeIndexer()
	reporter := &memoryReporter{}
	cfg := testConfig(dir, 2, path)
	cfg.Load.StripFields = []string{"internal"}

	l, err := New(cfg, engine, WithReporter(reporter))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := l.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	docs := engine.indexed("products")
	if len(docs) != 4 {
		t.Fatalf("indexed %d docs, want 4", len(docs))
	}
	wantIDs := []string{"a1", "b2", "c3", "d4"}
	for i, op := range docs {
		if op.ID != wantIDs[i] {
			t.Errorf("doc %d id = %q, want %q", i, op.ID, wantIDs[i])
		}
	}
	if strings.Contains(string(docs[0].Source), "internal") {
		t.Errorf("strip field not removed: %s", docs[0].Source)
	}
	if engine.calls != 2 {
		t.Errorf("bulk calls = %d, want 2", engine.calls)
	}

	if report.Status != "success" || report.Loaded != 4 || report.Invalid != 2 || report.Lines != 7 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Resumed {
		t.Errorf("fresh run reported as resumed")
	}
	if len(reporter.reports) != 1 || reporter.reports[0] != report {
		t.Fatalf("report not recorded: %+v", reporter.reports)
	}

	// A completed run leaves no resumable checkpoint.
	cp, err := l.checkpoint.Load(path, "products")
	if err != nil || cp != nil {
		t.Fatalf("checkpoint after success = %+v, %v", cp, err)
	}
}

func TestLoader_LoadFile_ResumesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 0; i < 7; i++ {
		lines = append(lines, fmt.Sprintf(`{"sku":"s%d"}`, i))
	}
	path := writeLines(t, dir, "items.ndjson", lines...)

	engine := newFakeIndexer()
	engine.failAt = 2
	engine.failErr = errors.New("connection reset")
	reporter := &memoryReporter{}
	cfg := testConfig(dir, 3, path)

	l, err := New(cfg, engine, WithReporter(reporter))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := l.LoadFile(context.Background(), path)
	if err == nil {
		t.Fatalf("expected error from failed flush")
	}
	if report.Status != "failed" || report.Error == "" {
		t.Fatalf("failure report = %+v", report)
	}

	cp, err := l.checkpoint.Load(path, "products")
	if err != nil || cp == nil {
		t.Fatalf("expected resumable checkpoint, got %+v, %v", cp, err)
	}
	if cp.Lines != 3 || cp.Loaded != 3 {
		t.Fatalf("checkpoint = %+v, want 3 lines / 3 loaded", cp)
	}
	runID := cp.RunID

	engine.failAt = 0
	report, err = l.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("resumed LoadFile: %v", err)
	}
	if !report.Resumed || report.RunID != runID {
		t.Fatalf("resumed report = %+v", report)
	}
	if report.Loaded != 7 || report.Lines != 7 {
		t.Fatalf("resumed totals = %+v", report)
	}

	docs := engine.indexed("products")
	if len(docs) != 7 {
		t.Fatalf("indexed %d docs across runs, want 7", len(docs))
	}
	for i, op := range docs {
		if op.ID != fmt.Sprintf("s%d", i) {
			t.Errorf("doc %d id = %q", i, op.ID)
		}
	}
	if len(reporter.reports) != 2 {
		t.Fatalf("recorded %d reports, want 2", len(reporter.reports))
	}
}

func TestLoader_LoadFile_MissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, 10)
	l, err := New(cfg, newFakeIndexer())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := l.LoadFile(context.Background(), filepath.Join(dir, "absent.ndjson")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoader_LoadFile_Canceled(t *testing.T) {
	dir := t.TempDir()
	path := writeLines(t, dir, "x.ndjson", `{"sku":"a"}`, `{"sku":"b"}`)
	l, err := New(testConfig(dir, 10, path), newFakeIndexer())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.LoadFile(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestLoader_LoadAll_WildcardResolution(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "part-1.ndjson", `{"sku":"p1"}`)
	writeLines(t, dir, "part-2.ndjson", `{"sku":"p2"}`, `{"sku":"p3"}`)
	writeLines(t, dir, "other.json", `{"sku":"nope"}`)

	engine := newFakeIndexer()
	cfg := testConfig(dir, 10, filepath.Join(dir, "part-*.ndjson"))
	l, err := New(cfg, engine)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := l.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if n := len(engine.indexed("products")); n != 3 {
		t.Fatalf("indexed %d docs, want 3", n)
	}
}

func TestLoader_LoadAll_ContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeLines(t, dir, "good.ndjson", `{"sku":"g"}`)
	missing := filepath.Join(dir, "missing.ndjson")

	engine := newFakeIndexer()
	l, err := New(testConfig(dir, 10, missing, good), engine)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = l.LoadAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing.ndjson") {
		t.Fatalf("LoadAll err = %v", err)
	}
	if n := len(engine.indexed("products")); n != 1 {
		t.Fatalf("good file not loaded, indexed %d", n)
	}
}

func TestLoader_LoadAll_NoFiles(t *testing.T) {
	l, err := New(testConfig(t.TempDir(), 10), newFakeIndexer())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
}

func TestLoader_reportProgress_TickAndStop(t *testing.T) {
	l := &Loader{}
	progress := &Progress{File: "f", Index: "idx", StartTime: time.Now()}
	stop := make(chan struct{})
	tick := make(chan time.Time, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		l.reportProgress(progress, stop, tick)
	}()

	tick <- time.Now()
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reportProgress did not stop")
	}
}

type recordingSaver struct {
	index, id string
	doc       []byte
}

func (s *recordingSaver) SaveWithID(_ context.Context, index, id string, doc []byte) (string, error) {
	s.index, s.id, s.doc = index, id, doc
	return id, nil
}

func TestDocumentReporter_Record(t *testing.T) {
	saver := &recordingSaver{}
	r := NewDocumentReporter(saver, "eshelper-loads")

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cp := &Checkpoint{RunID: "r-1", File: "f.ndjson", Index: "idx", Lines: 10, Loaded: 9, Invalid: 1}
	report := newReport(cp, start, 9, false, 500, nil)

	if err := r.Record(context.Background(), report); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if saver.index != "eshelper-loads" {
		t.Errorf("index = %q", saver.index)
	}
	if saver.id != fmt.Sprintf("load-r-1-%d", start.Unix()) {
		t.Errorf("id = %q", saver.id)
	}

	var doc map[string]any
	if err := json.Unmarshal(saver.doc, &doc); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if doc["status"] != "success" || doc["documents_loaded"] != float64(9) || doc["invalid_lines"] != float64(1) {
		t.Fatalf("unexpected report doc: %v", doc)
	}
	if _, ok := doc["error"]; ok {
		t.Errorf("error field present on success")
	}
}

func TestNewReport_Failure(t *testing.T) {
	cp := &Checkpoint{RunID: "r", File: "f", Index: "i"}
	r := newReport(cp, time.Now(), 0, true, 1, errors.New("boom"))
	if r.Status != "failed" || r.Error != "boom" || !r.Resumed {
		t.Fatalf("report = %+v", r)
	}
}
