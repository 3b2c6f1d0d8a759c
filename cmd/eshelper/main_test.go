package main

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eshelper.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRun_FailureReachesLogFile(t *testing.T) {
	restoreLogger(t)
	logFile := filepath.Join(t.TempDir(), "cli.log")
	cfgPath := writeConfig(t, `
engine:
  url: "http://127.0.0.1:1"
  timeout: 2s
logging:
  format: "json"
  file: "`+logFile+`"
`)

	var out bytes.Buffer
	err := run([]string{"-config", cfgPath, "get", "-index", "products", "-id", "p1"}, &out)
	if err == nil {
		t.Fatalf("expected error from unreachable engine")
	}
	if errors.Is(err, errUsage) {
		t.Fatalf("engine failure reported as usage error: %v", err)
	}

	data, readErr := os.ReadFile(logFile)
	if readErr != nil {
		t.Fatalf("ReadFile: %v", readErr)
	}
	if !strings.Contains(string(data), `"msg":"get failed"`) {
		t.Fatalf("failure not in log file: %s", data)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected stdout: %s", out.String())
	}
}

func TestRun_UsageErrors(t *testing.T) {
	restoreLogger(t)
	for _, argv := range [][]string{
		nil,
		{"bogus"},
		{"get", "-no-such-flag"},
		{"-no-such-flag"},
	} {
		if err := run(argv, &bytes.Buffer{}); !errors.Is(err, errUsage) {
			t.Errorf("run(%q) = %v, want usage error", argv, err)
		}
	}
}

func TestRun_GetPrintsDocument(t *testing.T) {
	restoreLogger(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/products/_doc/p1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"_id":"p1","found":true,"_source":{"name":"lamp"}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := run([]string{"-url", srv.URL, "get", "-index", "products", "-id", "p1"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != `{"name":"lamp"}` {
		t.Fatalf("stdout = %q", got)
	}
}
