package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTransport is the kind of every failure reaching the engine,
	// including non-OK statuses on mutating operations.
	ErrTransport = errors.New("engine transport failure")

	// ErrBulkItem is the kind of a bulk request in which at least one item
	// failed. Errors of this kind also match ErrTransport.
	ErrBulkItem = errors.New("bulk item failure")
)

// TransportError wraps an engine failure with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// BulkError carries the engine's composed failure summary for a batch.
type BulkError struct {
	Index   string
	Failed  int
	Total   int
	Message string
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk error: %s", e.Message)
}

func (e *BulkError) Is(target error) bool {
	return target == ErrBulkItem || target == ErrTransport
}

// HTTPStatusError represents a non-2xx response from an engine HTTP call.
// It preserves the status code for callers that need to tell a missing
// document from a broken cluster.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.URL == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	if e.Body == "" {
		return fmt.Sprintf("http %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("http %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// StatusName renders an HTTP status the way the engine names it,
// e.g. 404 becomes NOT_FOUND.
func StatusName(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return fmt.Sprintf("STATUS_%d", code)
	}
	text = strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(text)
	return strings.ToUpper(text)
}

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
