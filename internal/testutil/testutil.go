// Package testutil provides shared test helpers for sleepy-webhooks.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// WaitFor polls cond every 5ms until it returns true, failing the test after
// timeout.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ReceivedRequest is one request captured by a Receiver.
type ReceivedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// Receiver is an httptest server that records every request and answers
// with a configurable status code.
type Receiver struct {
	*httptest.Server

	mu       sync.Mutex
	requests []ReceivedRequest
	status   int
}

// NewReceiver starts a Receiver answering 200. It is closed on test cleanup.
func NewReceiver(t *testing.T) *Receiver {
	t.Helper()
	r := &Receiver{status: http.StatusOK}
	r.Server = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.Server.Close)
	return r
}

func (r *Receiver) handle(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	defer req.Body.Close()

	r.mu.Lock()
	r.requests = append(r.requests, ReceivedRequest{
		Method:  req.Method,
		Path:    req.URL.Path,
		Headers: req.Header.Clone(),
		Body:    body,
	})
	status := r.status
	r.mu.Unlock()

	w.WriteHeader(status)
}

// SetStatus changes the status code returned for subsequent requests.
func (r *Receiver) SetStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

// Requests returns a copy of everything received so far.
func (r *Receiver) Requests() []ReceivedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReceivedRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// Count returns the number of requests received so far.
func (r *Receiver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
