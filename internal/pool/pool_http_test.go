package pool

import (
	"testing"
	"time"

	"github.com/0xlunar/sleepy-webhooks/internal/delivery"
	"github.com/0xlunar/sleepy-webhooks/internal/domain"
	"github.com/0xlunar/sleepy-webhooks/internal/testutil"
)

func TestPool_DeliversOverHTTP(t *testing.T) {
	instant := testutil.NewReceiver(t)
	delayed := testutil.NewReceiver(t)
	delayed.SetStatus(500)

	store := newFakeStore(domain.WebhookConfig{
		ID:               "cfg-http",
		DelaySeconds:     1,
		InstantEndpoints: []string{instant.URL + "/i"},
		DelayedEndpoints: []string{delayed.URL + "/d"},
	})
	client := delivery.NewHTTPClient(2*time.Second, "test")
	p, fc := newTestPool(Config{}, store, client)
	ctx := testutil.TestContext(t)

	if err := p.Submit("cfg-http", []byte(`{"event":"signup"}`)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	fc.Advance(100 * time.Millisecond)
	p.tick(ctx)

	if instant.Count() != 1 {
		t.Fatalf("instant receiver got %d requests, want 1", instant.Count())
	}
	req := instant.Requests()[0]
	if string(req.Body) != `{"event":"signup"}` {
		t.Errorf("body = %q", req.Body)
	}
	if got := req.Headers.Get(delivery.HeaderConfigID); got != "cfg-http" {
		t.Errorf("%s = %q, want cfg-http", delivery.HeaderConfigID, got)
	}
	if got := req.Headers.Get(delivery.HeaderClass); got != "instant" {
		t.Errorf("%s = %q, want instant", delivery.HeaderClass, got)
	}
	if delayed.Count() != 0 {
		t.Fatalf("delayed receiver called before the delay elapsed")
	}

	fc.Advance(time.Second)
	p.tick(ctx)

	if delayed.Count() != 1 {
		t.Fatalf("delayed receiver got %d requests, want 1", delayed.Count())
	}
	if got := delayed.Requests()[0].Headers.Get(delivery.HeaderClass); got != "delayed" {
		t.Errorf("%s = %q, want delayed", delivery.HeaderClass, got)
	}
	// a 500 from the delayed endpoint is logged, not retried
	if len(p.buffer) != 0 {
		t.Errorf("expected item retired, buffer=%d", len(p.buffer))
	}
}
