package channel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xlunar/sleepy-webhooks/internal/domain"
)

func newTestItem(configID string) *domain.PoolItem {
	return domain.NewPoolItem(configID, []byte(`{"k":"v"}`), time.Now().UTC())
}

func TestQueue_SendAndReceive(t *testing.T) {
	q := NewQueue()
	item := newTestItem("w1")

	if err := q.Send(item); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, ok := q.TryReceive()
	if !ok {
		t.Fatal("expected an item")
	}
	if got != item {
		t.Errorf("received %p, want %p", got, item)
	}

	if _, ok := q.TryReceive(); ok {
		t.Error("queue should be empty")
	}
}

func TestQueue_TryReceiveEmpty(t *testing.T) {
	q := NewQueue()
	if item, ok := q.TryReceive(); ok || item != nil {
		t.Errorf("TryReceive on empty queue = (%v, %v), want (nil, false)", item, ok)
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		if err := q.Send(newTestItem(id)); err != nil {
			t.Fatalf("Send(%s) failed: %v", id, err)
		}
	}

	if q.Len() != len(ids) {
		t.Fatalf("Len() = %d, want %d", q.Len(), len(ids))
	}

	for _, want := range ids {
		got, ok := q.TryReceive()
		if !ok {
			t.Fatalf("expected item %s", want)
		}
		if got.ConfigID != want {
			t.Errorf("ConfigID = %q, want %q", got.ConfigID, want)
		}
	}
}

func TestQueue_SendAfterClose(t *testing.T) {
	q := NewQueue()
	q.Send(newTestItem("w1"))

	rest := q.Close()
	if len(rest) != 1 {
		t.Errorf("Close returned %d items, want 1", len(rest))
	}
	if !q.Closed() {
		t.Error("Closed() should be true")
	}

	if err := q.Send(newTestItem("w2")); err != ErrQueueClosed {
		t.Errorf("expected ErrQueueClosed, got: %v", err)
	}

	// idempotent
	if rest := q.Close(); len(rest) != 0 {
		t.Errorf("second Close returned %d items, want 0", len(rest))
	}
}

func TestQueue_ConcurrentSend(t *testing.T) {
	q := NewQueue()

	const numGoroutines = 10
	const itemsPerGoroutine = 100

	var wg sync.WaitGroup
	var sendErrors atomic.Int64

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < itemsPerGoroutine; j++ {
				if err := q.Send(newTestItem("w1")); err != nil {
					sendErrors.Add(1)
				}
			}
		}()
	}

	// Consumer runs concurrently with the producers.
	received := 0
	deadline := time.Now().Add(5 * time.Second)
	for received < numGoroutines*itemsPerGoroutine && time.Now().Before(deadline) {
		if _, ok := q.TryReceive(); ok {
			received++
		}
	}
	wg.Wait()

	if sendErrors.Load() > 0 {
		t.Errorf("had %d send errors", sendErrors.Load())
	}
	if received != numGoroutines*itemsPerGoroutine {
		t.Errorf("received %d of %d items", received, numGoroutines*itemsPerGoroutine)
	}
}

// mockQueueMetrics tracks calls to MetricsSink methods.
type mockQueueMetrics struct {
	mu         sync.Mutex
	depthCalls []int
	rejected   int
}

func (m *mockQueueMetrics) QueueDepthUpdate(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depthCalls = append(m.depthCalls, depth)
}

func (m *mockQueueMetrics) QueueSendRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func TestQueue_WithMetrics(t *testing.T) {
	metrics := &mockQueueMetrics{}
	q := NewQueue(WithMetrics(metrics))

	q.Send(newTestItem("w1"))
	q.Send(newTestItem("w2"))
	q.TryReceive()

	metrics.mu.Lock()
	depths := append([]int(nil), metrics.depthCalls...)
	metrics.mu.Unlock()

	want := []int{1, 2, 1}
	if len(depths) != len(want) {
		t.Fatalf("depth updates = %v, want %v", depths, want)
	}
	for i := range want {
		if depths[i] != want[i] {
			t.Errorf("depth update %d = %d, want %d", i, depths[i], want[i])
		}
	}

	q.Close()
	q.Send(newTestItem("w3"))

	metrics.mu.Lock()
	rejected := metrics.rejected
	metrics.mu.Unlock()
	if rejected != 1 {
		t.Errorf("QueueSendRejected called %d times, want 1", rejected)
	}
}
