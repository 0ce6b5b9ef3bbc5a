package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	s.TickStarted()
	s.TickCompleted(100*time.Millisecond, 5)
	s.ItemsDrained(3)
	s.BufferSizeUpdate(10)
	s.ItemsInFlightUpdate(2)
	s.LookupFailed()
	s.ItemRetired(RetiredDelivered)
	s.ItemRetired(RetiredAbandoned)

	s.DeliveryAttemptCompleted("instant", StatusClass2xx, 200*time.Millisecond)

	s.QueueDepthUpdate(4)
	s.QueueSendRejected()
	s.SubmissionAccepted(SourceHTTP)
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
