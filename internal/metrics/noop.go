package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                        {}
func (n *NoopSink) TickCompleted(duration time.Duration, buffered int)                  {}
func (n *NoopSink) ItemsDrained(count int)                                              {}
func (n *NoopSink) BufferSizeUpdate(size int)                                           {}
func (n *NoopSink) ItemsInFlightUpdate(count int)                                       {}
func (n *NoopSink) LookupFailed()                                                       {}
func (n *NoopSink) ItemRetired(reason string)                                           {}
func (n *NoopSink) DeliveryAttemptCompleted(class, statusClass string, d time.Duration) {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                          {}
func (n *NoopSink) QueueSendRejected()                                                  {}
func (n *NoopSink) SubmissionAccepted(source string)                                    {}
