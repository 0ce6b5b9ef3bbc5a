package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Pool tick metrics
	TickStarted()
	TickCompleted(duration time.Duration, buffered int)
	ItemsDrained(n int)
	BufferSizeUpdate(size int)
	ItemsInFlightUpdate(n int)
	LookupFailed()
	ItemRetired(reason string)

	// Delivery metrics
	DeliveryAttemptCompleted(class string, statusClass string, duration time.Duration)

	// Ingestion queue metrics
	QueueDepthUpdate(depth int)
	QueueSendRejected()
	SubmissionAccepted(source string)
}

// Retirement reasons for ItemRetired.
const (
	RetiredDelivered = "delivered"
	RetiredAbandoned = "abandoned"
)

// Submission sources for SubmissionAccepted.
const (
	SourceHTTP = "http"
	SourceAMQP = "amqp"
)

// StatusClass constants for DeliveryAttemptCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass3xx             = "3xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassCircuitOpen     = "circuit_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a bounded-cardinality status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "circuit breaker is open"):
			return StatusClassCircuitOpen
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"),
			strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 300 && statusCode < 400:
		return StatusClass3xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
