// Package delivery posts payloads to webhook endpoints.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/0xlunar/sleepy-webhooks/internal/domain"
)

// ContentType is asserted on every delivery regardless of payload contents.
const ContentType = "application/json"

const (
	HeaderConfigID = "X-SleepyHooks-Config-ID"
	HeaderClass    = "X-SleepyHooks-Delivery"
)

// drain at most this much of a response body so keep-alive connections can be reused
const maxDrainBytes = 64 << 10

type Request struct {
	URL      string
	Payload  []byte
	ConfigID string
	Class    domain.DeliveryClass
}

type Result struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

// Failed reports whether the attempt ended in a transport error or an HTTP
// client/server error status.
func (r Result) Failed() bool {
	return r.Error != nil || r.StatusCode >= 400
}

// HTTPClient performs one POST per call. It is safe for concurrent use.
type HTTPClient struct {
	client    *http.Client
	userAgent string
}

// NewHTTPClient returns a client whose requests time out after timeout.
// A zero timeout means no client-side limit.
func NewHTTPClient(timeout time.Duration, version string) *HTTPClient {
	return &HTTPClient{
		client:    &http.Client{Timeout: timeout},
		userAgent: "sleepyhooks/" + version,
	}
}

func (c *HTTPClient) Post(ctx context.Context, req Request) Result {
	res := c.send(ctx, req)

	log.Debug().
		Err(res.Error).
		Str("component", "delivery").
		Str("config_id", req.ConfigID).
		Str("class", string(req.Class)).
		Str("url", req.URL).
		Int("status", res.StatusCode).
		Dur("duration", res.Duration).
		Msg("delivery: attempt finished")
	return res
}

func (c *HTTPClient) send(ctx context.Context, req Request) Result {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return Result{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", ContentType)
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.ConfigID != "" {
		httpReq.Header.Set(HeaderConfigID, req.ConfigID)
	}
	if req.Class != "" {
		httpReq.Header.Set(HeaderClass, string(req.Class))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}
