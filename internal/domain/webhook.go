package domain

import (
	"errors"
	"math"
	"time"
)

// MaxDelaySeconds is the largest delay representable as a time.Duration.
const MaxDelaySeconds = math.MaxInt64 / int64(time.Second)

// ErrConfigNotFound is returned by stores when no configuration exists for an id.
var ErrConfigNotFound = errors.New("webhook configuration not found")

// WebhookConfig is a named pair of endpoint groups plus the delay applied to
// the delayed group.
type WebhookConfig struct {
	ID   string
	Name string

	DelaySeconds     int64
	InstantEndpoints []string
	DelayedEndpoints []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Delay returns DelaySeconds as a duration, saturating at the largest
// representable duration instead of wrapping.
func (c WebhookConfig) Delay() time.Duration {
	if c.DelaySeconds > MaxDelaySeconds {
		return time.Duration(math.MaxInt64)
	}
	if c.DelaySeconds < 0 {
		return 0
	}
	return time.Duration(c.DelaySeconds) * time.Second
}

// DelayedDue reports whether the delayed group is due for an item received at
// receivedAt: receivedAt < now - delay.
func (c WebhookConfig) DelayedDue(receivedAt, now time.Time) bool {
	return receivedAt.Before(now.Add(-c.Delay()))
}
