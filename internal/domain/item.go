package domain

import "time"

// PoolItem is one accepted submission waiting in the dispatch pool.
type PoolItem struct {
	ConfigID   string
	ReceivedAt time.Time // set once at submission

	InstantSent bool // latch: instant group dispatch initiated
	DelaySent   bool // latch: delayed group dispatch initiated

	Payload []byte
}

// NewPoolItem copies payload so later mutation by the caller cannot leak into
// the buffered item.
func NewPoolItem(configID string, payload []byte, receivedAt time.Time) *PoolItem {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &PoolItem{
		ConfigID:   configID,
		ReceivedAt: receivedAt,
		Payload:    p,
	}
}

// Retired reports whether the item can leave the buffer.
func (i *PoolItem) Retired() bool {
	return i.DelaySent
}
