package model

import (
	"encoding/json"
	"time"
)

// EventKind identifies the structural event that occurred.
type EventKind string

const (
	// EventBreakout fires when a close confirms trend continuation past a
	// pending swing pivot (break of structure).
	EventBreakout EventKind = "BREAKOUT"

	// EventReversal fires when a close breaches the change-of-character
	// level and the trend flips direction.
	EventReversal EventKind = "REVERSAL"
)

// TrendEvent is emitted by the swing tracker when a breakout or reversal
// is confirmed. Levels are absolute prices:
//   - BREAKOUT: BrokenLevel is the cleared pivot, NewLevel the new CoCh.
//   - REVERSAL: BrokenLevel is the breached CoCh, NewLevel the CoCh that
//     replaces it after the flip.
type TrendEvent struct {
	Kind        EventKind `json:"kind"`
	Symbol      string    `json:"symbol"`
	TS          time.Time `json:"ts"`    // timestamp of the triggering bar
	Trend       string    `json:"trend"` // trend after the event: "UP" or "DOWN"
	Close       float64   `json:"close"`
	BrokenLevel float64   `json:"broken_level"`
	NewLevel    float64   `json:"new_level"`
}

// StreamKey returns the Redis stream key: "trend:events:{symbol}".
func (e *TrendEvent) StreamKey() string {
	return "trend:events:" + e.Symbol
}

// PubSubChannel returns the pubsub channel for live event subscribers.
func (e *TrendEvent) PubSubChannel() string {
	return "pub:trend:" + e.Symbol
}

// JSON returns the JSON-encoded event.
func (e *TrendEvent) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}
