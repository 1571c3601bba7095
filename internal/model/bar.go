package model

import (
	"encoding/json"
	"time"
)

// Bar represents a single OHLC bar for one instrument.
// Bars arrive in strictly increasing timestamp order per symbol; the feed
// adapter guarantees ordering, the trend engine does not re-check it.
type Bar struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume,omitempty"`
}

// StreamKey returns the Redis stream key for this symbol: "bar:{symbol}".
func (b *Bar) StreamKey() string {
	return "bar:" + b.Symbol
}

// PubSubChannel returns the pubsub channel for live bar subscribers.
func (b *Bar) PubSubChannel() string {
	return "pub:bar:" + b.Symbol
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}
