package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the trend engine service from concrete storage
// implementations (Redis, SQLite). Each implementation satisfies one or more.

// BarWriter archives bars.
type BarWriter interface {
	// Run reads bars from barCh and writes them.
	// Blocks until ctx is cancelled or barCh is closed.
	Run(ctx context.Context, barCh <-chan Bar)

	// Close releases underlying resources.
	Close() error
}

// BarReader reads archived bars for backfill, replay and annotation lookup.
type BarReader interface {
	// ReadBars reads bars for one symbol with ts > afterTS, ordered ascending.
	ReadBars(symbol string, afterTS int64) ([]Bar, error)

	// ReadAllBars reads bars for every symbol with ts > afterTS, ordered ascending.
	ReadAllBars(afterTS int64) ([]Bar, error)

	// Close releases underlying resources.
	Close() error
}

// EventWriter publishes trend events and per-symbol trend labels.
type EventWriter interface {
	// WriteEvent publishes a single trend event.
	WriteEvent(ctx context.Context, ev TrendEvent)

	// Close releases underlying resources.
	Close() error
}

// BarStreamConsumer consumes bars from a stream (e.g. Redis Streams).
type BarStreamConsumer interface {
	// ConsumeBars reads bars via consumer groups. Blocks until ctx is cancelled.
	ConsumeBars(ctx context.Context, streams []string, out chan<- Bar) error

	// RecoverPending processes any unACKed messages from a previous crash.
	RecoverPending(ctx context.Context, streams []string, out chan<- Bar) error

	// EnsureConsumerGroup creates consumer groups on streams.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// ReplayFromID reads all messages from a stream starting at a given ID.
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- Bar) (string, error)

	// Close releases underlying resources.
	Close() error
}
