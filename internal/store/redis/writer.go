package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"swing-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: a few sessions of 1m bars per symbol
	barStreamMaxLen   = 2000
	eventStreamMaxLen = 500
	defaultLatestTTL  = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes bars, trend events and trend state to Redis.
type Writer struct {
	client *goredis.Client

	// OnWrite, if set, is called with the pipeline roundtrip latency after
	// each successful bar write.
	OnWrite func(d time.Duration)
}

var (
	_ model.BarWriter   = (*Writer)(nil)
	_ model.EventWriter = (*Writer)(nil)
)

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run reads bars from barCh and writes them to Redis.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			w.writeBar(ctx, bar)
		}
	}
}

// writeBar performs pipelined writes for one bar: XADD to the symbol's
// stream, SET latest, PUBLISH for live subscribers.
func (w *Writer) writeBar(ctx context.Context, bar model.Bar) {
	jsonBytes := bar.JSON()
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	pipe := w.client.Pipeline()

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: bar.StreamKey(),
		MaxLen: barStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})

	pipe.Set(ctx, "bar:latest:"+bar.Symbol, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, bar.PubSubChannel(), jsonData)

	start := time.Now()
	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] bar pipeline error for %s: %v", bar.Symbol, err)
		return
	}
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start))
	}
}

// WriteEvent publishes a trend event: XADD + SET latest + PUBLISH in a
// single pipeline roundtrip.
func (w *Writer) WriteEvent(ctx context.Context, ev model.TrendEvent) {
	jsonBytes := ev.JSON()
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	pipe := w.client.Pipeline()

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ev.StreamKey(),
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})

	pipe.Set(ctx, "trend:event:latest:"+ev.Symbol, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, ev.PubSubChannel(), jsonData)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] event pipeline error for %s: %v", ev.Symbol, err)
	}
}

// WriteTrendState stores the current trend string per symbol so dashboards
// can poll without consuming the event stream.
func (w *Writer) WriteTrendState(ctx context.Context, symbol, trend string) {
	if err := w.client.Set(ctx, "trend:state:"+symbol, trend, 0).Err(); err != nil {
		log.Printf("[redis] trend state write error for %s: %v", symbol, err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
