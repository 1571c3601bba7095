// cmd/barfeed ingests OHLC bars from the feed WebSocket and fans them out to
// SQLite (archive) and Redis Streams (live consumers, e.g. the trend engine).
//
// Pipeline:
//
//	[WS feed] → [ring buffer] → [SQLite batch writer]
//	                          → [Redis XADD + SET + PUBLISH]
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swing-systemv1/config"
	"swing-systemv1/internal/feed"
	"swing-systemv1/internal/logger"
	"swing-systemv1/internal/metrics"
	"swing-systemv1/internal/model"
	"swing-systemv1/internal/ringbuf"
	redisstore "swing-systemv1/internal/store/redis"
	sqlitestore "swing-systemv1/internal/store/sqlite"
)

const ringCapacity = 8192

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("barfeed", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg := config.Load()
	symbols := cfg.ParseSymbols()
	if len(symbols) == 0 {
		log.Fatal("[barfeed] no symbols configured")
	}

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// ---- Stores ----
	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[barfeed] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(n int, d time.Duration) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
	}

	for _, sym := range symbols {
		last, err := sqlWriter.GetLastTimestamp(sym)
		if err != nil || last == 0 {
			continue
		}
		log.Printf("[barfeed] %s archive resumes after %s", sym, time.Unix(last, 0).Format(time.RFC3339))
	}

	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[barfeed] redis init failed: %v", err)
	}
	defer redisWriter.Close()
	redisWriter.OnWrite = func(d time.Duration) {
		prom.RedisWriteDur.Observe(d.Seconds())
	}

	// Circuit breaker so a Redis outage doesn't lose bars: they buffer
	// locally and flush when the circuit closes again.
	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[barfeed] redis circuit %s → %s", from, to)
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
	}
	buffered := redisstore.NewBufferedWriter(ctx, redisWriter, cb, 0)
	buffered.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }

	// ---- Metrics / health server ----
	srv := metrics.NewServer(cfg.MetricsAddr, health)
	srv.Start()
	defer srv.Stop(context.Background())
	health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)

	// ---- Ring buffer between WS reader and persistence ----
	ring := ringbuf.New(ringCapacity)
	sqliteCh := make(chan model.Bar, 5000)
	go sqlWriter.Run(ctx, sqliteCh)

	// Drain loop: pop bars and fan out to both stores.
	go func() {
		for {
			bar, ok := ring.Pop()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
				continue
			}
			select {
			case sqliteCh <- bar:
			default:
				prom.DroppedBars.Inc()
			}
			buffered.WriteBar(bar)
		}
	}()

	// ---- WS ingest ----
	ing, err := feed.New(feed.Config{
		URL:        cfg.FeedURL,
		ClientCode: cfg.FeedClientCode,
		TOTPSecret: cfg.FeedTOTPSecret,
		Symbols:    symbols,
	})
	if err != nil {
		log.Fatalf("[barfeed] feed init failed: %v", err)
	}
	ing.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetWSConnected(false)
	}
	ing.OnBar = func(bar model.Bar) {
		health.SetWSConnected(true)
		health.SetLastBarTime(bar.TS)
		prom.BarsTotal.WithLabelValues(bar.Symbol).Inc()
	}

	barCh := make(chan model.Bar, 5000)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case bar, ok := <-barCh:
				if !ok {
					return
				}
				if !ring.Push(bar) {
					prom.RingBufOverflow.Inc()
				}
			}
		}
	}()

	log.Printf("[barfeed] streaming %d symbols from %s", len(symbols), cfg.FeedURL)
	if err := ing.Start(ctx, barCh); err != nil {
		log.Fatalf("[barfeed] feed error: %v", err)
	}

	log.Println("[barfeed] shutdown complete.")
}
