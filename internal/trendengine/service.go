// Package trendengine is the top-level orchestrator for the swing trend
// service: it consumes bars from Redis Streams, feeds them through one
// swing.Tracker per symbol, publishes structural events and checkpoints
// the tracker fleet to Redis and SQLite.
package trendengine

import (
	"context"
	"database/sql"
	"log"
	"os"
	"sync"
	"time"

	"swing-systemv1/internal/metrics"
	"swing-systemv1/internal/model"
	"swing-systemv1/internal/notification"
	redisstore "swing-systemv1/internal/store/redis"
	sqlitestore "swing-systemv1/internal/store/sqlite"
	"swing-systemv1/internal/swing"
)

// Service wires all dependencies, manages lifecycle and coordinates goroutines.
type Service struct {
	cfg Config

	mu       sync.RWMutex
	trackers map[string]*swing.Tracker

	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer
	prom        *metrics.Metrics
	health      *metrics.HealthStatus
	httpSrv     *metrics.Server
	notifier    notification.Notifier

	streams []string
	barCh   chan model.Bar
}

// New creates a new Service from the given Config.
// It connects to Redis and SQLite; tracker restore happens in Run.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		trackers: make(map[string]*swing.Tracker),
		prom:     metrics.NewMetrics(),
		health:   metrics.NewHealthStatus(),
		barCh:    make(chan model.Bar, 5000),
	}

	// ---- Connect to Redis ----
	var err error
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}

	// ---- Open SQLite ----
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[trendengine] WARNING: sqlite reader init failed: %v (continuing without SQLite backfill)", err)
	}

	os.MkdirAll("data", 0o755)
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[trendengine] WARNING: sqlite writer init failed: %v", err)
	}

	svc.notifier = buildNotifier(cfg)

	return svc, nil
}

func buildNotifier(cfg Config) notification.Notifier {
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	return notification.NewMultiNotifier(backends...)
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[trendengine] starting Swing Trend Engine...")

	// ---- Restore trackers from snapshot ----
	streamID := svc.restoreTrackers(ctx)

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	log.Printf("[trendengine] consuming from %d streams: %v", len(svc.streams), svc.streams)

	// ---- Replay delta since snapshot ----
	lastIDs := svc.replayDelta(ctx, streamID)

	// ---- Ensure consumer groups ----
	// After a delta replay the group starts at the last replayed ID so bars
	// published between replay and group creation are still delivered. Cold
	// starts only want new messages.
	for _, stream := range svc.streams {
		id := lastIDs[stream]
		if id == "" {
			id = streamID
		}
		var err error
		if id != "" {
			err = svc.redisReader.EnsureConsumerGroupFrom(ctx, stream, id)
		} else {
			err = svc.redisReader.EnsureConsumerGroup(ctx, []string{stream})
		}
		if err != nil {
			log.Printf("[trendengine] WARNING: consumer group setup on %s: %v", stream, err)
		}
	}

	// ---- Recover pending messages ----
	if len(svc.streams) > 0 {
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.barCh); err != nil {
			log.Printf("[trendengine] pending recovery error: %v", err)
		}
	}

	// ---- Start subsystems ----
	svc.startPELReclaimer(ctx)
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	go svc.snapshotLoop(ctx)
	svc.startHTTP(ctx)

	var sqlDB *sql.DB
	if svc.sqlWriter != nil {
		sqlDB = svc.sqlWriter.DB()
	}
	svc.health.StartLivenessChecker(ctx, svc.redisReader.Client(), sqlDB, 10*time.Second)
	svc.health.SetTrackerCount(svc.trackerCount())

	log.Printf("[trendengine] tracking %d symbols, snapshot checkpoint every %ds",
		svc.trackerCount(), cfg.SnapshotIntervalS)
	log.Println("[trendengine] all systems running. Press Ctrl+C to stop.")

	// Block until context cancelled
	<-ctx.Done()

	// ---- Graceful shutdown ----
	svc.shutdown()
	return nil
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[trendengine] shutdown signal received, saving final snapshot...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()

	if err := svc.saveSnapshot(shutCtx); err != nil {
		log.Printf("[trendengine] final snapshot error: %v", err)
	} else {
		log.Println("[trendengine] final snapshot saved")
	}

	if svc.httpSrv != nil {
		svc.httpSrv.Stop(shutCtx)
	}
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	log.Println("[trendengine] shutdown complete.")
}

// newTracker builds a tracker wired with the service listener.
func (svc *Service) newTracker(symbol string) *swing.Tracker {
	t := swing.NewTracker(symbol, svc.cfg.TrackerConfig)
	t.SetListener(&serviceListener{svc: svc})
	t.SetFilteredHook(func() {
		svc.prom.FilteredTotal.WithLabelValues(symbol).Inc()
	})
	return t
}

// tracker returns the tracker for a symbol, creating one on first sight.
func (svc *Service) tracker(symbol string) *swing.Tracker {
	svc.mu.RLock()
	t, ok := svc.trackers[symbol]
	svc.mu.RUnlock()
	if ok {
		return t
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if t, ok = svc.trackers[symbol]; ok {
		return t
	}
	t = svc.newTracker(symbol)
	svc.trackers[symbol] = t
	log.Printf("[trendengine] new symbol %s, tracker created", symbol)
	return t
}

func (svc *Service) trackerCount() int {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return len(svc.trackers)
}

// restoreTrackers rebuilds the tracker fleet from the most recent snapshot.
// Priority: Redis snapshot, then SQLite snapshot, then cold start with a
// SQLite bar backfill. Returns the snapshot's stream position marker ("" on
// cold start).
func (svc *Service) restoreTrackers(ctx context.Context) string {
	set := svc.loadSnapshotSet(ctx)
	if set != nil {
		svc.mu.Lock()
		svc.trackers = swing.RestoreAll(set, svc.newTracker)
		svc.mu.Unlock()
		log.Printf("[trendengine] restored %d trackers from snapshot (stream ID %q)",
			svc.trackerCount(), set.StreamID)
		return set.StreamID
	}

	// Cold start: create trackers for configured symbols and warm them from
	// the SQLite bar archive.
	svc.mu.Lock()
	for _, sym := range svc.cfg.Symbols {
		svc.trackers[sym] = svc.newTracker(sym)
	}
	svc.mu.Unlock()

	svc.backfillFromSQLite()
	return ""
}

// backfillFromSQLite replays the archived bars through the trackers so a
// cold start resumes with warm trend state. Events fired during backfill are
// historical; they are republished so downstream stores converge.
func (svc *Service) backfillFromSQLite() {
	if svc.sqlReader == nil {
		return
	}
	bars, err := svc.sqlReader.ReadAllBars(0)
	if err != nil {
		log.Printf("[trendengine] sqlite backfill read error: %v", err)
		return
	}
	for _, bar := range bars {
		if err := svc.tracker(bar.Symbol).Update(bar); err != nil {
			log.Printf("[trendengine] backfill update error for %s: %v", bar.Symbol, err)
		}
	}
	if len(bars) > 0 {
		log.Printf("[trendengine] warmed up trackers with %d archived bars", len(bars))
	}
}

// buildStreams constructs the Redis bar stream names to consume.
func (svc *Service) buildStreams(ctx context.Context) []string {
	if len(svc.cfg.Symbols) > 0 {
		streams := make([]string, 0, len(svc.cfg.Symbols))
		for _, sym := range svc.cfg.Symbols {
			streams = append(streams, "bar:"+sym)
		}
		return streams
	}

	// No configured symbols: track whatever bar streams exist, plus any
	// restored tracker's stream.
	svc.mu.RLock()
	symbols := make([]string, 0, len(svc.trackers))
	for sym := range svc.trackers {
		symbols = append(symbols, sym)
	}
	svc.mu.RUnlock()
	return svc.redisReader.DiscoverBarStreams(ctx, symbols)
}

// replayDelta replays bars published since the snapshot's stream position so
// no structural event is missed across a restart. Returns the last replayed
// ID per stream, for positioning the consumer group.
func (svc *Service) replayDelta(ctx context.Context, streamID string) map[string]string {
	lastIDs := make(map[string]string, len(svc.streams))
	if streamID == "" {
		return lastIDs
	}

	log.Printf("[trendengine] replaying delta from stream ID: %s", streamID)
	deltaCount := 0
	for _, stream := range svc.streams {
		replayCh := make(chan model.Bar, 5000)
		var lastID string
		var replayErr error
		go func() {
			lastID, replayErr = svc.redisReader.ReplayFromID(ctx, stream, streamID, replayCh)
			close(replayCh)
		}()

		for bar := range replayCh {
			if err := svc.tracker(bar.Symbol).Update(bar); err != nil {
				log.Printf("[trendengine] delta update error for %s: %v", bar.Symbol, err)
			}
			deltaCount++
		}
		if replayErr != nil {
			log.Printf("[trendengine] replay error on %s: %v", stream, replayErr)
		}
		if lastID != "" && lastID != streamID {
			lastIDs[stream] = lastID
		}
	}
	if deltaCount > 0 {
		log.Printf("[trendengine] replayed %d delta bars", deltaCount)
	}
	return lastIDs
}

// serviceListener publishes tracker events to Redis, SQLite and the
// notification backends.
type serviceListener struct {
	svc *Service
}

func (l *serviceListener) OnBreakout(ev model.TrendEvent) {
	l.svc.prom.BreakoutsTotal.WithLabelValues(ev.Symbol).Inc()
	l.publish(ev)
}

func (l *serviceListener) OnReversal(ev model.TrendEvent) {
	l.svc.prom.ReversalsTotal.WithLabelValues(ev.Symbol).Inc()
	l.publish(ev)
}

func (l *serviceListener) publish(ev model.TrendEvent) {
	svc := l.svc
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	svc.redisWriter.WriteEvent(ctx, ev)
	svc.redisWriter.WriteTrendState(ctx, ev.Symbol, ev.Trend)
	if svc.sqlWriter != nil {
		svc.sqlWriter.WriteEvent(ctx, ev)
	}

	if err := svc.notifier.Send(ctx, notification.AlertForEvent(ev)); err != nil {
		log.Printf("[trendengine] notification error: %v", err)
	}
}
