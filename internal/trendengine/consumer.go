package trendengine

import (
	"context"
	"log"
	"time"

	"swing-systemv1/internal/swing"
)

// trendGaugeValue maps a tracker's trend to the gauge encoding.
func trendGaugeValue(t *swing.Tracker) float64 {
	switch t.Trend() {
	case swing.TrendUp:
		return 1
	case swing.TrendDown:
		return -1
	default:
		return 0
	}
}

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go func() {
		if err := svc.redisReader.ConsumeBars(ctx, svc.streams, svc.barCh); err != nil {
			log.Printf("[trendengine] consumer error: %v", err)
		}
	}()
}

// startPELReclaimer starts periodic reclamation of stale PEL messages.
func (svc *Service) startPELReclaimer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	go svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		svc.cfg.ConsumerGroup, svc.cfg.ConsumerName,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.barCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			log.Printf("[trendengine] reclaimed %d stale PEL messages", count)
		})
	log.Printf("[trendengine] PEL reclaimer started (interval=%ds, minIdle=%dms)",
		svc.cfg.PELIntervalS, svc.cfg.PELMinIdleMs)
}

// processLoop consumes bars from the channel and feeds them through the
// per-symbol trackers. Events fire synchronously inside Update via the
// service listener.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-svc.barCh:
			if !ok {
				return
			}

			t := svc.tracker(bar.Symbol)

			start := time.Now()
			if err := t.Update(bar); err != nil {
				log.Printf("[trendengine] update error for %s: %v", bar.Symbol, err)
			}
			svc.prom.UpdateDur.Observe(time.Since(start).Seconds())

			svc.prom.BarsTotal.WithLabelValues(bar.Symbol).Inc()
			svc.prom.BarLag.Set(time.Since(bar.TS).Seconds())
			svc.prom.TrendState.WithLabelValues(bar.Symbol).Set(trendGaugeValue(t))
			svc.health.SetLastBarTime(bar.TS)
			svc.health.SetTrackerCount(svc.trackerCount())

			svc.updateSidewaysGauge()
		}
	}
}

// updateSidewaysGauge recounts symbols past the sideways threshold.
func (svc *Service) updateSidewaysGauge() {
	svc.mu.RLock()
	n := 0
	for _, t := range svc.trackers {
		if t.IsSideways() {
			n++
		}
	}
	svc.mu.RUnlock()
	svc.prom.SidewaysSymbols.Set(float64(n))
}
