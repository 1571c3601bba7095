package trendengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"swing-systemv1/internal/swing"
)

// snapshotLoop periodically checkpoints the tracker fleet to Redis and SQLite.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := svc.saveSnapshot(ctx); err != nil {
				log.Printf("[trendengine] snapshot error: %v", err)
				continue
			}
			svc.prom.SnapshotDur.Observe(time.Since(start).Seconds())
			log.Printf("[trendengine] checkpoint saved (%d trackers)", svc.trackerCount())
		}
	}
}

// saveSnapshot captures every tracker and writes the set to both stores.
func (svc *Service) saveSnapshot(ctx context.Context) error {
	streamID := svc.currentStreamID(ctx)
	svc.mu.RLock()
	set := swing.SnapshotAll(svc.trackers, streamID)
	svc.mu.RUnlock()

	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal snapshot set: %w", err)
	}

	if err := svc.redisReader.WriteSnapshotJSON(ctx, svc.cfg.SnapshotKey, data); err != nil {
		log.Printf("[trendengine] redis snapshot write error: %v", err)
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveSnapshotJSON(data); err != nil {
			log.Printf("[trendengine] sqlite snapshot write error: %v", err)
		}
	}
	return nil
}

// loadSnapshotSet reads the most recent snapshot set, Redis first, SQLite
// as fallback. Returns nil when no usable snapshot exists.
func (svc *Service) loadSnapshotSet(ctx context.Context) *swing.SnapshotSet {
	data, err := svc.redisReader.ReadSnapshotJSON(ctx, svc.cfg.SnapshotKey)
	if err != nil {
		log.Printf("[trendengine] redis snapshot read error: %v", err)
	}

	if data == nil && svc.sqlReader != nil {
		data, err = svc.sqlReader.ReadLatestSnapshotJSON()
		if err != nil {
			log.Printf("[trendengine] sqlite snapshot read error: %v", err)
		}
	}
	if data == nil {
		return nil
	}

	var set swing.SnapshotSet
	if err := json.Unmarshal(data, &set); err != nil {
		log.Printf("[trendengine] snapshot unmarshal error: %v (cold starting)", err)
		return nil
	}
	if len(set.Trackers) == 0 {
		return nil
	}
	return &set
}

// currentStreamID returns the stream position marker recorded in snapshots:
// the newest message ID across the consumed bar streams. Falls back to a
// wall-clock marker when the streams are empty or unreachable; Redis stream
// IDs are "<unix-ms>-<seq>", so that is still a valid XRANGE lower bound.
func (svc *Service) currentStreamID(ctx context.Context) string {
	var newest string
	for _, stream := range svc.streams {
		id, err := svc.redisReader.LastStreamID(ctx, stream)
		if err != nil || id == "" {
			continue
		}
		if newest == "" || streamIDAfter(id, newest) {
			newest = id
		}
	}
	if newest == "" {
		return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0"
	}
	return newest
}

// streamIDAfter reports whether stream ID a orders after b.
func streamIDAfter(a, b string) bool {
	ams, aseq := splitStreamID(a)
	bms, bseq := splitStreamID(b)
	if ams != bms {
		return ams > bms
	}
	return aseq > bseq
}

func splitStreamID(id string) (ms, seq int64) {
	msStr, seqStr, _ := strings.Cut(id, "-")
	ms, _ = strconv.ParseInt(msStr, 10, 64)
	seq, _ = strconv.ParseInt(seqStr, 10, 64)
	return ms, seq
}
