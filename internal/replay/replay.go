// Package replay provides a bar replayer that reads historical data from
// SQLite and emits it at configurable speed for backtesting.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"swing-systemv1/internal/model"
)

// Replayer reads archived bars and replays them at a configurable speed
// multiplier.
type Replayer struct {
	reader model.BarReader
}

// New creates a Replayer backed by a bar reader.
func New(reader model.BarReader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays bars for the given symbols, emitting them into outCh.
// An empty symbols slice replays every archived symbol.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// fromTS filters bars to those after this Unix timestamp (0 = all).
func (r *Replayer) Run(ctx context.Context, symbols []string, fromTS int64, speed float64, outCh chan<- model.Bar) error {
	var allBars []model.Bar
	if len(symbols) == 0 {
		bars, err := r.reader.ReadAllBars(fromTS)
		if err != nil {
			return err
		}
		allBars = bars
	} else {
		for _, sym := range symbols {
			bars, err := r.reader.ReadBars(sym, fromTS)
			if err != nil {
				return err
			}
			allBars = append(allBars, bars...)
		}
	}

	if len(allBars) == 0 {
		log.Println("[replay] no bars found in SQLite")
		return nil
	}

	// Bars may be interleaved across symbols; the trackers need per-symbol
	// timestamp order, which a global sort preserves.
	sort.SliceStable(allBars, func(i, j int) bool {
		return allBars[i].TS.Before(allBars[j].TS)
	})

	log.Printf("[replay] loaded %d bars across %d symbols, speed=%.1fx", len(allBars), len(symbols), speed)

	var prevTS time.Time
	emitted := 0

	for _, b := range allBars {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return ctx.Err()
		default:
		}

		// Simulate time gaps between bars
		if speed > 0 && !prevTS.IsZero() {
			gap := b.TS.Sub(prevTS)
			if gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = b.TS

		select {
		case outCh <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return nil
}
