// Package swing implements incremental swing-structure trend classification
// over a stream of OHLC bars.
//
// A Tracker consumes one bar at a time and maintains the directional trend of
// a single instrument: it tracks the pending swing pivot (SPH in an uptrend,
// SPL in a downtrend), confirms a break of structure when price closes beyond
// the pivot, and flips the trend when price closes beyond the change-of-
// character (CoCh) level. Processing is deterministic and single-pass, so a
// bar-by-bar live run and a bulk historical replay produce identical state
// and identical events.
package swing

import (
	"log/slog"
	"math"
	"time"

	"swing-systemv1/internal/model"
)

// Trend is the current directional classification of an instrument.
type Trend int

const (
	TrendUnset Trend = iota // not enough bars to pick a direction yet
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "UP"
	case TrendDown:
		return "DOWN"
	default:
		return ""
	}
}

// Level is a price level anchored to the bar that produced it.
type Level struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// TrendListener receives structural events. Both callbacks are invoked
// synchronously from Update, at most once per processed bar, strictly after
// the tracker state for the event has been committed.
type TrendListener interface {
	OnBreakout(ev model.TrendEvent)
	OnReversal(ev model.TrendEvent)
}

// Config holds the immutable tuning parameters of a Tracker.
type Config struct {
	// RetraceThresholdPct is the minimum retracement (percent of the pivot
	// price) required to move the CoCh level on a breakout. nil disables the
	// filter; the zero struct gets DefaultRetraceThresholdPct.
	RetraceThresholdPct *float64

	// SidewaysThreshold is the bar count after which a trend with no new
	// pivot is considered range-bound. Zero gets DefaultSidewaysThreshold.
	SidewaysThreshold int

	// Debug enables per-bar transition logging. No behavioral effect.
	Debug bool
}

const (
	DefaultRetraceThresholdPct = 5.0
	DefaultSidewaysThreshold   = 20
)

// DisabledRetraceFilter is a Config preset with the retrace filter off.
func DisabledRetraceFilter() Config {
	zero := 0.0
	return Config{RetraceThresholdPct: &zero}
}

// Tracker classifies the trend of one instrument. It owns all of its state:
// it is not safe for concurrent use, and bars must be fed exactly once in
// strictly increasing timestamp order. Update is not idempotent.
type Tracker struct {
	symbol string

	// immutable configuration
	retraceThreshold  float64 // fraction of pivot price; 0 disables the filter
	sidewaysThreshold int

	// runtime state; nil level means unset
	trend     Trend
	high, low *Level
	coc       *Level // change-of-character (reversal) level
	sph, spl  *Level // pending swing pivot; sph only while UP, spl only while DOWN
	barsSince int    // bars since the last pivot formed or last event reset it

	debug      bool
	listener   TrendListener
	rec        *Recorder
	onFiltered func()
	log        *slog.Logger
}

// NewTracker creates a Tracker for the given symbol.
func NewTracker(symbol string, cfg Config) *Tracker {
	pct := DefaultRetraceThresholdPct
	if cfg.RetraceThresholdPct != nil {
		pct = *cfg.RetraceThresholdPct
	}
	threshold := cfg.SidewaysThreshold
	if threshold <= 0 {
		threshold = DefaultSidewaysThreshold
	}

	return &Tracker{
		symbol:            symbol,
		retraceThreshold:  pct / 100,
		sidewaysThreshold: threshold,
		debug:             cfg.Debug,
		log:               slog.Default().With(slog.String("symbol", symbol)),
	}
}

// SetListener registers the event listener. Pass nil to detach.
func (t *Tracker) SetListener(l TrendListener) { t.listener = l }

// SetRecorder attaches an annotation recorder. Pass nil to disable recording.
func (t *Tracker) SetRecorder(r *Recorder) { t.rec = r }

// SetFilteredHook registers a callback invoked when the retrace filter
// suppresses a breakout. Not an event: the pivot is still consumed and no
// listener fires.
func (t *Tracker) SetFilteredHook(fn func()) { t.onFiltered = fn }

// Symbol returns the instrument label this tracker is bound to.
func (t *Tracker) Symbol() string { return t.symbol }

// Trend returns the current directional classification.
func (t *Tracker) Trend() Trend { return t.trend }

// SPH returns the pending swing high, or nil. Only set while the trend is up.
func (t *Tracker) SPH() *Level { return t.sph }

// SPL returns the pending swing low, or nil. Only set while the trend is down.
func (t *Tracker) SPL() *Level { return t.spl }

// CoC returns the change-of-character level, or nil while the trend is unset.
func (t *Tracker) CoC() *Level { return t.coc }

// BarsSincePivot returns the bars elapsed since the last confirmed pivot
// formed, or since the last breakout or reversal reset the counter.
func (t *Tracker) BarsSincePivot() int { return t.barsSince }

// IsSideways reports whether the instrument is range-bound: no new pivot has
// formed for more than the configured bar count. The trend can still be UP
// or DOWN while sideways — only a break of structure or a reversal moves it.
func (t *Tracker) IsSideways() bool {
	return t.barsSince > t.sidewaysThreshold
}

// Update feeds the next bar into the tracker. It mutates state and may invoke
// the listener. The returned error is non-nil only when annotation recording
// fails (no history bound); tracker state is still fully updated in that case.
func (t *Tracker) Update(bar model.Bar) error {
	switch t.trend {
	case TrendUnset:
		return t.updateUnset(bar)
	case TrendUp:
		return t.updateUp(bar)
	default:
		return t.updateDown(bar)
	}
}

// updateUnset seeds the running envelope and waits for the first close
// outside of it to pick a direction.
func (t *Tracker) updateUnset(bar model.Bar) error {
	if t.high == nil || t.low == nil {
		t.high = &Level{Price: bar.High, At: bar.TS}
		t.low = &Level{Price: bar.Low, At: bar.TS}
		t.debugf("first bar", bar, slog.Float64("high", bar.High), slog.Float64("low", bar.Low))
		return nil
	}

	if bar.Close > t.high.Price {
		t.trend = TrendUp
		t.coc = &Level{Price: t.low.Price, At: t.low.At} // prior low becomes the reversal floor
		t.high = &Level{Price: bar.High, At: bar.TS}
		t.debugf("start trend UP", bar, slog.Float64("high", bar.High))
	} else if bar.Close < t.low.Price {
		t.trend = TrendDown
		t.coc = &Level{Price: t.high.Price, At: t.high.At} // prior high becomes the ceiling
		t.low = &Level{Price: bar.Low, At: bar.TS}
		t.debugf("start trend DOWN", bar, slog.Float64("low", bar.Low))
	}

	// A single bar may both start a trend and widen the envelope.
	if bar.High > t.high.Price {
		t.high = &Level{Price: bar.High, At: bar.TS}
	}
	if bar.Low < t.low.Price {
		t.low = &Level{Price: bar.Low, At: bar.TS}
	}
	return nil
}

// updateUp handles one bar while the trend is up. The breakout check runs
// first and is terminal for the bar; the formation/reversal watch runs only
// when no breakout occurred.
func (t *Tracker) updateUp(bar model.Bar) error {
	if t.sph != nil {
		t.barsSince++

		if t.high != nil && bar.High > t.high.Price {
			t.high = &Level{Price: bar.High, At: bar.TS}
		}
		if t.low == nil || bar.Low < t.low.Price {
			t.low = &Level{Price: bar.Low, At: bar.TS}
		}

		if bar.Close > t.sph.Price {
			pivot := t.sph.Price
			t.sph = nil
			t.barsSince = 0

			if t.filteredOut(retraceFraction(t.low.Price, pivot), pivot) {
				t.debugf("breakout suppressed by retrace filter", bar, slog.Float64("pivot", pivot))
				if t.onFiltered != nil {
					t.onFiltered()
				}
				return nil
			}

			t.coc = &Level{Price: t.low.Price, At: t.low.At} // pullback low is the new floor
			t.debugf("BOS UP", bar, slog.Float64("coc", t.coc.Price))

			err := t.record(t.coc, true)
			t.emit(model.EventBreakout, bar, pivot, t.coc.Price)
			return err
		}
	}

	if t.high != nil && bar.High > t.high.Price {
		// Impulse still making new highs; pullback tracking restarts here.
		t.high = &Level{Price: bar.High, At: bar.TS}
		t.low = &Level{Price: bar.Low, At: bar.TS}
		t.debugf("new high", bar, slog.Float64("high", bar.High))
		return nil
	}

	if t.sph == nil {
		// First pullback bar confirms the swing high as the pending pivot.
		t.sph = &Level{Price: t.high.Price, At: t.high.At}
		t.low = nil
		t.barsSince = 0
		t.debugf("swing high formed", bar, slog.Float64("sph", t.sph.Price))
	}

	if t.low == nil || bar.Low < t.low.Price {
		t.low = &Level{Price: bar.Low, At: bar.TS}
		t.barsSince++
	}

	if t.coc != nil && bar.Close < t.coc.Price {
		broken := t.coc.Price
		err := t.switchDown(bar)
		t.emit(model.EventReversal, bar, broken, t.coc.Price)
		return err
	}
	return nil
}

// updateDown is the mirror image of updateUp: the pivot is the swing low,
// breakouts are closes below it, and reversals are closes above the CoCh.
func (t *Tracker) updateDown(bar model.Bar) error {
	if t.spl != nil {
		t.barsSince++

		if t.low != nil && bar.Low < t.low.Price {
			t.low = &Level{Price: bar.Low, At: bar.TS}
		}
		if t.high == nil || bar.High > t.high.Price {
			t.high = &Level{Price: bar.High, At: bar.TS}
		}

		if bar.Close < t.spl.Price {
			pivot := t.spl.Price
			t.spl = nil
			t.barsSince = 0

			if t.filteredOut(retraceFraction(t.high.Price, pivot), pivot) {
				t.debugf("breakdown suppressed by retrace filter", bar, slog.Float64("pivot", pivot))
				if t.onFiltered != nil {
					t.onFiltered()
				}
				return nil
			}

			t.coc = &Level{Price: t.high.Price, At: t.high.At} // bounce high is the new ceiling
			t.debugf("BOS DOWN", bar, slog.Float64("coc", t.coc.Price))

			err := t.record(t.coc, false)
			t.emit(model.EventBreakout, bar, pivot, t.coc.Price)
			return err
		}
	}

	if t.low != nil && bar.Low < t.low.Price {
		t.low = &Level{Price: bar.Low, At: bar.TS}
		t.high = &Level{Price: bar.High, At: bar.TS}
		t.debugf("new low", bar, slog.Float64("low", bar.Low))
		return nil
	}

	if t.spl == nil {
		t.spl = &Level{Price: t.low.Price, At: t.low.At}
		t.high = nil
		t.barsSince = 0
		t.debugf("swing low formed", bar, slog.Float64("spl", t.spl.Price))
	}

	if t.high == nil || bar.High > t.high.Price {
		t.high = &Level{Price: bar.High, At: bar.TS}
		t.barsSince++
	}

	if t.coc != nil && bar.Close > t.coc.Price {
		broken := t.coc.Price
		err := t.switchUp(bar)
		t.emit(model.EventReversal, bar, broken, t.coc.Price)
		return err
	}
	return nil
}

// switchDown flips the trend to down after the CoCh floor was breached.
// The broken extreme becomes the new ceiling; the opposite side restarts
// from this bar.
func (t *Tracker) switchDown(bar model.Bar) error {
	t.trend = TrendDown
	t.coc = &Level{Price: t.high.Price, At: t.high.At}
	t.high = nil
	t.sph = nil
	t.low = &Level{Price: bar.Low, At: bar.TS}
	t.barsSince = 0
	t.debugf("reversal DOWN", bar, slog.Float64("coc", t.coc.Price))
	return t.record(t.coc, false)
}

// switchUp flips the trend to up after the CoCh ceiling was breached.
func (t *Tracker) switchUp(bar model.Bar) error {
	t.trend = TrendUp
	t.coc = &Level{Price: t.low.Price, At: t.low.At}
	t.low = nil
	t.spl = nil
	t.high = &Level{Price: bar.High, At: bar.TS}
	t.barsSince = 0
	t.debugf("reversal UP", bar, slog.Float64("coc", t.coc.Price))
	return t.record(t.coc, true)
}

// Reset clears all runtime state, as if newly constructed. Configuration,
// the listener and the recorder attachment survive; recorded annotations
// and the bound history do not.
func (t *Tracker) Reset() {
	t.trend = TrendUnset
	t.high, t.low = nil, nil
	t.coc = nil
	t.sph, t.spl = nil, nil
	t.barsSince = 0
	if t.rec != nil {
		t.rec.Clear()
	}
}

// retraceFraction is the pullback depth relative to the pivot price.
// Negative for uptrend pullbacks (tracked low below the pivot).
// A pivot of exactly 0 yields 0; the caller skips the filter in that case.
func retraceFraction(extreme, pivot float64) float64 {
	if pivot == 0 {
		return 0
	}
	return (extreme - pivot) / pivot
}

// filteredOut reports whether a breakout's retracement is too shallow to
// move the CoCh level. A zero pivot always qualifies: the fraction is
// undefined there, and rejecting the bar would silently drop a confirmed
// break of structure.
func (t *Tracker) filteredOut(retrace, pivot float64) bool {
	return t.retraceThreshold != 0 && pivot != 0 && math.Abs(retrace) < t.retraceThreshold
}

// record appends a CoCh annotation segment when a recorder is attached.
func (t *Tracker) record(coc *Level, bullish bool) error {
	if t.rec == nil {
		return nil
	}
	return t.rec.Record(coc.At, coc.Price, bullish)
}

// emit dispatches a trend event to the listener, if one is registered.
// Called strictly after the state mutation for the event is committed.
func (t *Tracker) emit(kind model.EventKind, bar model.Bar, broken, newLevel float64) {
	if t.listener == nil {
		return
	}
	ev := model.TrendEvent{
		Kind:        kind,
		Symbol:      t.symbol,
		TS:          bar.TS,
		Trend:       t.trend.String(),
		Close:       bar.Close,
		BrokenLevel: broken,
		NewLevel:    newLevel,
	}
	if kind == model.EventBreakout {
		t.listener.OnBreakout(ev)
	} else {
		t.listener.OnReversal(ev)
	}
}

func (t *Tracker) debugf(msg string, bar model.Bar, attrs ...any) {
	if !t.debug {
		return
	}
	args := append([]any{slog.Time("ts", bar.TS), slog.Float64("close", bar.Close)}, attrs...)
	t.log.Debug(msg, args...)
}
