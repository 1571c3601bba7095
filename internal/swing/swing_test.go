package swing

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"swing-systemv1/internal/model"
)

var t0 = time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)

// barAt builds the i-th one-minute bar of a test sequence.
func barAt(i int, high, low, close float64) model.Bar {
	return model.Bar{
		Symbol: "SBIN",
		TS:     t0.Add(time.Duration(i) * time.Minute),
		Open:   close,
		High:   high,
		Low:    low,
		Close:  close,
	}
}

func feed(t *testing.T, tr *Tracker, bars []model.Bar) {
	t.Helper()
	for _, b := range bars {
		if err := tr.Update(b); err != nil {
			t.Fatalf("Update(%s): %v", b.TS.Format("15:04"), err)
		}
	}
}

// eventLog records dispatched events in order.
type eventLog struct {
	events []model.TrendEvent
}

func (l *eventLog) OnBreakout(ev model.TrendEvent) { l.events = append(l.events, ev) }
func (l *eventLog) OnReversal(ev model.TrendEvent) { l.events = append(l.events, ev) }

func TestTracker_StartUptrend(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	feed(t, tr, []model.Bar{
		barAt(0, 10, 8, 9),
		barAt(1, 12, 9, 11), // close above first bar's high starts the trend
	})

	if tr.Trend() != TrendUp {
		t.Fatalf("expected trend UP, got %q", tr.Trend())
	}
	if tr.CoC() == nil || tr.CoC().Price != 8 {
		t.Errorf("expected coc=8 (prior low), got %+v", tr.CoC())
	}
	if tr.high == nil || tr.high.Price != 12 {
		t.Errorf("expected high=12, got %+v", tr.high)
	}
	if tr.SPH() != nil || tr.SPL() != nil {
		t.Errorf("no pivot should be pending yet: sph=%+v spl=%+v", tr.SPH(), tr.SPL())
	}
}

func TestTracker_StartDowntrend(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	feed(t, tr, []model.Bar{
		barAt(0, 10, 8, 9),
		barAt(1, 11, 7.5, 7.6), // close below first bar's low
	})

	if tr.Trend() != TrendDown {
		t.Fatalf("expected trend DOWN, got %q", tr.Trend())
	}
	if tr.CoC() == nil || tr.CoC().Price != 10 {
		t.Errorf("expected coc=10 (prior high), got %+v", tr.CoC())
	}
	// The same bar widens the envelope: its high exceeds the seed high.
	if tr.high == nil || tr.high.Price != 11 {
		t.Errorf("expected high widened to 11, got %+v", tr.high)
	}
}

func TestTracker_PivotThenBreakout(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	log := &eventLog{}
	tr.SetListener(log)

	feed(t, tr, []model.Bar{
		barAt(0, 10, 8, 9),
		barAt(1, 12, 9, 11),
		barAt(2, 11, 9, 10), // fails to exceed high=12 → sph forms at 12
	})

	if tr.SPH() == nil || tr.SPH().Price != 12 {
		t.Fatalf("expected pending sph=12, got %+v", tr.SPH())
	}
	if tr.BarsSincePivot() != 1 {
		t.Errorf("expected barsSincePivot=1 after formation bar, got %d", tr.BarsSincePivot())
	}

	feed(t, tr, []model.Bar{
		barAt(3, 13, 10, 12.5), // closes above sph → breakout
	})

	if len(log.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(log.events))
	}
	ev := log.events[0]
	if ev.Kind != model.EventBreakout {
		t.Errorf("expected BREAKOUT, got %s", ev.Kind)
	}
	if ev.Trend != "UP" {
		t.Errorf("expected trend UP on event, got %s", ev.Trend)
	}
	if math.Abs(ev.BrokenLevel-12) > 1e-9 {
		t.Errorf("expected broken pivot 12, got %.4f", ev.BrokenLevel)
	}
	if math.Abs(ev.NewLevel-9) > 1e-9 {
		t.Errorf("expected new coc 9 (pullback low), got %.4f", ev.NewLevel)
	}
	if tr.SPH() != nil {
		t.Errorf("sph should be cleared after breakout, got %+v", tr.SPH())
	}
	if tr.BarsSincePivot() != 0 {
		t.Errorf("barsSincePivot should reset to 0, got %d", tr.BarsSincePivot())
	}
	if tr.CoC() == nil || tr.CoC().Price != 9 {
		t.Errorf("expected coc moved to 9, got %+v", tr.CoC())
	}
}

func TestTracker_Reversal(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	log := &eventLog{}
	tr.SetListener(log)

	feed(t, tr, []model.Bar{
		barAt(0, 10, 8, 9),
		barAt(1, 12, 9, 11),   // trend UP, coc=8
		barAt(2, 11.5, 7.4, 7.5), // no new high, close below coc=8
	})

	if tr.Trend() != TrendDown {
		t.Fatalf("expected trend DOWN after reversal, got %q", tr.Trend())
	}
	// The broken uptrend's tracked high becomes the new ceiling.
	if tr.CoC() == nil || tr.CoC().Price != 12 {
		t.Errorf("expected new coc=12, got %+v", tr.CoC())
	}
	if tr.SPH() != nil || tr.SPL() != nil {
		t.Errorf("pivots must be clear right after reversal: sph=%+v spl=%+v", tr.SPH(), tr.SPL())
	}
	if tr.BarsSincePivot() != 0 {
		t.Errorf("barsSincePivot should reset on reversal, got %d", tr.BarsSincePivot())
	}

	if len(log.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(log.events))
	}
	ev := log.events[0]
	if ev.Kind != model.EventReversal {
		t.Errorf("expected REVERSAL, got %s", ev.Kind)
	}
	if ev.Trend != "DOWN" {
		t.Errorf("expected post-event trend DOWN, got %s", ev.Trend)
	}
	if math.Abs(ev.BrokenLevel-8) > 1e-9 {
		t.Errorf("expected broken coc 8, got %.4f", ev.BrokenLevel)
	}
	if math.Abs(ev.NewLevel-12) > 1e-9 {
		t.Errorf("expected new coc 12, got %.4f", ev.NewLevel)
	}
}

func TestTracker_DowntrendBreakdown(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	log := &eventLog{}
	tr.SetListener(log)

	feed(t, tr, []model.Bar{
		barAt(0, 10, 8, 9),
		barAt(1, 11, 7.5, 7.6), // trend DOWN, coc=10
		barAt(2, 8, 7, 7.2),    // new low, impulse continues
		barAt(3, 8.5, 7.3, 7.8), // no new low → spl forms at 7
	})

	if tr.SPL() == nil || tr.SPL().Price != 7 {
		t.Fatalf("expected pending spl=7, got %+v", tr.SPL())
	}

	feed(t, tr, []model.Bar{
		barAt(4, 7.5, 6.8, 6.9), // closes below spl → breakdown
	})

	if len(log.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(log.events))
	}
	ev := log.events[0]
	if ev.Kind != model.EventBreakout || ev.Trend != "DOWN" {
		t.Errorf("expected DOWN breakout, got %s %s", ev.Kind, ev.Trend)
	}
	if math.Abs(ev.BrokenLevel-7) > 1e-9 || math.Abs(ev.NewLevel-8.5) > 1e-9 {
		t.Errorf("expected broken=7 new=8.5, got %.4f %.4f", ev.BrokenLevel, ev.NewLevel)
	}
	if tr.CoC() == nil || tr.CoC().Price != 8.5 {
		t.Errorf("expected coc=8.5 (bounce high), got %+v", tr.CoC())
	}

	feed(t, tr, []model.Bar{
		barAt(5, 9, 8, 8.7), // no new low → spl re-forms; close above coc=8.5 → reversal
	})

	if tr.Trend() != TrendUp {
		t.Fatalf("expected reversal to UP, got %q", tr.Trend())
	}
	last := log.events[len(log.events)-1]
	if last.Kind != model.EventReversal || last.Trend != "UP" {
		t.Errorf("expected UP reversal, got %s %s", last.Kind, last.Trend)
	}
	if math.Abs(last.BrokenLevel-8.5) > 1e-9 {
		t.Errorf("expected broken coc 8.5, got %.4f", last.BrokenLevel)
	}
}

func TestTracker_RetraceFilterSuppressesShallowBreakout(t *testing.T) {
	tr := NewTracker("SBIN", Config{}) // default 5% threshold
	log := &eventLog{}
	tr.SetListener(log)

	feed(t, tr, []model.Bar{
		barAt(0, 100, 95, 99),
		barAt(1, 102, 96, 101),  // trend UP, coc=95
		barAt(2, 101, 98, 100),  // sph forms at 102, pullback low 98
		barAt(3, 103, 100, 102.5), // close above sph, retrace ≈ 3.9% < 5%
	})

	if len(log.events) != 0 {
		t.Fatalf("shallow breakout must not fire events, got %d", len(log.events))
	}
	if tr.CoC() == nil || tr.CoC().Price != 95 {
		t.Errorf("coc must not move on a suppressed breakout, got %+v", tr.CoC())
	}
	if tr.SPH() != nil {
		t.Errorf("sph is still consumed by a suppressed breakout, got %+v", tr.SPH())
	}
	if tr.BarsSincePivot() != 0 {
		t.Errorf("barsSincePivot resets even when suppressed, got %d", tr.BarsSincePivot())
	}
}

func TestTracker_RetraceFilterDisabled(t *testing.T) {
	tr := NewTracker("SBIN", DisabledRetraceFilter())
	log := &eventLog{}
	tr.SetListener(log)

	feed(t, tr, []model.Bar{
		barAt(0, 100, 95, 99),
		barAt(1, 102, 96, 101),
		barAt(2, 101, 98, 100),
		barAt(3, 103, 100, 102.5), // same shallow retrace, filter off
	})

	if len(log.events) != 1 || log.events[0].Kind != model.EventBreakout {
		t.Fatalf("expected the shallow breakout to fire with the filter disabled")
	}
	if tr.CoC() == nil || tr.CoC().Price != 98 {
		t.Errorf("expected coc moved to 98, got %+v", tr.CoC())
	}
}

func TestTracker_Sideways(t *testing.T) {
	tr := NewTracker("SBIN", Config{}) // default sideways threshold 20
	bars := []model.Bar{
		barAt(0, 10, 8, 9),
		barAt(1, 12, 9, 11),
		barAt(2, 11, 9, 10), // pivot forms, barsSincePivot=1
	}
	// 20 inert bars: no new high, no breakout, no reversal.
	for i := 3; i < 23; i++ {
		bars = append(bars, barAt(i, 11, 9.5, 10.5))
	}
	feed(t, tr, bars)

	if tr.BarsSincePivot() != 21 {
		t.Fatalf("expected barsSincePivot=21, got %d", tr.BarsSincePivot())
	}
	if !tr.IsSideways() {
		t.Error("expected sideways at 21 bars past the pivot")
	}
	if tr.Trend() != TrendUp {
		t.Errorf("sideways must not change the trend label, got %q", tr.Trend())
	}
}

func TestTracker_NotSidewaysAtThreshold(t *testing.T) {
	tr := NewTracker("SBIN", Config{SidewaysThreshold: 5})
	bars := []model.Bar{
		barAt(0, 10, 8, 9),
		barAt(1, 12, 9, 11),
		barAt(2, 11, 9, 10),
	}
	for i := 3; i < 7; i++ {
		bars = append(bars, barAt(i, 11, 9.5, 10.5))
	}
	feed(t, tr, bars)

	if tr.BarsSincePivot() != 5 {
		t.Fatalf("expected barsSincePivot=5, got %d", tr.BarsSincePivot())
	}
	if tr.IsSideways() {
		t.Error("barsSincePivot == threshold is not sideways yet")
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	log := &eventLog{}
	tr.SetListener(log)
	feed(t, tr, []model.Bar{
		barAt(0, 10, 8, 9),
		barAt(1, 12, 9, 11),
		barAt(2, 11, 9, 10),
	})

	tr.Reset()

	if tr.Trend() != TrendUnset {
		t.Errorf("expected unset trend after reset, got %q", tr.Trend())
	}
	if tr.high != nil || tr.low != nil || tr.CoC() != nil || tr.SPH() != nil || tr.SPL() != nil {
		t.Error("all levels must clear on reset")
	}
	if tr.BarsSincePivot() != 0 {
		t.Errorf("barsSincePivot must clear on reset, got %d", tr.BarsSincePivot())
	}

	// Configuration and listener survive: the tracker works again from scratch.
	feed(t, tr, []model.Bar{
		barAt(10, 10, 8, 9),
		barAt(11, 12, 9, 11),
	})
	if tr.Trend() != TrendUp {
		t.Errorf("tracker should classify again after reset, got %q", tr.Trend())
	}
}

// randomWalk generates a deterministic pseudo-random bar sequence that
// produces a healthy mix of breakouts, reversals and sideways stretches.
func randomWalk(n int, seed int64) []model.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]model.Bar, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		drift := (rng.Float64() - 0.48) * 4
		price += drift
		if price < 10 {
			price = 10
		}
		high := price + rng.Float64()*2
		low := price - rng.Float64()*2
		bars = append(bars, barAt(i, high, low, price))
	}
	return bars
}

func TestTracker_DeterministicReplay(t *testing.T) {
	bars := randomWalk(500, 42)

	run := func() (Snapshot, []model.TrendEvent) {
		tr := NewTracker("SBIN", Config{})
		log := &eventLog{}
		tr.SetListener(log)
		feed(t, tr, bars)
		return tr.Snapshot(), log.events
	}

	snap1, events1 := run()
	snap2, events2 := run()

	if !reflect.DeepEqual(snap1, snap2) {
		t.Errorf("final state differs between identical runs:\n%+v\n%+v", snap1, snap2)
	}
	if !reflect.DeepEqual(events1, events2) {
		t.Errorf("event sequences differ between identical runs: %d vs %d events",
			len(events1), len(events2))
	}
	if len(events1) == 0 {
		t.Error("expected the random walk to produce at least one event")
	}
}

func TestTracker_StateInvariants(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	for _, b := range randomWalk(800, 7) {
		if err := tr.Update(b); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if tr.SPH() != nil && tr.SPL() != nil {
			t.Fatalf("both pivots set at %s", b.TS)
		}
		if tr.SPH() != nil && tr.Trend() != TrendUp {
			t.Fatalf("sph set outside an uptrend at %s", b.TS)
		}
		if tr.SPL() != nil && tr.Trend() != TrendDown {
			t.Fatalf("spl set outside a downtrend at %s", b.TS)
		}
		if tr.Trend() == TrendUnset {
			if tr.CoC() != nil || tr.SPH() != nil || tr.SPL() != nil {
				t.Fatalf("coc/sph/spl set while trend unset at %s", b.TS)
			}
		}
		if tr.BarsSincePivot() < 0 {
			t.Fatalf("negative barsSincePivot at %s", b.TS)
		}
	}
}
