package swing

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSnapshot_RoundTripResumesIdentically(t *testing.T) {
	bars := randomWalk(400, 99)
	split := 250

	// Reference run: process everything in one tracker.
	ref := NewTracker("SBIN", Config{})
	refLog := &eventLog{}
	ref.SetListener(refLog)
	feed(t, ref, bars)

	// Checkpointed run: snapshot mid-stream, restore into a fresh tracker,
	// continue with the remaining bars.
	first := NewTracker("SBIN", Config{})
	firstLog := &eventLog{}
	first.SetListener(firstLog)
	feed(t, first, bars[:split])

	snap := first.Snapshot()

	// Snapshots must survive JSON serialization exactly.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	resumed := NewTracker("", Config{})
	if err := resumed.RestoreFromSnapshot(decoded); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if resumed.Symbol() != "SBIN" {
		t.Errorf("symbol not restored, got %q", resumed.Symbol())
	}
	resumedLog := &eventLog{}
	resumed.SetListener(resumedLog)
	feed(t, resumed, bars[split:])

	if !reflect.DeepEqual(ref.Snapshot(), resumed.Snapshot()) {
		t.Errorf("final state differs after snapshot/restore:\n%+v\n%+v",
			ref.Snapshot(), resumed.Snapshot())
	}

	// Events after the split must match the reference run's tail.
	tail := refLog.events[len(refLog.events)-len(resumedLog.events):]
	if !reflect.DeepEqual(tail, resumedLog.events) {
		t.Errorf("post-restore events diverge: %d vs %d", len(tail), len(resumedLog.events))
	}
}

func TestSnapshot_RestoreIsNoOpOnOwnState(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	feed(t, tr, randomWalk(100, 3))

	before := tr.Snapshot()
	if err := tr.RestoreFromSnapshot(before); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(before, tr.Snapshot()) {
		t.Error("unpack(pack()) changed tracker state")
	}
}

func TestSnapshot_CarriesConfiguration(t *testing.T) {
	pct := 2.5
	tr := NewTracker("SBIN", Config{RetraceThresholdPct: &pct, SidewaysThreshold: 7})
	snap := tr.Snapshot()

	if snap.RetraceThreshold != 0.025 {
		t.Errorf("expected retrace threshold fraction 0.025, got %v", snap.RetraceThreshold)
	}
	if snap.SidewaysThreshold != 7 {
		t.Errorf("expected sideways threshold 7, got %d", snap.SidewaysThreshold)
	}

	other := NewTracker("SBIN", Config{})
	if err := other.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if other.retraceThreshold != 0.025 || other.sidewaysThreshold != 7 {
		t.Error("restore must overwrite configuration with the snapshot's values")
	}
}

func TestSnapshot_RejectsUnknownTrend(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	snap := tr.Snapshot()
	snap.Trend = "SIDEWAYS"

	if err := tr.RestoreFromSnapshot(snap); err == nil {
		t.Error("expected error for unknown trend string")
	}
}

func TestSnapshotSet_FleetRoundTrip(t *testing.T) {
	trackers := map[string]*Tracker{}
	for i, sym := range []string{"SBIN", "INFY", "TCS"} {
		tr := NewTracker(sym, Config{})
		feed(t, tr, randomWalk(150, int64(i+1)))
		trackers[sym] = tr
	}

	set := SnapshotAll(trackers, "1700000000000-0")
	if set.StreamID != "1700000000000-0" {
		t.Errorf("stream ID not carried: %q", set.StreamID)
	}
	if len(set.Trackers) != 3 {
		t.Fatalf("expected 3 tracker snapshots, got %d", len(set.Trackers))
	}

	restored := RestoreAll(set, func(symbol string) *Tracker {
		return NewTracker(symbol, Config{})
	})
	if len(restored) != 3 {
		t.Fatalf("expected 3 restored trackers, got %d", len(restored))
	}
	for sym, orig := range trackers {
		got, ok := restored[sym]
		if !ok {
			t.Fatalf("missing restored tracker for %s", sym)
		}
		if !reflect.DeepEqual(orig.Snapshot(), got.Snapshot()) {
			t.Errorf("%s: restored state differs", sym)
		}
	}
}

func TestSnapshotSet_SkipsCorruptEntries(t *testing.T) {
	tr := NewTracker("SBIN", Config{})
	feed(t, tr, randomWalk(50, 5))

	set := SnapshotAll(map[string]*Tracker{"SBIN": tr}, "")
	set.Trackers = append(set.Trackers, Snapshot{
		Version: SnapshotVersion,
		Symbol:  "BROKEN",
		Trend:   "banana",
	})

	restored := RestoreAll(set, func(symbol string) *Tracker {
		return NewTracker(symbol, Config{})
	})
	if len(restored) != 1 {
		t.Fatalf("expected the corrupt entry to be skipped, got %d trackers", len(restored))
	}
	if _, ok := restored["SBIN"]; !ok {
		t.Error("valid entry must still restore")
	}
}
