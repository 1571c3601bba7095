package swing

import (
	"fmt"
	"log"
	"time"
)

// SnapshotVersion is the schema version written into new snapshots.
const SnapshotVersion = 1

// LevelSnap is the serialized form of a Level.
type LevelSnap struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// Snapshot is the complete serialized state of one Tracker. Every field is
// listed explicitly with optional markers, so the wire format is independent
// of internal field naming. Listener and recorder handles are not part of
// the snapshot.
type Snapshot struct {
	Version int    `json:"version"`
	Symbol  string `json:"symbol"`
	Trend   string `json:"trend"` // "", "UP" or "DOWN"

	High *LevelSnap `json:"high,omitempty"`
	Low  *LevelSnap `json:"low,omitempty"`
	CoC  *LevelSnap `json:"coc,omitempty"`
	SPH  *LevelSnap `json:"sph,omitempty"`
	SPL  *LevelSnap `json:"spl,omitempty"`

	BarsSincePivot int `json:"bars_since_pivot"`

	// Configuration travels with the state so a restore resumes with the
	// exact thresholds that produced it. RetraceThreshold is a fraction
	// (0.05 = 5%); 0 means the filter is disabled.
	RetraceThreshold  float64 `json:"retrace_threshold"`
	SidewaysThreshold int     `json:"sideways_threshold"`
}

// SnapshotSet captures a whole fleet of trackers at a checkpoint.
type SnapshotSet struct {
	Version  int        `json:"version"`
	StreamID string     `json:"stream_id"` // stream position at checkpoint time
	Trackers []Snapshot `json:"trackers"`
}

// Snapshot serializes the tracker's full state.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Version:           SnapshotVersion,
		Symbol:            t.symbol,
		Trend:             t.trend.String(),
		High:              levelSnap(t.high),
		Low:               levelSnap(t.low),
		CoC:               levelSnap(t.coc),
		SPH:               levelSnap(t.sph),
		SPL:               levelSnap(t.spl),
		BarsSincePivot:    t.barsSince,
		RetraceThreshold:  t.retraceThreshold,
		SidewaysThreshold: t.sidewaysThreshold,
	}
}

// RestoreFromSnapshot overwrites the tracker's entire state from a snapshot.
// The snapshot is the unit of restore: all fields are applied, including
// configuration. Restoring a snapshot of a tracker's own state is a no-op
// with respect to subsequent behavior.
func (t *Tracker) RestoreFromSnapshot(snap Snapshot) error {
	trend, err := parseTrend(snap.Trend)
	if err != nil {
		return err
	}
	if snap.SidewaysThreshold <= 0 {
		return fmt.Errorf("swing: snapshot for %s has invalid sideways threshold %d",
			snap.Symbol, snap.SidewaysThreshold)
	}

	t.symbol = snap.Symbol
	t.trend = trend
	t.high = snapLevel(snap.High)
	t.low = snapLevel(snap.Low)
	t.coc = snapLevel(snap.CoC)
	t.sph = snapLevel(snap.SPH)
	t.spl = snapLevel(snap.SPL)
	t.barsSince = snap.BarsSincePivot
	t.retraceThreshold = snap.RetraceThreshold
	t.sidewaysThreshold = snap.SidewaysThreshold
	return nil
}

// SnapshotAll captures every tracker in the map into one SnapshotSet.
func SnapshotAll(trackers map[string]*Tracker, streamID string) *SnapshotSet {
	set := &SnapshotSet{
		Version:  SnapshotVersion,
		StreamID: streamID,
		Trackers: make([]Snapshot, 0, len(trackers)),
	}
	for _, t := range trackers {
		set.Trackers = append(set.Trackers, t.Snapshot())
	}
	return set
}

// RestoreAll rebuilds a tracker map from a snapshot set. newTracker supplies
// a fresh tracker per symbol (with the service's listener and logging wired);
// its state is then overwritten from the snapshot. Corrupt entries are
// skipped with a log line rather than failing the whole restore, so one bad
// symbol cannot prevent the rest of the fleet from resuming.
func RestoreAll(set *SnapshotSet, newTracker func(symbol string) *Tracker) map[string]*Tracker {
	trackers := make(map[string]*Tracker, len(set.Trackers))
	for _, snap := range set.Trackers {
		t := newTracker(snap.Symbol)
		if err := t.RestoreFromSnapshot(snap); err != nil {
			log.Printf("[swing] skipping snapshot for %s: %v", snap.Symbol, err)
			continue
		}
		trackers[snap.Symbol] = t
	}
	return trackers
}

func levelSnap(l *Level) *LevelSnap {
	if l == nil {
		return nil
	}
	return &LevelSnap{Price: l.Price, At: l.At}
}

func snapLevel(s *LevelSnap) *Level {
	if s == nil {
		return nil
	}
	return &Level{Price: s.Price, At: s.At}
}

func parseTrend(s string) (Trend, error) {
	switch s {
	case "":
		return TrendUnset, nil
	case "UP":
		return TrendUp, nil
	case "DOWN":
		return TrendDown, nil
	default:
		return TrendUnset, fmt.Errorf("swing: unknown trend %q in snapshot", s)
	}
}
