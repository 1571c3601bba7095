package swing

import (
	"errors"
	"fmt"
	"time"

	"swing-systemv1/internal/model"
)

// ErrNoHistory is returned when an annotation is requested before a bar
// history has been bound to the recorder.
var ErrNoHistory = errors.New("swing: no bar history bound to recorder")

// segmentSpan is how many bars past the CoCh bar an annotation extends,
// clamped to the end of the bound history.
const segmentSpan = 15

// Point is one end of an annotation segment.
type Point struct {
	TS    time.Time `json:"ts"`
	Price float64   `json:"price"`
}

// Segment is a horizontal CoCh level marker for external rendering.
// Bullish is a rendering hint only: true for an up-confirming level.
type Segment struct {
	From    Point `json:"from"`
	To      Point `json:"to"`
	Bullish bool  `json:"bullish"`
}

// Recorder collects CoCh level segments as a tracker processes bars.
// It needs a bound bar history to resolve segment end timestamps; the
// history is read-only and must outlive any Record call.
type Recorder struct {
	bars     []model.Bar
	index    map[int64]int // bar TS (UnixNano) → position in bars
	segments []Segment
}

// NewRecorder creates an empty, unbound recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Bind attaches the bar history used to resolve segment end points and
// builds the timestamp lookup.
func (r *Recorder) Bind(bars []model.Bar) {
	r.bars = bars
	r.index = make(map[int64]int, len(bars))
	for i, b := range bars {
		r.index[b.TS.UnixNano()] = i
	}
}

// Record appends a segment for a CoCh level anchored at the given bar
// timestamp. Fails with ErrNoHistory when no history is bound; the
// recorder is left unchanged on any error.
func (r *Recorder) Record(at time.Time, price float64, bullish bool) error {
	if r.bars == nil {
		return ErrNoHistory
	}
	idx, ok := r.index[at.UnixNano()]
	if !ok {
		return fmt.Errorf("swing: timestamp %s not in bound history", at.Format(time.RFC3339))
	}

	end := idx + segmentSpan
	if end > len(r.bars)-1 {
		end = len(r.bars) - 1
	}

	r.segments = append(r.segments, Segment{
		From:    Point{TS: at, Price: price},
		To:      Point{TS: r.bars[end].TS, Price: price},
		Bullish: bullish,
	})
	return nil
}

// Segments returns the recorded segments in emission order.
func (r *Recorder) Segments() []Segment {
	return r.segments
}

// Clear drops all recorded segments and unbinds the history.
func (r *Recorder) Clear() {
	r.bars = nil
	r.index = nil
	r.segments = nil
}
