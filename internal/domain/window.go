package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: start.UTC(), End: end.UTC()}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

func (w TimeWindow) Validate() error {
	if !w.End.After(w.Start) {
		return fmt.Errorf("%w: end %s must be after start %s", ErrInvalidWindow,
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Overlaps reports whether the two windows share any instant. Adjacent
// windows ([9,10) and [10,11)) do not overlap.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Contains reports whether o lies entirely inside w.
func (w TimeWindow) Contains(o TimeWindow) bool {
	return !o.Start.Before(w.Start) && !o.End.After(w.End)
}

// Includes reports whether instant t is inside the window.
func (w TimeWindow) Includes(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Hours is the exact (fractional) length of the window in hours.
func (w TimeWindow) Hours() decimal.Decimal {
	return HoursOf(w.Duration())
}

// From returns the part of the window at or after t. The result is empty
// (ok == false) when t is at or past the end.
func (w TimeWindow) From(t time.Time) (TimeWindow, bool) {
	if !t.Before(w.End) {
		return TimeWindow{}, false
	}
	if t.After(w.Start) {
		return TimeWindow{Start: t, End: w.End}, true
	}
	return w, true
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// HoursOf converts a duration to hours with nanosecond precision.
func HoursOf(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(time.Hour)))
}
