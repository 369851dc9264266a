package domain

import (
	"errors"
	"time"
)

var (
	ErrWindowOrder          = errors.New("end_time must be after start_time")
	ErrWindowPartialMinutes = errors.New("slot duration must be a whole number of minutes")
)

// TimeWindow is a half-open interval [Start, End) normalised to UTC.
type TimeWindow struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

// NewTimeWindow validates ordering and whole-minute length and returns the
// window in UTC.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: start.UTC(), End: end.UTC()}
	if !w.Start.Before(w.End) {
		return TimeWindow{}, ErrWindowOrder
	}
	if w.End.Sub(w.Start)%time.Minute != 0 {
		return TimeWindow{}, ErrWindowPartialMinutes
	}
	return w, nil
}

func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w TimeWindow) DurationMinutes() int {
	return int(w.Duration() / time.Minute)
}

// Overlaps reports half-open overlap. Windows that only touch do not overlap.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

func (w TimeWindow) Equal(other TimeWindow) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}
