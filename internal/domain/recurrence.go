package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxRecurrenceDays bounds EndDate - StartDate for every expansion.
const MaxRecurrenceDays = 90

var allowedSlotDurations = map[int]struct{}{15: {}, 30: {}, 45: {}, 60: {}, 90: {}, 120: {}}

// AllowedSlotDuration reports whether minutes is one of the supported
// recurring slot lengths.
func AllowedSlotDuration(minutes int) bool {
	_, ok := allowedSlotDurations[minutes]
	return ok
}

// RecurrenceError marks invalid expansion input. Callers surface it as a
// validation failure.
type RecurrenceError struct {
	Msg string
}

func (e *RecurrenceError) Error() string { return e.Msg }

func recurrenceErr(format string, args ...any) error {
	return &RecurrenceError{Msg: fmt.Sprintf(format, args...)}
}

func IsRecurrenceError(err error) bool {
	var re *RecurrenceError
	return errors.As(err, &re)
}

type Recurrence struct {
	StartDate           Date
	EndDate             Date
	DailyStart          TimeOfDay
	DailyEnd            TimeOfDay
	Weekdays            []Weekday
	Timezone            string
	SlotDurationMinutes int
}

// DailyRule describes the windows cut on one weekday. Count zero means as
// many windows as fit; a positive Count that does not fit skips the day.
type DailyRule struct {
	Weekday         Weekday
	Start           TimeOfDay
	End             TimeOfDay
	DurationMinutes int
	Count           int
	BreakMinutes    int
}

// Expand materialises rec into windows ascending by start.
func Expand(rec Recurrence) ([]TimeWindow, error) {
	if len(rec.Weekdays) == 0 {
		return nil, recurrenceErr("at least one day of week is required")
	}
	seen := make(map[Weekday]struct{}, len(rec.Weekdays))
	rules := make([]DailyRule, 0, len(rec.Weekdays))
	for _, wd := range rec.Weekdays {
		if !wd.Valid() {
			return nil, &RecurrenceError{Msg: ErrInvalidWeekday.Error()}
		}
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		rules = append(rules, DailyRule{
			Weekday:         wd,
			Start:           rec.DailyStart,
			End:             rec.DailyEnd,
			DurationMinutes: rec.SlotDurationMinutes,
		})
	}
	return ExpandRules(rec.StartDate, rec.EndDate, rules, rec.Timezone)
}

// ExpandRules walks every date in [from, to] and applies the rule for its
// weekday. Wall-clock times are resolved per date so each window carries the
// UTC offset in force on that date.
func ExpandRules(from, to Date, rules []DailyRule, timezone string) ([]TimeWindow, error) {
	if to.Before(from) {
		return nil, recurrenceErr("end_date must not be before start_date")
	}
	if from.DaysUntil(to) > MaxRecurrenceDays {
		return nil, recurrenceErr("date range cannot exceed %d days", MaxRecurrenceDays)
	}
	if len(rules) == 0 {
		return nil, recurrenceErr("at least one day configuration is required")
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, &RecurrenceError{Msg: err.Error()}
	}

	byDay := make(map[Weekday]DailyRule, len(rules))
	for _, r := range rules {
		if !r.Weekday.Valid() {
			return nil, &RecurrenceError{Msg: ErrInvalidWeekday.Error()}
		}
		if _, dup := byDay[r.Weekday]; dup {
			return nil, recurrenceErr("duplicate configuration for day %d", int(r.Weekday))
		}
		if !r.Start.Before(r.End) {
			return nil, recurrenceErr("start time %s must be before end time %s for day %d", r.Start, r.End, int(r.Weekday))
		}
		if !AllowedSlotDuration(r.DurationMinutes) {
			return nil, recurrenceErr("slot duration must be one of 15, 30, 45, 60, 90, 120 minutes")
		}
		if r.Count < 0 || r.BreakMinutes < 0 {
			return nil, recurrenceErr("number of slots and break minutes must not be negative")
		}
		byDay[r.Weekday] = r
	}

	var out []TimeWindow
	for d := from; !d.After(to); d = d.AddDays(1) {
		r, ok := byDay[d.Weekday()]
		if !ok {
			continue
		}
		out = append(out, cutDay(d, r, loc)...)
	}
	return out, nil
}

func cutDay(d Date, r DailyRule, loc *time.Location) []TimeWindow {
	dayStart := d.In(loc, r.Start)
	dayEnd := d.In(loc, r.End)
	step := time.Duration(r.DurationMinutes) * time.Minute
	gap := time.Duration(r.BreakMinutes) * time.Minute

	if r.Count > 0 {
		need := time.Duration(r.Count)*step + time.Duration(r.Count-1)*gap
		if dayEnd.Sub(dayStart) < need {
			return nil
		}
	}

	var out []TimeWindow
	for cur := dayStart; !cur.Add(step).After(dayEnd); cur = cur.Add(step + gap) {
		if r.Count > 0 && len(out) == r.Count {
			break
		}
		out = append(out, TimeWindow{Start: cur.UTC(), End: cur.Add(step).UTC()})
	}
	return out
}

// LocalWindow is an explicit HH:MM pair on a single date.
type LocalWindow struct {
	Start TimeOfDay
	End   TimeOfDay
}

// ExpandDay resolves explicit local windows on one date, one TimeWindow
// each, ascending by start.
func ExpandDay(date Date, windows []LocalWindow, timezone string) ([]TimeWindow, error) {
	if len(windows) == 0 {
		return nil, recurrenceErr("at least one time slot must be provided")
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, &RecurrenceError{Msg: err.Error()}
	}
	out := make([]TimeWindow, 0, len(windows))
	for _, w := range windows {
		if !w.Start.Before(w.End) {
			return nil, recurrenceErr("start time %s must be before end time %s", w.Start, w.End)
		}
		out = append(out, TimeWindow{Start: date.In(loc, w.Start).UTC(), End: date.In(loc, w.End).UTC()})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// PatternFor names the informational recurrence pattern of a weekday set.
func PatternFor(weekdays []Weekday) RecurringPattern {
	seen := make(map[Weekday]struct{}, len(weekdays))
	for _, wd := range weekdays {
		seen[wd] = struct{}{}
	}
	if len(seen) == 7 {
		return RecurringPatternDaily
	}
	return RecurringPatternWeekly
}
