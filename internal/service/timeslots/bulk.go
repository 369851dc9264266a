package timeslots

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/store"
)

type RejectionReason string

const (
	RejectStartsInPast       RejectionReason = "starts_in_past"
	RejectOverlapsBatch      RejectionReason = "overlaps_batch_slot"
	RejectCalendarBusy       RejectionReason = "calendar_busy"
	RejectConflictsExisting  RejectionReason = "conflicts_with_existing_slot"
	RejectDuplicatesExisting RejectionReason = "duplicates_existing_slot"
)

type Rejection struct {
	Window        domain.TimeWindow
	Reason        RejectionReason
	ConflictsWith *domain.TimeWindow
}

type BulkResult struct {
	Slots     []domain.Slot
	Rejected  []Rejection
	StartDate domain.Date
	EndDate   domain.Date
	Timezone  string
}

// BusySource reports windows the owner is busy elsewhere, e.g. in an
// external calendar.
type BusySource interface {
	BusyWindows(ctx context.Context, from, to time.Time) ([]domain.TimeWindow, error)
}

type BulkInput struct {
	OwnerID             string
	StartDate           string
	EndDate             string
	StartTime           string
	EndTime             string
	DaysOfWeek          []int
	SlotDurationMinutes int
	Timezone            string
	Title               string
	Description         string
	Busy                BusySource
}

func (s *Service) CreateBulk(ctx context.Context, in BulkInput) (BulkResult, error) {
	if in.OwnerID == "" {
		return BulkResult{}, validationError("user_id is required")
	}
	tz, err := normalizeTimezone(in.Timezone)
	if err != nil {
		return BulkResult{}, err
	}
	title, description, err := normalizeText(in.Title, in.Description)
	if err != nil {
		return BulkResult{}, err
	}
	from, to, err := s.parseRange(in.StartDate, in.EndDate, tz)
	if err != nil {
		return BulkResult{}, err
	}
	dailyStart, err := domain.ParseTimeOfDay(in.StartTime)
	if err != nil {
		return BulkResult{}, validationError(err.Error())
	}
	dailyEnd, err := domain.ParseTimeOfDay(in.EndTime)
	if err != nil {
		return BulkResult{}, validationError(err.Error())
	}
	weekdays, err := parseWeekdays(in.DaysOfWeek)
	if err != nil {
		return BulkResult{}, err
	}

	windows, err := domain.Expand(domain.Recurrence{
		StartDate:           from,
		EndDate:             to,
		DailyStart:          dailyStart,
		DailyEnd:            dailyEnd,
		Weekdays:            weekdays,
		Timezone:            tz,
		SlotDurationMinutes: in.SlotDurationMinutes,
	})
	if err != nil {
		return BulkResult{}, validationError(err.Error())
	}

	pattern := domain.PatternFor(weekdays)
	tmpl := domain.Slot{
		OwnerID:          in.OwnerID,
		Timezone:         tz,
		Title:            title,
		Description:      description,
		IsRecurring:      true,
		RecurringPattern: &pattern,
	}
	return s.commitBatch(ctx, tmpl, windows, in.Busy, from, to)
}

type WindowInput struct {
	StartTime string
	EndTime   string
}

type DayInput struct {
	OwnerID     string
	Date        string
	Windows     []WindowInput
	Timezone    string
	Title       string
	Description string
	Busy        BusySource
}

// CreateDay creates one slot for each explicit window on a single date.
func (s *Service) CreateDay(ctx context.Context, in DayInput) (BulkResult, error) {
	if in.OwnerID == "" {
		return BulkResult{}, validationError("user_id is required")
	}
	tz, err := normalizeTimezone(in.Timezone)
	if err != nil {
		return BulkResult{}, err
	}
	title, description, err := normalizeText(in.Title, in.Description)
	if err != nil {
		return BulkResult{}, err
	}
	date, _, err := s.parseRange(in.Date, in.Date, tz)
	if err != nil {
		return BulkResult{}, err
	}

	local := make([]domain.LocalWindow, 0, len(in.Windows))
	for _, w := range in.Windows {
		if w.StartTime == "" || w.EndTime == "" {
			return BulkResult{}, validationError("each time slot must have start_time and end_time")
		}
		start, err := domain.ParseTimeOfDay(w.StartTime)
		if err != nil {
			return BulkResult{}, validationError(err.Error())
		}
		end, err := domain.ParseTimeOfDay(w.EndTime)
		if err != nil {
			return BulkResult{}, validationError(err.Error())
		}
		local = append(local, domain.LocalWindow{Start: start, End: end})
	}
	windows, err := domain.ExpandDay(date, local, tz)
	if err != nil {
		return BulkResult{}, validationError(err.Error())
	}

	tmpl := domain.Slot{
		OwnerID:     in.OwnerID,
		Timezone:    tz,
		Title:       title,
		Description: description,
	}
	return s.commitBatch(ctx, tmpl, windows, in.Busy, date, date)
}

type DayConfig struct {
	DayOfWeek           int
	StartTime           string
	EndTime             string
	SlotDurationMinutes int
	// NumberOfSlots zero fills the whole window.
	NumberOfSlots int
	BreakMinutes  int
}

type FlexibleInput struct {
	OwnerID     string
	StartDate   string
	EndDate     string
	Days        []DayConfig
	Timezone    string
	Title       string
	Description string
	Busy        BusySource
}

// CreateFlexible expands a different daily configuration per weekday.
func (s *Service) CreateFlexible(ctx context.Context, in FlexibleInput) (BulkResult, error) {
	if in.OwnerID == "" {
		return BulkResult{}, validationError("user_id is required")
	}
	tz, err := normalizeTimezone(in.Timezone)
	if err != nil {
		return BulkResult{}, err
	}
	title, description, err := normalizeText(in.Title, in.Description)
	if err != nil {
		return BulkResult{}, err
	}
	from, to, err := s.parseRange(in.StartDate, in.EndDate, tz)
	if err != nil {
		return BulkResult{}, err
	}
	if len(in.Days) == 0 {
		return BulkResult{}, validationError("at least one day configuration must be provided")
	}

	rules := make([]domain.DailyRule, 0, len(in.Days))
	weekdays := make([]domain.Weekday, 0, len(in.Days))
	for _, d := range in.Days {
		wd := domain.Weekday(d.DayOfWeek)
		if !wd.Valid() {
			return BulkResult{}, validationError(domain.ErrInvalidWeekday.Error())
		}
		start, err := domain.ParseTimeOfDay(d.StartTime)
		if err != nil {
			return BulkResult{}, validationError(err.Error())
		}
		end, err := domain.ParseTimeOfDay(d.EndTime)
		if err != nil {
			return BulkResult{}, validationError(err.Error())
		}
		rules = append(rules, domain.DailyRule{
			Weekday:         wd,
			Start:           start,
			End:             end,
			DurationMinutes: d.SlotDurationMinutes,
			Count:           d.NumberOfSlots,
			BreakMinutes:    d.BreakMinutes,
		})
		weekdays = append(weekdays, wd)
	}

	windows, err := domain.ExpandRules(from, to, rules, tz)
	if err != nil {
		return BulkResult{}, validationError(err.Error())
	}

	pattern := domain.PatternFor(weekdays)
	tmpl := domain.Slot{
		OwnerID:          in.OwnerID,
		Timezone:         tz,
		Title:            title,
		Description:      description,
		IsRecurring:      true,
		RecurringPattern: &pattern,
	}
	return s.commitBatch(ctx, tmpl, windows, in.Busy, from, to)
}

// parseRange parses both dates and refuses a start date before today in tz.
// Range length and ordering are checked by the expander.
func (s *Service) parseRange(startDate, endDate, tz string) (domain.Date, domain.Date, error) {
	from, err := domain.ParseDate(startDate)
	if err != nil {
		return domain.Date{}, domain.Date{}, validationError(err.Error())
	}
	to, err := domain.ParseDate(endDate)
	if err != nil {
		return domain.Date{}, domain.Date{}, validationError(err.Error())
	}
	loc, err := domain.LoadLocation(tz)
	if err != nil {
		return domain.Date{}, domain.Date{}, validationError(err.Error())
	}
	today := domain.DateOf(s.clock().In(loc))
	if from.Before(today) {
		return domain.Date{}, domain.Date{}, validationError("cannot create slots for past dates")
	}
	return from, to, nil
}

func parseWeekdays(days []int) ([]domain.Weekday, error) {
	if len(days) == 0 {
		return nil, validationError("at least one day of week is required")
	}
	out := make([]domain.Weekday, 0, len(days))
	for _, d := range days {
		wd := domain.Weekday(d)
		if !wd.Valid() {
			return nil, validationError(domain.ErrInvalidWeekday.Error())
		}
		out = append(out, wd)
	}
	return out, nil
}

// commitBatch filters candidates through the past, in-batch, busy,
// duplicate and existing-slot passes and inserts whatever survives in one transaction.
func (s *Service) commitBatch(ctx context.Context, tmpl domain.Slot, windows []domain.TimeWindow, busy BusySource, from, to domain.Date) (BulkResult, error) {
	now := s.clock()
	result := BulkResult{StartDate: from, EndDate: to, Timezone: tmpl.Timezone}

	var rejected []Rejection
	future := make([]domain.TimeWindow, 0, len(windows))
	for _, w := range windows {
		if !w.Start.After(now) {
			rejected = append(rejected, Rejection{Window: w, Reason: RejectStartsInPast})
			continue
		}
		future = append(future, w)
	}

	accepted, overlaps := domain.SplitBatchOverlaps(future)
	for _, o := range overlaps {
		with := o.With
		rejected = append(rejected, Rejection{Window: o.Window, Reason: RejectOverlapsBatch, ConflictsWith: &with})
	}

	if busy != nil && len(accepted) > 0 {
		lo, hi := span(accepted)
		busyWindows, err := busy.BusyWindows(ctx, lo, hi)
		if err != nil {
			return BulkResult{}, fmt.Errorf("%w: %v", ErrCalendarUnavailable, err)
		}
		kept := accepted[:0:0]
		for _, w := range accepted {
			if hit, ok := domain.FirstConflict(busyWindows, w); ok {
				rejected = append(rejected, Rejection{Window: w, Reason: RejectCalendarBusy, ConflictsWith: &hit})
				continue
			}
			kept = append(kept, w)
		}
		accepted = kept
	}

	if len(accepted) == 0 {
		result.Rejected = sortRejections(rejected)
		return result, nil
	}

	var (
		created      []domain.Slot
		inTxRejected []Rejection
	)
	err := s.repo.InOwnerTransaction(ctx, tmpl.OwnerID, func(ctx context.Context, tx store.SlotTx) error {
		created, inTxRejected = nil, nil

		lo, hi := span(accepted)
		existing, err := tx.ListOverlapping(ctx, tmpl.OwnerID, lo, hi, uuid.Nil)
		if err != nil {
			return err
		}
		blocking := s.blockingWindows(existing)

		slots := make([]domain.Slot, 0, len(accepted))
		for _, w := range accepted {
			if hit, ok := domain.FirstConflict(blocking, w); ok {
				inTxRejected = append(inTxRejected, Rejection{Window: w, Reason: RejectConflictsExisting, ConflictsWith: &hit})
				continue
			}
			// The unique (owner, start, end) key holds for every status,
			// so an exact match is refused even when the policy exempts it.
			if dup, ok := sameWindow(existing, w); ok {
				inTxRejected = append(inTxRejected, Rejection{Window: w, Reason: RejectDuplicatesExisting, ConflictsWith: &dup})
				continue
			}
			id, err := domain.NewSlotID()
			if err != nil {
				return err
			}
			sl := tmpl
			sl.ID = id
			sl.Status = domain.SlotStatusAvailable
			sl.CreatedAt = now
			sl.UpdatedAt = now
			sl.SetWindow(w)
			slots = append(slots, sl)
		}
		if len(slots) == 0 {
			return nil
		}

		rows, err := tx.InsertSlots(ctx, slots)
		if err != nil {
			return err
		}
		events := make([]domain.SlotEvent, 0, len(rows))
		for _, row := range rows {
			ev, err := domain.NewSlotEvent(domain.SlotEventCreated, row, nil, now)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		if err := tx.AppendEvents(ctx, events); err != nil {
			return err
		}
		created = rows
		return nil
	})
	if err != nil {
		return BulkResult{}, translateStoreError(err, uuid.Nil)
	}

	result.Slots = created
	result.Rejected = sortRejections(append(rejected, inTxRejected...))
	return result, nil
}

func sameWindow(slots []domain.Slot, w domain.TimeWindow) (domain.TimeWindow, bool) {
	for _, sl := range slots {
		if sl.Window().Equal(w) {
			return sl.Window(), true
		}
	}
	return domain.TimeWindow{}, false
}

// span returns the earliest start and the latest end of windows.
func span(windows []domain.TimeWindow) (time.Time, time.Time) {
	lo, hi := windows[0].Start, windows[0].End
	for _, w := range windows[1:] {
		if w.Start.Before(lo) {
			lo = w.Start
		}
		if w.End.After(hi) {
			hi = w.End
		}
	}
	return lo, hi
}

func sortRejections(r []Rejection) []Rejection {
	sort.SliceStable(r, func(i, j int) bool { return r[i].Window.Start.Before(r[j].Window.Start) })
	return r
}
