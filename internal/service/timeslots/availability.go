package timeslots

import (
	"context"
	"strings"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/store"
)

const (
	defaultListLimit     = 50
	defaultUpcomingLimit = 10
	maxPageLimit         = 100
	recentSlotsLimit     = 5
)

// ListFilter selects an owner's slots. Dates are local calendar dates in
// Timezone; both bounds are inclusive days.
type ListFilter struct {
	StartDate string
	EndDate   string
	Timezone  string
	Status    string
	// DayOfWeek, when set, keeps slots starting on that local weekday
	// (0=Monday).
	DayOfWeek *int
	Limit     int
	Offset    int
}

func (s *Service) List(ctx context.Context, ownerID string, f ListFilter) ([]domain.Slot, error) {
	if ownerID == "" {
		return nil, validationError("user_id is required")
	}
	if f.Offset < 0 {
		return nil, validationError("offset must not be negative")
	}
	if f.Limit < 0 {
		return nil, validationError("limit must not be negative")
	}

	q := store.ListFilter{Limit: clampLimit(f.Limit, defaultListLimit), Offset: f.Offset}

	tz, err := normalizeTimezone(f.Timezone)
	if err != nil {
		return nil, err
	}
	if f.DayOfWeek != nil {
		wd := domain.Weekday(*f.DayOfWeek)
		if !wd.Valid() {
			return nil, validationError(domain.ErrInvalidWeekday.Error())
		}
		q.Weekday = &wd
		q.Timezone = tz
	}
	loc, _ := domain.LoadLocation(tz)
	if f.StartDate != "" {
		d, err := domain.ParseDate(f.StartDate)
		if err != nil {
			return nil, validationError(err.Error())
		}
		q.From = d.In(loc, domain.TimeOfDay{}).UTC()
	}
	if f.EndDate != "" {
		d, err := domain.ParseDate(f.EndDate)
		if err != nil {
			return nil, validationError(err.Error())
		}
		q.To = d.AddDays(1).In(loc, domain.TimeOfDay{}).UTC()
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return nil, validationError("end_date must not be before start_date")
	}

	if status := strings.TrimSpace(f.Status); status != "" {
		st, err := domain.ParseSlotStatus(status)
		if err != nil {
			return nil, validationError(err.Error())
		}
		q.Status = st
	}

	return s.repo.List(ctx, ownerID, q)
}

// Browse lists ownerID's slots as seen by viewerID. Other users only ever
// see available slots.
func (s *Service) Browse(ctx context.Context, viewerID, ownerID string, f ListFilter) ([]domain.Slot, error) {
	if viewerID == "" {
		return nil, validationError("user_id is required")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, validationError("user identifier is required")
	}
	if viewerID != ownerID {
		if st := strings.TrimSpace(f.Status); st != "" && st != string(domain.SlotStatusAvailable) {
			return nil, validationError("only available slots of other users can be listed")
		}
		f.Status = string(domain.SlotStatusAvailable)
	}
	return s.List(ctx, ownerID, f)
}

type Summary struct {
	Total         int
	Available     int
	Booked        int
	Blocked       int
	Cancelled     int
	Upcoming      int
	NextAvailable *domain.Slot
	Recent        []domain.Slot
}

func (s *Service) Summarize(ctx context.Context, ownerID string) (Summary, error) {
	if ownerID == "" {
		return Summary{}, validationError("user_id is required")
	}
	now := s.clock()

	counts, err := s.repo.CountByStatus(ctx, ownerID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		Available: counts[domain.SlotStatusAvailable],
		Booked:    counts[domain.SlotStatusBooked],
		Blocked:   counts[domain.SlotStatusBlocked],
		Cancelled: counts[domain.SlotStatusCancelled],
	}
	for _, n := range counts {
		sum.Total += n
	}

	sum.Upcoming, err = s.repo.CountStartingAfter(ctx, ownerID, now)
	if err != nil {
		return Summary{}, err
	}

	next, err := s.repo.List(ctx, ownerID, store.ListFilter{
		Status:     domain.SlotStatusAvailable,
		StartAfter: now,
		Limit:      1,
	})
	if err != nil {
		return Summary{}, err
	}
	if len(next) > 0 {
		sum.NextAvailable = &next[0]
	}

	sum.Recent, err = s.repo.RecentlyCreated(ctx, ownerID, recentSlotsLimit)
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// UpcomingAvailable lists available slots starting after now, soonest first.
func (s *Service) UpcomingAvailable(ctx context.Context, ownerID string, limit int) ([]domain.Slot, error) {
	if ownerID == "" {
		return nil, validationError("user_id is required")
	}
	if limit < 0 {
		return nil, validationError("limit must not be negative")
	}
	return s.repo.List(ctx, ownerID, store.ListFilter{
		Status:     domain.SlotStatusAvailable,
		StartAfter: s.clock(),
		Limit:      clampLimit(limit, defaultUpcomingLimit),
	})
}

func clampLimit(limit, def int) int {
	if limit == 0 {
		return def
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}
