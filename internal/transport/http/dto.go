package http

import (
	"strconv"
	"time"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/service/timeslots"
)

const defaultSlotDurationMinutes = 45

type slotResponse struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	StartTimeLocal   string    `json:"start_time_local"`
	EndTimeLocal     string    `json:"end_time_local"`
	Timezone         string    `json:"timezone"`
	TimezoneOffset   string    `json:"timezone_offset"`
	DayOfWeek        int       `json:"day_of_week"`
	DayName          string    `json:"day_name"`
	Title            *string   `json:"title"`
	Description      *string   `json:"description"`
	Status           string    `json:"status"`
	IsRecurring      bool      `json:"is_recurring"`
	RecurringPattern *string   `json:"recurring_pattern"`
	DurationMinutes  int       `json:"duration_minutes"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// toSlotResponse renders instants in UTC plus their wall-clock reading in
// the slot's zone. Day of week follows the local start.
func toSlotResponse(s domain.Slot) slotResponse {
	loc := s.Location()
	start := s.StartTime.In(loc)
	end := s.EndTime.In(loc)
	wd := domain.WeekdayOf(start)

	out := slotResponse{
		ID:              s.ID.String(),
		UserID:          s.OwnerID,
		StartTime:       s.StartTime.UTC(),
		EndTime:         s.EndTime.UTC(),
		StartTimeLocal:  start.Format(time.RFC3339),
		EndTimeLocal:    end.Format(time.RFC3339),
		Timezone:        s.Timezone,
		TimezoneOffset:  start.Format("-07:00"),
		DayOfWeek:       int(wd),
		DayName:         wd.String(),
		Title:           optional(s.Title),
		Description:     optional(s.Description),
		Status:          string(s.Status),
		IsRecurring:     s.IsRecurring,
		DurationMinutes: s.DurationMinutes,
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
	}
	if s.RecurringPattern != nil {
		p := string(*s.RecurringPattern)
		out.RecurringPattern = &p
	}
	return out
}

func toSlotResponses(slots []domain.Slot) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type windowJSON struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type rejectionResponse struct {
	StartTime     time.Time   `json:"start_time"`
	EndTime       time.Time   `json:"end_time"`
	Reason        string      `json:"reason"`
	ConflictsWith *windowJSON `json:"conflicts_with,omitempty"`
}

type bulkResponse struct {
	Success      bool                `json:"success"`
	Message      string              `json:"message"`
	SlotsCreated int                 `json:"slots_created"`
	Slots        []slotResponse      `json:"slots"`
	Rejected     []rejectionResponse `json:"rejected"`
	DateRange    map[string]string   `json:"date_range"`
	Timezone     string              `json:"timezone"`
}

func toBulkResponse(r timeslots.BulkResult) bulkResponse {
	rejected := make([]rejectionResponse, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		item := rejectionResponse{
			StartTime: rej.Window.Start.UTC(),
			EndTime:   rej.Window.End.UTC(),
			Reason:    string(rej.Reason),
		}
		if rej.ConflictsWith != nil {
			item.ConflictsWith = &windowJSON{StartTime: rej.ConflictsWith.Start.UTC(), EndTime: rej.ConflictsWith.End.UTC()}
		}
		rejected = append(rejected, item)
	}

	return bulkResponse{
		Success:      true,
		Message:      bulkMessage(len(r.Slots), len(r.Rejected)),
		SlotsCreated: len(r.Slots),
		Slots:        toSlotResponses(r.Slots),
		Rejected:     rejected,
		DateRange:    map[string]string{"start": r.StartDate.String(), "end": r.EndDate.String()},
		Timezone:     r.Timezone,
	}
}

func bulkMessage(created, rejected int) string {
	switch {
	case rejected == 0:
		return pluralSlots(created) + " created"
	case created == 0:
		return "no slots created, " + pluralSlots(rejected) + " rejected"
	}
	return pluralSlots(created) + " created, " + pluralSlots(rejected) + " rejected"
}

func pluralSlots(n int) string {
	if n == 1 {
		return "1 slot"
	}
	return strconv.Itoa(n) + " slots"
}

type summaryResponse struct {
	TotalSlots        int            `json:"total_slots"`
	AvailableSlots    int            `json:"available_slots"`
	BookedSlots       int            `json:"booked_slots"`
	BlockedSlots      int            `json:"blocked_slots"`
	CancelledSlots    int            `json:"cancelled_slots"`
	UpcomingSlots     int            `json:"upcoming_slots"`
	NextAvailableSlot *slotResponse  `json:"next_available_slot"`
	RecentSlots       []slotResponse `json:"recent_slots"`
}

func toSummaryResponse(s timeslots.Summary) summaryResponse {
	out := summaryResponse{
		TotalSlots:     s.Total,
		AvailableSlots: s.Available,
		BookedSlots:    s.Booked,
		BlockedSlots:   s.Blocked,
		CancelledSlots: s.Cancelled,
		UpcomingSlots:  s.Upcoming,
		RecentSlots:    toSlotResponses(s.Recent),
	}
	if s.NextAvailable != nil {
		next := toSlotResponse(*s.NextAvailable)
		out.NextAvailableSlot = &next
	}
	return out
}

type createSlotRequest struct {
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Timezone    string    `json:"timezone"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
}

type updateSlotRequest struct {
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Timezone    *string    `json:"timezone"`
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
}

type bulkRequest struct {
	StartDate           string `json:"start_date"`
	EndDate             string `json:"end_date"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	DaysOfWeek          []int  `json:"days_of_week"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	Timezone            string `json:"timezone"`
	Title               string `json:"title"`
	Description         string `json:"description"`
}

type dayWindowRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type dayRequest struct {
	Date        string             `json:"date"`
	TimeSlots   []dayWindowRequest `json:"time_slots"`
	Timezone    string             `json:"timezone"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
}

type dayConfigRequest struct {
	DayOfWeek           int    `json:"day_of_week"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	NumberOfSlots       int    `json:"number_of_slots"`
	BreakMinutes        int    `json:"break_minutes"`
}

type flexibleRequest struct {
	StartDate   string             `json:"start_date"`
	EndDate     string             `json:"end_date"`
	DayConfigs  []dayConfigRequest `json:"day_configs"`
	Timezone    string             `json:"timezone"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
}

func durationOrDefault(minutes int) int {
	if minutes == 0 {
		return defaultSlotDurationMinutes
	}
	return minutes
}
