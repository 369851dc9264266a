package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const MaxDescriptionLength = 500

type RecurringPattern string

const (
	RecurringPatternDaily   RecurringPattern = "daily"
	RecurringPatternWeekly  RecurringPattern = "weekly"
	RecurringPatternMonthly RecurringPattern = "monthly"
)

type Slot struct {
	bun.BaseModel `bun:"table:time_slots"`

	ID               uuid.UUID         `bun:"id,pk,type:uuid"`
	OwnerID          string            `bun:"owner_id,notnull"`
	StartTime        time.Time         `bun:"start_time,notnull"`
	EndTime          time.Time         `bun:"end_time,notnull"`
	Timezone         string            `bun:"timezone,notnull"`
	DurationMinutes  int               `bun:"duration_minutes,notnull"`
	Title            string            `bun:"title,nullzero"`
	Description      string            `bun:"description,nullzero"`
	Status           SlotStatus        `bun:"status,notnull"`
	IsRecurring      bool              `bun:"is_recurring,notnull"`
	RecurringPattern *RecurringPattern `bun:"recurring_pattern"`
	CreatedAt        time.Time         `bun:"created_at,notnull"`
	UpdatedAt        time.Time         `bun:"updated_at,notnull"`
}

func (s *Slot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	}
	return nil
}

func (s Slot) Window() TimeWindow {
	return TimeWindow{Start: s.StartTime, End: s.EndTime}
}

// SetWindow moves the slot and keeps DurationMinutes in step.
func (s *Slot) SetWindow(w TimeWindow) {
	s.StartTime = w.Start
	s.EndTime = w.End
	s.DurationMinutes = w.DurationMinutes()
}

// Location returns the slot's display zone, falling back to UTC for
// rows whose zone no longer resolves.
func (s Slot) Location() *time.Location {
	loc, err := LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Windows(slots []Slot) []TimeWindow {
	out := make([]TimeWindow, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Window())
	}
	return out
}

// NewSlotID is used when ids must be known before insert, e.g. to key
// outbox events written in the same statement batch.
func NewSlotID() (uuid.UUID, error) {
	return uuid.NewV7()
}
