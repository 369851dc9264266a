package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SlotEventType string

const (
	SlotEventCreated       SlotEventType = "time_slot.created"
	SlotEventUpdated       SlotEventType = "time_slot.updated"
	SlotEventStatusChanged SlotEventType = "time_slot.status_changed"
	SlotEventDeleted       SlotEventType = "time_slot.deleted"
)

// SlotEvent is an outbox row. It is written in the same transaction as the
// slot change it describes and published later.
type SlotEvent struct {
	bun.BaseModel `bun:"table:slot_events"`

	ID          int64           `bun:"id,pk,autoincrement"`
	EventID     uuid.UUID       `bun:"event_id,notnull,type:uuid"`
	EventType   SlotEventType   `bun:"event_type,notnull"`
	AggregateID uuid.UUID       `bun:"aggregate_id,notnull,type:uuid"`
	OwnerID     string          `bun:"owner_id,notnull"`
	Payload     json.RawMessage `bun:"payload,type:jsonb,notnull"`
	CreatedAt   time.Time       `bun:"created_at,notnull"`
	PublishedAt *time.Time      `bun:"published_at"`
}

type slotEventPayload struct {
	Slot           SlotSnapshot `json:"slot"`
	PreviousStatus *SlotStatus  `json:"previous_status,omitempty"`
}

// SlotSnapshot is the slot shape carried in event payloads.
type SlotSnapshot struct {
	ID               uuid.UUID         `json:"id"`
	OwnerID          string            `json:"user_id"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	Timezone         string            `json:"timezone"`
	DurationMinutes  int               `json:"duration_minutes"`
	Title            string            `json:"title,omitempty"`
	Status           SlotStatus        `json:"status"`
	IsRecurring      bool              `json:"is_recurring"`
	RecurringPattern *RecurringPattern `json:"recurring_pattern,omitempty"`
}

func NewSlotEvent(eventType SlotEventType, slot Slot, previous *SlotStatus, at time.Time) (SlotEvent, error) {
	eventID, err := uuid.NewV7()
	if err != nil {
		return SlotEvent{}, err
	}
	payload, err := json.Marshal(slotEventPayload{
		Slot: SlotSnapshot{
			ID:               slot.ID,
			OwnerID:          slot.OwnerID,
			StartTime:        slot.StartTime.UTC(),
			EndTime:          slot.EndTime.UTC(),
			Timezone:         slot.Timezone,
			DurationMinutes:  slot.DurationMinutes,
			Title:            slot.Title,
			Status:           slot.Status,
			IsRecurring:      slot.IsRecurring,
			RecurringPattern: slot.RecurringPattern,
		},
		PreviousStatus: previous,
	})
	if err != nil {
		return SlotEvent{}, err
	}
	return SlotEvent{
		EventID:     eventID,
		EventType:   eventType,
		AggregateID: slot.ID,
		OwnerID:     slot.OwnerID,
		Payload:     payload,
		CreatedAt:   at.UTC(),
	}, nil
}
