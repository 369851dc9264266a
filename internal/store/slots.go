package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
)

// ListFilter narrows an owner's slots. Zero values mean "no constraint";
// Limit must be set by the caller.
type ListFilter struct {
	From       time.Time
	To         time.Time
	StartAfter time.Time
	Status     domain.SlotStatus
	// Weekday keeps slots starting on that day in Timezone.
	Weekday  *domain.Weekday
	Timezone string
	Limit    int
	Offset   int
}

type SlotRepository interface {
	// InOwnerTransaction runs fn in one transaction holding the owner's
	// advisory lock. Transient failures restart fn from scratch.
	InOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx SlotTx) error) error

	Get(ctx context.Context, id uuid.UUID) (domain.Slot, error)
	List(ctx context.Context, ownerID string, filter ListFilter) ([]domain.Slot, error)
	CountByStatus(ctx context.Context, ownerID string) (map[domain.SlotStatus]int, error)
	CountStartingAfter(ctx context.Context, ownerID string, after time.Time) (int, error)
	RecentlyCreated(ctx context.Context, ownerID string, limit int) ([]domain.Slot, error)
}

type SlotTx interface {
	// GetSlot reads and row-locks a slot.
	GetSlot(ctx context.Context, id uuid.UUID) (domain.Slot, error)
	// ListOverlapping returns the owner's slots intersecting [start, end),
	// whatever their status, except excludeID.
	ListOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID uuid.UUID) ([]domain.Slot, error)
	InsertSlots(ctx context.Context, slots []domain.Slot) ([]domain.Slot, error)
	// UpdateSlot writes slot if its stored status still equals expected.
	UpdateSlot(ctx context.Context, slot domain.Slot, expected domain.SlotStatus) (domain.Slot, error)
	DeleteSlot(ctx context.Context, ownerID string, id uuid.UUID) error
	AppendEvents(ctx context.Context, events []domain.SlotEvent) error
}

// OutboxRepository hands unpublished events to fn and marks them published
// when fn succeeds.
type OutboxRepository interface {
	PublishBatch(ctx context.Context, limit int, fn func(ctx context.Context, events []domain.SlotEvent) error) (int, error)
}
