package timeslots

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/store"
)

const maxSingleSlotDuration = 24 * time.Hour

// ConflictPolicy selects which existing slots take part in overlap checks.
type ConflictPolicy struct {
	IgnoreCancelled bool
}

type Service struct {
	repo   store.SlotRepository
	now    func() time.Time
	policy ConflictPolicy
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithConflictPolicy(p ConflictPolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func NewService(repo store.SlotRepository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

type CreateInput struct {
	OwnerID     string
	StartTime   time.Time
	EndTime     time.Time
	Timezone    string
	Title       string
	Description string
}

func (s *Service) CreateSingle(ctx context.Context, in CreateInput) (domain.Slot, error) {
	if in.OwnerID == "" {
		return domain.Slot{}, validationError("user_id is required")
	}
	tz, err := normalizeTimezone(in.Timezone)
	if err != nil {
		return domain.Slot{}, err
	}
	title, description, err := normalizeText(in.Title, in.Description)
	if err != nil {
		return domain.Slot{}, err
	}

	now := s.clock()
	w, err := s.validateWindow(in.StartTime, in.EndTime, now)
	if err != nil {
		return domain.Slot{}, err
	}

	id, err := domain.NewSlotID()
	if err != nil {
		return domain.Slot{}, err
	}
	slot := domain.Slot{
		ID:          id,
		OwnerID:     in.OwnerID,
		Timezone:    tz,
		Title:       title,
		Description: description,
		Status:      domain.SlotStatusAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	slot.SetWindow(w)

	var out domain.Slot
	err = s.repo.InOwnerTransaction(ctx, in.OwnerID, func(ctx context.Context, tx store.SlotTx) error {
		if err := s.ensureNoConflict(ctx, tx, in.OwnerID, w, uuid.Nil); err != nil {
			return err
		}
		rows, err := tx.InsertSlots(ctx, []domain.Slot{slot})
		if err != nil {
			return err
		}
		out = rows[0]
		return appendEvent(ctx, tx, domain.SlotEventCreated, out, nil, now)
	})
	if err != nil {
		return domain.Slot{}, translateStoreError(err, id)
	}
	return out, nil
}

// Patch holds optional changes; nil fields are left as they are.
type Patch struct {
	Title       *string
	Description *string
	Timezone    *string
	Status      *domain.SlotStatus
	StartTime   *time.Time
	EndTime     *time.Time
}

func (p Patch) retimes() bool {
	return p.StartTime != nil || p.EndTime != nil
}

func (s *Service) Update(ctx context.Context, ownerID string, id uuid.UUID, p Patch) (domain.Slot, error) {
	if ownerID == "" {
		return domain.Slot{}, validationError("user_id is required")
	}
	if id == uuid.Nil {
		return domain.Slot{}, validationError("slot id is required")
	}
	if p.Status != nil && !p.Status.Valid() {
		return domain.Slot{}, validationErrorf("invalid status %q", string(*p.Status))
	}

	now := s.clock()
	var out domain.Slot
	err := s.repo.InOwnerTransaction(ctx, ownerID, func(ctx context.Context, tx store.SlotTx) error {
		cur, err := loadOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		next := cur

		if p.Title != nil || p.Description != nil {
			title, description := cur.Title, cur.Description
			if p.Title != nil {
				title = *p.Title
			}
			if p.Description != nil {
				description = *p.Description
			}
			next.Title, next.Description, err = normalizeText(title, description)
			if err != nil {
				return err
			}
		}
		if p.Timezone != nil {
			next.Timezone, err = normalizeTimezone(*p.Timezone)
			if err != nil {
				return err
			}
		}

		if p.retimes() {
			if cur.Status.Terminal() {
				return &StateError{From: cur.Status, To: cur.Status, Reason: "cancelled slots cannot be re-timed"}
			}
			start, end := cur.StartTime, cur.EndTime
			if p.StartTime != nil {
				start = *p.StartTime
			}
			if p.EndTime != nil {
				end = *p.EndTime
			}
			w, err := s.validateWindow(start, end, now)
			if err != nil {
				return err
			}
			if err := s.ensureNoConflict(ctx, tx, ownerID, w, cur.ID); err != nil {
				return err
			}
			next.SetWindow(w)
		}

		if p.Status != nil && *p.Status != cur.Status {
			if !cur.Status.CanTransition(*p.Status) {
				return &StateError{From: cur.Status, To: *p.Status}
			}
			next.Status = *p.Status
		}

		if sameContent(cur, next) {
			out = cur
			return nil
		}

		next.UpdatedAt = now
		updated, err := tx.UpdateSlot(ctx, next, cur.Status)
		if err != nil {
			return err
		}
		out = updated

		if err := appendEvent(ctx, tx, domain.SlotEventUpdated, out, nil, now); err != nil {
			return err
		}
		if out.Status != cur.Status {
			prev := cur.Status
			return appendEvent(ctx, tx, domain.SlotEventStatusChanged, out, &prev, now)
		}
		return nil
	})
	if err != nil {
		return domain.Slot{}, translateStoreError(err, id)
	}
	return out, nil
}

// Transition applies a lifecycle action. A slot already in the action's
// target status is returned unchanged.
func (s *Service) Transition(ctx context.Context, ownerID string, id uuid.UUID, action domain.Action) (domain.Slot, error) {
	if ownerID == "" {
		return domain.Slot{}, validationError("user_id is required")
	}
	if id == uuid.Nil {
		return domain.Slot{}, validationError("slot id is required")
	}
	if _, err := domain.ParseAction(string(action)); err != nil {
		return domain.Slot{}, validationError(err.Error())
	}
	target := action.Target()

	now := s.clock()
	var out domain.Slot
	err := s.repo.InOwnerTransaction(ctx, ownerID, func(ctx context.Context, tx store.SlotTx) error {
		cur, err := loadOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		if cur.Status == target {
			out = cur
			return nil
		}
		if !action.Allows(cur.Status) {
			return &StateError{From: cur.Status, To: target}
		}

		next := cur
		next.Status = target
		next.UpdatedAt = now
		updated, err := tx.UpdateSlot(ctx, next, cur.Status)
		if err != nil {
			if errors.Is(err, store.ErrStatusChanged) {
				return &StateError{From: cur.Status, To: target}
			}
			return err
		}
		out = updated
		prev := cur.Status
		return appendEvent(ctx, tx, domain.SlotEventStatusChanged, out, &prev, now)
	})
	if err != nil {
		return domain.Slot{}, translateStoreError(err, id)
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	if ownerID == "" {
		return validationError("user_id is required")
	}
	if id == uuid.Nil {
		return validationError("slot id is required")
	}
	now := s.clock()
	err := s.repo.InOwnerTransaction(ctx, ownerID, func(ctx context.Context, tx store.SlotTx) error {
		cur, err := loadOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteSlot(ctx, ownerID, id); err != nil {
			return err
		}
		return appendEvent(ctx, tx, domain.SlotEventDeleted, cur, nil, now)
	})
	return translateStoreError(err, id)
}

func (s *Service) Get(ctx context.Context, ownerID string, id uuid.UUID) (domain.Slot, error) {
	if ownerID == "" {
		return domain.Slot{}, validationError("user_id is required")
	}
	slot, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Slot{}, translateStoreError(err, id)
	}
	if slot.OwnerID != ownerID {
		return domain.Slot{}, &AuthorizationError{SlotID: id}
	}
	return slot, nil
}

// sameContent reports whether a patch left every mutable field as it was.
func sameContent(a, b domain.Slot) bool {
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.Timezone == b.Timezone &&
		a.Status == b.Status &&
		a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime)
}

func loadOwned(ctx context.Context, tx store.SlotTx, ownerID string, id uuid.UUID) (domain.Slot, error) {
	cur, err := tx.GetSlot(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Slot{}, &NotFoundError{SlotID: id}
		}
		return domain.Slot{}, err
	}
	if cur.OwnerID != ownerID {
		return domain.Slot{}, &AuthorizationError{SlotID: id}
	}
	return cur, nil
}

func (s *Service) validateWindow(start, end time.Time, now time.Time) (domain.TimeWindow, error) {
	if start.IsZero() || end.IsZero() {
		return domain.TimeWindow{}, validationError("start_time and end_time are required")
	}
	w, err := domain.NewTimeWindow(start, end)
	if err != nil {
		return domain.TimeWindow{}, validationError(err.Error())
	}
	if w.Duration() > maxSingleSlotDuration {
		return domain.TimeWindow{}, validationError("slot duration cannot exceed 24 hours")
	}
	if !w.Start.After(now) {
		return domain.TimeWindow{}, validationError("start_time must be in the future")
	}
	return w, nil
}

func (s *Service) ensureNoConflict(ctx context.Context, tx store.SlotTx, ownerID string, w domain.TimeWindow, exclude uuid.UUID) error {
	existing, err := tx.ListOverlapping(ctx, ownerID, w.Start, w.End, exclude)
	if err != nil {
		return err
	}
	if hit, ok := domain.FirstConflict(s.blockingWindows(existing), w); ok {
		return &ConflictError{Window: hit}
	}
	if dup, ok := sameWindow(existing, w); ok {
		return &ConflictError{Window: dup}
	}
	return nil
}

// blockingWindows drops slots the conflict policy exempts.
func (s *Service) blockingWindows(slots []domain.Slot) []domain.TimeWindow {
	out := make([]domain.TimeWindow, 0, len(slots))
	for _, sl := range slots {
		if s.policy.IgnoreCancelled && sl.Status == domain.SlotStatusCancelled {
			continue
		}
		out = append(out, sl.Window())
	}
	return out
}

func appendEvent(ctx context.Context, tx store.SlotTx, t domain.SlotEventType, slot domain.Slot, prev *domain.SlotStatus, now time.Time) error {
	ev, err := domain.NewSlotEvent(t, slot, prev, now)
	if err != nil {
		return err
	}
	return tx.AppendEvents(ctx, []domain.SlotEvent{ev})
}

func normalizeTimezone(tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := domain.LoadLocation(tz); err != nil {
		return "", validationError(err.Error())
	}
	return tz, nil
}

func normalizeText(title, description string) (string, string, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if len([]rune(description)) > domain.MaxDescriptionLength {
		return "", "", validationErrorf("description cannot exceed %d characters", domain.MaxDescriptionLength)
	}
	return title, description, nil
}

// translateStoreError maps store sentinels that escaped the transaction
// into service errors. Service errors pass through.
func translateStoreError(err error, id uuid.UUID) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{SlotID: id}
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		return &ConflictError{}
	case errors.Is(err, store.ErrStatusChanged):
		return &StateError{Reason: "slot status changed concurrently, retry the request"}
	}
	return err
}
