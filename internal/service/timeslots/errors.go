package timeslots

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
)

// ErrCalendarUnavailable wraps failures of the external busy-time lookup.
var ErrCalendarUnavailable = errors.New("calendar unavailable")

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// ConflictError reports an overlap with an existing slot. Window is zero when
// the overlap was caught by the database rather than the in-transaction check.
type ConflictError struct {
	Window domain.TimeWindow
}

func (e *ConflictError) Error() string {
	if e.Window.Start.IsZero() {
		return "time slot conflicts with an existing slot"
	}
	return fmt.Sprintf("time slot conflicts with existing slot from %s to %s",
		e.Window.Start.Format(time.RFC3339), e.Window.End.Format(time.RFC3339))
}

type StateError struct {
	From   domain.SlotStatus
	To     domain.SlotStatus
	Reason string
}

func (e *StateError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("cannot change slot status from %s to %s", e.From, e.To)
}

type AuthorizationError struct {
	SlotID uuid.UUID
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("time slot %s belongs to another owner", e.SlotID)
}

type NotFoundError struct {
	SlotID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return "time slot not found"
}
