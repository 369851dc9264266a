package domain

import "fmt"

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusBlocked   SlotStatus = "blocked"
	SlotStatusCancelled SlotStatus = "cancelled"
)

func ParseSlotStatus(s string) (SlotStatus, error) {
	st := SlotStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid status %q: must be one of available, booked, blocked, cancelled", s)
	}
	return st, nil
}

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotStatusAvailable, SlotStatusBooked, SlotStatusBlocked, SlotStatusCancelled:
		return true
	}
	return false
}

func (s SlotStatus) Terminal() bool {
	return s == SlotStatusCancelled
}

// CanTransition reports whether a slot in status s may move to next.
// Staying in the same status is always allowed.
func (s SlotStatus) CanTransition(next SlotStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case SlotStatusAvailable:
		return next == SlotStatusBooked || next == SlotStatusBlocked || next == SlotStatusCancelled
	case SlotStatusBooked, SlotStatusBlocked:
		return next == SlotStatusAvailable || next == SlotStatusCancelled
	}
	return false
}

// Action is a named lifecycle command with a fixed set of source states.
type Action string

const (
	ActionBook    Action = "book"
	ActionUnbook  Action = "unbook"
	ActionBlock   Action = "block"
	ActionUnblock Action = "unblock"
	ActionCancel  Action = "cancel"
)

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := actionRules[a]; !ok {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

type actionRule struct {
	target  SlotStatus
	sources []SlotStatus
}

var actionRules = map[Action]actionRule{
	ActionBook:    {target: SlotStatusBooked, sources: []SlotStatus{SlotStatusAvailable}},
	ActionUnbook:  {target: SlotStatusAvailable, sources: []SlotStatus{SlotStatusBooked}},
	ActionBlock:   {target: SlotStatusBlocked, sources: []SlotStatus{SlotStatusAvailable}},
	ActionUnblock: {target: SlotStatusAvailable, sources: []SlotStatus{SlotStatusBlocked}},
	ActionCancel:  {target: SlotStatusCancelled, sources: []SlotStatus{SlotStatusAvailable, SlotStatusBooked, SlotStatusBlocked}},
}

// Target is the status the action moves a slot into.
func (a Action) Target() SlotStatus {
	return actionRules[a].target
}

// Allows reports whether the action may be applied to a slot in from.
// A slot already in the target status is accepted as a no-op.
func (a Action) Allows(from SlotStatus) bool {
	rule, ok := actionRules[a]
	if !ok {
		return false
	}
	if from == rule.target {
		return true
	}
	for _, s := range rule.sources {
		if s == from {
			return true
		}
	}
	return false
}
