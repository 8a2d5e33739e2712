package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a position.
type Status string

const (
	// StatusActive is a position currently held at the broker
	StatusActive Status = "active"
	// StatusClosed is a position that disappeared from the broker
	StatusClosed Status = "closed"
	// StatusPlanned is a trade idea that has not been entered
	StatusPlanned Status = "planned"
)

// Valid returns true if the Status is one of the defined constants
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusPlanned:
		return true
	default:
		return false
	}
}

// Transition conditions
const (
	ConditionSynced     = "synced"
	ConditionVanished   = "vanished_from_broker"
	ConditionReappeared = "reappeared_at_broker"
)

// StatusTransition defines a valid status change
type StatusTransition struct {
	From        Status
	To          Status
	Condition   string
	Description string
}

// ValidTransitions lists every allowed status change.
var ValidTransitions = []StatusTransition{
	{StatusActive, StatusActive, ConditionSynced, "Position refreshed from broker"},
	{StatusActive, StatusClosed, ConditionVanished, "Position no longer reported by broker"},
	{StatusClosed, StatusActive, ConditionReappeared, "Closed position matched again"},
}

// IsValidTransition reports whether from -> to is allowed under condition.
func IsValidTransition(from, to Status, condition string) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to && t.Condition == condition {
			return true
		}
	}
	return false
}

// TransitionStatus moves the position to a new status, maintaining exit dates.
func (p *Position) TransitionStatus(to Status, condition string, now time.Time) error {
	if !IsValidTransition(p.Status, to, condition) {
		return fmt.Errorf("position %s state transition failed: invalid transition from %s to %s (condition %q)",
			p.ID, p.Status, to, condition)
	}
	p.Status = to
	p.UpdatedAt = now.UTC()

	switch to {
	case StatusClosed:
		if p.ExitDate.IsZero() {
			p.ExitDate = TruncateToDate(now)
		}
	case StatusActive:
		p.ExitDate = time.Time{}
		if p.EntryDate.IsZero() {
			p.EntryDate = TruncateToDate(now)
		}
	}
	return nil
}

// Close marks an active position as closed as of now.
func (p *Position) Close(now time.Time) error {
	return p.TransitionStatus(StatusClosed, ConditionVanished, now)
}
