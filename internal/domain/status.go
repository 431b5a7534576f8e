package domain

import (
	"errors"
	"fmt"
)

// Status is the audit lifecycle state.
type Status string

const (
	StatusQueued                  Status = "queued"
	StatusProcessingDeterministic Status = "processing_deterministic"
	StatusProcessingAI            Status = "processing_ai"
	StatusCompleted               Status = "completed"
	StatusFailed                  Status = "failed"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminal          = errors.New("audit already in a terminal state")
)

// next holds the single success-path successor of each non-terminal state.
var next = map[Status]Status{
	StatusQueued:                  StatusProcessingDeterministic,
	StatusProcessingDeterministic: StatusProcessingAI,
	StatusProcessingAI:            StatusCompleted,
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessingDeterministic, StatusProcessingAI, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further mutation may happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Pending reports whether the audit is queued or being processed.
func (s Status) Pending() bool {
	return s.Valid() && !s.Terminal()
}

// CanTransition reports whether s -> to is allowed. Failed is reachable from
// every non-terminal state; otherwise only the direct successor is.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() || !s.Valid() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return next[s] == to
}

// Transition applies a status change, rejecting skips and terminal mutation.
func (a *AuditRequest) Transition(to Status) error {
	if a.Status.Terminal() {
		return fmt.Errorf("audit %s is %s: %w", a.ID, a.Status, ErrTerminal)
	}
	if !a.Status.CanTransition(to) {
		return fmt.Errorf("%s -> %s: %w", a.Status, to, ErrInvalidTransition)
	}
	a.Status = to
	return nil
}
