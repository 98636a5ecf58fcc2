package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the execution state shared by pipeline, stage and job executions.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

var (
	// ErrTerminal is returned when a status change targets a record that already finished.
	// Callers treat it as a no-op.
	ErrTerminal          = errors.New("execution already terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid status")
)

// ParseStatus maps free-form status values to canonical statuses.
func ParseStatus(value string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(StatusPending), "QUEUED":
		return StatusPending, nil
	case string(StatusRunning):
		return StatusRunning, nil
	case string(StatusSuccess), "SUCCEEDED":
		return StatusSuccess, nil
	case string(StatusFailed):
		return StatusFailed, nil
	case string(StatusCanceled), "CANCELLED":
		return StatusCanceled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransition enforces forward-only progression. Terminal statuses never move.
func CanTransition(current, next Status) bool {
	if !current.Valid() || !next.Valid() {
		return false
	}
	if current.IsTerminal() {
		return false
	}
	if current == next {
		return true
	}
	return statusOrder(current) < statusOrder(next)
}

func statusOrder(s Status) int {
	switch s {
	case StatusPending:
		return 1
	case StatusRunning:
		return 2
	case StatusSuccess, StatusFailed, StatusCanceled:
		return 3
	default:
		return 0
	}
}

// Lifecycle carries the status and timestamps of an execution record.
type Lifecycle struct {
	Status         Status     `json:"status"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	CompletionTime *time.Time `json:"completionTime,omitempty"`
}

// Apply moves the lifecycle to next. It reports whether anything changed.
//
// RUNNING stamps StartTime when unset. The first terminal status stamps
// CompletionTime; after that every call returns ErrTerminal and leaves the
// record untouched.
func (l *Lifecycle) Apply(next Status, now time.Time) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	if l.Status == "" {
		l.Status = StatusPending
	}
	if l.Status.IsTerminal() {
		return false, ErrTerminal
	}
	if l.Status == next {
		return false, nil
	}
	if !CanTransition(l.Status, next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, next)
	}

	now = now.UTC()
	if next == StatusRunning && l.StartTime == nil {
		l.StartTime = &now
	}
	if next.IsTerminal() && l.CompletionTime == nil {
		l.CompletionTime = &now
	}
	l.Status = next
	return true, nil
}
