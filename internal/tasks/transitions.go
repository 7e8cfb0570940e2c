// Package tasks holds the task status state machine.
package tasks

import (
	"errors"
	"fmt"
	"strings"

	"mission-control/internal/models"
)

// ErrInvalidTransition is returned for status changes the state machine forbids.
var ErrInvalidTransition = errors.New("invalid task transition")

// Statuses lists every task status in board order.
var Statuses = []models.TaskStatus{
	models.TaskBacklog,
	models.TaskReady,
	models.TaskInProgress,
	models.TaskBlocked,
	models.TaskDone,
	models.TaskArchived,
}

// allowed holds the unconditional edges. done -> in_progress is handled
// separately because it needs a reopen reason.
var allowed = map[models.TaskStatus][]models.TaskStatus{
	models.TaskBacklog:    {models.TaskReady, models.TaskInProgress, models.TaskArchived},
	models.TaskReady:      {models.TaskInProgress, models.TaskBlocked, models.TaskArchived},
	models.TaskInProgress: {models.TaskBlocked, models.TaskDone, models.TaskArchived},
	models.TaskBlocked:    {models.TaskReady, models.TaskInProgress, models.TaskArchived},
	models.TaskDone:       {},
	models.TaskArchived:   {},
}

// ParseStatus validates a raw status string.
func ParseStatus(s string) (models.TaskStatus, error) {
	st := models.TaskStatus(s)
	if _, ok := allowed[st]; !ok {
		return "", fmt.Errorf("unknown task status %q", s)
	}
	return st, nil
}

// CanTransition reports whether from -> to is permitted. Self transitions are
// always permitted.
func CanTransition(from, to models.TaskStatus, reopenedReason string) bool {
	return Validate(from, to, reopenedReason) == nil
}

// Validate returns an error wrapping ErrInvalidTransition when from -> to is
// not permitted.
func Validate(from, to models.TaskStatus, reopenedReason string) error {
	if _, ok := allowed[from]; !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if _, ok := allowed[to]; !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if from == to {
		return nil
	}
	if from == models.TaskDone && to == models.TaskInProgress {
		if strings.TrimSpace(reopenedReason) == "" {
			return fmt.Errorf("%w: reopenedReason is required for done -> in_progress", ErrInvalidTransition)
		}
		return nil
	}
	for _, next := range allowed[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether no forward work is expected from status.
func IsTerminal(status models.TaskStatus) bool {
	return status == models.TaskDone || status == models.TaskArchived
}
