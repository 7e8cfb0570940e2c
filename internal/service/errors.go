package service

import (
	"errors"
	"fmt"

	"mission-control/internal/store"
	"mission-control/internal/tasks"
)

var (
	// ErrNotFound means the referenced task, job or document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change violates the task
	// state machine.
	ErrInvalidTransition = tasks.ErrInvalidTransition
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrSourceUnavailable is returned for object ingests when no object
	// source is configured.
	ErrSourceUnavailable = errors.New("object source unavailable")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// notFound translates a store miss into ErrNotFound and leaves every other
// error untouched.
func notFound(err error, kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}
