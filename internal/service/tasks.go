package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mission-control/internal/models"
	"mission-control/internal/store"
	"mission-control/internal/tasks"
	"mission-control/internal/telemetry"
)

// CreateTaskInput is the payload for CreateTask. Status defaults to backlog.
type CreateTaskInput struct {
	Title       string            `json:"title"`
	Description *string           `json:"description,omitempty"`
	OwnerType   models.OwnerType  `json:"ownerType"`
	OwnerID     string            `json:"ownerId"`
	Priority    models.Priority   `json:"priority"`
	Status      models.TaskStatus `json:"status,omitempty"`
	DueAt       *time.Time        `json:"dueAt,omitempty"`
}

func (in CreateTaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title is required")
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return invalid("ownerId is required")
	}
	switch in.OwnerType {
	case models.OwnerUser, models.OwnerAgent, models.OwnerSystem:
	default:
		return invalid("ownerType must be one of user, agent, system")
	}
	switch in.Priority {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		return invalid("priority must be one of low, medium, high")
	}
	if in.Status != "" {
		if _, err := tasks.ParseStatus(string(in.Status)); err != nil {
			return invalid("status: %v", err)
		}
	}
	return nil
}

// TransitionInput moves a task to NextStatus. ReopenedReason is required for
// done -> in_progress.
type TransitionInput struct {
	TaskID         string            `json:"-"`
	NextStatus     models.TaskStatus `json:"nextStatus"`
	ReopenedReason string            `json:"reopenedReason,omitempty"`
}

func (in TransitionInput) Validate() error {
	if in.TaskID == "" {
		return invalid("taskId is required")
	}
	if _, err := tasks.ParseStatus(string(in.NextStatus)); err != nil {
		return invalid("nextStatus: %v", err)
	}
	return nil
}

type transitionMetadata struct {
	From           models.TaskStatus `json:"from"`
	To             models.TaskStatus `json:"to"`
	ReopenedReason *string           `json:"reopenedReason,omitempty"`
}

// CreateTask inserts a task together with its creation event and activity.
func (s *Service) CreateTask(ctx context.Context, actor models.Actor, in CreateTaskInput) (models.Task, error) {
	if err := in.Validate(); err != nil {
		return models.Task{}, err
	}
	now := s.clock()
	task := models.Task{
		TaskID:      newID("task"),
		Title:       in.Title,
		Description: in.Description,
		OwnerType:   in.OwnerType,
		OwnerID:     in.OwnerID,
		Status:      in.Status,
		Priority:    in.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Status == "" {
		task.Status = models.TaskBacklog
	}
	if in.DueAt != nil {
		due := in.DueAt.UTC().Truncate(time.Millisecond)
		task.DueAt = &due
	}
	if task.Status == models.TaskArchived {
		task.ArchivedAt = &now
	}

	err := s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertTask(ctx, task); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		after, err := snapshot(task)
		if err != nil {
			return err
		}
		if err := tx.AppendTaskEvent(ctx, models.TaskEvent{
			TaskID:     task.TaskID,
			EventType:  models.EventTaskCreated,
			ActorType:  actor.ActorType,
			ActorID:    actor.ActorID,
			AuthSource: actor.AuthSource,
			AfterJSON:  &after,
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("append task event: %w", err)
		}
		return record(ctx, tx, now, actor, models.EntityTask, task.TaskID, ActionCreated, map[string]string{"title": task.Title})
	})
	if err != nil {
		return models.Task{}, err
	}

	telemetry.TasksCreated.Inc()
	s.log.Info().Str("task_id", task.TaskID).Str("status", string(task.Status)).Str("actor_id", actor.ActorID).Msg("task created")
	return task, nil
}

// TransitionTask applies one state machine edge. The task patch, the
// transition event and the activity item commit together or not at all.
func (s *Service) TransitionTask(ctx context.Context, actor models.Actor, in TransitionInput) (models.Task, error) {
	if err := in.Validate(); err != nil {
		return models.Task{}, err
	}

	var updated models.Task
	err := s.withLock(ctx, "task:"+in.TaskID, func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			current, err := tx.GetTask(ctx, in.TaskID)
			if err != nil {
				return notFound(err, "task", in.TaskID)
			}
			if err := tasks.Validate(current.Status, in.NextStatus, in.ReopenedReason); err != nil {
				return err
			}

			now := s.clock()
			updated = current
			updated.Status = in.NextStatus
			updated.UpdatedAt = now
			updated.ArchivedAt = nil
			if in.NextStatus == models.TaskArchived {
				updated.ArchivedAt = &now
			}
			if err := tx.PatchTask(ctx, in.TaskID, store.TaskPatch{
				Status:     updated.Status,
				UpdatedAt:  updated.UpdatedAt,
				ArchivedAt: updated.ArchivedAt,
			}); err != nil {
				return fmt.Errorf("patch task: %w", err)
			}

			before, err := snapshot(current)
			if err != nil {
				return err
			}
			after, err := snapshot(updated)
			if err != nil {
				return err
			}
			if err := tx.AppendTaskEvent(ctx, models.TaskEvent{
				TaskID:     in.TaskID,
				EventType:  models.EventTaskTransitioned,
				ActorType:  actor.ActorType,
				ActorID:    actor.ActorID,
				AuthSource: actor.AuthSource,
				BeforeJSON: &before,
				AfterJSON:  &after,
				CreatedAt:  now,
			}); err != nil {
				return fmt.Errorf("append task event: %w", err)
			}

			meta := transitionMetadata{From: current.Status, To: updated.Status}
			if in.ReopenedReason != "" {
				reason := in.ReopenedReason
				meta.ReopenedReason = &reason
			}
			return record(ctx, tx, now, actor, models.EntityTask, in.TaskID, ActionTransitioned, meta)
		})
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			telemetry.TasksRejected.Inc()
			s.log.Debug().Err(err).Str("task_id", in.TaskID).Msg("transition rejected")
		}
		return models.Task{}, err
	}

	telemetry.TasksTransitioned.Inc()
	s.log.Info().Str("task_id", updated.TaskID).Str("status", string(updated.Status)).Str("actor_id", actor.ActorID).Msg("task transitioned")
	return updated, nil
}

// GetTask returns one task.
func (s *Service) GetTask(ctx context.Context, taskID string) (models.Task, error) {
	var task models.Task
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		task, err = tx.GetTask(ctx, taskID)
		return notFound(err, "task", taskID)
	})
	return task, err
}

// ListTasks returns tasks most recently updated first, optionally narrowed to
// one status.
func (s *Service) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	if status != "" {
		if _, err := tasks.ParseStatus(string(status)); err != nil {
			return nil, invalid("status: %v", err)
		}
	}
	var out []models.Task
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListTasks(ctx, store.TaskFilter{Status: status})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

// ListTaskEvents returns a task's events in the order they happened.
func (s *Service) ListTaskEvents(ctx context.Context, taskID string) ([]models.TaskEvent, error) {
	var out []models.TaskEvent
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetTask(ctx, taskID); err != nil {
			return notFound(err, "task", taskID)
		}
		var err error
		out, err = tx.ListTaskEvents(ctx, taskID)
		return err
	})
	return out, err
}

func snapshot(task models.Task) (string, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task snapshot: %w", err)
	}
	return string(raw), nil
}
