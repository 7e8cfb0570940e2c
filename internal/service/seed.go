package service

import (
	"context"
	"fmt"

	"mission-control/internal/models"
	"mission-control/internal/store"
)

// Seed loads the demo board: two tasks, a daily memory job and a notes
// document. It does nothing when any task exists, so restarts are safe.
func (s *Service) Seed(ctx context.Context) error {
	var existing int
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		existing, err = tx.CountTasks(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	if existing > 0 {
		s.log.Debug().Int("tasks", existing).Msg("seed skipped")
		return nil
	}

	actor := models.SystemActor("migration")
	seedTasks := []CreateTaskInput{
		{
			Title:       "Finalize Mission Control v1 scope",
			Description: strPtr("Lock Tasks, Scheduler, Memory, and Activity for phase 1."),
			OwnerType:   models.OwnerUser,
			OwnerID:     "thupten",
			Status:      models.TaskInProgress,
			Priority:    models.PriorityHigh,
		},
		{
			Title:       "Wire UI verification gates",
			Description: strPtr("Ensure Playwright and browser smoke are mandatory for UI changes."),
			OwnerType:   models.OwnerAgent,
			OwnerID:     "clawd",
			Status:      models.TaskReady,
			Priority:    models.PriorityMedium,
		},
	}
	for _, in := range seedTasks {
		if _, err := s.CreateTask(ctx, actor, in); err != nil {
			return fmt.Errorf("seed task %q: %w", in.Title, err)
		}
	}

	if _, err := s.CreateJob(ctx, actor, CreateJobInput{
		Name:         "Daily memory refresh",
		ScheduleKind: models.ScheduleRecurring,
		ScheduleExpr: "0 9 * * 1-5",
		Timezone:     "America/Chicago",
		PayloadKind:  "memory.sync",
		PayloadJSON:  `{"target":"daily_memory"}`,
	}); err != nil {
		return fmt.Errorf("seed job: %w", err)
	}

	if _, err := s.IngestMemory(ctx, actor, IngestInput{
		SourcePath: "memory_notes/MEMORY.md",
		SourceType: "markdown",
		Title:      "Mission Control notes",
		Body: "Mission Control centralizes tasks, scheduling, and memory retrieval. " +
			"Every memory result should include a source citation for trust.",
	}); err != nil {
		return fmt.Errorf("seed memory: %w", err)
	}

	s.log.Info().Int("tasks", len(seedTasks)).Msg("demo data seeded")
	return nil
}

func strPtr(s string) *string { return &s }
