package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mission-control/internal/idempotency"
	"mission-control/internal/models"
	"mission-control/internal/schedule"
	"mission-control/internal/store"
	"mission-control/internal/telemetry"
)

const runNowSummary = "Run completed via run-now."

// CreateJobInput is the payload for CreateJob.
type CreateJobInput struct {
	Name         string              `json:"name"`
	ScheduleKind models.ScheduleKind `json:"scheduleKind"`
	ScheduleExpr string              `json:"scheduleExpr"`
	Timezone     string              `json:"timezone"`
	PayloadKind  string              `json:"payloadKind"`
	PayloadJSON  string              `json:"payloadJson"`
}

func (in CreateJobInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name is required")
	}
	switch in.ScheduleKind {
	case models.ScheduleOneShot, models.ScheduleRecurring:
	default:
		return invalid("scheduleKind must be one_shot or recurring")
	}
	if strings.TrimSpace(in.ScheduleExpr) == "" {
		return invalid("scheduleExpr is required")
	}
	if strings.TrimSpace(in.Timezone) == "" {
		return invalid("timezone is required")
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil {
		return invalid("timezone %q: %v", in.Timezone, err)
	}
	if strings.TrimSpace(in.PayloadKind) == "" {
		return invalid("payloadKind is required")
	}
	if !json.Valid([]byte(in.PayloadJSON)) {
		return invalid("payloadJson must be valid JSON")
	}
	return nil
}

// RunNowInput optionally pins the idempotency key or the schedule tick.
type RunNowInput struct {
	IdempotencyKey  string `json:"idempotencyKey,omitempty"`
	ScheduledForISO string `json:"scheduledForIso,omitempty"`
}

func (in RunNowInput) Validate() error { return nil }

type jobCreatedMetadata struct {
	Name         string              `json:"name"`
	ScheduleKind models.ScheduleKind `json:"scheduleKind"`
	ScheduleExpr string              `json:"scheduleExpr"`
}

type runNowMetadata struct {
	Attempt        int    `json:"attempt"`
	IdempotencyKey string `json:"idempotencyKey"`
	RunID          string `json:"runId"`
}

// CreateJob registers a job. It starts enabled and due immediately.
func (s *Service) CreateJob(ctx context.Context, actor models.Actor, in CreateJobInput) (models.Job, error) {
	if err := in.Validate(); err != nil {
		return models.Job{}, err
	}
	now := s.clock()
	job := models.Job{
		JobID:        newID("job"),
		Name:         in.Name,
		ScheduleKind: in.ScheduleKind,
		ScheduleExpr: in.ScheduleExpr,
		Timezone:     in.Timezone,
		PayloadKind:  in.PayloadKind,
		PayloadJSON:  in.PayloadJSON,
		Enabled:      true,
		NextRunAt:    &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertJob(ctx, job); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return record(ctx, tx, now, actor, models.EntityJob, job.JobID, ActionCreated, jobCreatedMetadata{
			Name:         job.Name,
			ScheduleKind: job.ScheduleKind,
			ScheduleExpr: job.ScheduleExpr,
		})
	})
	if err != nil {
		return models.Job{}, err
	}

	telemetry.JobsCreated.Inc()
	s.log.Info().Str("job_id", job.JobID).Str("schedule_expr", job.ScheduleExpr).Str("actor_id", actor.ActorID).Msg("job created")
	return job, nil
}

// SetJobEnabled flips a job on or off.
func (s *Service) SetJobEnabled(ctx context.Context, actor models.Actor, jobID string, enabled bool) (models.Job, error) {
	var job models.Job
	err := s.withLock(ctx, "job:"+jobID, func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			current, err := tx.GetJob(ctx, jobID)
			if err != nil {
				return notFound(err, "job", jobID)
			}
			now := s.clock()
			if err := tx.PatchJob(ctx, jobID, store.JobPatch{Enabled: &enabled, UpdatedAt: now}); err != nil {
				return fmt.Errorf("patch job: %w", err)
			}
			job = current
			job.Enabled = enabled
			job.UpdatedAt = now

			action := ActionDisabled
			if enabled {
				action = ActionEnabled
			}
			return record(ctx, tx, now, actor, models.EntityJob, jobID, action, map[string]bool{"enabled": enabled})
		})
	})
	if err != nil {
		return models.Job{}, err
	}
	s.log.Info().Str("job_id", jobID).Bool("enabled", enabled).Str("actor_id", actor.ActorID).Msg("job toggled")
	return job, nil
}

// RunJobNow records a run of jobID. A run whose idempotency key already exists
// is returned as stored and nothing is written.
func (s *Service) RunJobNow(ctx context.Context, actor models.Actor, jobID string, in RunNowInput) (models.JobRun, error) {
	var (
		run       models.JobRun
		duplicate bool
		key       string
	)
	err := s.withLock(ctx, "job:"+jobID, func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			job, err := tx.GetJob(ctx, jobID)
			if err != nil {
				return notFound(err, "job", jobID)
			}
			highest, err := tx.MaxRunAttempt(ctx, jobID)
			if err != nil {
				return fmt.Errorf("max attempt: %w", err)
			}
			attempt := highest + 1

			now := s.clock()
			scheduledFor := in.ScheduledForISO
			if scheduledFor == "" {
				scheduledFor = idempotency.FormatISO(now)
			}
			key = in.IdempotencyKey
			if key == "" {
				key = idempotency.RunKey(jobID, scheduledFor, attempt)
			}

			existing, err := tx.FindRunByKey(ctx, key)
			switch {
			case err == nil:
				run, duplicate = existing, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("find run: %w", err)
			}

			summary := runNowSummary
			run = models.JobRun{
				RunID:          newID("run"),
				JobID:          jobID,
				Attempt:        attempt,
				IdempotencyKey: key,
				StartedAt:      now,
				EndedAt:        &now,
				Status:         models.RunSuccess,
				Summary:        &summary,
				CreatedAt:      now,
			}
			if err := tx.InsertJobRun(ctx, run); err != nil {
				return fmt.Errorf("insert run: %w", err)
			}

			next := s.nextRunAt(job, now)
			if err := tx.PatchJob(ctx, jobID, store.JobPatch{
				LastRunAt: &now,
				NextRunAt: &next,
				UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("patch job: %w", err)
			}
			return record(ctx, tx, now, actor, models.EntityJob, jobID, ActionRunNow, runNowMetadata{
				Attempt:        run.Attempt,
				IdempotencyKey: run.IdempotencyKey,
				RunID:          run.RunID,
			})
		})
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Another process inserted the same key between our read and write.
		run, err = s.findRun(ctx, key)
		duplicate = err == nil
	}
	if err != nil {
		return models.JobRun{}, err
	}

	if duplicate {
		telemetry.RunsDeduplicated.Inc()
		s.log.Debug().Str("job_id", jobID).Str("idempotency_key", run.IdempotencyKey).Str("run_id", run.RunID).Msg("run deduplicated")
		return run, nil
	}
	telemetry.RunsExecuted.Inc()
	s.log.Info().Str("job_id", jobID).Int("attempt", run.Attempt).Str("run_id", run.RunID).Str("actor_id", actor.ActorID).Msg("job run recorded")
	return run, nil
}

func (s *Service) findRun(ctx context.Context, key string) (models.JobRun, error) {
	var run models.JobRun
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		run, err = tx.FindRunByKey(ctx, key)
		return err
	})
	if err != nil {
		return models.JobRun{}, fmt.Errorf("reload run %s: %w", key, err)
	}
	return run, nil
}

// nextRunAt is the next cron tick for recurring jobs with a parseable
// expression and now otherwise.
func (s *Service) nextRunAt(job models.Job, now time.Time) time.Time {
	if job.ScheduleKind != models.ScheduleRecurring {
		return now
	}
	next, ok := schedule.Next(job.ScheduleExpr, job.Timezone, now)
	if !ok {
		return now
	}
	return next.Truncate(time.Millisecond)
}

// GetJob returns one job with its latest run.
func (s *Service) GetJob(ctx context.Context, jobID string) (models.JobWithLatestRun, error) {
	var out models.JobWithLatestRun
	err := s.store.View(ctx, func(tx store.Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return notFound(err, "job", jobID)
		}
		out, err = withLatestRun(ctx, tx, job)
		return err
	})
	return out, err
}

// ListJobs returns jobs most recently updated first, each with its latest run.
func (s *Service) ListJobs(ctx context.Context) ([]models.JobWithLatestRun, error) {
	var out []models.JobWithLatestRun
	err := s.store.View(ctx, func(tx store.Tx) error {
		jobs, err := tx.ListJobs(ctx)
		if err != nil {
			return err
		}
		out = make([]models.JobWithLatestRun, 0, len(jobs))
		for _, job := range jobs {
			j, err := withLatestRun(ctx, tx, job)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// ListJobRuns returns a job's runs by attempt ascending.
func (s *Service) ListJobRuns(ctx context.Context, jobID string) ([]models.JobRun, error) {
	var out []models.JobRun
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetJob(ctx, jobID); err != nil {
			return notFound(err, "job", jobID)
		}
		var err error
		out, err = tx.ListJobRuns(ctx, jobID)
		return err
	})
	return out, err
}

func withLatestRun(ctx context.Context, tx store.Tx, job models.Job) (models.JobWithLatestRun, error) {
	runs, err := tx.ListJobRuns(ctx, job.JobID)
	if err != nil {
		return models.JobWithLatestRun{}, fmt.Errorf("list runs for %s: %w", job.JobID, err)
	}
	out := models.JobWithLatestRun{Job: job}
	for i := range runs {
		r := runs[i]
		// runs are in attempt order, so a later equal startedAt wins
		if out.LatestRun == nil || !r.StartedAt.Before(out.LatestRun.StartedAt) {
			out.LatestRun = &r
		}
	}
	return out, nil
}
