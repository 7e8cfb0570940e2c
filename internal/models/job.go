package models

import (
	"time"
)

// ScheduleKind distinguishes one-shot from recurring jobs.
type ScheduleKind string

const (
	ScheduleOneShot   ScheduleKind = "one_shot"
	ScheduleRecurring ScheduleKind = "recurring"
)

// RunStatus enumerates the lifecycle states of a job run.
type RunStatus string

const (
	RunQueued   RunStatus = "queued"
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunFailed   RunStatus = "failed"
	RunTimeout  RunStatus = "timeout"
	RunCanceled RunStatus = "canceled"
)

// Job is a schedulable unit. Recurring schedules are metadata only; an external
// caller triggers runs.
type Job struct {
	JobID        string       `json:"jobId"`
	Name         string       `json:"name"`
	ScheduleKind ScheduleKind `json:"scheduleKind"`
	ScheduleExpr string       `json:"scheduleExpr"`
	Timezone     string       `json:"timezone"`
	PayloadKind  string       `json:"payloadKind"`
	PayloadJSON  string       `json:"payloadJson"`
	Enabled      bool         `json:"enabled"`
	NextRunAt    *time.Time   `json:"nextRunAt,omitempty"`
	LastRunAt    *time.Time   `json:"lastRunAt,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// JobRun is one execution attempt of a job. IdempotencyKey is unique across
// all runs.
type JobRun struct {
	RunID          string     `json:"runId"`
	JobID          string     `json:"jobId"`
	Attempt        int        `json:"attempt"`
	IdempotencyKey string     `json:"idempotencyKey"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	Status         RunStatus  `json:"status"`
	Summary        *string    `json:"summary,omitempty"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// JobWithLatestRun is the list view of a job.
type JobWithLatestRun struct {
	Job
	LatestRun *JobRun `json:"latestRun,omitempty"`
}
