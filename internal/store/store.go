// Package store is the persistence collaborator for the mission-control core.
// Every backend exposes the same typed collections behind Tx; all writes made
// inside one Update commit or roll back together.
package store

import (
	"context"
	"errors"
	"time"

	"mission-control/internal/models"
)

var (
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique key
	// (run idempotency key, memory ingest key).
	ErrDuplicate = errors.New("duplicate key")
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Store runs units of work against one backend.
type Store interface {
	// Update runs fn in a read-write transaction. Rows read through Tx inside
	// Update are held until it returns, so concurrent updates of the same
	// entity are serialized.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn against a consistent read-only view.
	View(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
	Backend() string
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status models.TaskStatus
}

// ActivityFilter narrows ListActivity. Zero values match everything.
type ActivityFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

// TaskPatch carries the fields a transition may change. ArchivedAt is written
// as given, including nil.
type TaskPatch struct {
	Status     models.TaskStatus
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

// JobPatch carries the mutable job fields. Nil pointers leave the stored value
// unchanged.
type JobPatch struct {
	Enabled   *bool
	NextRunAt *time.Time
	LastRunAt *time.Time
	UpdatedAt time.Time
}

// Tx is the set of collection operations available inside a unit of work.
type Tx interface {
	GetTask(ctx context.Context, taskID string) (models.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error)
	CountTasks(ctx context.Context) (int, error)
	InsertTask(ctx context.Context, t models.Task) error
	PatchTask(ctx context.Context, taskID string, p TaskPatch) error
	AppendTaskEvent(ctx context.Context, e models.TaskEvent) error
	ListTaskEvents(ctx context.Context, taskID string) ([]models.TaskEvent, error)

	GetJob(ctx context.Context, jobID string) (models.Job, error)
	ListJobs(ctx context.Context) ([]models.Job, error)
	InsertJob(ctx context.Context, j models.Job) error
	PatchJob(ctx context.Context, jobID string, p JobPatch) error

	// ListJobRuns returns a job's runs ordered by attempt ascending.
	ListJobRuns(ctx context.Context, jobID string) ([]models.JobRun, error)
	MaxRunAttempt(ctx context.Context, jobID string) (int, error)
	FindRunByKey(ctx context.Context, idempotencyKey string) (models.JobRun, error)
	InsertJobRun(ctx context.Context, r models.JobRun) error

	GetMemoryDoc(ctx context.Context, docID string) (models.MemoryDoc, error)
	FindMemoryDocByKey(ctx context.Context, ingestKey string) (models.MemoryDoc, error)
	ListMemoryDocs(ctx context.Context) ([]models.MemoryDoc, error)
	InsertMemoryDoc(ctx context.Context, d models.MemoryDoc) error
	InsertMemoryChunks(ctx context.Context, chunks []models.MemoryChunk) error
	// ListMemoryChunks returns chunks in insertion order; an empty docID
	// returns every chunk.
	ListMemoryChunks(ctx context.Context, docID string) ([]models.MemoryChunk, error)

	AppendActivity(ctx context.Context, a models.ActivityItem) error
	// ListActivity returns newest first; equal createdAt values are ordered by
	// insertion sequence, newest first.
	ListActivity(ctx context.Context, f ActivityFilter) ([]models.ActivityItem, error)
}
