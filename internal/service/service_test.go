package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mission-control/internal/models"
	"mission-control/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var operator = models.Actor{ActorType: models.OwnerUser, ActorID: "local_operator", AuthSource: models.AuthInternalSystem}

type harness struct {
	svc   *Service
	store store.Store
	clock *fakeClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, store.NewMemory(), opts...)
}

func newHarnessWith(t *testing.T, st store.Store, opts ...Option) *harness {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &harness{svc: New(st, zerolog.Nop(), opts...), store: st, clock: clock}
}

// eachBackend runs fn against the in-memory and SQLite stores.
func eachBackend(t *testing.T, fn func(t *testing.T, h *harness)) {
	t.Run("memory", func(t *testing.T) { fn(t, newHarness(t)) })
	t.Run("sqlite", func(t *testing.T) {
		st, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "mc.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		fn(t, newHarnessWith(t, st))
	})
}

func (h *harness) activity(t *testing.T, f ActivityFilter) []models.ActivityItem {
	t.Helper()
	items, err := h.svc.ListActivity(context.Background(), f)
	require.NoError(t, err)
	return items
}

func decodeMetadata(t *testing.T, item models.ActivityItem) map[string]any {
	t.Helper()
	require.NotNil(t, item.MetadataJSON)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(*item.MetadataJSON), &out))
	return out
}

func createTask(t *testing.T, h *harness, status models.TaskStatus) models.Task {
	t.Helper()
	task, err := h.svc.CreateTask(context.Background(), operator, CreateTaskInput{
		Title:     "Ship the board",
		OwnerType: models.OwnerUser,
		OwnerID:   "thupten",
		Priority:  models.PriorityHigh,
		Status:    status,
	})
	require.NoError(t, err)
	return task
}

func createJob(t *testing.T, h *harness) models.Job {
	t.Helper()
	job, err := h.svc.CreateJob(context.Background(), operator, CreateJobInput{
		Name:         "Daily memory refresh",
		ScheduleKind: models.ScheduleRecurring,
		ScheduleExpr: "0 9 * * 1-5",
		Timezone:     "America/Chicago",
		PayloadKind:  "memory.sync",
		PayloadJSON:  `{"target":"daily_memory"}`,
	})
	require.NoError(t, err)
	return job
}
