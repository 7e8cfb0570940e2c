package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"

	"mission-control/internal/models"
)

// MemoryStore is an in-memory arena keyed by entity id. It serializes all
// updates and rolls back by discarding a working copy on error. Each instance
// is independent; tests build one per case.
type MemoryStore struct {
	mu    sync.RWMutex
	state *arena
}

type seqTask struct {
	seq int64
	models.Task
}

type seqJob struct {
	seq int64
	models.Job
}

type seqDoc struct {
	seq int64
	models.MemoryDoc
}

type seqActivity struct {
	seq int64
	models.ActivityItem
}

type arena struct {
	seq        int64
	tasks      map[string]seqTask
	taskEvents []models.TaskEvent
	jobs       map[string]seqJob
	runs       []models.JobRun
	runKeys    map[string]int
	docs       map[string]seqDoc
	docKeys    map[string]string
	chunks     []models.MemoryChunk
	activity   []seqActivity
}

func newArena() *arena {
	return &arena{
		tasks:   make(map[string]seqTask),
		jobs:    make(map[string]seqJob),
		runKeys: make(map[string]int),
		docs:    make(map[string]seqDoc),
		docKeys: make(map[string]string),
	}
}

// clone copies the collections. Rows are values, so a shallow copy of each
// container is enough to isolate a working copy.
func (a *arena) clone() *arena {
	return &arena{
		seq:        a.seq,
		tasks:      maps.Clone(a.tasks),
		taskEvents: slices.Clone(a.taskEvents),
		jobs:       maps.Clone(a.jobs),
		runs:       slices.Clone(a.runs),
		runKeys:    maps.Clone(a.runKeys),
		docs:       maps.Clone(a.docs),
		docKeys:    maps.Clone(a.docKeys),
		chunks:     slices.Clone(a.chunks),
		activity:   slices.Clone(a.activity),
	}
}

func (a *arena) next() int64 {
	a.seq++
	return a.seq
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{state: newArena()}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{a: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{a: s.state, readOnly: true})
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
func (s *MemoryStore) Backend() string            { return BackendMemory }

type memTx struct {
	a        *arena
	readOnly bool
}

var errReadOnly = errors.New("store: write in read-only view")

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

// --- tasks ---

func (t *memTx) GetTask(_ context.Context, taskID string) (models.Task, error) {
	row, ok := t.a.tasks[taskID]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return row.Task, nil
}

func (t *memTx) ListTasks(_ context.Context, f TaskFilter) ([]models.Task, error) {
	rows := make([]seqTask, 0, len(t.a.tasks))
	for _, row := range t.a.tasks {
		if f.Status != "" && row.Status != f.Status {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	out := make([]models.Task, len(rows))
	for i, row := range rows {
		out[i] = row.Task
	}
	return out, nil
}

func (t *memTx) CountTasks(context.Context) (int, error) {
	return len(t.a.tasks), nil
}

func (t *memTx) InsertTask(_ context.Context, task models.Task) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.a.tasks[task.TaskID]; ok {
		return ErrDuplicate
	}
	t.a.tasks[task.TaskID] = seqTask{seq: t.a.next(), Task: task}
	return nil
}

func (t *memTx) PatchTask(_ context.Context, taskID string, p TaskPatch) error {
	if err := t.writable(); err != nil {
		return err
	}
	row, ok := t.a.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	row.Status = p.Status
	row.UpdatedAt = p.UpdatedAt
	row.ArchivedAt = p.ArchivedAt
	t.a.tasks[taskID] = row
	return nil
}

func (t *memTx) AppendTaskEvent(_ context.Context, e models.TaskEvent) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.a.next()
	t.a.taskEvents = append(t.a.taskEvents, e)
	return nil
}

func (t *memTx) ListTaskEvents(_ context.Context, taskID string) ([]models.TaskEvent, error) {
	var out []models.TaskEvent
	for _, e := range t.a.taskEvents {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- jobs ---

func (t *memTx) GetJob(_ context.Context, jobID string) (models.Job, error) {
	row, ok := t.a.jobs[jobID]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return row.Job, nil
}

func (t *memTx) ListJobs(context.Context) ([]models.Job, error) {
	rows := make([]seqJob, 0, len(t.a.jobs))
	for _, row := range t.a.jobs {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	out := make([]models.Job, len(rows))
	for i, row := range rows {
		out[i] = row.Job
	}
	return out, nil
}

func (t *memTx) InsertJob(_ context.Context, j models.Job) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.a.jobs[j.JobID]; ok {
		return ErrDuplicate
	}
	t.a.jobs[j.JobID] = seqJob{seq: t.a.next(), Job: j}
	return nil
}

func (t *memTx) PatchJob(_ context.Context, jobID string, p JobPatch) error {
	if err := t.writable(); err != nil {
		return err
	}
	row, ok := t.a.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if p.Enabled != nil {
		row.Enabled = *p.Enabled
	}
	if p.NextRunAt != nil {
		row.NextRunAt = p.NextRunAt
	}
	if p.LastRunAt != nil {
		row.LastRunAt = p.LastRunAt
	}
	row.UpdatedAt = p.UpdatedAt
	t.a.jobs[jobID] = row
	return nil
}

func (t *memTx) ListJobRuns(_ context.Context, jobID string) ([]models.JobRun, error) {
	var out []models.JobRun
	for _, r := range t.a.runs {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (t *memTx) MaxRunAttempt(_ context.Context, jobID string) (int, error) {
	highest := 0
	for _, r := range t.a.runs {
		if r.JobID == jobID && r.Attempt > highest {
			highest = r.Attempt
		}
	}
	return highest, nil
}

func (t *memTx) FindRunByKey(_ context.Context, key string) (models.JobRun, error) {
	idx, ok := t.a.runKeys[key]
	if !ok {
		return models.JobRun{}, ErrNotFound
	}
	return t.a.runs[idx], nil
}

func (t *memTx) InsertJobRun(_ context.Context, r models.JobRun) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.a.runKeys[r.IdempotencyKey]; ok {
		return ErrDuplicate
	}
	t.a.next()
	t.a.runKeys[r.IdempotencyKey] = len(t.a.runs)
	t.a.runs = append(t.a.runs, r)
	return nil
}

// --- memory ---

func (t *memTx) GetMemoryDoc(_ context.Context, docID string) (models.MemoryDoc, error) {
	row, ok := t.a.docs[docID]
	if !ok {
		return models.MemoryDoc{}, ErrNotFound
	}
	return row.MemoryDoc, nil
}

func (t *memTx) FindMemoryDocByKey(ctx context.Context, key string) (models.MemoryDoc, error) {
	docID, ok := t.a.docKeys[key]
	if !ok {
		return models.MemoryDoc{}, ErrNotFound
	}
	return t.GetMemoryDoc(ctx, docID)
}

func (t *memTx) ListMemoryDocs(context.Context) ([]models.MemoryDoc, error) {
	rows := make([]seqDoc, 0, len(t.a.docs))
	for _, row := range t.a.docs {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]models.MemoryDoc, len(rows))
	for i, row := range rows {
		out[i] = row.MemoryDoc
	}
	return out, nil
}

func (t *memTx) InsertMemoryDoc(_ context.Context, d models.MemoryDoc) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.a.docKeys[d.IngestKey]; ok {
		return ErrDuplicate
	}
	if _, ok := t.a.docs[d.DocID]; ok {
		return ErrDuplicate
	}
	t.a.docs[d.DocID] = seqDoc{seq: t.a.next(), MemoryDoc: d}
	t.a.docKeys[d.IngestKey] = d.DocID
	return nil
}

func (t *memTx) InsertMemoryChunks(_ context.Context, chunks []models.MemoryChunk) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, c := range chunks {
		t.a.next()
		t.a.chunks = append(t.a.chunks, c)
	}
	return nil
}

func (t *memTx) ListMemoryChunks(_ context.Context, docID string) ([]models.MemoryChunk, error) {
	if docID == "" {
		return slices.Clone(t.a.chunks), nil
	}
	var out []models.MemoryChunk
	for _, c := range t.a.chunks {
		if c.DocID == docID {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- activity ---

func (t *memTx) AppendActivity(_ context.Context, item models.ActivityItem) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.a.activity = append(t.a.activity, seqActivity{seq: t.a.next(), ActivityItem: item})
	return nil
}

func (t *memTx) ListActivity(_ context.Context, f ActivityFilter) ([]models.ActivityItem, error) {
	rows := make([]seqActivity, 0, len(t.a.activity))
	for _, row := range t.a.activity {
		if f.EntityType != "" && row.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && row.EntityID != f.EntityID {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	out := make([]models.ActivityItem, len(rows))
	for i, row := range rows {
		out[i] = row.ActivityItem
	}
	return out, nil
}
