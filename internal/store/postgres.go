package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mission-control/internal/models"
)

// PostgresStore wraps pgxpool for Postgres persistence.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres and applies migrations.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	err = runMigrations(ctx, BackendPostgres, func(ctx context.Context, sql string) error {
		_, err := pool.Exec(ctx, sql)
		return err
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *PostgresStore) Backend() string                { return BackendPostgres }

func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, true, fn)
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts pgx.TxOptions, lock bool, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if err := fn(&pgTx{tx: tx, lock: lock}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx   pgx.Tx
	lock bool
}

// forUpdate locks rows read inside Update until commit.
func (t *pgTx) forUpdate(q string) string {
	if t.lock {
		return q + " FOR UPDATE"
	}
	return q
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return mapPgErr(err)
}

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// pgx decodes timestamptz in the local zone.
func inUTC(ts ...*time.Time) {
	for _, t := range ts {
		*t = t.UTC()
	}
}

func inUTCPtr(ts ...*time.Time) {
	for _, t := range ts {
		if t != nil {
			*t = t.UTC()
		}
	}
}

// --- tasks ---

const pgTaskCols = `task_id, title, description, owner_type, owner_id, status, priority, due_at, created_at, updated_at, archived_at`

func scanPgTask(row rowScanner) (models.Task, error) {
	var t models.Task
	err := row.Scan(&t.TaskID, &t.Title, &t.Description, &t.OwnerType, &t.OwnerID, &t.Status, &t.Priority, &t.DueAt, &t.CreatedAt, &t.UpdatedAt, &t.ArchivedAt)
	inUTC(&t.CreatedAt, &t.UpdatedAt)
	inUTCPtr(t.DueAt, t.ArchivedAt)
	return t, err
}

func (t *pgTx) GetTask(ctx context.Context, taskID string) (models.Task, error) {
	task, err := scanPgTask(t.tx.QueryRow(ctx, t.forUpdate(`SELECT `+pgTaskCols+` FROM tasks WHERE task_id = $1`), taskID))
	if err != nil {
		return models.Task{}, notFound(err)
	}
	return task, nil
}

func (t *pgTx) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	q := `SELECT ` + pgTaskCols + ` FROM tasks`
	var args []any
	if f.Status != "" {
		q += ` WHERE status = $1`
		args = append(args, f.Status)
	}
	q += ` ORDER BY updated_at DESC, seq DESC`
	return pgCollect(ctx, t.tx, q, args, scanPgTask)
}

func (t *pgTx) CountTasks(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

func (t *pgTx) InsertTask(ctx context.Context, task models.Task) error {
	return t.exec(ctx, `
		INSERT INTO tasks (`+pgTaskCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, task.TaskID, task.Title, task.Description, task.OwnerType, task.OwnerID, task.Status, task.Priority, task.DueAt, task.CreatedAt, task.UpdatedAt, task.ArchivedAt)
}

func (t *pgTx) PatchTask(ctx context.Context, taskID string, p TaskPatch) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tasks SET status = $2, updated_at = $3, archived_at = $4 WHERE task_id = $1
	`, taskID, p.Status, p.UpdatedAt, p.ArchivedAt)
	if err != nil {
		return fmt.Errorf("patch task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendTaskEvent(ctx context.Context, e models.TaskEvent) error {
	return t.exec(ctx, `
		INSERT INTO task_events (task_id, event_type, actor_type, actor_id, auth_source, before_json, after_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.TaskID, e.EventType, e.ActorType, e.ActorID, e.AuthSource, e.BeforeJSON, e.AfterJSON, e.CreatedAt)
}

func (t *pgTx) ListTaskEvents(ctx context.Context, taskID string) ([]models.TaskEvent, error) {
	return pgCollect(ctx, t.tx, `
		SELECT task_id, event_type, actor_type, actor_id, auth_source, before_json, after_json, created_at
		FROM task_events WHERE task_id = $1 ORDER BY seq
	`, []any{taskID}, func(row rowScanner) (models.TaskEvent, error) {
		var e models.TaskEvent
		err := row.Scan(&e.TaskID, &e.EventType, &e.ActorType, &e.ActorID, &e.AuthSource, &e.BeforeJSON, &e.AfterJSON, &e.CreatedAt)
		inUTC(&e.CreatedAt)
		return e, err
	})
}

// --- jobs ---

const pgJobCols = `job_id, name, schedule_kind, schedule_expr, timezone, payload_kind, payload_json, enabled, next_run_at, last_run_at, created_at, updated_at`

func scanPgJob(row rowScanner) (models.Job, error) {
	var j models.Job
	err := row.Scan(&j.JobID, &j.Name, &j.ScheduleKind, &j.ScheduleExpr, &j.Timezone, &j.PayloadKind, &j.PayloadJSON, &j.Enabled, &j.NextRunAt, &j.LastRunAt, &j.CreatedAt, &j.UpdatedAt)
	inUTC(&j.CreatedAt, &j.UpdatedAt)
	inUTCPtr(j.NextRunAt, j.LastRunAt)
	return j, err
}

func (t *pgTx) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	job, err := scanPgJob(t.tx.QueryRow(ctx, t.forUpdate(`SELECT `+pgJobCols+` FROM jobs WHERE job_id = $1`), jobID))
	if err != nil {
		return models.Job{}, notFound(err)
	}
	return job, nil
}

func (t *pgTx) ListJobs(ctx context.Context) ([]models.Job, error) {
	return pgCollect(ctx, t.tx, `SELECT `+pgJobCols+` FROM jobs ORDER BY updated_at DESC, seq DESC`, nil, scanPgJob)
}

func (t *pgTx) InsertJob(ctx context.Context, j models.Job) error {
	return t.exec(ctx, `
		INSERT INTO jobs (`+pgJobCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, j.JobID, j.Name, j.ScheduleKind, j.ScheduleExpr, j.Timezone, j.PayloadKind, j.PayloadJSON, j.Enabled, j.NextRunAt, j.LastRunAt, j.CreatedAt, j.UpdatedAt)
}

func (t *pgTx) PatchJob(ctx context.Context, jobID string, p JobPatch) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE jobs
		SET enabled = COALESCE($2, enabled),
		    next_run_at = COALESCE($3, next_run_at),
		    last_run_at = COALESCE($4, last_run_at),
		    updated_at = $5
		WHERE job_id = $1
	`, jobID, p.Enabled, p.NextRunAt, p.LastRunAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("patch job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const pgRunCols = `run_id, job_id, attempt, idempotency_key, started_at, ended_at, status, summary, error, created_at`

func scanPgRun(row rowScanner) (models.JobRun, error) {
	var r models.JobRun
	err := row.Scan(&r.RunID, &r.JobID, &r.Attempt, &r.IdempotencyKey, &r.StartedAt, &r.EndedAt, &r.Status, &r.Summary, &r.Error, &r.CreatedAt)
	inUTC(&r.StartedAt, &r.CreatedAt)
	inUTCPtr(r.EndedAt)
	return r, err
}

func (t *pgTx) ListJobRuns(ctx context.Context, jobID string) ([]models.JobRun, error) {
	return pgCollect(ctx, t.tx, `SELECT `+pgRunCols+` FROM job_runs WHERE job_id = $1 ORDER BY attempt, seq`, []any{jobID}, scanPgRun)
}

func (t *pgTx) MaxRunAttempt(ctx context.Context, jobID string) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(attempt), 0) FROM job_runs WHERE job_id = $1`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("max attempt: %w", err)
	}
	return n, nil
}

func (t *pgTx) FindRunByKey(ctx context.Context, key string) (models.JobRun, error) {
	run, err := scanPgRun(t.tx.QueryRow(ctx, `SELECT `+pgRunCols+` FROM job_runs WHERE idempotency_key = $1`, key))
	if err != nil {
		return models.JobRun{}, notFound(err)
	}
	return run, nil
}

func (t *pgTx) InsertJobRun(ctx context.Context, r models.JobRun) error {
	return t.exec(ctx, `
		INSERT INTO job_runs (`+pgRunCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.RunID, r.JobID, r.Attempt, r.IdempotencyKey, r.StartedAt, r.EndedAt, r.Status, r.Summary, r.Error, r.CreatedAt)
}

// --- memory ---

const pgDocCols = `doc_id, source_path, source_type, title, ingest_status, checksum, ingest_key, body, created_at, updated_at`

func scanPgDoc(row rowScanner) (models.MemoryDoc, error) {
	var d models.MemoryDoc
	err := row.Scan(&d.DocID, &d.SourcePath, &d.SourceType, &d.Title, &d.IngestStatus, &d.Checksum, &d.IngestKey, &d.Body, &d.CreatedAt, &d.UpdatedAt)
	inUTC(&d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (t *pgTx) GetMemoryDoc(ctx context.Context, docID string) (models.MemoryDoc, error) {
	d, err := scanPgDoc(t.tx.QueryRow(ctx, `SELECT `+pgDocCols+` FROM memory_docs WHERE doc_id = $1`, docID))
	if err != nil {
		return models.MemoryDoc{}, notFound(err)
	}
	return d, nil
}

func (t *pgTx) FindMemoryDocByKey(ctx context.Context, key string) (models.MemoryDoc, error) {
	d, err := scanPgDoc(t.tx.QueryRow(ctx, `SELECT `+pgDocCols+` FROM memory_docs WHERE ingest_key = $1`, key))
	if err != nil {
		return models.MemoryDoc{}, notFound(err)
	}
	return d, nil
}

func (t *pgTx) ListMemoryDocs(ctx context.Context) ([]models.MemoryDoc, error) {
	return pgCollect(ctx, t.tx, `SELECT `+pgDocCols+` FROM memory_docs ORDER BY seq`, nil, scanPgDoc)
}

func (t *pgTx) InsertMemoryDoc(ctx context.Context, d models.MemoryDoc) error {
	return t.exec(ctx, `
		INSERT INTO memory_docs (`+pgDocCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.DocID, d.SourcePath, d.SourceType, d.Title, d.IngestStatus, d.Checksum, d.IngestKey, d.Body, d.CreatedAt, d.UpdatedAt)
}

func (t *pgTx) InsertMemoryChunks(ctx context.Context, chunks []models.MemoryChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO memory_chunks (chunk_id, doc_id, chunk_index, text, token_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ChunkID, c.DocID, c.ChunkIndex, c.Text, c.TokenCount, c.CreatedAt)
	}
	return mapPgErr(t.tx.SendBatch(ctx, batch).Close())
}

func (t *pgTx) ListMemoryChunks(ctx context.Context, docID string) ([]models.MemoryChunk, error) {
	q := `SELECT chunk_id, doc_id, chunk_index, text, token_count, created_at FROM memory_chunks`
	var args []any
	if docID != "" {
		q += ` WHERE doc_id = $1`
		args = append(args, docID)
	}
	q += ` ORDER BY seq`
	return pgCollect(ctx, t.tx, q, args, func(row rowScanner) (models.MemoryChunk, error) {
		var c models.MemoryChunk
		err := row.Scan(&c.ChunkID, &c.DocID, &c.ChunkIndex, &c.Text, &c.TokenCount, &c.CreatedAt)
		inUTC(&c.CreatedAt)
		return c, err
	})
}

// --- activity ---

const pgActivityCols = `activity_id, entity_type, entity_id, action, actor_type, actor_id, auth_source, metadata_json, created_at`

func (t *pgTx) AppendActivity(ctx context.Context, a models.ActivityItem) error {
	return t.exec(ctx, `
		INSERT INTO activity_log (`+pgActivityCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ActivityID, a.EntityType, a.EntityID, a.Action, a.ActorType, a.ActorID, a.AuthSource, a.MetadataJSON, a.CreatedAt)
}

func (t *pgTx) ListActivity(ctx context.Context, f ActivityFilter) ([]models.ActivityItem, error) {
	var (
		where []string
		args  []any
	)
	if f.EntityType != "" {
		args = append(args, f.EntityType)
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	q := `SELECT ` + pgActivityCols + ` FROM activity_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return pgCollect(ctx, t.tx, q, args, func(row rowScanner) (models.ActivityItem, error) {
		var a models.ActivityItem
		err := row.Scan(&a.ActivityID, &a.EntityType, &a.EntityID, &a.Action, &a.ActorType, &a.ActorID, &a.AuthSource, &a.MetadataJSON, &a.CreatedAt)
		inUTC(&a.CreatedAt)
		return a, err
	})
}

func pgCollect[T any](ctx context.Context, tx pgx.Tx, q string, args []any, scan func(rowScanner) (T, error)) ([]T, error) {
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
