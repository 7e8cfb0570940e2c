package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"mission-control/internal/models"
)

// SQLiteStore persists to a single SQLite file. Writes are serialized on one
// connection.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if needed) the database at path and applies
// migrations.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	err = runMigrations(ctx, BackendSQLite, func(ctx context.Context, q string) error {
		_, err := db.ExecContext(ctx, q)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Close() error                   { return s.db.Close() }
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Backend() string                { return BackendSQLite }

func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, nil, fn)
}

func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *SQLiteStore) run(ctx context.Context, opts *sql.TxOptions, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&liteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type liteTx struct {
	tx *sql.Tx
}

func (t *liteTx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, mapLiteErr(err)
	}
	return res, nil
}

func mapLiteErr(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && (se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
		return fmt.Errorf("%w: %s", ErrDuplicate, se.Error())
	}
	return err
}

func liteNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Timestamps are stored as unix nanoseconds.

func nanos(t time.Time) int64 { return t.UnixNano() }

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// --- tasks ---

const liteTaskCols = `task_id, title, description, owner_type, owner_id, status, priority, due_at, created_at, updated_at, archived_at`

func scanLiteTask(row rowScanner) (models.Task, error) {
	var (
		t                 models.Task
		created, updated  int64
		dueAt, archivedAt sql.NullInt64
	)
	if err := row.Scan(&t.TaskID, &t.Title, &t.Description, &t.OwnerType, &t.OwnerID, &t.Status, &t.Priority, &dueAt, &created, &updated, &archivedAt); err != nil {
		return models.Task{}, err
	}
	t.DueAt = fromNullNanos(dueAt)
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	t.ArchivedAt = fromNullNanos(archivedAt)
	return t, nil
}

func (t *liteTx) GetTask(ctx context.Context, taskID string) (models.Task, error) {
	task, err := scanLiteTask(t.tx.QueryRowContext(ctx, `SELECT `+liteTaskCols+` FROM tasks WHERE task_id = ?`, taskID))
	if err != nil {
		return models.Task{}, liteNotFound(err)
	}
	return task, nil
}

func (t *liteTx) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	q := `SELECT ` + liteTaskCols + ` FROM tasks`
	var args []any
	if f.Status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY updated_at DESC, seq DESC`
	return liteCollect(ctx, t.tx, q, args, scanLiteTask)
}

func (t *liteTx) CountTasks(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

func (t *liteTx) InsertTask(ctx context.Context, task models.Task) error {
	_, err := t.exec(ctx, `INSERT INTO tasks (`+liteTaskCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.Title, task.Description, string(task.OwnerType), task.OwnerID, string(task.Status), string(task.Priority),
		nullNanos(task.DueAt), nanos(task.CreatedAt), nanos(task.UpdatedAt), nullNanos(task.ArchivedAt))
	return err
}

func (t *liteTx) PatchTask(ctx context.Context, taskID string, p TaskPatch) error {
	res, err := t.exec(ctx, `UPDATE tasks SET status = ?, updated_at = ?, archived_at = ? WHERE task_id = ?`,
		string(p.Status), nanos(p.UpdatedAt), nullNanos(p.ArchivedAt), taskID)
	if err != nil {
		return fmt.Errorf("patch task: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *liteTx) AppendTaskEvent(ctx context.Context, e models.TaskEvent) error {
	_, err := t.exec(ctx, `
		INSERT INTO task_events (task_id, event_type, actor_type, actor_id, auth_source, before_json, after_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.EventType, string(e.ActorType), e.ActorID, string(e.AuthSource), e.BeforeJSON, e.AfterJSON, nanos(e.CreatedAt))
	return err
}

func (t *liteTx) ListTaskEvents(ctx context.Context, taskID string) ([]models.TaskEvent, error) {
	return liteCollect(ctx, t.tx, `
		SELECT task_id, event_type, actor_type, actor_id, auth_source, before_json, after_json, created_at
		FROM task_events WHERE task_id = ? ORDER BY seq`, []any{taskID},
		func(row rowScanner) (models.TaskEvent, error) {
			var (
				e       models.TaskEvent
				created int64
			)
			err := row.Scan(&e.TaskID, &e.EventType, &e.ActorType, &e.ActorID, &e.AuthSource, &e.BeforeJSON, &e.AfterJSON, &created)
			e.CreatedAt = fromNanos(created)
			return e, err
		})
}

// --- jobs ---

const liteJobCols = `job_id, name, schedule_kind, schedule_expr, timezone, payload_kind, payload_json, enabled, next_run_at, last_run_at, created_at, updated_at`

func scanLiteJob(row rowScanner) (models.Job, error) {
	var (
		j                models.Job
		next, last       sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&j.JobID, &j.Name, &j.ScheduleKind, &j.ScheduleExpr, &j.Timezone, &j.PayloadKind, &j.PayloadJSON, &j.Enabled, &next, &last, &created, &updated); err != nil {
		return models.Job{}, err
	}
	j.NextRunAt = fromNullNanos(next)
	j.LastRunAt = fromNullNanos(last)
	j.CreatedAt = fromNanos(created)
	j.UpdatedAt = fromNanos(updated)
	return j, nil
}

func (t *liteTx) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	job, err := scanLiteJob(t.tx.QueryRowContext(ctx, `SELECT `+liteJobCols+` FROM jobs WHERE job_id = ?`, jobID))
	if err != nil {
		return models.Job{}, liteNotFound(err)
	}
	return job, nil
}

func (t *liteTx) ListJobs(ctx context.Context) ([]models.Job, error) {
	return liteCollect(ctx, t.tx, `SELECT `+liteJobCols+` FROM jobs ORDER BY updated_at DESC, seq DESC`, nil, scanLiteJob)
}

func (t *liteTx) InsertJob(ctx context.Context, j models.Job) error {
	_, err := t.exec(ctx, `INSERT INTO jobs (`+liteJobCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.JobID, j.Name, string(j.ScheduleKind), j.ScheduleExpr, j.Timezone, j.PayloadKind, j.PayloadJSON, j.Enabled,
		nullNanos(j.NextRunAt), nullNanos(j.LastRunAt), nanos(j.CreatedAt), nanos(j.UpdatedAt))
	return err
}

func (t *liteTx) PatchJob(ctx context.Context, jobID string, p JobPatch) error {
	var enabled any
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	res, err := t.exec(ctx, `
		UPDATE jobs
		SET enabled = COALESCE(?, enabled),
		    next_run_at = COALESCE(?, next_run_at),
		    last_run_at = COALESCE(?, last_run_at),
		    updated_at = ?
		WHERE job_id = ?`,
		enabled, nullNanos(p.NextRunAt), nullNanos(p.LastRunAt), nanos(p.UpdatedAt), jobID)
	if err != nil {
		return fmt.Errorf("patch job: %w", err)
	}
	return requireRow(res)
}

const liteRunCols = `run_id, job_id, attempt, idempotency_key, started_at, ended_at, status, summary, error, created_at`

func scanLiteRun(row rowScanner) (models.JobRun, error) {
	var (
		r                models.JobRun
		started, created int64
		ended            sql.NullInt64
	)
	if err := row.Scan(&r.RunID, &r.JobID, &r.Attempt, &r.IdempotencyKey, &started, &ended, &r.Status, &r.Summary, &r.Error, &created); err != nil {
		return models.JobRun{}, err
	}
	r.StartedAt = fromNanos(started)
	r.EndedAt = fromNullNanos(ended)
	r.CreatedAt = fromNanos(created)
	return r, nil
}

func (t *liteTx) ListJobRuns(ctx context.Context, jobID string) ([]models.JobRun, error) {
	return liteCollect(ctx, t.tx, `SELECT `+liteRunCols+` FROM job_runs WHERE job_id = ? ORDER BY attempt, seq`, []any{jobID}, scanLiteRun)
}

func (t *liteTx) MaxRunAttempt(ctx context.Context, jobID string) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(attempt), 0) FROM job_runs WHERE job_id = ?`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("max attempt: %w", err)
	}
	return n, nil
}

func (t *liteTx) FindRunByKey(ctx context.Context, key string) (models.JobRun, error) {
	run, err := scanLiteRun(t.tx.QueryRowContext(ctx, `SELECT `+liteRunCols+` FROM job_runs WHERE idempotency_key = ?`, key))
	if err != nil {
		return models.JobRun{}, liteNotFound(err)
	}
	return run, nil
}

func (t *liteTx) InsertJobRun(ctx context.Context, r models.JobRun) error {
	_, err := t.exec(ctx, `INSERT INTO job_runs (`+liteRunCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.JobID, r.Attempt, r.IdempotencyKey, nanos(r.StartedAt), nullNanos(r.EndedAt), string(r.Status), r.Summary, r.Error, nanos(r.CreatedAt))
	return err
}

// --- memory ---

const liteDocCols = `doc_id, source_path, source_type, title, ingest_status, checksum, ingest_key, body, created_at, updated_at`

func scanLiteDoc(row rowScanner) (models.MemoryDoc, error) {
	var (
		d                models.MemoryDoc
		created, updated int64
	)
	if err := row.Scan(&d.DocID, &d.SourcePath, &d.SourceType, &d.Title, &d.IngestStatus, &d.Checksum, &d.IngestKey, &d.Body, &created, &updated); err != nil {
		return models.MemoryDoc{}, err
	}
	d.CreatedAt = fromNanos(created)
	d.UpdatedAt = fromNanos(updated)
	return d, nil
}

func (t *liteTx) GetMemoryDoc(ctx context.Context, docID string) (models.MemoryDoc, error) {
	d, err := scanLiteDoc(t.tx.QueryRowContext(ctx, `SELECT `+liteDocCols+` FROM memory_docs WHERE doc_id = ?`, docID))
	if err != nil {
		return models.MemoryDoc{}, liteNotFound(err)
	}
	return d, nil
}

func (t *liteTx) FindMemoryDocByKey(ctx context.Context, key string) (models.MemoryDoc, error) {
	d, err := scanLiteDoc(t.tx.QueryRowContext(ctx, `SELECT `+liteDocCols+` FROM memory_docs WHERE ingest_key = ?`, key))
	if err != nil {
		return models.MemoryDoc{}, liteNotFound(err)
	}
	return d, nil
}

func (t *liteTx) ListMemoryDocs(ctx context.Context) ([]models.MemoryDoc, error) {
	return liteCollect(ctx, t.tx, `SELECT `+liteDocCols+` FROM memory_docs ORDER BY seq`, nil, scanLiteDoc)
}

func (t *liteTx) InsertMemoryDoc(ctx context.Context, d models.MemoryDoc) error {
	_, err := t.exec(ctx, `INSERT INTO memory_docs (`+liteDocCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DocID, d.SourcePath, d.SourceType, d.Title, string(d.IngestStatus), d.Checksum, d.IngestKey, d.Body, nanos(d.CreatedAt), nanos(d.UpdatedAt))
	return err
}

func (t *liteTx) InsertMemoryChunks(ctx context.Context, chunks []models.MemoryChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO memory_chunks (chunk_id, doc_id, chunk_index, text, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.DocID, c.ChunkIndex, c.Text, c.TokenCount, nanos(c.CreatedAt)); err != nil {
			return mapLiteErr(err)
		}
	}
	return nil
}

func (t *liteTx) ListMemoryChunks(ctx context.Context, docID string) ([]models.MemoryChunk, error) {
	q := `SELECT chunk_id, doc_id, chunk_index, text, token_count, created_at FROM memory_chunks`
	var args []any
	if docID != "" {
		q += ` WHERE doc_id = ?`
		args = append(args, docID)
	}
	q += ` ORDER BY seq`
	return liteCollect(ctx, t.tx, q, args, func(row rowScanner) (models.MemoryChunk, error) {
		var (
			c       models.MemoryChunk
			created int64
		)
		err := row.Scan(&c.ChunkID, &c.DocID, &c.ChunkIndex, &c.Text, &c.TokenCount, &created)
		c.CreatedAt = fromNanos(created)
		return c, err
	})
}

// --- activity ---

const liteActivityCols = `activity_id, entity_type, entity_id, action, actor_type, actor_id, auth_source, metadata_json, created_at`

func (t *liteTx) AppendActivity(ctx context.Context, a models.ActivityItem) error {
	_, err := t.exec(ctx, `INSERT INTO activity_log (`+liteActivityCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ActivityID, a.EntityType, a.EntityID, a.Action, string(a.ActorType), a.ActorID, string(a.AuthSource), a.MetadataJSON, nanos(a.CreatedAt))
	return err
}

func (t *liteTx) ListActivity(ctx context.Context, f ActivityFilter) ([]models.ActivityItem, error) {
	var (
		where []string
		args  []any
	)
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	q := `SELECT ` + liteActivityCols + ` FROM activity_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return liteCollect(ctx, t.tx, q, args, func(row rowScanner) (models.ActivityItem, error) {
		var (
			a       models.ActivityItem
			created int64
		)
		err := row.Scan(&a.ActivityID, &a.EntityType, &a.EntityID, &a.Action, &a.ActorType, &a.ActorID, &a.AuthSource, &a.MetadataJSON, &created)
		a.CreatedAt = fromNanos(created)
		return a, err
	})
}

func liteCollect[T any](ctx context.Context, tx *sql.Tx, q string, args []any, scan func(rowScanner) (T, error)) ([]T, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
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
