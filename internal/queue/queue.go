// Package queue implements the durable FIFO-with-priority job store and the
// worker pool that drains it. Coordination between pollers happens entirely
// through the atomicity of the claim statement; no in-memory state is shared.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/garnizeh/orchestrator/internal/db"
	"github.com/garnizeh/orchestrator/internal/models"
)

// Queue is the durable job store backed by the job_queue table.
type Queue struct {
	db     *db.DB
	logger *slog.Logger

	// Backoff computes the retry delay after attempt n. Overridable so tests
	// can retry immediately.
	Backoff func(attempt int) time.Duration

	// MaxAttempts is the retry budget for jobs enqueued without
	// WithMaxAttempts.
	MaxAttempts int
}

func New(d *db.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: d, logger: logger, Backoff: BackoffDuration, MaxAttempts: 3}
}

// EnqueueOption customizes a job at insert time.
type EnqueueOption func(*models.Job)

// WithPriority sets the job priority; higher runs first.
func WithPriority(p int) EnqueueOption {
	return func(j *models.Job) { j.Priority = p }
}

// WithScheduledAt delays the job until t.
func WithScheduledAt(t time.Time) EnqueueOption {
	return func(j *models.Job) { j.ScheduledAt = t }
}

// WithMaxAttempts overrides the default retry budget.
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *models.Job) { j.MaxAttempts = n }
}

// Enqueue inserts a pending job and returns its id. It never blocks on the
// state of other jobs.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	j := &models.Job{
		ID:          id.String(),
		Type:        jobType,
		Payload:     b,
		MaxAttempts: q.MaxAttempts,
		ScheduledAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 3
	}

	now := time.Now().UTC().UnixMilli()
	const insert = `INSERT INTO job_queue(id, job_type, payload, status, priority, attempts, max_attempts, scheduled_at, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?,?,?)`
	if _, err := q.db.Exec(ctx, insert, j.ID, j.Type, string(j.Payload), models.JobPending, j.Priority, 0, j.MaxAttempts, j.ScheduledAt.UnixMilli(), now, now); err != nil {
		return "", fmt.Errorf("enqueue failed: %w", err)
	}

	q.logger.Info("job enqueued", "job_id", j.ID, "job_type", jobType, "priority", j.Priority)
	return j.ID, nil
}

const jobColumns = `id, job_type, payload, status, priority, attempts, max_attempts, scheduled_at, started_at, completed_at, error, result, created_at, updated_at`

// ClaimNext atomically claims the best eligible job: highest priority first,
// ties broken by earliest scheduled_at. Selection and the flip to running
// (attempts+1, started_at) are a single UPDATE over a subselect, so two
// concurrent pollers can never claim the same row. Returns (nil, nil) when
// nothing is eligible.
func (q *Queue) ClaimNext(ctx context.Context) (*models.Job, error) {
	now := time.Now().UTC().UnixMilli()
	const claim = `
		UPDATE job_queue
		SET status = 'running', attempts = attempts + 1, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM job_queue
			WHERE status = 'pending' AND scheduled_at <= ? AND attempts < max_attempts
			ORDER BY priority DESC, scheduled_at ASC, created_at ASC
			LIMIT 1
		)
		RETURNING ` + jobColumns

	row := q.db.QueryRow(ctx, claim, now, now, now)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return j, nil
}

// Complete marks a running job done and stores its result. Completing a job
// that is no longer running is a no-op, so duplicate completions after a
// crash-recovery re-run cannot corrupt a terminal record.
func (q *Queue) Complete(ctx context.Context, id string, result any) error {
	var resultJSON any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = string(b)
	}

	now := time.Now().UTC().UnixMilli()
	res, err := q.db.Exec(ctx, `UPDATE job_queue SET status = 'done', result = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = 'running'`, resultJSON, now, now, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		q.logger.Warn("complete on non-running job ignored", "job_id", id)
	}
	return nil
}

// Fail records a failed attempt. When the retry budget is exhausted the job
// becomes terminally failed; otherwise it returns to pending with its
// scheduled_at pushed forward by exponential backoff so an outage in a
// collaborator does not produce a tight claim/fail loop.
func (q *Queue) Fail(ctx context.Context, id string, jobErr string) error {
	tx, err := q.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts, maxAttempts int
	row := tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM job_queue WHERE id = ?`, id)
	if err := row.Scan(&attempts, &maxAttempts); err != nil {
		return fmt.Errorf("read job %s for fail: %w", id, err)
	}

	now := time.Now().UTC()
	if attempts >= maxAttempts {
		if _, err := tx.ExecContext(ctx, `UPDATE job_queue SET status = 'failed', error = ?, completed_at = ?, updated_at = ? WHERE id = ?`, jobErr, now.UnixMilli(), now.UnixMilli(), id); err != nil {
			return fmt.Errorf("mark job %s failed: %w", id, err)
		}
		q.logger.Warn("job permanently failed", "job_id", id, "attempts", attempts, "err", jobErr)
	} else {
		retryAt := now.Add(q.Backoff(attempts)).UnixMilli()
		if _, err := tx.ExecContext(ctx, `UPDATE job_queue SET status = 'pending', error = ?, completed_at = ?, scheduled_at = ?, updated_at = ? WHERE id = ?`, jobErr, now.UnixMilli(), retryAt, now.UnixMilli(), id); err != nil {
			return fmt.Errorf("requeue job %s: %w", id, err)
		}
		q.logger.Warn("job failed, will retry", "job_id", id, "attempts", attempts, "max_attempts", maxAttempts, "err", jobErr)
	}

	return tx.Commit()
}

// FailPermanently terminates a job regardless of remaining attempts. Used for
// configuration errors (no registered handler) where retrying cannot help.
func (q *Queue) FailPermanently(ctx context.Context, id string, jobErr string) error {
	now := time.Now().UTC().UnixMilli()
	if _, err := q.db.Exec(ctx, `UPDATE job_queue SET status = 'failed', error = ?, completed_at = ?, updated_at = ? WHERE id = ?`, jobErr, now, now, id); err != nil {
		return fmt.Errorf("fail job %s permanently: %w", id, err)
	}
	q.logger.Error("job failed permanently", "job_id", id, "err", jobErr)
	return nil
}

// Get returns a job by id, or nil when absent.
func (q *Queue) Get(ctx context.Context, id string) (*models.Job, error) {
	row := q.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_queue WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// List returns jobs filtered by status ("" for all), newest first.
func (q *Queue) List(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM job_queue`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.Job, error) {
	var (
		j           models.Job
		payload     sql.NullString
		status      string
		scheduledAt int64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
		jobErr      sql.NullString
		result      sql.NullString
		created     int64
		updated     int64
	)
	if err := s.Scan(&j.ID, &j.Type, &payload, &status, &j.Priority, &j.Attempts, &j.MaxAttempts, &scheduledAt, &startedAt, &completedAt, &jobErr, &result, &created, &updated); err != nil {
		return nil, err
	}

	j.Status = models.JobStatus(status)
	j.ScheduledAt = time.UnixMilli(scheduledAt).UTC()
	j.Created = time.UnixMilli(created).UTC()
	j.Updated = time.UnixMilli(updated).UTC()
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		j.CompletedAt = &t
	}
	if jobErr.Valid {
		j.Error = jobErr.String
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	return &j, nil
}

// BackoffDuration returns exponential backoff duration for attempt n
func BackoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	// simple exponential: base 2^attempt seconds, capped
	d := time.Duration(1<<uint(attempt)) * time.Second
	max := 5 * time.Minute
	if d > max {
		return max
	}
	return d
}
