package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"pageaudit/internal/ports"
)

func (db *DB) Enqueue(ctx context.Context, auditID string) (string, error) {
	var jobID string
	err := db.Pool.QueryRow(ctx, `INSERT INTO audit_jobs (audit_id) VALUES ($1) RETURNING id`, auditID).Scan(&jobID)
	return jobID, err
}

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job ports.AuditJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id, audit_id FROM audit_jobs
		WHERE status = 'queued'
		ORDER BY queued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&job.ID, &job.AuditID)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE audit_jobs SET status = 'running', started_at = now(), attempts = attempts + 1 WHERE id = $1
	`, job.ID); err != nil {
		return job, false, err
	}
	return job, true, nil
}

func (db *DB) Checkpoint(ctx context.Context, jobID, step string) error {
	return db.updateJob(ctx, `UPDATE audit_jobs SET step = $2 WHERE id = $1`, jobID, step)
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.updateJob(ctx, `UPDATE audit_jobs SET status = 'completed', finished_at = now() WHERE id = $1`, jobID)
}

func (db *DB) MarkFailed(ctx context.Context, jobID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.updateJob(ctx, `UPDATE audit_jobs SET status = 'failed', error = $2, finished_at = now() WHERE id = $1`, jobID, reason)
}

func (db *DB) updateJob(ctx context.Context, sql, jobID string, args ...any) error {
	tag, err := db.Pool.Exec(ctx, sql, append([]any{jobID}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// StartJobForAudit marks the queued job of a specific audit as running and
// returns its id, creating a running job when none is queued.
func (db *DB) StartJobForAudit(ctx context.Context, auditID string) (jobID string, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id FROM audit_jobs
		WHERE audit_id = $1 AND status = 'queued'
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, auditID).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `
			INSERT INTO audit_jobs (audit_id, status, started_at, attempts)
			VALUES ($1, 'running', now(), 1)
			RETURNING id
		`, auditID).Scan(&jobID)
		return jobID, err
	}
	if err != nil {
		return "", err
	}
	_, err = tx.Exec(ctx, `
		UPDATE audit_jobs SET status = 'running', started_at = now(), attempts = attempts + 1 WHERE id = $1
	`, jobID)
	return jobID, err
}
