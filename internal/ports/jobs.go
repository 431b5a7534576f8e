package ports

import "context"

type AuditJob struct {
	ID      string
	AuditID string
}

// JobRepository supports claiming and updating audit jobs.
type JobRepository interface {
	Enqueue(ctx context.Context, auditID string) (jobID string, err error)
	ClaimNext(ctx context.Context) (job AuditJob, found bool, err error)
	// Checkpoint records the last pipeline step finished for a job.
	Checkpoint(ctx context.Context, jobID string, step string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	// StartJobForAudit claims the audit's queued job for inline processing,
	// creating one if none exists.
	StartJobForAudit(ctx context.Context, auditID string) (jobID string, err error)
}
