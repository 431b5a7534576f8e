// Package auditrunner schedules audits: a polling queue worker for
// background processing and an inline runner for callers that wait.
package auditrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pageaudit/internal/metrics"
	"pageaudit/internal/ports"
	"pageaudit/internal/services/orchestrator"
)

// AuditProcessor runs one audit to a terminal state.
type AuditProcessor interface {
	RunAudit(ctx context.Context, auditID string) error
}

// Stepper exposes the audit phases individually so the inline runner can
// checkpoint between them.
type Stepper interface {
	Begin(ctx context.Context, auditID string) (*orchestrator.Run, func(), error)
	Steps() []orchestrator.Step
}

type settings struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*settings)

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

func apply(opts []Option) settings {
	s := settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Run starts worker goroutines that claim queued jobs and process them. Each
// worker finishes its current audit before taking the next one. The returned
// channel is closed once every worker has exited after ctx is cancelled.
func Run(ctx context.Context, repo ports.JobRepository, processor AuditProcessor, concurrency int, pollInterval time.Duration, opts ...Option) <-chan struct{} {
	done := make(chan struct{})
	if concurrency < 1 {
		close(done)
		return done
	}
	s := apply(opts)
	jobsCh := make(chan ports.AuditJob)

	// dispatcher loop
	go func() {
		defer close(jobsCh)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			for {
				job, found, err := repo.ClaimNext(ctx)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.ErrorContext(ctx, "job claim error", "error", err)
					}
					break
				}
				if !found {
					break
				}
				s.metrics.IncrementJobsClaimed()
				select {
				case jobsCh <- job:
				case <-ctx.Done():
					// claimed but never started; leave a trace on the job row
					_ = repo.MarkFailed(context.WithoutCancel(ctx), job.ID, "shutdown before processing")
					return
				}
			}
		}
	}()

	// workers
	var wg sync.WaitGroup
	for i := range concurrency {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for job := range jobsCh {
				finish(ctx, repo, s.logger, job.ID, processor.RunAudit(ctx, job.AuditID),
					"worker", idx, "audit_id", job.AuditID)
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// ProcessInline starts the job for a specific audit and runs its phases
// synchronously, checkpointing after each one. progress, when set, is called
// with the name of every finished step.
func ProcessInline(ctx context.Context, repo ports.JobRepository, stepper Stepper, auditID string, progress func(step string), opts ...Option) error {
	s := apply(opts)
	jobID, err := repo.StartJobForAudit(ctx, auditID)
	if err != nil {
		return fmt.Errorf("start job for audit %s: %w", auditID, err)
	}
	err = runSteps(ctx, repo, s.logger, stepper, jobID, auditID, progress)
	finish(ctx, repo, s.logger, jobID, err, "audit_id", auditID, "inline", true)
	return err
}

// runSteps drives the phases to a terminal state. Checkpoint write failures
// are logged and do not stop the audit.
func runSteps(ctx context.Context, repo ports.JobRepository, logger *slog.Logger, stepper Stepper, jobID, auditID string, progress func(string)) error {
	run, release, err := stepper.Begin(ctx, auditID)
	if err != nil {
		return err
	}
	defer release()
	for _, step := range stepper.Steps() {
		if err := step.Do(ctx, run); err != nil {
			return err
		}
		if err := repo.Checkpoint(ctx, jobID, step.Name); err != nil {
			logger.WarnContext(ctx, "job checkpoint failed",
				"job_id", jobID, "audit_id", auditID, "step", step.Name, "error", err)
		}
		if progress != nil {
			progress(step.Name)
		}
	}
	return nil
}

// finish records the job outcome. The audit record already carries its own
// terminal state; this only closes the job row.
func finish(ctx context.Context, repo ports.JobRepository, logger *slog.Logger, jobID string, runErr error, attrs ...any) {
	ctx = context.WithoutCancel(ctx)
	attrs = append(attrs, "job_id", jobID)
	if runErr != nil {
		if err := repo.MarkFailed(ctx, jobID, runErr.Error()); err != nil {
			logger.ErrorContext(ctx, "mark job failed", append(attrs, "error", err)...)
		}
		logger.WarnContext(ctx, "audit job failed", append(attrs, "error", runErr)...)
		return
	}
	if err := repo.MarkCompleted(ctx, jobID); err != nil {
		logger.ErrorContext(ctx, "mark job completed", append(attrs, "error", err)...)
	}
}
