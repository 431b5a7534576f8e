package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"pageaudit/internal/ports"
)

type jobState struct {
	id      string
	auditID string
	status  string // queued, running, completed, failed
	step    string
	err     string
}

// JobQueue is a FIFO job table with the same claiming semantics as the
// postgres adapter.
type JobQueue struct {
	mu   sync.Mutex
	jobs []*jobState
	byID map[string]*jobState
}

func NewJobQueue() *JobQueue {
	return &JobQueue{byID: map[string]*jobState{}}
}

func (q *JobQueue) Enqueue(_ context.Context, auditID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.add(auditID, "queued").id, nil
}

func (q *JobQueue) add(auditID, status string) *jobState {
	j := &jobState{id: uuid.NewString(), auditID: auditID, status: status}
	q.jobs = append(q.jobs, j)
	q.byID[j.id] = j
	return j
}

func (q *JobQueue) ClaimNext(_ context.Context) (ports.AuditJob, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.status == "queued" {
			j.status = "running"
			return ports.AuditJob{ID: j.id, AuditID: j.auditID}, true, nil
		}
	}
	return ports.AuditJob{}, false, nil
}

func (q *JobQueue) Checkpoint(_ context.Context, jobID, step string) error {
	return q.update(jobID, func(j *jobState) { j.step = step })
}

func (q *JobQueue) MarkCompleted(_ context.Context, jobID string) error {
	return q.update(jobID, func(j *jobState) { j.status = "completed" })
}

func (q *JobQueue) MarkFailed(_ context.Context, jobID, reason string) error {
	return q.update(jobID, func(j *jobState) { j.status, j.err = "failed", reason })
}

func (q *JobQueue) StartJobForAudit(_ context.Context, auditID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.auditID == auditID && j.status == "queued" {
			j.status = "running"
			return j.id, nil
		}
	}
	return q.add(auditID, "running").id, nil
}

// State reports a job's status and last checkpoint.
func (q *JobQueue) State(jobID string) (status, step string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.byID[jobID]
	if !ok {
		return "", "", false
	}
	return j.status, j.step, true
}

func (q *JobQueue) update(jobID string, fn func(*jobState)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.byID[jobID]
	if !ok {
		return ports.ErrNotFound
	}
	fn(j)
	return nil
}
