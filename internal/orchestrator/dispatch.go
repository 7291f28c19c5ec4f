package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("job not found")

// Dispatcher accepts runs for background execution.
type Dispatcher interface {
	Submit(ctx context.Context, in RunInputs) (string, error)
	Result(ctx context.Context, id string) (*Job, error)
}

// JobQueue is the worker side of a Dispatcher.
type JobQueue interface {
	// Consume delivers jobs until ctx is done, then closes the channel.
	Consume(ctx context.Context) (<-chan *Job, error)
	Update(ctx context.Context, job *Job) error
	Ack(ctx context.Context, job *Job) error
	// Release hands back a delivered job that was never started so a later
	// Consume delivers it again.
	Release(ctx context.Context, job *Job) error
}

func newJob(in RunInputs) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New().String(),
		Inputs:    in,
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MemoryQueue is an in-process Dispatcher and JobQueue.
type MemoryQueue struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	pending chan string
}

// NewMemoryQueue creates a queue holding up to capacity pending jobs.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		jobs:    make(map[string]*Job),
		pending: make(chan string, capacity),
	}
}

func (q *MemoryQueue) Submit(ctx context.Context, in RunInputs) (string, error) {
	job := newJob(in)
	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	select {
	case q.pending <- job.ID:
		return job.ID, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Result(_ context.Context, id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (q *MemoryQueue) Consume(ctx context.Context) (<-chan *Job, error) {
	out := make(chan *Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-q.pending:
				job, err := q.Result(ctx, id)
				if err != nil {
					continue
				}
				select {
				case out <- job:
				case <-ctx.Done():
					_ = q.Release(ctx, job)
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *MemoryQueue) Update(_ context.Context, job *Job) error {
	cp := *job
	cp.UpdatedAt = time.Now().UTC()
	q.mu.Lock()
	q.jobs[job.ID] = &cp
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Ack(context.Context, *Job) error { return nil }

// Release puts the job id back on the pending queue.
func (q *MemoryQueue) Release(_ context.Context, job *Job) error {
	select {
	case q.pending <- job.ID:
		return nil
	default:
		return fmt.Errorf("release job %s: queue full", job.ID)
	}
}
