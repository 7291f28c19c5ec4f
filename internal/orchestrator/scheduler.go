package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Analyzer runs one analysis. *Service satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, in RunInputs) (*Analysis, error)
}

// JobNotifier is called after a job reaches a terminal state.
type JobNotifier func(ctx context.Context, job *Job)

// WorkerPool executes queued jobs with bounded concurrency.
type WorkerPool struct {
	analyzer Analyzer
	queue    JobQueue
	mu       sync.RWMutex
	running  map[string]*Job
	pool     chan struct{} // semaphore
	notify   JobNotifier
	logger   *zap.Logger
}

// NewWorkerPool creates a pool running at most size jobs at once.
func NewWorkerPool(analyzer Analyzer, queue JobQueue, size int, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 4
	}
	return &WorkerPool{
		analyzer: analyzer,
		queue:    queue,
		running:  make(map[string]*Job),
		pool:     make(chan struct{}, size),
		logger:   logger,
	}
}

// OnComplete registers a notifier for finished jobs.
func (p *WorkerPool) OnComplete(fn JobNotifier) {
	p.notify = fn
}

// Run consumes jobs until ctx is done and waits for in-flight jobs. Jobs
// already started finish even after ctx is cancelled; jobs received but not
// started are released back to the queue.
func (p *WorkerPool) Run(ctx context.Context) error {
	jobs, err := p.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume jobs: %w", err)
	}

	p.logger.Info("worker pool started", zap.Int("size", cap(p.pool)))
	var wg sync.WaitGroup
	for job := range jobs {
		select {
		case p.pool <- struct{}{}:
		case <-ctx.Done():
			p.release(ctx, job)
			for rest := range jobs {
				p.release(ctx, rest)
			}
			wg.Wait()
			p.logger.Info("worker pool stopped")
			return nil
		}
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			defer func() { <-p.pool }()
			p.execute(context.WithoutCancel(ctx), job)
		}(job)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *WorkerPool) release(ctx context.Context, job *Job) {
	if err := p.queue.Release(context.WithoutCancel(ctx), job); err != nil {
		p.logger.Error("release job", zap.String("job", job.ID), zap.Error(err))
		return
	}
	p.logger.Info("job released", zap.String("job", job.ID))
}

func (p *WorkerPool) execute(ctx context.Context, job *Job) {
	p.mu.Lock()
	p.running[job.ID] = job
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, job.ID)
		p.mu.Unlock()
	}()

	job.Status = JobRunning
	if err := p.queue.Update(ctx, job); err != nil {
		p.logger.Warn("mark job running", zap.String("job", job.ID), zap.Error(err))
	}

	p.logger.Info("executing job", zap.String("job", job.ID), zap.String("query", job.Inputs.Query))
	p.runJob(ctx, job)

	if err := p.queue.Update(ctx, job); err != nil {
		p.logger.Error("store job result", zap.String("job", job.ID), zap.Error(err))
	}
	if err := p.queue.Ack(ctx, job); err != nil {
		p.logger.Warn("ack job", zap.String("job", job.ID), zap.Error(err))
	}
	if p.notify != nil {
		p.notify(ctx, job)
	}
}

func (p *WorkerPool) runJob(ctx context.Context, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			job.Status = JobFailed
			job.Error = fmt.Sprintf("analysis panicked: %v", r)
		}
	}()

	a, err := p.analyzer.Analyze(ctx, job.Inputs)
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		return
	}
	data, err := json.Marshal(a.Result)
	if err != nil {
		job.Status = JobFailed
		job.Error = fmt.Sprintf("encode result: %v", err)
		return
	}
	job.Status = JobDone
	job.AnalysisID = a.ID
	job.Result = data
}

// Running returns the ids of jobs in flight.
func (p *WorkerPool) Running() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	return ids
}
