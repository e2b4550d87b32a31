package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/garnizeh/orchestrator/internal/models"
)

// Handler processes the payload of one claimed job. The returned value is
// stored as the job result. Handlers must be safe to re-run: a crash between
// claim and complete re-delivers the job while attempts remain.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// WorkerPool polls the queue and dispatches claimed jobs to registered
// handlers. Several pools may share one queue, in the same process or not;
// they coordinate only through the claim statement.
type WorkerPool struct {
	queue        *Queue
	logger       *slog.Logger
	workerCount  int
	pollInterval time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewWorkerPool(q *Queue, logger *slog.Logger, workerCount int, pollInterval time.Duration) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 4
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		queue:        q,
		logger:       logger,
		workerCount:  workerCount,
		pollInterval: pollInterval,
		handlers:     make(map[string]Handler),
		stop:         make(chan struct{}),
	}
}

// Register installs a handler for a job type. Later registrations for the
// same type replace earlier ones.
func (p *WorkerPool) Register(jobType string, h Handler) {
	p.mu.Lock()
	p.handlers[jobType] = h
	p.mu.Unlock()
	p.logger.Info("registered job handler", "job_type", jobType)
}

func (p *WorkerPool) handler(jobType string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[jobType]
	return h, ok
}

// Start launches the worker goroutines
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to stop and waits for them
func (p *WorkerPool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.logger.Info("worker stopping", "id", id)
			return
		case <-ctx.Done():
			p.logger.Info("context canceled, worker exiting", "id", id)
			return
		default:
			job, err := p.queue.ClaimNext(ctx)
			if err != nil {
				p.logger.Error("claim next job", "err", err)
				p.sleep(ctx)
				continue
			}
			if job == nil {
				// nothing eligible
				p.sleep(ctx)
				continue
			}
			p.dispatch(ctx, job)
		}
	}
}

func (p *WorkerPool) sleep(ctx context.Context) {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stop:
	case <-ctx.Done():
	}
}

// dispatch runs one claimed job in isolation: a handler error or panic is
// routed to the queue's failure path and never stops the polling loop.
func (p *WorkerPool) dispatch(ctx context.Context, job *models.Job) {
	h, ok := p.handler(job.Type)
	if !ok {
		// missing handler is a configuration error, retrying cannot help
		if err := p.queue.FailPermanently(ctx, job.ID, fmt.Sprintf("no handler for job type: %s", job.Type)); err != nil {
			p.logger.Error("fail unhandled job", "job_id", job.ID, "err", err)
		}
		return
	}

	p.logger.Info("processing job", "job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts)

	result, err := p.runHandler(ctx, h, job)
	if err != nil {
		if ferr := p.queue.Fail(ctx, job.ID, err.Error()); ferr != nil {
			p.logger.Error("record job failure", "job_id", job.ID, "err", ferr)
		}
		return
	}

	if cerr := p.queue.Complete(ctx, job.ID, result); cerr != nil {
		p.logger.Error("record job completion", "job_id", job.ID, "err", cerr)
	}
}

func (p *WorkerPool) runHandler(ctx context.Context, h Handler, job *models.Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, job.Payload)
}
