package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
)

type PoolConfig struct {
	// Concurrency caps simultaneous jobs on this worker.
	Concurrency int
	// PollRate limits dequeue attempts per second. Zero means unlimited.
	PollRate float64
	// ShutdownGrace lets running jobs finish after the pool is stopped
	// before they are interrupted.
	ShutdownGrace time.Duration
}

// Pool pulls job ids from the queue and runs them concurrently. It also
// listens on the cancel bus and interrupts matching in-flight jobs.
type Pool struct {
	logger  *slog.Logger
	queue   comm.JobQueue
	cancels comm.CancelBus
	runner  *Runner
	limiter *rate.Limiter
	slots   *semaphore.Weighted
	grace   time.Duration
}

func NewPool(logger *slog.Logger, queue comm.JobQueue, cancels comm.CancelBus, runner *Runner, cfg PoolConfig) (*Pool, error) {
	if queue == nil {
		return nil, errors.New("job queue is required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("concurrency must be >= 1")
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.PollRate > 0 {
		limit = rate.Limit(cfg.PollRate)
	}
	return &Pool{
		logger:  logger,
		queue:   queue,
		cancels: cancels,
		runner:  runner,
		limiter: rate.NewLimiter(limit, 1),
		slots:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		grace:   cfg.ShutdownGrace,
	}, nil
}

// Run blocks until ctx is canceled or the queue is closed, then waits for
// in-flight jobs.
func (p *Pool) Run(ctx context.Context) error {
	jobsCtx, stopJobs := context.WithCancelCause(context.WithoutCancel(ctx))
	defer stopJobs(nil)

	if p.cancels != nil {
		ch, err := p.cancels.SubscribeCancels(ctx)
		if err != nil {
			return err
		}
		go p.consumeCancels(ch)
	}

	var g errgroup.Group
	drained := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-drained:
			return
		}
		if p.grace > 0 {
			timer := time.NewTimer(p.grace)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-drained:
				return
			}
		}
		stopJobs(ErrWorkerStopped)
	}()

	p.loop(ctx, jobsCtx, &g)
	err := g.Wait()
	close(drained)
	return err
}

func (p *Pool) loop(ctx, jobsCtx context.Context, g *errgroup.Group) {
	for {
		if err := p.slots.Acquire(ctx, 1); err != nil {
			return
		}
		if err := p.limiter.Wait(ctx); err != nil {
			p.slots.Release(1)
			return
		}
		id, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.slots.Release(1)
			if ctx.Err() != nil || errors.Is(err, comm.ErrQueueClosed) {
				return
			}
			p.logger.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		g.Go(func() error {
			defer p.slots.Release(1)
			if err := p.runner.Run(jobsCtx, id); err != nil {
				p.logger.Error("job run failed", "job_execution_id", id, "error", err)
			}
			return nil
		})
	}
}

func (p *Pool) consumeCancels(ch <-chan string) {
	for id := range ch {
		if p.runner.Registry().Cancel(id) {
			p.logger.Info("job cancel requested", "job_execution_id", id)
		}
	}
}
