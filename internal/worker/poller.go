package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldops/webhookd/internal/engine"
	"github.com/fieldops/webhookd/internal/metrics"
)

// Poller moves ready jobs from the Redis delay queue into the worker pool.
// The queue score is the earliest fire time, so delayed retries simply stay
// invisible until their delay has elapsed.
type Poller struct {
	queue        *engine.Queue
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
	done         chan struct{}
}

func NewPoller(queue *engine.Queue, pool *Pool, logger *slog.Logger) *Poller {
	return &Poller{
		queue:        queue,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
		done:         make(chan struct{}),
	}
}

// Start runs the polling loop until the context is cancelled. Every job
// claimed from Redis is handed to the pool before the loop exits, so the
// shutdown sequence cancel, Wait, pool.Stop never loses a claimed job.
func (p *Poller) Start(ctx context.Context) {
	defer close(p.done)
	p.logger.Info("queue poller started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("queue poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Wait blocks until the polling loop has exited. Call after cancelling the
// poller's context and before stopping the pool.
func (p *Poller) Wait() {
	<-p.done
}

func (p *Poller) poll(ctx context.Context) {
	jobs, err := p.queue.Claim(ctx, time.Now(), p.batchSize)
	if err != nil {
		p.logger.Error("failed to claim delivery jobs", "error", err)
	}
	for _, job := range jobs {
		p.pool.Submit(job)
	}

	if depth, err := p.queue.Depth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}
