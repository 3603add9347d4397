package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fieldops/webhookd/internal/engine"
	"github.com/fieldops/webhookd/internal/metrics"
)

// Pool bounds the number of simultaneous outbound deliveries system-wide.
// Delay-scheduled retries wait in Redis, not here, so a large retry backlog
// never holds worker goroutines.
type Pool struct {
	numWorkers int
	jobs       chan engine.DeliveryJob
	deliverer  *Deliverer
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, deliverer *Deliverer, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan engine.DeliveryJob, numWorkers*2),
		deliverer:  deliverer,
		logger:     logger,
	}
}

// Start launches the worker goroutines. They drain the jobs channel until it
// is closed; ctx only scopes the deliveries themselves, so jobs already
// claimed from Redis are never discarded mid-drain.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands a claimed job to the pool. Blocks when all workers are busy
// and the buffer is full, which applies backpressure to the poller.
func (p *Pool) Submit(job engine.DeliveryJob) {
	p.jobs <- job
}

// Stop closes the jobs channel and waits until every buffered and in-flight
// job has been delivered. The poller must have stopped first; a Submit after
// Stop would send on a closed channel.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool drained")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		metrics.InFlight.Inc()
		p.deliverer.Deliver(ctx, job)
		metrics.InFlight.Dec()
	}
}
