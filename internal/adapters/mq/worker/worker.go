// Package worker runs the parallel normalization stage and hands results
// downstream in their original arrival order.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/pkg/logger"
	"github.com/fathomline/regatta/pkg/metrics"
)

// Default worker configuration constants.
const (
	workerShutdownTimeout = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Record abstracts what workers read off the queue.
type Record = model.RawRecord

// Outcome is the result of normalizing one record. Err is set when the
// record was rejected; Candidate is valid otherwise. Seq carries the
// record's arrival position so the fan-in stage can restore order.
type Outcome struct {
	Seq       int
	Record    Record
	Candidate model.Candidate
	Err       error
}

// Normalizer canonicalizes a raw mention.
type Normalizer interface {
	Normalize(rec model.RawRecord) (model.Candidate, error)
}

// Queue defines how workers receive records.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Record
}

// Worker processes records and emits outcomes using the provided interfaces.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	// It will process any remaining records before stopping.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for normalizing records.
type InMemoryWorker struct {
	queue      Queue
	normalizer Normalizer
	out        chan<- Outcome
	name       string

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, normalizer Normalizer, out chan<- Outcome, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      queue,
		normalizer: normalizer,
		out:        out,
		name:       "worker", // default name
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer func() {
		close(w.done)
	}()

	recChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case rec, ok := <-recChan:
			if !ok {
				// Channel closed, worker should stop
				return
			}

			outcome := w.processRecord(rec)
			select {
			case w.out <- outcome:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processRecord normalizes a single record. Rejections are outcomes, not
// worker failures; the resolve stage records them against the run.
func (w *InMemoryWorker) processRecord(rec Record) Outcome {
	start := time.Now()

	cand, err := w.normalizer.Normalize(rec)

	metrics.RecordNormalizeLatency(float64(time.Since(start).Milliseconds()))

	return Outcome{Seq: rec.Seq, Record: rec, Candidate: cand, Err: err}
}

// Pool manages multiple workers and merges their outcomes back into
// arrival order.
type Pool struct {
	workers    []*InMemoryWorker
	queue      Queue
	normalizer Normalizer

	raw      chan Outcome // unordered fan-in from workers
	ordered  chan Outcome
	firstSeq int

	// Shutdown control
	shutdown chan struct{}
	wg       sync.WaitGroup

	// Logging
	logger logger.Logger
}

// NewPool creates a new worker pool. firstSeq is the Seq of the first
// record the run will enqueue; outcomes are released strictly from there.
func NewPool(workerCount int, queue Queue, normalizer Normalizer, firstSeq int) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers:    make([]*InMemoryWorker, workerCount),
		queue:      queue,
		normalizer: normalizer,
		raw:        make(chan Outcome, workerCount),
		ordered:    make(chan Outcome, workerCount),
		firstSeq:   firstSeq,
		shutdown:   make(chan struct{}),
		logger:     logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(
			queue,
			normalizer,
			pool.raw,
			WithName("worker-"+strconv.Itoa(i)),
		)
	}

	metrics.UpdateWorkerCount(workerCount)

	return pool
}

// Start starts all workers plus the reordering stage.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		p.wg.Add(1)
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(worker)
	}

	// Close the fan-in channel once every worker has returned so the
	// reorder stage can drain and finish.
	go func() {
		p.wg.Wait()
		close(p.raw)
	}()

	go p.reorder(ctx)
}

// Outcomes returns the channel of outcomes in original arrival order.
// It is closed once all workers have stopped and the buffer is drained.
func (p *Pool) Outcomes() <-chan Outcome {
	return p.ordered
}

// reorder buffers out-of-order outcomes and releases them by Seq.
// Workers finish at different speeds, so a later record can normalize
// before an earlier one; the resolve stage must still see arrival order.
func (p *Pool) reorder(ctx context.Context) {
	defer close(p.ordered)

	pending := make(map[int]Outcome)
	next := p.firstSeq

	for outcome := range p.raw {
		pending[outcome.Seq] = outcome
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			select {
			case p.ordered <- ready:
				next++
			case <-ctx.Done():
				return
			}
		}
	}

	if len(pending) != 0 {
		p.logger.Warn(ctx, "outcomes dropped before reordering completed",
			logger.Int("pending", len(pending)),
		)
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	close(p.shutdown)

	for _, worker := range p.workers {
		select {
		case <-worker.done:
			// Worker finished
		case <-time.After(workerShutdownTimeout):
			// Worker timeout
		}
	}
}

// Shutdown gracefully shuts down the entire worker pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	// First close the queue to stop new records
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out")
		return fmt.Errorf("pool shutdown timed out: %w", shutdownCtx.Err())
	}
}
