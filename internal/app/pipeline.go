// Package app wires the queue, normalization workers, resolver, timeline
// builder and store into the batch resolution pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/fathomline/regatta/internal/adapters/mq/queue"
	"github.com/fathomline/regatta/internal/adapters/mq/worker"
	"github.com/fathomline/regatta/internal/adapters/store"
	"github.com/fathomline/regatta/internal/domain/model"
	"github.com/fathomline/regatta/internal/domain/normalize"
	"github.com/fathomline/regatta/internal/domain/resolve"
	"github.com/fathomline/regatta/internal/domain/timeline"
	"github.com/fathomline/regatta/pkg/logger"
	"github.com/fathomline/regatta/pkg/metrics"
)

// Default pipeline configuration constants.
const (
	defaultQueueSize    = 10000
	defaultApplyTimeout = 5 * time.Second
	enqueueRetryDelay   = time.Millisecond
)

// Summary reports the outcome of one run.
type Summary struct {
	RunID           string
	Processed       int
	Created         int
	Matched         int
	Ambiguous       int
	Rejected        int
	EventsInserted  int
	EventsCoalesced int
	Warnings        []string
	Duration        time.Duration
}

// Pipeline processes batches of raw mentions into the registry.
//
// Normalization runs in parallel; resolution and apply run serially against
// live store state, so an entity created early in a batch is visible to
// every later candidate of the same batch.
type Pipeline struct {
	store      *store.Store
	normalizer *normalize.Normalizer
	resolver   *resolve.Resolver
	timeline   *timeline.Builder

	workerCount  int
	queueSize    int
	applyTimeout time.Duration

	logger logger.Logger
}

// New constructs a Pipeline with default configuration.
func New(st *store.Store, norm *normalize.Normalizer, res *resolve.Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:        st,
		normalizer:   norm,
		resolver:     res,
		timeline:     timeline.New(),
		workerCount:  runtime.NumCPU(),
		queueSize:    defaultQueueSize,
		applyTimeout: defaultApplyTimeout,
		logger:       logger.Get().Named("pipeline"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run resolves one batch. Records are processed in slice order. A store
// failure aborts at a candidate boundary with everything before it applied;
// per-candidate data errors are recorded and skipped.
func (p *Pipeline) Run(ctx context.Context, records []model.RawRecord) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}

	p.logger.Info(ctx, "run starting",
		logger.String("run_id", sum.RunID),
		logger.Int("records", len(records)),
	)

	q := queue.NewInMemoryQueue(queue.WithCapacity(p.queueSize))
	pool := worker.NewPool(p.workerCount, q, p.normalizer, 0)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool.Start(runCtx)
	go p.feed(runCtx, q, records)

	for outcome := range pool.Outcomes() {
		if err := ctx.Err(); err != nil {
			metrics.RecordRunAborted()
			return sum, fmt.Errorf("run canceled: %w", err)
		}

		if err := p.handle(ctx, outcome, &sum); err != nil {
			metrics.RecordRunAborted()
			sum.Duration = time.Since(start)
			return sum, err
		}
	}

	if warnings, err := p.quality(ctx); err != nil {
		p.logger.Warn(ctx, "quality report failed", logger.Error(err))
	} else {
		sum.Warnings = warnings
	}

	sum.Duration = time.Since(start)
	metrics.RecordRunCompleted(sum.Duration.Seconds())
	p.logger.Info(ctx, "run finished",
		logger.String("run_id", sum.RunID),
		logger.Int("processed", sum.Processed),
		logger.Int("created", sum.Created),
		logger.Int("matched", sum.Matched),
		logger.Int("ambiguous", sum.Ambiguous),
		logger.Int("rejected", sum.Rejected),
		logger.Duration("duration", sum.Duration),
	)
	return sum, nil
}

// feed enqueues the batch in order, stamping sequence numbers, and closes
// the queue so workers drain and stop.
func (p *Pipeline) feed(ctx context.Context, q *queue.InMemoryQueue, records []model.RawRecord) {
	defer q.Close() //nolint:errcheck // close is idempotent

	for i, rec := range records {
		rec.Seq = i
		for !q.Enqueue(ctx, rec) {
			if ctx.Err() != nil || q.IsClosed() {
				return
			}
			// Queue full; workers are behind.
			time.Sleep(enqueueRetryDelay)
		}
	}
}

// handle resolves and applies one outcome. The returned error is fatal for
// the run.
func (p *Pipeline) handle(ctx context.Context, outcome worker.Outcome, sum *Summary) error {
	sum.Processed++
	metrics.RecordCandidateProcessed()

	if outcome.Err != nil {
		p.logger.Debug(ctx, "candidate rejected by normalization",
			logger.String("url", outcome.Record.SourceURL),
			logger.Error(outcome.Err),
		)
		return p.applyRejection(ctx, rejectionFromRecord(outcome.Record, outcome.Err), sum)
	}

	plan, err := p.resolver.Resolve(ctx, outcome.Candidate)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", outcome.Candidate.Name, err)
	}

	if plan.Decision == model.DecisionMatched || plan.Decision == model.DecisionCreated {
		plan.Events = p.timeline.Derive(outcome.Candidate)
	}

	applyCtx, cancel := context.WithTimeout(ctx, p.applyTimeout)
	res, err := p.store.ApplyResolution(applyCtx, plan)
	cancel()

	if errors.Is(err, store.ErrIntegrityViolation) {
		p.logger.Warn(ctx, "candidate rejected by store constraint",
			logger.String("url", outcome.Candidate.SourceURL),
			logger.Error(err),
		)
		return p.applyRejection(ctx, rejectionFromCandidate(outcome.Candidate, err), sum)
	}
	if err != nil {
		return fmt.Errorf("apply %q: %w", outcome.Candidate.Name, err)
	}

	metrics.RecordDecision(string(plan.Decision))
	switch plan.Decision {
	case model.DecisionCreated:
		sum.Created++
	case model.DecisionMatched:
		sum.Matched++
	case model.DecisionAmbiguous:
		sum.Ambiguous++
	case model.DecisionRejected:
		sum.Rejected++
	}
	sum.EventsInserted += res.EventsInserted
	sum.EventsCoalesced += res.EventsCoalesced
	return nil
}

// applyRejection records a rejected mention. Failing to write even the
// audit record is fatal.
func (p *Pipeline) applyRejection(ctx context.Context, plan model.Plan, sum *Summary) error {
	applyCtx, cancel := context.WithTimeout(ctx, p.applyTimeout)
	_, err := p.store.ApplyResolution(applyCtx, plan)
	cancel()
	if err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}

	metrics.RecordDecision(string(model.DecisionRejected))
	sum.Rejected++
	return nil
}

// quality runs the post-run data checks and renders them as warnings.
func (p *Pipeline) quality(ctx context.Context) ([]string, error) {
	q, err := p.store.Quality(ctx)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if q.NonPositiveLength > 0 {
		warnings = append(warnings, fmt.Sprintf("%d entities have a non-positive length", q.NonPositiveLength))
	}
	if q.MissingLengthAndYear > 0 {
		warnings = append(warnings, fmt.Sprintf("%d entities lack both length and build year", q.MissingLengthAndYear))
	}
	for _, w := range warnings {
		p.logger.Warn(ctx, "data quality", logger.String("warning", w))
	}
	return warnings, nil
}

func rejectionFromRecord(rec model.RawRecord, cause error) model.Plan {
	return model.Plan{
		Decision: model.DecisionRejected,
		Source: model.SourceDraft{
			URL:       rec.SourceURL,
			FetchedAt: rec.FetchedAt,
			RawName:   rec.RawName,
			Decision:  model.DecisionRejected,
			Detail:    cause.Error(),
		},
	}
}

func rejectionFromCandidate(cand model.Candidate, cause error) model.Plan {
	return model.Plan{
		Decision: model.DecisionRejected,
		Source: model.SourceDraft{
			URL:       cand.SourceURL,
			FetchedAt: cand.FetchedAt,
			RawName:   cand.Name,
			Decision:  model.DecisionRejected,
			Detail:    cause.Error(),
		},
	}
}
