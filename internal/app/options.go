package app

import (
	"time"

	"github.com/fathomline/regatta/internal/domain/timeline"
	"github.com/fathomline/regatta/pkg/logger"
)

// Option applies a configuration option to the Pipeline.
type Option func(*Pipeline)

// WithWorkerCount sets the number of normalization workers.
func WithWorkerCount(count int) Option {
	return func(p *Pipeline) {
		if count > 0 {
			p.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the ingestion queue.
func WithQueueSize(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.queueSize = size
		}
	}
}

// WithApplyTimeout bounds each per-candidate apply transaction.
func WithApplyTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.applyTimeout = d
		}
	}
}

// WithTimeline sets the timeline builder used to derive events.
func WithTimeline(b *timeline.Builder) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.timeline = b
		}
	}
}

// WithLogger sets a custom logger for the pipeline.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}
