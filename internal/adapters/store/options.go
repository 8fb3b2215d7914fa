package store

import (
	"github.com/fathomline/regatta/internal/domain/timeline"
	"github.com/fathomline/regatta/pkg/logger"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithTimeline sets the timeline builder used for event coalescing.
func WithTimeline(b *timeline.Builder) Option {
	return func(s *Store) {
		if b != nil {
			s.timeline = b
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}
