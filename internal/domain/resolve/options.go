package resolve

import "github.com/fathomline/regatta/pkg/logger"

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithThresholds sets the definite-match and definite-no-match bounds.
// Ignored unless match exceeds ambiguous; the three-band structure itself
// is not configurable.
func WithThresholds(match, ambiguous float64) Option {
	return func(r *Resolver) {
		if match > ambiguous && match <= 1 && ambiguous >= 0 {
			r.matchThreshold = match
			r.ambiguousThreshold = ambiguous
		}
	}
}

// WithTrust sets the per-source trust lookup used by reconciliation.
func WithTrust(trust TrustFunc) Option {
	return func(r *Resolver) {
		if trust != nil {
			r.trust = trust
		}
	}
}

// WithLogger sets a custom logger for the resolver.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}
