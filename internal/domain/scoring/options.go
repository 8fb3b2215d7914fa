package scoring

// Option applies a configuration option to the WeightedScorer.
type Option func(*WeightedScorer)

// WithWeights sets the component weights for name, length and year.
// Non-positive weight sets are ignored.
func WithWeights(name, length, year float64) Option {
	return func(s *WeightedScorer) {
		if name+length+year > 0 {
			s.nameWeight = name
			s.lengthWeight = length
			s.yearWeight = year
		}
	}
}

// WithLengthBands sets the tolerance and contradiction percentages for the
// length component. Ignored unless contradiction exceeds tolerance.
func WithLengthBands(tolerancePct, contradictionPct float64) Option {
	return func(s *WeightedScorer) {
		if contradictionPct > tolerancePct && tolerancePct >= 0 {
			s.tolerancePct = tolerancePct
			s.contradictionPct = contradictionPct
		}
	}
}
