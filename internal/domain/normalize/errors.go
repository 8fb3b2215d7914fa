package normalize

import "errors"

// Sentinel kinds for normalization errors.
var (
	// ErrInvalidCandidate marks records with no basis for matching.
	ErrInvalidCandidate = errors.New("invalid candidate")
)
