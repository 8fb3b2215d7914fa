package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if REGATTA_CONFIG is set
//  3. env (prefix REGATTA_)
func Load(ctx context.Context) (*Config, error) {
	_ = ctx

	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("REGATTA_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: REGATTA_DB_PATH, REGATTA_MATCH_THRESHOLD, ...
	// Map env keys like REGATTA_QUEUE_SIZE -> queue_size (flat keys).
	// Underscores are preserved to match koanf tags on the struct.
	envProvider := env.Provider("REGATTA_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "regatta_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks cross-field constraints that koanf cannot express.
func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	}
	if c.MatchThreshold <= c.AmbiguousThreshold {
		return fmt.Errorf("%w: match_threshold (%.2f) must exceed ambiguous_threshold (%.2f)",
			ErrInvalidConfig, c.MatchThreshold, c.AmbiguousThreshold)
	}
	if c.MatchThreshold > 1 || c.AmbiguousThreshold < 0 {
		return fmt.Errorf("%w: thresholds must lie in [0,1]", ErrInvalidConfig)
	}
	if c.LengthContradictionPct <= c.LengthTolerancePct {
		return fmt.Errorf("%w: length_contradiction_pct must exceed length_tolerance_pct", ErrInvalidConfig)
	}
	if w := c.NameWeight + c.LengthWeight + c.YearWeight; w <= 0 {
		return fmt.Errorf("%w: scorer weights must sum to a positive value", ErrInvalidConfig)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be at least 1", ErrInvalidConfig)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: categories must not be empty", ErrInvalidConfig)
	}
	return nil
}
