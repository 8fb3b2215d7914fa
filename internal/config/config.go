// Package config defines pipeline configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults; Load layers file and env on top.
// - Thresholds and trust weights are configuration, never hardcoded in the resolver.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// DBPath locates the SQLite database file.
	DBPath string `koanf:"db_path"`

	// ExportDir receives the CSV snapshot files.
	ExportDir string `koanf:"export_dir"`

	// WorkerCount sets the number of normalization workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the in-memory raw record queue.
	QueueSize int `koanf:"queue_size"`

	// ApplyTimeoutMS bounds a single candidate's transactional apply.
	ApplyTimeoutMS int `koanf:"apply_timeout_ms"`

	// MatchThreshold is the definite-match lower bound (inclusive).
	MatchThreshold float64 `koanf:"match_threshold"`

	// AmbiguousThreshold is the definite-no-match upper bound (inclusive).
	// Scores strictly between the two thresholds land in the ambiguous band.
	AmbiguousThreshold float64 `koanf:"ambiguous_threshold"`

	// NameWeight, LengthWeight and YearWeight combine scorer components.
	NameWeight   float64 `koanf:"name_weight"`
	LengthWeight float64 `koanf:"length_weight"`
	YearWeight   float64 `koanf:"year_weight"`

	// LengthTolerancePct treats lengths within this percentage as full agreement.
	LengthTolerancePct float64 `koanf:"length_tolerance_pct"`

	// LengthContradictionPct treats lengths apart by at least this percentage
	// as full contradiction.
	LengthContradictionPct float64 `koanf:"length_contradiction_pct"`

	// CoalesceWindowDays is the maximum gap between event time bounds that
	// still counts as the same occurrence.
	CoalesceWindowDays int `koanf:"coalesce_window_days"`

	// SourceTrust maps source hostnames to trust weights used by attribute
	// reconciliation. Unlisted hosts get DefaultTrust.
	SourceTrust map[string]float64 `koanf:"source_trust"`

	// DefaultTrust is the trust weight for unlisted hosts.
	DefaultTrust float64 `koanf:"default_trust"`

	// Categories lists the recognized candidate categories.
	Categories []string `koanf:"categories"`

	// BuilderAliases maps canonical builder names to known variants.
	BuilderAliases map[string][]string `koanf:"builder_aliases"`

	// MetricsAddr serves /metrics in schedule mode; empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	// CronSpec schedules pipeline runs in schedule mode.
	CronSpec string `koanf:"cron_spec"`
}

// New creates a Config populated with defaults. Load layers an optional YAML
// file and REGATTA_* environment variables on top of these.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		DBPath:                 "regatta.db",
		ExportDir:              "exports",
		WorkerCount:            runtime.NumCPU(),
		QueueSize:              10_000,
		ApplyTimeoutMS:         5_000,
		MatchThreshold:         0.80,
		AmbiguousThreshold:     0.45,
		NameWeight:             0.6,
		LengthWeight:           0.3,
		YearWeight:             0.1,
		LengthTolerancePct:     2.0,
		LengthContradictionPct: 15.0,
		CoalesceWindowDays:     7,
		SourceTrust:            map[string]float64{},
		DefaultTrust:           0.5,
		Categories:             []string{"yacht", "tender"},
		BuilderAliases: map[string][]string{
			"Feadship":        {"Koninklijke De Vries", "Royal Van Lent"},
			"Oceanco":         {},
			"Lürssen Yachts":  {"Lurssen", "Lürssen"},
			"Xtenders":        {"X-Tenders", "Xtenders B.V."},
			"Compass Tenders": {"Compass"},
		},
		MetricsAddr: ":9102",
		CronSpec:    "0 2 * * *",
	}
}
