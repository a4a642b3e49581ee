// Package config loads and validates the worker configuration.
package config

import "time"

// Config holds all worker configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Parallel ParallelConfig `mapstructure:"parallel"`
}

// WorkerConfig contains process-level settings shared by both
// processors.
type WorkerConfig struct {
	// Name is the worker's display name; a short random suffix is added
	// at startup so two workers started from the same config stay
	// distinguishable in operation rows.
	Name string `mapstructure:"name" validate:"required"`

	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// ShortDelay is slept after a productive poll cycle, LongDelay after
	// an idle one. Two tiers, not an exponential backoff.
	ShortDelay time.Duration `mapstructure:"short_delay" validate:"required,gt=0"`
	LongDelay  time.Duration `mapstructure:"long_delay" validate:"required,gt=0"`

	// SupportedOperations is the allow-list of operation names this
	// worker claims; it enables specializing worker pools by operation
	// type.
	SupportedOperations []string `mapstructure:"supported_operations" validate:"required,min=1"`

	// MetricsPort exposes the Prometheus endpoint; zero disables it.
	MetricsPort int `mapstructure:"metrics_port" validate:"gte=0,lt=65536"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`

	// MigrateOnStart runs the embedded migrations before the worker
	// enters its loops.
	MigrateOnStart bool `mapstructure:"migrate_on_start"`

	// ConnectTimeout bounds the startup connect-and-ping retry loop.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"required,gt=0"`
}

// SerialConfig tunes the serial operations processor.
type SerialConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// InputBatch bounds how many claim attempts one poll cycle makes
	// before giving up (the skip-set limit).
	InputBatch int `mapstructure:"input_batch" validate:"gt=0"`
}

// ParallelConfig tunes the parallel operations processor.
type ParallelConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// InputBatch is how many operations one cycle claims.
	InputBatch int `mapstructure:"input_batch" validate:"gt=0"`

	// PoolSize bounds the executor's concurrent units of work.
	PoolSize int `mapstructure:"pool_size" validate:"gt=0"`

	// MinimalCompletion is the fan-out threshold: an operation only
	// becomes done once this many distinct workers reported success.
	// Zero or one means a single success completes it.
	MinimalCompletion int `mapstructure:"minimal_completion" validate:"gte=0"`
}

// Default returns a Config with the defaults applied before viper
// overlays file and environment values.
func Default() Config {
	return Config{
		Worker: WorkerConfig{
			Name:       "mediary-worker",
			LogLevel:   "info",
			ShortDelay: 100 * time.Millisecond,
			LongDelay:  5 * time.Second,
			SupportedOperations: []string{
				"rebuild_item_tags",
				"update_permissions",
				"rebuild_known_tags",
				"rebuild_known_tags_anon",
				"convert_media",
				"replicate_payload",
			},
		},
		Database: DatabaseConfig{
			ConnectTimeout: 30 * time.Second,
		},
		Serial: SerialConfig{
			Enabled:    true,
			InputBatch: 10,
		},
		Parallel: ParallelConfig{
			Enabled:           true,
			InputBatch:        8,
			PoolSize:          4,
			MinimalCompletion: 0,
		},
	}
}
