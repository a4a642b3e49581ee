package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config file and from
// environment variables with the MEDIARY_ prefix. Environment
// variables take precedence over values from the config file, which
// takes precedence over the built-in defaults.
// Returns a populated Config struct or an error if loading or
// validation fails.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MEDIARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", configFile, err)
		}
	} else {
		v.SetConfigName("mediary")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mediary")

		// A missing default config file is fine; env vars and defaults
		// still apply.
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the config against its struct validation tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// setDefaults seeds viper with the values from Default so partial
// configs stay valid.
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("worker.name", def.Worker.Name)
	v.SetDefault("worker.log_level", def.Worker.LogLevel)
	v.SetDefault("worker.short_delay", def.Worker.ShortDelay)
	v.SetDefault("worker.long_delay", def.Worker.LongDelay)
	v.SetDefault("worker.supported_operations", def.Worker.SupportedOperations)
	v.SetDefault("worker.metrics_port", def.Worker.MetricsPort)

	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate_on_start", def.Database.MigrateOnStart)
	v.SetDefault("database.connect_timeout", def.Database.ConnectTimeout)

	v.SetDefault("serial.enabled", def.Serial.Enabled)
	v.SetDefault("serial.input_batch", def.Serial.InputBatch)

	v.SetDefault("parallel.enabled", def.Parallel.Enabled)
	v.SetDefault("parallel.input_batch", def.Parallel.InputBatch)
	v.SetDefault("parallel.pool_size", def.Parallel.PoolSize)
	v.SetDefault("parallel.minimal_completion", def.Parallel.MinimalCompletion)
}
