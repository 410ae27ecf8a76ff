package scheduler

import (
	"time"

	"github.com/smallbiznis/pavetrack/internal/config"
)

// Config controls scheduler intervals and job timeouts.
type Config struct {
	Enabled                bool
	RunInterval            time.Duration
	StatusIntegrityTimeout time.Duration
	EnabledJobs            []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		RunInterval:            15 * time.Minute,
		StatusIntegrityTimeout: 2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:                cfg.SchedulerEnabled,
		RunInterval:            cfg.StatusIntegrityInterval,
		StatusIntegrityTimeout: cfg.StatusIntegrityTimeout,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.StatusIntegrityTimeout <= 0 {
		c.StatusIntegrityTimeout = defaults.StatusIntegrityTimeout
	}
	return c
}
