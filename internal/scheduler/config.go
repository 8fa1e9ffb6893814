package scheduler

import (
	"time"

	"github.com/desertwitch/workio/internal/configuration"
	"github.com/desertwitch/workio/internal/worker"
)

// Config tunes a [Scheduler].
type Config struct {
	// IdleTimeout is how long a worker may stay idle before it is stopped.
	IdleTimeout time.Duration

	// MaxIdlePerKey is how many idle workers are kept per scheme and host.
	MaxIdlePerKey int

	// CleanupInterval is the period of the idle worker janitor.
	CleanupInterval time.Duration

	// SpawnTimeout bounds starting a worker and its greeting.
	SpawnTimeout time.Duration

	// Worker tunes the handles of spawned workers.
	Worker worker.Options
}

// DefaultConfig returns the default [Config].
//
//nolint:mnd
func DefaultConfig() Config {
	return Config{
		IdleTimeout:     3 * time.Minute,
		MaxIdlePerKey:   1,
		CleanupInterval: 10 * time.Second,
		SpawnTimeout:    8 * time.Second,
		Worker:          worker.DefaultOptions(),
	}
}

// ConfigFrom builds a [Config] from the application configuration.
func ConfigFrom(app *configuration.AppConfiguration, resolver worker.HostResolver) Config {
	return Config{
		IdleTimeout:     app.IdleTimeout,
		MaxIdlePerKey:   app.MaxIdlePerKey,
		CleanupInterval: app.CleanupInterval,
		SpawnTimeout:    app.SpawnTimeout,
		Worker: worker.Options{
			SpeedSamples:        app.SpeedSamples,
			SpeedInterval:       app.SpeedInterval,
			ResumeAnswerTimeout: app.ResumeAnswerTimeout,
			DNSTimeout:          app.DNSTimeout,
			Resolver:            resolver,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.MaxIdlePerKey < 0 {
		c.MaxIdlePerKey = 0
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = def.SpawnTimeout
	}

	return c
}
