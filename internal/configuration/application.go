package configuration

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Configuration keys.
const (
	KeyIdleTimeout         = "WORKIO_IDLE_TIMEOUT"
	KeyMaxIdlePerKey       = "WORKIO_MAX_IDLE_PER_KEY"
	KeyCleanupInterval     = "WORKIO_CLEANUP_INTERVAL"
	KeySpawnTimeout        = "WORKIO_SPAWN_TIMEOUT"
	KeyResumeAnswerTimeout = "WORKIO_RESUME_ANSWER_TIMEOUT"
	KeySpeedSamples        = "WORKIO_SPEED_SAMPLES"
	KeySpeedInterval       = "WORKIO_SPEED_INTERVAL"
	KeyDNSTimeout          = "WORKIO_DNS_TIMEOUT"
	KeySchemeDirs          = "WORKIO_SCHEME_DIRS"
	KeyJournalPath         = "WORKIO_JOURNAL_PATH"
	KeyWorkerPath          = "WORKIO_WORKER_PATH"
	KeyLogLevel            = "WORKIO_LOG_LEVEL"

	// EnvPrefix is the prefix of all keys taken from the process environment.
	EnvPrefix = "WORKIO_"
)

// AppConfiguration is the principal structure holding the application
// configuration.
type AppConfiguration struct {
	IdleTimeout         time.Duration
	MaxIdlePerKey       int
	CleanupInterval     time.Duration
	SpawnTimeout        time.Duration
	ResumeAnswerTimeout time.Duration
	SpeedSamples        int
	SpeedInterval       time.Duration
	DNSTimeout          time.Duration
	SchemeDirs          []string
	JournalPath         string
	WorkerPath          string
	LogLevel            string
}

// NewAppConfiguration returns a pointer to a new [AppConfiguration] holding
// the defaults.
//
//nolint:mnd
func NewAppConfiguration() *AppConfiguration {
	return &AppConfiguration{
		IdleTimeout:         3 * time.Minute,
		MaxIdlePerKey:       1,
		CleanupInterval:     10 * time.Second,
		SpawnTimeout:        8 * time.Second,
		ResumeAnswerTimeout: 30 * time.Second,
		SpeedSamples:        8,
		SpeedInterval:       time.Second,
		DNSTimeout:          5 * time.Second,
		SchemeDirs:          []string{"/etc/workio/schemes"},
		JournalPath:         filepath.Join("/var/lib/workio", "journal.db"),
		WorkerPath:          "workio-worker",
		LogLevel:            "info",
	}
}

// Apply overlays the values present in envMap onto the configuration.
// Present but invalid values are an error, missing values keep the current
// value.
func (a *AppConfiguration) Apply(c *ConfigProviderImpl, envMap map[string]string) error {
	durations := map[string]*time.Duration{
		KeyIdleTimeout:         &a.IdleTimeout,
		KeyCleanupInterval:     &a.CleanupInterval,
		KeySpawnTimeout:        &a.SpawnTimeout,
		KeyResumeAnswerTimeout: &a.ResumeAnswerTimeout,
		KeySpeedInterval:       &a.SpeedInterval,
		KeyDNSTimeout:          &a.DNSTimeout,
	}

	for key, dst := range durations {
		if c.MapKeyToString(envMap, key) == "" {
			continue
		}
		d := c.MapKeyToDuration(envMap, key)
		if d < 0 {
			return fmt.Errorf("(config-apply) %w: %s", ErrInvalidValue, key)
		}
		*dst = d
	}

	ints := map[string]*int{
		KeyMaxIdlePerKey: &a.MaxIdlePerKey,
		KeySpeedSamples:  &a.SpeedSamples,
	}

	for key, dst := range ints {
		if c.MapKeyToString(envMap, key) == "" {
			continue
		}
		n := c.MapKeyToInt(envMap, key)
		if n < 0 {
			return fmt.Errorf("(config-apply) %w: %s", ErrInvalidValue, key)
		}
		*dst = n
	}

	if a.SpeedSamples < 2 { //nolint:mnd
		return fmt.Errorf("(config-apply) %w: %s needs at least 2 samples", ErrInvalidValue, KeySpeedSamples)
	}

	if v := c.MapKeyToString(envMap, KeySchemeDirs); v != "" {
		a.SchemeDirs = filepath.SplitList(v)
	}

	if v := c.MapKeyToString(envMap, KeyJournalPath); v != "" {
		a.JournalPath = v
	}

	if v := c.MapKeyToString(envMap, KeyWorkerPath); v != "" {
		a.WorkerPath = v
	}

	if v := c.MapKeyToString(envMap, KeyLogLevel); v != "" {
		a.LogLevel = strings.ToLower(v)
	}

	return nil
}

// Load reads the given configuration files, overlays the process
// environment and returns the resulting [AppConfiguration]. Without files
// only the environment is used.
func Load(c *ConfigProviderImpl, environ []string, filenames ...string) (*AppConfiguration, error) {
	envMap := make(map[string]string)

	if len(filenames) > 0 {
		m, err := c.ReadGeneric(filenames...)
		if err != nil {
			return nil, fmt.Errorf("(config-load) %w", err)
		}
		envMap = m
	}

	envMap = MergeEnviron(envMap, environ, EnvPrefix)

	cfg := NewAppConfiguration()
	if err := cfg.Apply(c, envMap); err != nil {
		return nil, err
	}

	return cfg, nil
}
