// Package config provides YAML configuration loading, validation, and a
// functional-options constructor for the crash reporter core.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExceptionHandling selects which uncaught-exception notifications should
// be redirected onto the crash-report pipeline.
type ExceptionHandling string

const (
	// ExceptionHandlingNone disables the uncaught-exception hook entirely;
	// only real fault signals are reported.
	ExceptionHandlingNone ExceptionHandling = "none"
	// ExceptionHandlingUncaughtOnly reports only exceptions that would
	// otherwise have terminated the process.
	ExceptionHandlingUncaughtOnly ExceptionHandling = "uncaught-only"
	// ExceptionHandlingAll reports every exception passed to the hook,
	// caught or not.
	ExceptionHandlingAll ExceptionHandling = "all"
)

var validExceptionHandling = map[ExceptionHandling]bool{
	ExceptionHandlingNone:         true,
	ExceptionHandlingUncaughtOnly: true,
	ExceptionHandlingAll:         true,
}

// PostCrashCallback is invoked, best-effort, after a report has been
// written to disk but before the process terminates. It must not allocate
// or block: it runs on the same signal-adjacent path as the rest of
// CrashNow (see internal/signaldriver).
type PostCrashCallback func(outputPath string)

// Config is the crash reporter's configuration (spec.md §4, "Recognized
// options"): application identity, exception-handling scope, the report
// output path, and an optional post-crash hook.
type Config struct {
	// ApplicationIdentifier names the application in every report.
	// Required.
	ApplicationIdentifier string `yaml:"application_identifier"`

	// ApplicationVersion is the application's version string, recorded in
	// every report's AppInfo. Required.
	ApplicationVersion string `yaml:"application_version"`

	// ExceptionHandling selects which uncaught-exception notifications are
	// redirected onto the signal path. Defaults to ExceptionHandlingAll
	// when omitted.
	ExceptionHandling ExceptionHandling `yaml:"exception_handling"`

	// OutputPath is where the next crash report is written
	// (O_CREAT|O_TRUNC|0644). Required.
	OutputPath string `yaml:"output_path"`

	// PostCrashCallback is set via WithPostCrashCallback; YAML configs have
	// no way to express a function and leave this nil.
	PostCrashCallback PostCrashCallback `yaml:"-"`
}

// Option is a functional option for New, mirroring the teacher's
// internal/agent.Option pattern for library embedders who construct a
// Config in code rather than loading YAML.
type Option func(*Config)

// WithApplicationIdentifier sets the application identifier.
func WithApplicationIdentifier(id string) Option {
	return func(c *Config) { c.ApplicationIdentifier = id }
}

// WithApplicationVersion sets the application version string.
func WithApplicationVersion(version string) Option {
	return func(c *Config) { c.ApplicationVersion = version }
}

// WithExceptionHandling sets the exception-handling scope.
func WithExceptionHandling(mode ExceptionHandling) Option {
	return func(c *Config) { c.ExceptionHandling = mode }
}

// WithOutputPath sets the report output path.
func WithOutputPath(path string) Option {
	return func(c *Config) { c.OutputPath = path }
}

// WithPostCrashCallback registers a best-effort post-crash hook.
func WithPostCrashCallback(cb PostCrashCallback) Option {
	return func(c *Config) { c.PostCrashCallback = cb }
}

// New builds a Config from functional options, applies defaults, and
// validates it.
func New(opts ...Option) (*Config, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates all required fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ExceptionHandling == "" {
		cfg.ExceptionHandling = ExceptionHandlingAll
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.ApplicationIdentifier == "" {
		errs = append(errs, errors.New("application_identifier is required"))
	}
	if cfg.ApplicationVersion == "" {
		errs = append(errs, errors.New("application_version is required"))
	}
	if cfg.OutputPath == "" {
		errs = append(errs, errors.New("output_path is required"))
	}
	if !validExceptionHandling[cfg.ExceptionHandling] {
		errs = append(errs, fmt.Errorf("exception_handling %q must be one of: none, uncaught-only, all", cfg.ExceptionHandling))
	}

	return errors.Join(errs...)
}
