// Package config provides the configuration model for rolepool.
// A Config describes one backend endpoint and the pools that may be opened
// against it:
//
//   - Driver and DSN select the backend and its base connection string
//   - Defaults apply to every database
//   - Databases overlay per-database settings on top of Defaults
//   - Logging, Metrics and Tracing configure the ambient stack
//
// Example usage:
//
//	cfg := config.NewConfig("postgres", "postgres://app@db:5432/postgres")
//	cfg.Defaults.MaxPoolSize = 20
//	cfg.Databases["sales"] = config.PoolConfig{Username: "reporter", SecurityPolicy: "strict"}
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/rolepool/pkg/errors"
	"github.com/ajitpratap0/rolepool/pkg/logger"
)

// Security policy names accepted by PoolConfig.SecurityPolicy
const (
	PolicyDisabled = "disabled"
	PolicyDefault  = "default"
	PolicyStrict   = "strict"
)

// PoolConfig holds sizing, timeout and security settings for one named pool.
type PoolConfig struct {
	// Username is the login identity used to open physical connections
	Username string `yaml:"username" json:"username" mapstructure:"username"`
	// Password for the login identity (use ${VAR} substitution in files)
	Password string `yaml:"password" json:"-" mapstructure:"password"`

	// MaxPoolSize caps the number of physical connections
	MaxPoolSize int `yaml:"max_pool_size" json:"max_pool_size" mapstructure:"max_pool_size"`
	// MinIdle is the number of idle connections the pool tries to keep
	MinIdle int `yaml:"min_idle" json:"min_idle" mapstructure:"min_idle"`

	// ConnectionTimeout bounds how long a checkout waits for a connection
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout" mapstructure:"connection_timeout"`
	// ValidationTimeout bounds identity switch and security statements
	ValidationTimeout time.Duration `yaml:"validation_timeout" json:"validation_timeout" mapstructure:"validation_timeout"`
	// IdleTimeout closes connections idle for longer than this
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout" mapstructure:"idle_timeout"`
	// MaxLifetime retires connections older than this
	MaxLifetime time.Duration `yaml:"max_lifetime" json:"max_lifetime" mapstructure:"max_lifetime"`
	// LeakDetectionThreshold warns about connections held longer than this (0 = off)
	LeakDetectionThreshold time.Duration `yaml:"leak_detection_threshold" json:"leak_detection_threshold" mapstructure:"leak_detection_threshold"`

	// SecurityPolicy selects the login/switch policy: disabled, default or strict
	SecurityPolicy string `yaml:"security_policy" json:"security_policy" mapstructure:"security_policy"`
	// ReadOnly opens sessions in read-only transaction mode
	ReadOnly bool `yaml:"read_only" json:"read_only" mapstructure:"read_only"`
	// ApplicationName is reported to the backend where supported
	ApplicationName string `yaml:"application_name" json:"application_name" mapstructure:"application_name"`
}

// MetricsConfig controls Prometheus exposition
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" mapstructure:"namespace"`
	Listen    string `yaml:"listen" json:"listen" mapstructure:"listen"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate" mapstructure:"sample_rate"`
	PrettyPrint bool    `yaml:"pretty_print" json:"pretty_print" mapstructure:"pretty_print"`
}

// Config is the root configuration for a registry and its pools.
type Config struct {
	// Driver selects the backend: postgres or mysql
	Driver string `yaml:"driver" json:"driver" mapstructure:"driver"`
	// DSN is the base connection string; the database name is substituted per pool
	DSN string `yaml:"dsn" json:"-" mapstructure:"dsn"`

	Defaults  PoolConfig            `yaml:"defaults" json:"defaults" mapstructure:"defaults"`
	Databases map[string]PoolConfig `yaml:"databases" json:"databases" mapstructure:"databases"`

	Logging logger.Config `yaml:"logging" json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// Source supplies the initial configuration of a pool before it is created.
type Source interface {
	PoolConfig(database string) (PoolConfig, error)
}

// DefaultPoolConfig returns production defaults for a single pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxPoolSize:       10,
		MinIdle:           2,
		ConnectionTimeout: 30 * time.Second,
		ValidationTimeout: 5 * time.Second,
		IdleTimeout:       10 * time.Minute,
		MaxLifetime:       30 * time.Minute,
		SecurityPolicy:    PolicyDefault,
		ApplicationName:   "rolepool",
	}
}

// NewConfig creates a Config with default pool settings and no databases.
func NewConfig(driver, dsn string) *Config {
	return &Config{
		Driver:    driver,
		DSN:       dsn,
		Defaults:  DefaultPoolConfig(),
		Databases: make(map[string]PoolConfig),
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Namespace: "rolepool",
			Listen:    ":9090",
		},
		Tracing: TracingConfig{
			ServiceName: "rolepool",
			SampleRate:  1.0,
		},
	}
}

// PoolConfig returns the configuration for database. Databases without an
// explicit section get the defaults.
func (c *Config) PoolConfig(database string) (PoolConfig, error) {
	name := strings.TrimSpace(database)
	if name == "" {
		return PoolConfig{}, fmt.Errorf("database name is required")
	}
	if pc, ok := c.Databases[name]; ok {
		return pc, nil
	}
	// viper lowercases map keys
	if pc, ok := c.Databases[strings.ToLower(name)]; ok {
		return pc, nil
	}
	return c.Defaults, nil
}

// Validate checks the root configuration and every pool section.
func (c *Config) Validate() error {
	switch c.Driver {
	case "postgres", "mysql":
	case "":
		return fmt.Errorf("driver is required")
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for name, pc := range c.Databases {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("database section with blank name")
		}
		if err := pc.Validate(); err != nil {
			return fmt.Errorf("databases.%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks sizing and timeout values.
func (p *PoolConfig) Validate() error {
	if p.MaxPoolSize <= 0 {
		return fmt.Errorf("max_pool_size must be positive")
	}
	if p.MinIdle < 0 {
		return fmt.Errorf("min_idle cannot be negative")
	}
	if p.MinIdle > p.MaxPoolSize {
		return fmt.Errorf("min_idle (%d) cannot exceed max_pool_size (%d)", p.MinIdle, p.MaxPoolSize)
	}
	if p.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive")
	}
	if p.ValidationTimeout <= 0 {
		return fmt.Errorf("validation_timeout must be positive")
	}
	if p.IdleTimeout < 0 || p.MaxLifetime < 0 || p.LeakDetectionThreshold < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	switch p.SecurityPolicy {
	case "", PolicyDisabled, PolicyDefault, PolicyStrict:
	default:
		return fmt.Errorf("unknown security_policy %q", p.SecurityPolicy)
	}
	return nil
}

// Policy returns the configured policy name, defaulting to PolicyDefault.
func (p *PoolConfig) Policy() string {
	if p.SecurityPolicy == "" {
		return PolicyDefault
	}
	return p.SecurityPolicy
}

// StaticSource is an in-code Source with shared defaults and per-database overrides.
type StaticSource struct {
	Defaults  PoolConfig
	Databases map[string]PoolConfig
}

// NewStaticSource returns a StaticSource using DefaultPoolConfig.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		Defaults:  DefaultPoolConfig(),
		Databases: make(map[string]PoolConfig),
	}
}

// PoolConfig implements Source.
func (s *StaticSource) PoolConfig(database string) (PoolConfig, error) {
	if pc, ok := s.Databases[strings.TrimSpace(database)]; ok {
		return pc, nil
	}
	return s.Defaults, nil
}

// NormalizeName trims a database name and rejects empty or blank values.
// what names the argument in the error message.
func NormalizeName(value, what string) (string, error) {
	if value == "" {
		return "", errors.Newf(errors.ErrorTypeInvalidArgument, "%s is required", what)
	}
	name := strings.TrimSpace(value)
	if name == "" {
		return "", errors.Newf(errors.ErrorTypeInvalidArgument, "%s must not be blank", what)
	}
	return name, nil
}
