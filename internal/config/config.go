// Package config provides configuration management for the position syncer.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eddiefleurent/position_sync/internal/broker"
	"github.com/eddiefleurent/position_sync/internal/retry"
	"github.com/eddiefleurent/position_sync/internal/storage"
	"github.com/eddiefleurent/position_sync/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

const (
	defaultSyncInterval          = "15m"
	defaultMaxConcurrentAccounts = 4
	defaultAccountCacheTTL       = "5m"
	defaultStoragePath           = "positions.json"
)

// Broker providers
const (
	ProviderMock = "mock"
	ProviderFile = "file"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Retry       RetryConfig       `yaml:"retry"`
	Sync        SyncConfig        `yaml:"sync"`
	Storage     StorageConfig     `yaml:"storage"`
	Detector    DetectorConfig    `yaml:"detector"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// BrokerConfig defines where positions are read from.
type BrokerConfig struct {
	Provider     string `yaml:"provider"` // mock | file
	SnapshotPath string `yaml:"snapshot_path"`
	// AccountHashes restricts syncing to these accounts. Empty means all.
	AccountHashes   []string             `yaml:"account_hashes"`
	AccountCacheTTL string               `yaml:"account_cache_ttl"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors broker.CircuitBreakerSettings. Zero values
// take the broker defaults.
type CircuitBreakerConfig struct {
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// RetryConfig defines backoff for broker reads.
type RetryConfig struct {
	MaxRetries     *int   `yaml:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
	Timeout        string `yaml:"timeout"`
}

// SyncConfig defines the sync loop.
type SyncConfig struct {
	UserID                string `yaml:"user_id"`
	Interval              string `yaml:"interval"`
	MaxConcurrentAccounts int    `yaml:"max_concurrent_accounts"`
}

// StorageConfig defines storage settings for position data.
type StorageConfig struct {
	Backend string `yaml:"backend"` // json | sqlite
	Path    string `yaml:"path"`
}

// DetectorConfig defines strategy detection thresholds.
type DetectorConfig struct {
	BigOptionQuantity  float64 `yaml:"big_option_quantity"`
	BigOptionCostBasis float64 `yaml:"big_option_cost_basis"`
	StrikeTolerance    float64 `yaml:"strike_tolerance"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML after expanding environment variables and validates it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Validate fills defaults and checks that all values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	if _, err := logrus.ParseLevel(c.Environment.LogLevel); err != nil {
		return fmt.Errorf("environment.log_level invalid: %w", err)
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	switch c.Broker.Provider {
	case ProviderMock:
	case ProviderFile:
		if c.Broker.SnapshotPath == "" {
			return fmt.Errorf("broker.snapshot_path is required for the file provider")
		}
	default:
		return fmt.Errorf("broker.provider must be 'mock' or 'file', got %q", c.Broker.Provider)
	}
	for i, h := range c.Broker.AccountHashes {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("broker.account_hashes[%d] is empty", i)
		}
	}
	if _, err := parseDuration("broker.account_cache_ttl", c.Broker.AccountCacheTTL, true); err != nil {
		return err
	}
	cb := c.Broker.CircuitBreaker
	if cb.FailureRatio < 0 || cb.FailureRatio > 1 {
		return fmt.Errorf("broker.circuit_breaker.failure_ratio must be between 0 and 1")
	}
	if _, err := parseDuration("broker.circuit_breaker.interval", cb.Interval, true); err != nil {
		return err
	}
	if _, err := parseDuration("broker.circuit_breaker.timeout", cb.Timeout, true); err != nil {
		return err
	}

	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	for name, v := range map[string]string{
		"retry.initial_backoff": c.Retry.InitialBackoff,
		"retry.max_backoff":     c.Retry.MaxBackoff,
		"retry.timeout":         c.Retry.Timeout,
	} {
		if _, err := parseDuration(name, v, true); err != nil {
			return err
		}
	}

	if strings.TrimSpace(c.Sync.UserID) == "" {
		return fmt.Errorf("sync.user_id is required")
	}
	interval, err := parseDuration("sync.interval", c.Sync.Interval, false)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("sync.interval must be > 0")
	}
	if c.Sync.MaxConcurrentAccounts <= 0 {
		return fmt.Errorf("sync.max_concurrent_accounts must be > 0")
	}

	if c.Storage.Backend != storage.BackendJSON && c.Storage.Backend != storage.BackendSQLite {
		return fmt.Errorf("storage.backend must be 'json' or 'sqlite', got %q", c.Storage.Backend)
	}

	if err := c.StrategyConfig().Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	return nil
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = ProviderMock
	}
	if c.Broker.AccountCacheTTL == "" {
		c.Broker.AccountCacheTTL = defaultAccountCacheTTL
	}
	if c.Sync.Interval == "" {
		c.Sync.Interval = defaultSyncInterval
	}
	if c.Sync.MaxConcurrentAccounts == 0 {
		c.Sync.MaxConcurrentAccounts = defaultMaxConcurrentAccounts
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.BackendJSON
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	def := strategy.DefaultConfig()
	if c.Detector.BigOptionQuantity == 0 {
		c.Detector.BigOptionQuantity = def.BigOptionQuantity.InexactFloat64()
	}
	if c.Detector.BigOptionCostBasis == 0 {
		c.Detector.BigOptionCostBasis = def.BigOptionCostBasis.InexactFloat64()
	}
	if c.Detector.StrikeTolerance == 0 {
		c.Detector.StrikeTolerance = def.StrikeTolerance.InexactFloat64()
	}
}

func parseDuration(field, v string, allowEmpty bool) (time.Duration, error) {
	if v == "" && allowEmpty {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s invalid: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// mustDuration returns the parsed duration, or 0 for values Validate rejected.
func mustDuration(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

// LogLevel returns the configured logrus level, defaulting to info.
func (c *Config) LogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Environment.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// GetSyncInterval returns the sync loop interval.
func (c *Config) GetSyncInterval() time.Duration {
	if d := mustDuration(c.Sync.Interval); d > 0 {
		return d
	}
	return mustDuration(defaultSyncInterval)
}

// GetAccountCacheTTL returns the account list cache TTL; zero disables caching.
func (c *Config) GetAccountCacheTTL() time.Duration {
	return mustDuration(c.Broker.AccountCacheTTL)
}

// CircuitBreakerSettings merges configured values over the broker defaults.
func (c *Config) CircuitBreakerSettings() broker.CircuitBreakerSettings {
	s := broker.DefaultCircuitBreakerSettings()
	cb := c.Broker.CircuitBreaker
	if cb.MaxRequests > 0 {
		s.MaxRequests = cb.MaxRequests
	}
	if d := mustDuration(cb.Interval); d > 0 {
		s.Interval = d
	}
	if d := mustDuration(cb.Timeout); d > 0 {
		s.Timeout = d
	}
	if cb.MinRequests > 0 {
		s.MinRequests = cb.MinRequests
	}
	if cb.FailureRatio > 0 {
		s.FailureRatio = cb.FailureRatio
	}
	return s
}

// RetryConfig returns retry settings; unset fields take retry.DefaultConfig.
func (c *Config) RetryConfig() retry.Config {
	r := retry.DefaultConfig
	if c.Retry.MaxRetries != nil {
		r.MaxRetries = *c.Retry.MaxRetries
	}
	if d := mustDuration(c.Retry.InitialBackoff); d > 0 {
		r.InitialBackoff = d
	}
	if d := mustDuration(c.Retry.MaxBackoff); d > 0 {
		r.MaxBackoff = d
	}
	if d := mustDuration(c.Retry.Timeout); d > 0 {
		r.Timeout = d
	}
	return r
}

// StrategyConfig returns the detector thresholds as decimals.
func (c *Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		BigOptionQuantity:  decimal.NewFromFloat(c.Detector.BigOptionQuantity),
		BigOptionCostBasis: decimal.NewFromFloat(c.Detector.BigOptionCostBasis),
		StrikeTolerance:    decimal.NewFromFloat(c.Detector.StrikeTolerance),
	}
}
