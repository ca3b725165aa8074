package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/staking-indexer/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the indexer
type Config struct {
	EVM      EVMConfig      `yaml:"evm"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Sync     SyncConfig     `yaml:"sync"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	EventBus EventBusConfig `yaml:"eventbus"`
}

// EVMConfig holds the EVM chain connection and contract settings
type EVMConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	// StakeManager is the address of the staking contract emitting Staked / Claim* events
	StakeManager string `yaml:"stake_manager"`
	// ABIPath optionally overrides the embedded StakeManager ABI
	ABIPath string `yaml:"abi_path"`
	// ReorgProtection is the number of blocks below the tip that are withheld
	ReorgProtection uint64 `yaml:"reorg_protection"`
	// MaxBlockRange bounds a single log query window
	MaxBlockRange uint64 `yaml:"max_block_range"`
	// StartHeight seeds the checkpoint on an empty database
	StartHeight uint64 `yaml:"start_height"`
}

// LedgerConfig holds the Substrate ledger connection settings
type LedgerConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	ReorgProtection uint64        `yaml:"reorg_protection"`
	BatchSize       int           `yaml:"batch_size"`
	DispatchDelay   time.Duration `yaml:"dispatch_delay"`
	SS58Prefix      uint16        `yaml:"ss58_prefix"`
	StakingPallet   string        `yaml:"staking_pallet"`
	StartHeight     uint64        `yaml:"start_height"`
}

// SyncConfig holds synchronization state machine settings
type SyncConfig struct {
	Threshold     uint64        `yaml:"threshold"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	RetryAttempts uint64        `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	// MaxLiveFailures stops the indexer after this many failed live passes in a row
	MaxLiveFailures int `yaml:"max_live_failures"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is one of "postgres" or "sqlite"
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables a rotated log file next to stdout
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	EnableGraphQL      bool     `yaml:"enable_graphql"`
	EnableJSONRPC      bool     `yaml:"enable_jsonrpc"`
	EnableWebSocket    bool     `yaml:"enable_websocket"`
	EnableCORS         bool     `yaml:"enable_cors"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// EventBusConfig holds in-process event bus configuration
type EventBusConfig struct {
	PublishBufferSize int `yaml:"publish_buffer_size"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// EVM defaults
	if c.EVM.Timeout == 0 {
		c.EVM.Timeout = constants.DefaultRPCTimeout
	}
	if c.EVM.ReorgProtection == 0 {
		c.EVM.ReorgProtection = constants.DefaultEVMReorgProtection
	}
	if c.EVM.MaxBlockRange == 0 {
		c.EVM.MaxBlockRange = constants.DefaultMaxBlockRange
	}

	// Ledger defaults
	if c.Ledger.BatchSize == 0 {
		c.Ledger.BatchSize = constants.DefaultLedgerBatchSize
	}
	if c.Ledger.DispatchDelay == 0 {
		c.Ledger.DispatchDelay = constants.DefaultDispatchDelay
	}
	if c.Ledger.SS58Prefix == 0 {
		c.Ledger.SS58Prefix = constants.ChainflipSS58Prefix
	}
	if c.Ledger.StakingPallet == "" {
		c.Ledger.StakingPallet = constants.DefaultStakingPallet
	}

	// Sync defaults
	if c.Sync.Threshold == 0 {
		c.Sync.Threshold = constants.DefaultSyncThreshold
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = constants.DefaultPollInterval
	}
	if c.Sync.MaxLiveFailures == 0 {
		c.Sync.MaxLiveFailures = constants.DefaultMaxLiveFailures
	}
	if c.Sync.RetryAttempts == 0 {
		c.Sync.RetryAttempts = constants.DefaultRetryAttempts
	}
	if c.Sync.RetryDelay == 0 {
		c.Sync.RetryDelay = constants.DefaultRetryDelay
	}

	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = constants.DefaultDatabaseDriver
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = constants.DefaultMaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = constants.DefaultMaxIdleConns
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = constants.DefaultConnMaxLifetime
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 14
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	if c.EventBus.PublishBufferSize == 0 {
		c.EventBus.PublishBufferSize = constants.DefaultEventBufferSize
	}
}

// LoadFromEnv loads configuration from environment variables
// Environment variables take precedence over file configuration
func (c *Config) LoadFromEnv() error {
	// EVM configuration
	if endpoint := os.Getenv("INDEXER_EVM_ENDPOINT"); endpoint != "" {
		c.EVM.Endpoint = endpoint
	}
	if timeout := os.Getenv("INDEXER_EVM_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_EVM_TIMEOUT: %w", err)
		}
		c.EVM.Timeout = duration
	}
	if addr := os.Getenv("INDEXER_EVM_STAKE_MANAGER"); addr != "" {
		c.EVM.StakeManager = addr
	}
	if path := os.Getenv("INDEXER_EVM_ABI_PATH"); path != "" {
		c.EVM.ABIPath = path
	}
	if err := envUint64("INDEXER_EVM_REORG_PROTECTION", &c.EVM.ReorgProtection); err != nil {
		return err
	}
	if err := envUint64("INDEXER_EVM_START_HEIGHT", &c.EVM.StartHeight); err != nil {
		return err
	}

	// Ledger configuration
	if endpoint := os.Getenv("INDEXER_LEDGER_ENDPOINT"); endpoint != "" {
		c.Ledger.Endpoint = endpoint
	}
	if err := envUint64("INDEXER_LEDGER_REORG_PROTECTION", &c.Ledger.ReorgProtection); err != nil {
		return err
	}
	if err := envUint64("INDEXER_LEDGER_START_HEIGHT", &c.Ledger.StartHeight); err != nil {
		return err
	}
	if batch := os.Getenv("INDEXER_LEDGER_BATCH_SIZE"); batch != "" {
		val, err := strconv.Atoi(batch)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_LEDGER_BATCH_SIZE: %w", err)
		}
		c.Ledger.BatchSize = val
	}
	if delay := os.Getenv("INDEXER_LEDGER_DISPATCH_DELAY"); delay != "" {
		duration, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_LEDGER_DISPATCH_DELAY: %w", err)
		}
		c.Ledger.DispatchDelay = duration
	}

	// Sync configuration
	if err := envUint64("INDEXER_SYNC_THRESHOLD", &c.Sync.Threshold); err != nil {
		return err
	}
	if interval := os.Getenv("INDEXER_SYNC_POLL_INTERVAL"); interval != "" {
		duration, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_SYNC_POLL_INTERVAL: %w", err)
		}
		c.Sync.PollInterval = duration
	}
	if err := envUint64("INDEXER_SYNC_RETRY_ATTEMPTS", &c.Sync.RetryAttempts); err != nil {
		return err
	}

	// Database configuration
	if driver := os.Getenv("INDEXER_DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("INDEXER_DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if migrate := os.Getenv("INDEXER_DB_AUTO_MIGRATE"); migrate != "" {
		val, err := strconv.ParseBool(migrate)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_DB_AUTO_MIGRATE: %w", err)
		}
		c.Database.AutoMigrate = val
	}

	// Log configuration
	if level := os.Getenv("INDEXER_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if format := os.Getenv("INDEXER_LOG_FORMAT"); format != "" {
		c.Log.Format = strings.ToLower(format)
	}
	if file := os.Getenv("INDEXER_LOG_FILE"); file != "" {
		c.Log.File = file
	}

	// API configuration
	if enabled := os.Getenv("INDEXER_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("INDEXER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("INDEXER_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid INDEXER_API_PORT: %w", err)
		}
		c.API.Port = val
	}
	if origins := os.Getenv("INDEXER_API_ALLOWED_ORIGINS"); origins != "" {
		c.API.AllowedOrigins = strings.Split(origins, ",")
	}

	return nil
}

func envUint64(name string, dst *uint64) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	val, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = val
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate EVM configuration
	if c.EVM.Endpoint == "" {
		return fmt.Errorf("EVM endpoint is required")
	}
	if c.EVM.Timeout <= 0 {
		return fmt.Errorf("EVM timeout must be positive")
	}
	if !common.IsHexAddress(c.EVM.StakeManager) {
		return fmt.Errorf("invalid stake manager address %q", c.EVM.StakeManager)
	}
	if c.EVM.MaxBlockRange == 0 {
		return fmt.Errorf("max block range must be positive")
	}

	// Validate ledger configuration
	if c.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger endpoint is required")
	}
	if c.Ledger.BatchSize <= 0 || c.Ledger.BatchSize > constants.MaxLedgerBatchSize {
		return fmt.Errorf("ledger batch size must be between 1 and %d", constants.MaxLedgerBatchSize)
	}
	if c.Ledger.DispatchDelay < 0 {
		return fmt.Errorf("ledger dispatch delay cannot be negative")
	}
	if c.Ledger.SS58Prefix > 16383 {
		return fmt.Errorf("ss58 prefix %d out of range", c.Ledger.SS58Prefix)
	}

	// Validate sync configuration
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Sync.MaxLiveFailures < 0 {
		return fmt.Errorf("max live failures cannot be negative")
	}

	// Validate database configuration
	validDrivers := map[string]bool{
		"postgres": true,
		"sqlite":   true,
	}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database driver %q, must be one of: postgres, sqlite", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate API configuration
	if c.API.Enabled {
		if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
			return fmt.Errorf("invalid API port %d", c.API.Port)
		}
	}

	return nil
}

// Load builds the configuration from defaults, the optional file and the
// INDEXER_* environment, in increasing precedence. overrides run last,
// before validation.
func Load(configFile string, overrides ...func(*Config)) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	for _, override := range overrides {
		override(cfg)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
