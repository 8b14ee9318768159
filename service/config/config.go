package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Ledger configuration
	NodeURL            string
	MarketplaceAddress string
	ModuleAddress      string
	LedgerRPS          float64
	LedgerTimeout      time.Duration
	LedgerRetryMax     int

	// Wallet bridge used to sign transactions
	WalletURL string

	// Confirmation polling
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// Catalog
	PageSize       int
	DetailCacheTTL time.Duration

	// Optional persistence and events. Empty disables the feature.
	DatabaseURL string
	NATSURL     string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Follow-up checks for submissions whose confirmation timed out
	RecheckMaxChecks int
	RecheckInterval  time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Ledger configuration
	cfg.NodeURL = os.Getenv("NODE_URL")
	if cfg.NodeURL == "" {
		errs = append(errs, fmt.Errorf("NODE_URL is required"))
	}

	cfg.MarketplaceAddress = os.Getenv("MARKETPLACE_ADDRESS")
	if cfg.MarketplaceAddress == "" {
		errs = append(errs, fmt.Errorf("MARKETPLACE_ADDRESS is required"))
	} else if !isAddress(cfg.MarketplaceAddress) {
		errs = append(errs, fmt.Errorf("MARKETPLACE_ADDRESS must be a 0x-prefixed hex address"))
	}

	cfg.ModuleAddress = getEnvOrDefault("MODULE_ADDRESS", cfg.MarketplaceAddress)
	if cfg.ModuleAddress != "" && !isAddress(cfg.ModuleAddress) {
		errs = append(errs, fmt.Errorf("MODULE_ADDRESS must be a 0x-prefixed hex address"))
	}

	rps, err := parseFloat("LEDGER_RPS", 5)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LedgerRPS = rps
	}

	ledgerTimeout, err := parseDuration("LEDGER_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LedgerTimeout = ledgerTimeout
	}

	retryMax, err := parseInt("LEDGER_RETRY_MAX", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LedgerRetryMax = retryMax
	}

	// Wallet bridge
	cfg.WalletURL = getEnvOrDefault("WALLET_URL", "http://localhost:8787")

	// Confirmation polling
	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	pollInterval, err := parseDuration("CONFIRM_POLL_INTERVAL", "1s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = pollInterval
	}

	// Catalog
	pageSize, err := parseInt("PAGE_SIZE", 8)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PageSize = pageSize
	}

	cacheTTL, err := parseDuration("DETAIL_CACHE_TTL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DetailCacheTTL = cacheTTL
	}

	// Optional persistence and events
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "nftmarket-recheck")

	maxChecks, err := parseInt("RECHECK_MAX_CHECKS", 20)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RecheckMaxChecks = maxChecks
	}

	recheckInterval, err := parseDuration("RECHECK_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RecheckInterval = recheckInterval
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.NodeURL == "" {
		errs = append(errs, fmt.Errorf("NodeURL is required"))
	}

	if c.MarketplaceAddress == "" {
		errs = append(errs, fmt.Errorf("MarketplaceAddress is required"))
	}

	if c.LedgerRPS < 0 {
		errs = append(errs, fmt.Errorf("LedgerRPS cannot be negative"))
	}

	if c.LedgerRetryMax < 0 {
		errs = append(errs, fmt.Errorf("LedgerRetryMax cannot be negative"))
	}

	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("PageSize must be at least 1"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	}

	if c.ConfirmPollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval (%v) cannot be greater than ConfirmTimeout (%v)",
			c.ConfirmPollInterval, c.ConfirmTimeout))
	}

	if c.RecheckMaxChecks < 0 {
		errs = append(errs, fmt.Errorf("RecheckMaxChecks cannot be negative"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// isAddress reports whether s looks like a 0x-prefixed hex account address.
func isAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) < 3 || len(s) > 66 {
		return false
	}
	for _, r := range s[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
