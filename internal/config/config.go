// Package config provides configuration management for the relay server and the purchase CLI.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Canonical Base mainnet values
const (
	BaseChainID          = 8453
	DefaultRegistry      = "0x00000000fc84484d585C3cF48d213424DFDE43FD"
	DefaultUSDC          = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	DefaultFeeRecipient  = "0x06e5B0fd556e8dF43BC45f8343945Fb12C6C3E90"
	DefaultOperatorFID   = 268438
	DefaultFixedFee      = 500000
	DefaultWarpcastURL   = "https://api.warpcast.com/fc/message"
	DefaultExplorerTxURL = "https://basescan.org/tx/"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Chain    ChainConfig
	Purchase PurchaseConfig
	Notify   NotifyConfig
	Upstream UpstreamConfig
	Status   StatusConfig
	Logging  LoggingConfig
}

// ServerConfig holds relay server configuration
type ServerConfig struct {
	Port         string
	Host         string
	RateLimitRPS int
	RateBurst    int
}

// RedisConfig holds Redis configuration for the idempotency replay cache
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	IdempotencyTTL time.Duration
}

// Enabled reports whether a Redis host is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// ChainConfig holds chain and contract configuration
type ChainConfig struct {
	ChainID       uint64
	RPCPrimary    string
	RPCSecondary  string
	WalletRPCURL  string
	Registry      string
	USDC          string
	ExplorerTxURL string
}

// PurchaseConfig holds the tier and fee applied to every purchase
type PurchaseConfig struct {
	TierID       uint64
	Days         uint64
	FixedFee     int64
	FeeRecipient string
	PollInterval time.Duration
}

// NotifyConfig holds direct-message configuration
type NotifyConfig struct {
	RelayURL    string
	AuthToken   string
	OperatorFID int64
	Timeout     time.Duration
	MaxRetries  int
	// ContactURL is the manual escalation link; empty derives one from OperatorFID
	ContactURL  string
}

// UpstreamConfig holds the upstream message provider configuration used by the relay
type UpstreamConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// StatusConfig holds the profile and pro-status endpoint base URL
type StatusConfig struct {
	BaseURL string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			RateLimitRPS: getEnvAsInt("RATE_LIMIT_RPS", 10),
			RateBurst:    getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Redis: RedisConfig{
			Host:           getEnv("REDIS_HOST", ""),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			IdempotencyTTL: getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Chain: ChainConfig{
			ChainID:       uint64(getEnvAsInt("CHAIN_ID", BaseChainID)),
			RPCPrimary:    getEnv("BASE_RPC_PRIMARY", "https://mainnet.base.org"),
			RPCSecondary:  getEnv("BASE_RPC_SECONDARY", ""),
			WalletRPCURL:  getEnv("WALLET_RPC_URL", ""),
			Registry:      getEnv("TIER_REGISTRY_ADDRESS", DefaultRegistry),
			USDC:          getEnv("USDC_ADDRESS", DefaultUSDC),
			ExplorerTxURL: getEnv("EXPLORER_TX_URL", DefaultExplorerTxURL),
		},
		Purchase: PurchaseConfig{
			TierID:       uint64(getEnvAsInt("TIER_ID", 1)),
			Days:         uint64(getEnvAsInt("PURCHASE_DAYS", 30)),
			FixedFee:     getEnvAsInt64("FIXED_FEE", DefaultFixedFee),
			FeeRecipient: getEnv("FEE_RECIPIENT_ADDRESS", DefaultFeeRecipient),
			PollInterval: getEnvAsDuration("CONFIRM_POLL_INTERVAL", 2*time.Second),
		},
		Notify: NotifyConfig{
			RelayURL:    getEnv("RELAY_URL", "http://localhost:8080"),
			AuthToken:   getEnv("RELAY_AUTH_TOKEN", ""),
			OperatorFID: getEnvAsInt64("OPERATOR_FID", DefaultOperatorFID),
			Timeout:     getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),
			MaxRetries:  getEnvAsInt("NOTIFY_MAX_RETRIES", 3),
			ContactURL:  getEnv("CONTACT_OPERATOR_URL", ""),
		},
		Upstream: UpstreamConfig{
			URL:     getEnv("WARPCAST_API_URL", DefaultWarpcastURL),
			APIKey:  getEnv("WARPCAST_API_KEY", ""),
			Timeout: getEnvAsDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		},
		Status: StatusConfig{
			BaseURL: getEnv("STATUS_API_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// ValidateRelay checks the settings the relay server needs
func (c *Config) ValidateRelay() error {
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("WARPCAST_API_KEY is required")
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("WARPCAST_API_URL is required")
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive, got %d", c.Server.RateLimitRPS)
	}
	return nil
}

// ValidatePurchase checks the settings the purchase flow needs
func (c *Config) ValidatePurchase() error {
	addrs := map[string]string{
		"TIER_REGISTRY_ADDRESS": c.Chain.Registry,
		"USDC_ADDRESS":          c.Chain.USDC,
		"FEE_RECIPIENT_ADDRESS": c.Purchase.FeeRecipient,
	}
	for name, addr := range addrs {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %q", name, addr)
		}
	}
	if c.Chain.RPCPrimary == "" {
		return fmt.Errorf("BASE_RPC_PRIMARY is required")
	}
	if c.Chain.WalletRPCURL == "" {
		return fmt.Errorf("WALLET_RPC_URL is required")
	}
	if c.Purchase.Days == 0 {
		return fmt.Errorf("PURCHASE_DAYS must be positive")
	}
	if c.Purchase.FixedFee < 0 {
		return fmt.Errorf("FIXED_FEE must not be negative")
	}
	if c.Notify.OperatorFID <= 0 {
		return fmt.Errorf("OPERATOR_FID must be positive")
	}
	return nil
}

// FixedFeeAmount returns the fixed fee as a big integer in token minor units
func (c *Config) FixedFeeAmount() *big.Int {
	return big.NewInt(c.Purchase.FixedFee)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
