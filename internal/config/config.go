// Package config defines the top-level configuration for the deposit
// pipeline service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TILTVAULT_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Square   SquareConfig   `toml:"square"`
	Chain    ChainConfig    `toml:"chain"`
	Custody  CustodyConfig  `toml:"custody"`
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Limits   LimitsConfig   `toml:"limits"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects operator endpoints. Empty leaves them open (dev only).
	APIKey string `toml:"api_key"`
	// PaymentRateLimit bounds deposit submissions per client IP per window.
	PaymentRateLimit  int      `toml:"payment_rate_limit"`
	PaymentRateWindow duration `toml:"payment_rate_window"`
}

// SquareConfig holds payment gateway credentials and webhook parameters.
type SquareConfig struct {
	BaseURL     string `toml:"base_url"`
	AccessToken string `toml:"access_token"`
	LocationID  string `toml:"location_id"`
	// WebhookSignatureKey verifies inbound webhook deliveries.
	WebhookSignatureKey string `toml:"webhook_signature_key"`
	// NotificationURL is the exact public URL the gateway signs over.
	NotificationURL string   `toml:"notification_url"`
	Timeout         duration `toml:"timeout"`
}

// ChainConfig holds RPC endpoint parameters.
type ChainConfig struct {
	RPCURL       string   `toml:"rpc_url"`
	ChainID      int64    `toml:"chain_id"`
	PollInterval duration `toml:"poll_interval"`
}

// CustodyConfig holds custody signing service parameters.
type CustodyConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// EngineConfig holds the on-chain execution parameters. Wei-denominated
// amounts are decimal strings so they survive TOML integer limits.
type EngineConfig struct {
	HubAddress         string `toml:"hub_address"`
	StablecoinAddress  string `toml:"stablecoin_address"`
	StablecoinDecimals int    `toml:"stablecoin_decimals"`
	GasTopUpWei        string `toml:"gas_topup_wei"`

	LendingPoolAddress string `toml:"lending_pool_address"`

	PerpRouterAddress      string  `toml:"perp_router_address"`
	PerpIndexToken         string  `toml:"perp_index_token"`
	TargetLeverage         float64 `toml:"target_leverage"`
	PerpExecutionFeeWei    string  `toml:"perp_execution_fee_wei"`
	PerpAcceptablePriceUSD float64 `toml:"perp_acceptable_price_usd"`

	ConfirmTimeout duration `toml:"confirm_timeout"`
	RetryAttempts  int      `toml:"retry_attempts"`
	RetryBase      duration `toml:"retry_base"`
	RetryMax       duration `toml:"retry_max"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// RetentionDays is how long closed positions stay in PostgreSQL before
	// the archiver moves them to the bucket.
	RetentionDays int `toml:"retention_days"`
	// ExportPassphrase, when set, seals every export with AES-256-GCM before
	// upload.
	ExportPassphrase string `toml:"export_passphrase"`
}

// LimitsConfig holds deposit validation boundaries and velocity caps.
type LimitsConfig struct {
	MinAmountUSD float64 `toml:"min_amount_usd"`
	MaxAmountUSD float64 `toml:"max_amount_usd"`
	Currency     string  `toml:"currency"`
	// HourlyCapUSD / DailyCapUSD bound total spend per wallet. Zero disables
	// the cap.
	HourlyCapUSD float64 `toml:"hourly_cap_usd"`
	DailyCapUSD  float64 `toml:"daily_cap_usd"`
}

// MonitorConfig holds monitoring parameters.
type MonitorConfig struct {
	// ErrorSampleRate in (0,1] is the fraction of error reports recorded.
	ErrorSampleRate float64 `toml:"error_sample_rate"`
}

// NotifyConfig holds operator notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			PaymentRateLimit:  10,
			PaymentRateWindow: duration{time.Minute},
		},
		Square: SquareConfig{
			BaseURL: "https://connect.squareupsandbox.com",
			Timeout: duration{30 * time.Second},
		},
		Chain: ChainConfig{
			RPCURL:       "https://api.avax.network/ext/bc/C/rpc",
			ChainID:      43114,
			PollInterval: duration{2 * time.Second},
		},
		Custody: CustodyConfig{
			Timeout: duration{30 * time.Second},
		},
		Engine: EngineConfig{
			StablecoinDecimals:  6,
			GasTopUpWei:         "10000000000000000", // 0.01 native
			TargetLeverage:      2,
			PerpExecutionFeeWei: "300000000000000000",
			ConfirmTimeout:      duration{2 * time.Minute},
			RetryAttempts:       3,
			RetryBase:           duration{2 * time.Second},
			RetryMax:            duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "vaultd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultd-archive",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Limits: LimitsConfig{
			MinAmountUSD: 1,
			MaxAmountUSD: 1_000_000,
			Currency:     "USD",
			HourlyCapUSD: 50_000,
			DailyCapUSD:  200_000,
		},
		Monitor: MonitorConfig{
			ErrorSampleRate: 1,
		},
		Notify: NotifyConfig{
			Events: []string{"hub_balance", "execution_failed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// hexAddressLen is the length of a 0x-prefixed 20-byte address.
const hexAddressLen = 42

func validAddress(s string) bool {
	return len(s) == hexAddressLen && strings.HasPrefix(s, "0x")
}

func validWei(s string) bool {
	if s == "" {
		return false
	}
	_, ok := new(big.Int).SetString(s, 10)
	return ok
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Square
	if c.Square.BaseURL == "" {
		errs = append(errs, "square: base_url must not be empty")
	}
	if c.Square.AccessToken == "" {
		errs = append(errs, "square: access_token must not be empty")
	}
	if c.Square.LocationID == "" {
		errs = append(errs, "square: location_id must not be empty")
	}
	if c.Square.WebhookSignatureKey == "" {
		errs = append(errs, "square: webhook_signature_key must not be empty")
	}
	if c.Square.NotificationURL == "" {
		errs = append(errs, "square: notification_url must not be empty")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	// Custody
	if c.Custody.BaseURL == "" {
		errs = append(errs, "custody: base_url must not be empty")
	}

	// Engine checks only apply when execution runs in this process.
	if strings.ToLower(c.Mode) == "full" {
		if !validAddress(c.Engine.HubAddress) {
			errs = append(errs, "engine: hub_address must be a 0x-prefixed 20-byte address")
		}
		if !validAddress(c.Engine.StablecoinAddress) {
			errs = append(errs, "engine: stablecoin_address must be a 0x-prefixed 20-byte address")
		}
		if c.Engine.StablecoinDecimals <= 0 {
			errs = append(errs, "engine: stablecoin_decimals must be positive")
		}
		if !validWei(c.Engine.GasTopUpWei) {
			errs = append(errs, fmt.Sprintf("engine: gas_topup_wei %q is not a decimal integer", c.Engine.GasTopUpWei))
		}
		if !validAddress(c.Engine.LendingPoolAddress) {
			errs = append(errs, "engine: lending_pool_address must be a 0x-prefixed 20-byte address")
		}
		if !validAddress(c.Engine.PerpRouterAddress) {
			errs = append(errs, "engine: perp_router_address must be a 0x-prefixed 20-byte address")
		}
		if !validAddress(c.Engine.PerpIndexToken) {
			errs = append(errs, "engine: perp_index_token must be a 0x-prefixed 20-byte address")
		}
		if c.Engine.TargetLeverage < 1 {
			errs = append(errs, "engine: target_leverage must be >= 1")
		}
		if !validWei(c.Engine.PerpExecutionFeeWei) {
			errs = append(errs, fmt.Sprintf("engine: perp_execution_fee_wei %q is not a decimal integer", c.Engine.PerpExecutionFeeWei))
		}
		if c.Engine.PerpAcceptablePriceUSD <= 0 {
			errs = append(errs, "engine: perp_acceptable_price_usd must be > 0")
		}
		if c.Engine.RetryAttempts < 1 {
			errs = append(errs, "engine: retry_attempts must be >= 1")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
	}

	// Limits
	if c.Limits.MinAmountUSD <= 0 {
		errs = append(errs, "limits: min_amount_usd must be > 0")
	}
	if c.Limits.MaxAmountUSD < c.Limits.MinAmountUSD {
		errs = append(errs, "limits: max_amount_usd must be >= min_amount_usd")
	}
	if c.Limits.Currency == "" {
		errs = append(errs, "limits: currency must not be empty")
	}
	if c.Limits.HourlyCapUSD < 0 || c.Limits.DailyCapUSD < 0 {
		errs = append(errs, "limits: velocity caps must not be negative")
	}

	// Monitor
	if c.Monitor.ErrorSampleRate <= 0 || c.Monitor.ErrorSampleRate > 1 {
		errs = append(errs, fmt.Sprintf("monitor: error_sample_rate must be in (0,1], got %g", c.Monitor.ErrorSampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
