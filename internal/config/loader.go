package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TILTVAULT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TILTVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "TILTVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TILTVAULT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TILTVAULT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TILTVAULT_SERVER_API_KEY")
	setInt(&cfg.Server.PaymentRateLimit, "TILTVAULT_SERVER_PAYMENT_RATE_LIMIT")
	setDuration(&cfg.Server.PaymentRateWindow, "TILTVAULT_SERVER_PAYMENT_RATE_WINDOW")

	// ── Square ──
	setStr(&cfg.Square.BaseURL, "TILTVAULT_SQUARE_BASE_URL")
	setStr(&cfg.Square.AccessToken, "TILTVAULT_SQUARE_ACCESS_TOKEN")
	setStr(&cfg.Square.LocationID, "TILTVAULT_SQUARE_LOCATION_ID")
	setStr(&cfg.Square.WebhookSignatureKey, "TILTVAULT_SQUARE_WEBHOOK_SIGNATURE_KEY")
	setStr(&cfg.Square.NotificationURL, "TILTVAULT_SQUARE_NOTIFICATION_URL")
	setDuration(&cfg.Square.Timeout, "TILTVAULT_SQUARE_TIMEOUT")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "TILTVAULT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "TILTVAULT_CHAIN_CHAIN_ID")
	setDuration(&cfg.Chain.PollInterval, "TILTVAULT_CHAIN_POLL_INTERVAL")

	// ── Custody ──
	setStr(&cfg.Custody.BaseURL, "TILTVAULT_CUSTODY_BASE_URL")
	setStr(&cfg.Custody.APIKey, "TILTVAULT_CUSTODY_API_KEY")
	setDuration(&cfg.Custody.Timeout, "TILTVAULT_CUSTODY_TIMEOUT")

	// ── Engine ──
	setStr(&cfg.Engine.HubAddress, "TILTVAULT_ENGINE_HUB_ADDRESS")
	setStr(&cfg.Engine.StablecoinAddress, "TILTVAULT_ENGINE_STABLECOIN_ADDRESS")
	setInt(&cfg.Engine.StablecoinDecimals, "TILTVAULT_ENGINE_STABLECOIN_DECIMALS")
	setStr(&cfg.Engine.GasTopUpWei, "TILTVAULT_ENGINE_GAS_TOPUP_WEI")
	setStr(&cfg.Engine.LendingPoolAddress, "TILTVAULT_ENGINE_LENDING_POOL_ADDRESS")
	setStr(&cfg.Engine.PerpRouterAddress, "TILTVAULT_ENGINE_PERP_ROUTER_ADDRESS")
	setStr(&cfg.Engine.PerpIndexToken, "TILTVAULT_ENGINE_PERP_INDEX_TOKEN")
	setFloat64(&cfg.Engine.TargetLeverage, "TILTVAULT_ENGINE_TARGET_LEVERAGE")
	setStr(&cfg.Engine.PerpExecutionFeeWei, "TILTVAULT_ENGINE_PERP_EXECUTION_FEE_WEI")
	setFloat64(&cfg.Engine.PerpAcceptablePriceUSD, "TILTVAULT_ENGINE_PERP_ACCEPTABLE_PRICE_USD")
	setDuration(&cfg.Engine.ConfirmTimeout, "TILTVAULT_ENGINE_CONFIRM_TIMEOUT")
	setInt(&cfg.Engine.RetryAttempts, "TILTVAULT_ENGINE_RETRY_ATTEMPTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TILTVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TILTVAULT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TILTVAULT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TILTVAULT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TILTVAULT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TILTVAULT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TILTVAULT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TILTVAULT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TILTVAULT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TILTVAULT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TILTVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TILTVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TILTVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TILTVAULT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TILTVAULT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TILTVAULT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TILTVAULT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TILTVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TILTVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TILTVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TILTVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TILTVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TILTVAULT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TILTVAULT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "TILTVAULT_S3_RETENTION_DAYS")
	setStr(&cfg.S3.ExportPassphrase, "TILTVAULT_S3_EXPORT_PASSPHRASE")

	// ── Limits ──
	setFloat64(&cfg.Limits.MinAmountUSD, "TILTVAULT_LIMITS_MIN_AMOUNT_USD")
	setFloat64(&cfg.Limits.MaxAmountUSD, "TILTVAULT_LIMITS_MAX_AMOUNT_USD")
	setStr(&cfg.Limits.Currency, "TILTVAULT_LIMITS_CURRENCY")
	setFloat64(&cfg.Limits.HourlyCapUSD, "TILTVAULT_LIMITS_HOURLY_CAP_USD")
	setFloat64(&cfg.Limits.DailyCapUSD, "TILTVAULT_LIMITS_DAILY_CAP_USD")

	// ── Monitor ──
	setFloat64(&cfg.Monitor.ErrorSampleRate, "TILTVAULT_MONITOR_ERROR_SAMPLE_RATE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TILTVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TILTVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TILTVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TILTVAULT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TILTVAULT_MODE")
	setStr(&cfg.LogLevel, "TILTVAULT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
