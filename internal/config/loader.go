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
// built-in defaults, applies ARBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ARBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ARBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ARBOT_WALLET_KEY_PASSWORD")

	// ── Venues ──
	setBool(&cfg.Venues.Binance.Enabled, "ARBOT_VENUES_BINANCE_ENABLED")
	setStr(&cfg.Venues.Binance.BaseURL, "ARBOT_VENUES_BINANCE_BASE_URL")
	setStr(&cfg.Venues.Binance.ApiKey, "ARBOT_VENUES_BINANCE_API_KEY")
	setStr(&cfg.Venues.Binance.ApiSecret, "ARBOT_VENUES_BINANCE_API_SECRET")
	setBool(&cfg.Venues.Kraken.Enabled, "ARBOT_VENUES_KRAKEN_ENABLED")
	setStr(&cfg.Venues.Kraken.BaseURL, "ARBOT_VENUES_KRAKEN_BASE_URL")
	setStr(&cfg.Venues.Kraken.ApiKey, "ARBOT_VENUES_KRAKEN_API_KEY")
	setStr(&cfg.Venues.Kraken.ApiSecret, "ARBOT_VENUES_KRAKEN_API_SECRET")
	setBool(&cfg.Venues.Helix.Enabled, "ARBOT_VENUES_HELIX_ENABLED")
	setStr(&cfg.Venues.Helix.BaseURL, "ARBOT_VENUES_HELIX_BASE_URL")
	setStr(&cfg.Venues.Helix.ChainID, "ARBOT_VENUES_HELIX_CHAIN_ID")
	setBool(&cfg.Venues.Paper.Enabled, "ARBOT_VENUES_PAPER_ENABLED")
	setInt64(&cfg.Venues.Paper.Seed, "ARBOT_VENUES_PAPER_SEED")
	setStringSlice(&cfg.Venues.Paper.Venues, "ARBOT_VENUES_PAPER_VENUES")

	// ── Arbitrage ──
	setStringSlice(&cfg.Arbitrage.Pairs, "ARBOT_ARBITRAGE_PAIRS")
	setDuration(&cfg.Arbitrage.CheckInterval, "ARBOT_ARBITRAGE_CHECK_INTERVAL")
	setFloat64(&cfg.Arbitrage.FeeRate, "ARBOT_ARBITRAGE_FEE_RATE")
	setFloat64(&cfg.Arbitrage.MinProfitThreshold, "ARBOT_ARBITRAGE_MIN_PROFIT_THRESHOLD")
	setStr(&cfg.Arbitrage.Scorer, "ARBOT_ARBITRAGE_SCORER")
	setFloat64(&cfg.Arbitrage.ConfidenceThreshold, "ARBOT_ARBITRAGE_CONFIDENCE_THRESHOLD")
	setDuration(&cfg.Arbitrage.DedupTTL, "ARBOT_ARBITRAGE_DEDUP_TTL")
	setInt(&cfg.Arbitrage.HistorySize, "ARBOT_ARBITRAGE_HISTORY_SIZE")
	setStr(&cfg.Arbitrage.ScorerWeights, "ARBOT_ARBITRAGE_SCORER_WEIGHTS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTradeAmount, "ARBOT_RISK_MAX_TRADE_AMOUNT")
	setFloat64(&cfg.Risk.MaxDailyLoss, "ARBOT_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.MaxTradeCount, "ARBOT_RISK_MAX_TRADE_COUNT")
	setDuration(&cfg.Risk.Window, "ARBOT_RISK_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "ARBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "ARBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "ARBOT_PIPELINE_ENABLED")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "ARBOT_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "ARBOT_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "ARBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ARBOT_SERVER_RATE_LIMIT")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "ARBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "ARBOT_METRICS_ADDR")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBOT_MODE")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
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
