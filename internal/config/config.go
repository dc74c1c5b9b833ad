// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Venues    VenuesConfig    `toml:"venues"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Risk      RiskConfig      `toml:"risk"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Server    ServerConfig    `toml:"server"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key used for on-chain venues (Helix).
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// VenuesConfig groups per-venue connection settings.
type VenuesConfig struct {
	Binance BinanceConfig `toml:"binance"`
	Kraken  KrakenConfig  `toml:"kraken"`
	Helix   HelixConfig   `toml:"helix"`
	Paper   PaperConfig   `toml:"paper"`
}

// BinanceConfig holds Binance REST API parameters.
type BinanceConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// KrakenConfig holds Kraken REST API parameters.
type KrakenConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// HelixConfig holds Helix (Injective DEX) indexer parameters. Orders on Helix
// are signed with the wallet key rather than an API secret.
type HelixConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	ChainID string `toml:"chain_id"`
	// MarketIDs maps a trading pair ("INJ/USDT") to the Helix spot market ID.
	MarketIDs map[string]string `toml:"market_ids"`
}

// PaperConfig holds parameters for the built-in simulated venues. When
// enabled, each name in Venues becomes an independent random-walk venue, which
// gives the detector cross-venue divergence to work with in dry runs.
type PaperConfig struct {
	Enabled bool     `toml:"enabled"`
	Venues  []string `toml:"venues"`
	Seed    int64    `toml:"seed"`
	// Jitter is the per-tick fractional price step (0.002 = 0.2%).
	Jitter float64 `toml:"jitter"`
	// Prices sets the starting mid price per pair.
	Prices map[string]float64 `toml:"prices"`
}

// ArbitrageConfig holds detection-loop parameters.
type ArbitrageConfig struct {
	Pairs         []string `toml:"pairs"`
	CheckInterval duration `toml:"check_interval"`
	// FeeRate is the taker fee applied to each leg (0.001 = 0.1%).
	FeeRate float64 `toml:"fee_rate"`
	// MinProfitThreshold is the base net-margin floor before the risk manager
	// scales it; an opportunity must exceed it strictly.
	MinProfitThreshold  float64 `toml:"min_profit_threshold"`
	Scorer              string  `toml:"scorer"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	// ScorerWeights is an optional JSON file overriding the built-in logit
	// coefficients; empty keeps the defaults.
	ScorerWeights string `toml:"scorer_weights"`
	// DedupTTL suppresses re-alerting the same buy/sell venue pair for a
	// trading pair within this window.
	DedupTTL    duration `toml:"dedup_ttl"`
	HistorySize int      `toml:"history_size"`
}

// RiskConfig holds account-wide risk limits.
type RiskConfig struct {
	MaxTradeAmount float64  `toml:"max_trade_amount"`
	MaxDailyLoss   float64  `toml:"max_daily_loss"`
	MaxTradeCount  int      `toml:"max_trade_count"`
	Window         duration `toml:"window"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds archival parameters.
type PipelineConfig struct {
	Enabled              bool   `toml:"enabled"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	ArchiveCron          string `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
	// RateLimit is the per-client-IP request budget per minute; 0 disables.
	RateLimit int `toml:"rate_limit"`
}

// MetricsConfig holds the Prometheus exporter parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venues: VenuesConfig{
			Binance: BinanceConfig{
				Enabled: true,
				BaseURL: "https://api.binance.com",
			},
			Kraken: KrakenConfig{
				Enabled: true,
				BaseURL: "https://api.kraken.com",
			},
			Helix: HelixConfig{
				Enabled:   false,
				BaseURL:   "https://lcd.injective.network",
				ChainID:   "injective-1",
				MarketIDs: map[string]string{},
			},
			Paper: PaperConfig{
				Enabled: false,
				Venues:  []string{"paper-a", "paper-b"},
				Seed:    1,
				Jitter:  0.002,
				Prices: map[string]float64{
					"INJ/USDT": 25.0,
					"ETH/USDT": 3000.0,
					"BTC/USDT": 60000.0,
				},
			},
		},
		Arbitrage: ArbitrageConfig{
			Pairs:               []string{"INJ/USDT", "ETH/USDT", "BTC/USDT"},
			CheckInterval:       duration{10 * time.Second},
			FeeRate:             0.001,
			MinProfitThreshold:  0.005,
			Scorer:              "logit",
			ConfidenceThreshold: 0.7,
			DedupTTL:            duration{time.Minute},
			HistorySize:         20,
		},
		Risk: RiskConfig{
			MaxTradeAmount: 1.0,
			MaxDailyLoss:   0.5,
			MaxTradeCount:  10,
			Window:         duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
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
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			Enabled:              false,
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Notify: NotifyConfig{
			Events: []string{"arbitrage_opportunity", "trade_executed", "trade_failed", "open_position", "risk_limit", "archive_complete"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"trade":   true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validScorers enumerates the accepted values for ArbitrageConfig.Scorer.
var validScorers = map[string]bool{
	"margin": true,
	"logit":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, trade, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venues — at least one must be enabled for price-fetching modes.
	if c.Mode != "server" {
		if !c.Venues.Binance.Enabled && !c.Venues.Kraken.Enabled && !c.Venues.Helix.Enabled && !c.Venues.Paper.Enabled {
			errs = append(errs, "venues: at least one venue must be enabled for mode "+c.Mode)
		}
	}
	if c.Venues.Binance.Enabled && c.Venues.Binance.BaseURL == "" {
		errs = append(errs, "venues.binance: base_url must not be empty when enabled")
	}
	if c.Venues.Kraken.Enabled && c.Venues.Kraken.BaseURL == "" {
		errs = append(errs, "venues.kraken: base_url must not be empty when enabled")
	}
	if c.Venues.Helix.Enabled && c.Venues.Helix.BaseURL == "" {
		errs = append(errs, "venues.helix: base_url must not be empty when enabled")
	}
	if c.Venues.Paper.Enabled && len(c.Venues.Paper.Venues) == 0 {
		errs = append(errs, "venues.paper: venues must not be empty when enabled")
	}

	// Venue credentials — key and secret must be set together, or both empty.
	bk := c.Venues.Binance.ApiKey != ""
	bs := c.Venues.Binance.ApiSecret != ""
	if bk != bs {
		errs = append(errs, "venues.binance: api_key and api_secret must be set together")
	}
	kk := c.Venues.Kraken.ApiKey != ""
	ks := c.Venues.Kraken.ApiSecret != ""
	if kk != ks {
		errs = append(errs, "venues.kraken: api_key and api_secret must be set together")
	}

	// Trading modes need order credentials on every live venue they would
	// route through, and a wallet when Helix is live.
	trading := c.Mode == "trade" || c.Mode == "full"
	if trading {
		if c.Venues.Binance.Enabled && !bk {
			errs = append(errs, "venues.binance: api_key is required for mode "+c.Mode)
		}
		if c.Venues.Kraken.Enabled && !kk {
			errs = append(errs, "venues.kraken: api_key is required for mode "+c.Mode)
		}
		if c.Venues.Helix.Enabled {
			if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
				errs = append(errs, "wallet: either private_key or encrypted_key_path must be set when venues.helix is enabled for mode "+c.Mode)
			}
			if len(c.Venues.Helix.MarketIDs) == 0 {
				errs = append(errs, "venues.helix: market_ids must not be empty for mode "+c.Mode)
			}
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Arbitrage
	if len(c.Arbitrage.Pairs) == 0 {
		errs = append(errs, "arbitrage: pairs must not be empty")
	}
	for _, p := range c.Arbitrage.Pairs {
		base, quote, ok := strings.Cut(p, "/")
		if !ok || base == "" || quote == "" {
			errs = append(errs, fmt.Sprintf("arbitrage: pair %q is not in BASE/QUOTE form", p))
		}
	}
	if c.Arbitrage.CheckInterval.Duration <= 0 {
		errs = append(errs, "arbitrage: check_interval must be > 0")
	}
	if c.Arbitrage.FeeRate < 0 || c.Arbitrage.FeeRate >= 0.5 {
		errs = append(errs, fmt.Sprintf("arbitrage: fee_rate must be in [0, 0.5), got %g", c.Arbitrage.FeeRate))
	}
	if c.Arbitrage.MinProfitThreshold <= 0 {
		errs = append(errs, "arbitrage: min_profit_threshold must be > 0")
	}
	if !validScorers[strings.ToLower(c.Arbitrage.Scorer)] {
		errs = append(errs, fmt.Sprintf("arbitrage: unknown scorer %q (valid: margin, logit)", c.Arbitrage.Scorer))
	}
	if c.Arbitrage.ConfidenceThreshold <= 0 || c.Arbitrage.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("arbitrage: confidence_threshold must be in (0, 1], got %g", c.Arbitrage.ConfidenceThreshold))
	}
	if c.Arbitrage.HistorySize < 1 {
		errs = append(errs, "arbitrage: history_size must be >= 1")
	}

	// Risk
	if c.Risk.MaxTradeAmount <= 0 {
		errs = append(errs, "risk: max_trade_amount must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.MaxTradeCount < 1 {
		errs = append(errs, "risk: max_trade_count must be >= 1")
	}
	if c.Risk.Window.Duration <= 0 {
		errs = append(errs, "risk: window must be > 0")
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

	// S3 — only needed when the archive pipeline runs.
	if c.Pipeline.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when pipeline is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when pipeline is enabled")
		}
		if c.Pipeline.ArchiveRetentionDays < 1 {
			errs = append(errs, "pipeline: archive_retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
