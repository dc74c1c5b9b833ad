package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	out.Wallet = cfg.Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Venues
	out.Venues = cfg.Venues
	redact(&out.Venues.Binance.ApiKey)
	redact(&out.Venues.Binance.ApiSecret)
	redact(&out.Venues.Kraken.ApiKey)
	redact(&out.Venues.Kraken.ApiSecret)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.ApiKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Arbitrage.Pairs != nil {
		out.Arbitrage.Pairs = make([]string, len(cfg.Arbitrage.Pairs))
		copy(out.Arbitrage.Pairs, cfg.Arbitrage.Pairs)
	}
	if cfg.Venues.Paper.Venues != nil {
		out.Venues.Paper.Venues = make([]string, len(cfg.Venues.Paper.Venues))
		copy(out.Venues.Paper.Venues, cfg.Venues.Paper.Venues)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Venues.Helix.MarketIDs != nil {
		out.Venues.Helix.MarketIDs = make(map[string]string, len(cfg.Venues.Helix.MarketIDs))
		for k, v := range cfg.Venues.Helix.MarketIDs {
			out.Venues.Helix.MarketIDs[k] = v
		}
	}
	if cfg.Venues.Paper.Prices != nil {
		out.Venues.Paper.Prices = make(map[string]float64, len(cfg.Venues.Paper.Prices))
		for k, v := range cfg.Venues.Paper.Prices {
			out.Venues.Paper.Prices[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
