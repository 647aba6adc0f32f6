package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PHANTOMBET_* environment variable overrides, and
// returns the final Config. A missing file is not an error so a node can be
// configured from the environment alone. The returned Config has NOT been
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PHANTOMBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "PHANTOMBET_CHAIN_RPC_URL")
	setStr(&cfg.Chain.RPCURL, "RPC_URL") // compatibility alias
	setInt64(&cfg.Chain.ChainID, "PHANTOMBET_CHAIN_ID")
	setStr(&cfg.Chain.LedgerAddress, "PHANTOMBET_CHAIN_LEDGER_ADDRESS")
	setStr(&cfg.Chain.OracleAddress, "PHANTOMBET_CHAIN_ORACLE_ADDRESS")
	setUint64(&cfg.Chain.GasLimit, "PHANTOMBET_CHAIN_GAS_LIMIT")
	setDuration(&cfg.Chain.CallTimeout, "PHANTOMBET_CHAIN_CALL_TIMEOUT")
	setDuration(&cfg.Chain.ReceiptTimeout, "PHANTOMBET_CHAIN_RECEIPT_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PHANTOMBET_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "PHANTOMBET_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PHANTOMBET_WALLET_KEY_PASSWORD")

	// ── Evidence ──
	setBool(&cfg.Evidence.NewsEnabled, "PHANTOMBET_EVIDENCE_NEWS_ENABLED")
	setStr(&cfg.Evidence.NewsAPIKey, "PHANTOMBET_EVIDENCE_NEWS_API_KEY")
	setStr(&cfg.Evidence.NewsAPIKey, "NEWS_API_KEY") // compatibility alias
	setStr(&cfg.Evidence.NewsBaseURL, "PHANTOMBET_EVIDENCE_NEWS_BASE_URL")
	setInt(&cfg.Evidence.MaxItems, "PHANTOMBET_EVIDENCE_MAX_ITEMS")
	setBool(&cfg.Evidence.PriceEnabled, "PHANTOMBET_EVIDENCE_PRICE_ENABLED")
	setStr(&cfg.Evidence.PriceBaseURL, "PHANTOMBET_EVIDENCE_PRICE_BASE_URL")
	setDuration(&cfg.Evidence.SourceTimeout, "PHANTOMBET_EVIDENCE_SOURCE_TIMEOUT")
	setInt(&cfg.Evidence.RateLimit, "PHANTOMBET_EVIDENCE_RATE_LIMIT")
	setDuration(&cfg.Evidence.RateLimitWindow, "PHANTOMBET_EVIDENCE_RATE_LIMIT_WINDOW")
	setBool(&cfg.Evidence.RateLimitWait, "PHANTOMBET_EVIDENCE_RATE_LIMIT_WAIT")

	// ── Consensus ──
	setStr(&cfg.Consensus.Strategy, "PHANTOMBET_CONSENSUS_STRATEGY")
	setInt(&cfg.Consensus.Quorum, "PHANTOMBET_CONSENSUS_QUORUM")
	setInt(&cfg.Consensus.ExpectedNodes, "PHANTOMBET_CONSENSUS_EXPECTED_NODES")
	setDuration(&cfg.Consensus.Window, "PHANTOMBET_CONSENSUS_WINDOW")
	setDuration(&cfg.Consensus.CollectTimeout, "PHANTOMBET_CONSENSUS_COLLECT_TIMEOUT")

	// ── Decision ──
	setStr(&cfg.Decision.APIKey, "PHANTOMBET_DECISION_API_KEY")
	setStr(&cfg.Decision.APIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.Decision.BaseURL, "PHANTOMBET_DECISION_BASE_URL")
	setStr(&cfg.Decision.Model, "PHANTOMBET_DECISION_MODEL")
	setFloat32(&cfg.Decision.Temperature, "PHANTOMBET_DECISION_TEMPERATURE")
	setDuration(&cfg.Decision.Timeout, "PHANTOMBET_DECISION_TIMEOUT")

	// ── Sweep / policy / proof ──
	setDuration(&cfg.Sweep.Interval, "PHANTOMBET_SWEEP_INTERVAL")
	setInt(&cfg.Sweep.Concurrency, "PHANTOMBET_SWEEP_CONCURRENCY")
	setDuration(&cfg.Sweep.MarketTimeout, "PHANTOMBET_SWEEP_MARKET_TIMEOUT")
	setBool(&cfg.Sweep.DistributedLock, "PHANTOMBET_SWEEP_DISTRIBUTED_LOCK")
	setBool(&cfg.Sweep.MarketLockEnabled, "PHANTOMBET_SWEEP_MARKET_LOCK_ENABLED")
	setBool(&cfg.Policy.SubmitFallback, "PHANTOMBET_POLICY_SUBMIT_FALLBACK")
	setFloat64(&cfg.Policy.MinConfidence, "PHANTOMBET_POLICY_MIN_CONFIDENCE")
	setStr(&cfg.Proof.Mode, "PHANTOMBET_PROOF_MODE")

	// ── Store ──
	setStr(&cfg.Store.Driver, "PHANTOMBET_STORE_DRIVER")
	setStr(&cfg.Postgres.DSN, "PHANTOMBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PHANTOMBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PHANTOMBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PHANTOMBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PHANTOMBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PHANTOMBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PHANTOMBET_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "PHANTOMBET_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.SQLite.Path, "PHANTOMBET_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PHANTOMBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PHANTOMBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PHANTOMBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PHANTOMBET_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PHANTOMBET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PHANTOMBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PHANTOMBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PHANTOMBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "PHANTOMBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PHANTOMBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PHANTOMBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PHANTOMBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PHANTOMBET_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "PHANTOMBET_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "PHANTOMBET_KAFKA_TOPIC")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PHANTOMBET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PHANTOMBET_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PHANTOMBET_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PHANTOMBET_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "PHANTOMBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "PHANTOMBET_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PHANTOMBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PHANTOMBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PHANTOMBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PHANTOMBET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.NodeID, "PHANTOMBET_NODE_ID")
	setStr(&cfg.Mode, "PHANTOMBET_MODE")
	setStr(&cfg.LogLevel, "PHANTOMBET_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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

func setFloat32(dst *float32, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			*dst = float32(f)
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
