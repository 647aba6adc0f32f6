// Package config defines the top-level configuration for the settlement node
// and provides validation helpers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PHANTOMBET_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Wallet    WalletConfig    `toml:"wallet"`
	Evidence  EvidenceConfig  `toml:"evidence"`
	Consensus ConsensusConfig `toml:"consensus"`
	Decision  DecisionConfig  `toml:"decision"`
	Sweep     SweepConfig     `toml:"sweep"`
	Policy    PolicyConfig    `toml:"policy"`
	Proof     ProofConfig     `toml:"proof"`
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	NodeID    string          `toml:"node_id"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint and the two contract addresses.
type ChainConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ChainID             int64    `toml:"chain_id"`
	LedgerAddress       string   `toml:"ledger_address"`
	OracleAddress       string   `toml:"oracle_address"`
	GasLimit            uint64   `toml:"gas_limit"`
	CallTimeout         duration `toml:"call_timeout"`
	ReceiptTimeout      duration `toml:"receipt_timeout"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
}

// WalletConfig holds the settlement signing credential.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// EvidenceConfig configures the evidence sources.
type EvidenceConfig struct {
	NewsEnabled     bool     `toml:"news_enabled"`
	NewsAPIKey      string   `toml:"news_api_key"`
	NewsBaseURL     string   `toml:"news_base_url"`
	MaxItems        int      `toml:"max_items"`
	PriceEnabled    bool     `toml:"price_enabled"`
	PriceBaseURL    string   `toml:"price_base_url"`
	SourceTimeout   duration `toml:"source_timeout"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	// RateLimitWait queues an over-budget fetch for up to SourceTimeout
	// instead of skipping the source.
	RateLimitWait bool `toml:"rate_limit_wait"`
}

// ConsensusConfig configures cross-node agreement on evidence.
type ConsensusConfig struct {
	// Strategy is "identical" (all nodes byte-equal) or "quorum".
	Strategy       string   `toml:"strategy"`
	Quorum         int      `toml:"quorum"`
	ExpectedNodes  int      `toml:"expected_nodes"`
	Window         duration `toml:"window"`
	CollectTimeout duration `toml:"collect_timeout"`
}

// DecisionConfig configures the OpenAI-compatible decision source.
type DecisionConfig struct {
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Model       string   `toml:"model"`
	Temperature float32  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Timeout     duration `toml:"timeout"`
	PriceRule   bool     `toml:"price_rule"`
}

// SweepConfig configures the orchestrator.
type SweepConfig struct {
	Interval          duration `toml:"interval"`
	Concurrency       int      `toml:"concurrency"`
	MarketTimeout     duration `toml:"market_timeout"`
	DistributedLock   bool     `toml:"distributed_lock"`
	LockTTL           duration `toml:"lock_ttl"`
	MarketLockEnabled bool     `toml:"market_lock_enabled"`
}

// PolicyConfig gates automatic submission.
type PolicyConfig struct {
	SubmitFallback bool    `toml:"submit_fallback"`
	MinConfidence  float64 `toml:"min_confidence"`
}

// ProofConfig selects the proof bytes attached to each settlement.
type ProofConfig struct {
	// Mode is "empty", "digest" or "signed".
	Mode string `toml:"mode"`
}

// StoreConfig selects the history backend.
type StoreConfig struct {
	// Driver is "postgres", "sqlite" or "none".
	Driver string `toml:"driver"`
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

// SQLiteConfig holds the local database path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// Enabled is false the node runs with in-process consensus and locking.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig configures the settlement event stream.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
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
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per client per RateLimitWindow. It needs
	// Redis; zero disables it.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "https://testnet-rpc.monad.xyz",
			ChainID:             10143,
			GasLimit:            2_000_000,
			CallTimeout:         duration{10 * time.Second},
			ReceiptTimeout:      duration{2 * time.Minute},
			ReceiptPollInterval: duration{2 * time.Second},
		},
		Evidence: EvidenceConfig{
			NewsEnabled:     true,
			NewsBaseURL:     "https://newsapi.org",
			MaxItems:        5,
			PriceEnabled:    true,
			PriceBaseURL:    "https://api.coingecko.com/api/v3",
			SourceTimeout:   duration{10 * time.Second},
			RateLimit:       30,
			RateLimitWindow: duration{time.Minute},
		},
		Consensus: ConsensusConfig{
			Strategy:       "identical",
			ExpectedNodes:  1,
			Window:         duration{10 * time.Minute},
			CollectTimeout: duration{30 * time.Second},
		},
		Decision: DecisionConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   400,
			Timeout:     duration{30 * time.Second},
			PriceRule:   true,
		},
		Sweep: SweepConfig{
			Interval:      duration{10 * time.Second},
			Concurrency:   1,
			MarketTimeout: duration{5 * time.Minute},
			LockTTL:       duration{10 * time.Minute},
		},
		Policy: PolicyConfig{
			SubmitFallback: true,
			MinConfidence:  0,
		},
		Proof: ProofConfig{
			Mode: "empty",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "data/settler.db",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "phantombet-settlements",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Topic: "phantombet.settlements",
		},
		Server: ServerConfig{
			Enabled:         false,
			Port:            8080,
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"settled", "failed", "held", "sweep_error"},
		},
		NodeID:   defaultNodeID(),
		Mode:     "poll",
		LogLevel: "info",
	}
}

// defaultNodeID is the host name, so nodes left on the default still publish
// consensus observations under distinct ids.
func defaultNodeID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "node-1"
}

// MarketBudget is the longest a single market can take when every stage runs
// into its timeout: one fetch (and consensus collect) per enabled source, a
// decision call plus its retry, and the receipt wait.
func (c *Config) MarketBudget() time.Duration {
	perSource := c.Evidence.SourceTimeout.Duration
	if c.Evidence.RateLimitWait && c.Redis.Enabled && c.Evidence.RateLimit > 0 {
		perSource += c.Evidence.SourceTimeout.Duration
	}
	if c.Consensus.ExpectedNodes > 1 {
		perSource += c.Consensus.CollectTimeout.Duration
	}
	sources := 0
	if c.Evidence.NewsEnabled {
		sources++
	}
	if c.Evidence.PriceEnabled {
		sources++
	}
	return time.Duration(sources)*perSource + 2*c.Decision.Timeout.Duration + c.Chain.ReceiptTimeout.Duration
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"once":  true,
	"poll":  true,
	"serve": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStrategies = map[string]bool{"identical": true, "quorum": true}

var validProofModes = map[string]bool{"empty": true, "digest": true, "signed": true}

var validStoreDrivers = map[string]bool{"postgres": true, "sqlite": true, "none": true}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: once, poll, serve)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if strings.TrimSpace(c.NodeID) == "" {
		errs = append(errs, "node_id must not be empty")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.LedgerAddress) {
		errs = append(errs, fmt.Sprintf("chain: ledger_address %q is not a hex address", c.Chain.LedgerAddress))
	}
	if !common.IsHexAddress(c.Chain.OracleAddress) {
		errs = append(errs, fmt.Sprintf("chain: oracle_address %q is not a hex address", c.Chain.OracleAddress))
	}
	if c.Chain.CallTimeout.Duration <= 0 {
		errs = append(errs, "chain: call_timeout must be > 0")
	}
	if c.Chain.ReceiptTimeout.Duration <= 0 {
		errs = append(errs, "chain: receipt_timeout must be > 0")
	}

	// Wallet
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Evidence
	if c.Evidence.NewsEnabled && c.Evidence.NewsAPIKey == "" {
		errs = append(errs, "evidence: news_api_key is required when news_enabled is true")
	}
	if c.Evidence.MaxItems < 1 {
		errs = append(errs, "evidence: max_items must be >= 1")
	}
	if c.Evidence.SourceTimeout.Duration <= 0 {
		errs = append(errs, "evidence: source_timeout must be > 0")
	}

	// Consensus
	if !validStrategies[c.Consensus.Strategy] {
		errs = append(errs, fmt.Sprintf("consensus: unknown strategy %q (valid: identical, quorum)", c.Consensus.Strategy))
	}
	if c.Consensus.ExpectedNodes < 1 {
		errs = append(errs, "consensus: expected_nodes must be >= 1")
	}
	if c.Consensus.Strategy == "quorum" && (c.Consensus.Quorum < 1 || c.Consensus.Quorum > c.Consensus.ExpectedNodes) {
		errs = append(errs, "consensus: quorum must be between 1 and expected_nodes")
	}
	if c.Consensus.ExpectedNodes > 1 && !c.Redis.Enabled {
		errs = append(errs, "consensus: expected_nodes > 1 requires redis.enabled")
	}
	if c.Consensus.Window.Duration <= 0 {
		errs = append(errs, "consensus: window must be > 0")
	}

	// Decision
	if c.Decision.APIKey == "" {
		errs = append(errs, "decision: api_key must not be empty")
	}
	if c.Decision.Temperature < 0 || c.Decision.Temperature > 2 {
		errs = append(errs, "decision: temperature must be within [0, 2]")
	}

	// Sweep
	if c.Sweep.Interval.Duration <= 0 {
		errs = append(errs, "sweep: interval must be > 0")
	}
	if c.Sweep.Concurrency < 1 {
		errs = append(errs, "sweep: concurrency must be >= 1")
	}
	if c.Sweep.MarketTimeout.Duration <= 0 {
		errs = append(errs, "sweep: market_timeout must be > 0")
	}
	if (c.Sweep.DistributedLock || c.Sweep.MarketLockEnabled) && !c.Redis.Enabled {
		errs = append(errs, "sweep: distributed locking requires redis.enabled")
	}
	// A cluster-wide sweep lock lets one node sweep at a time, so peers never
	// publish and every consensus round would fail. Use market_lock_enabled.
	if c.Sweep.DistributedLock && c.Consensus.ExpectedNodes > 1 {
		errs = append(errs, "sweep: distributed_lock cannot be combined with consensus.expected_nodes > 1 (use market_lock_enabled)")
	}
	if c.Sweep.MarketTimeout.Duration > 0 && c.Sweep.MarketTimeout.Duration <= c.MarketBudget() {
		errs = append(errs, fmt.Sprintf("sweep: market_timeout %s must exceed the per-market stage budget %s", c.Sweep.MarketTimeout.Duration, c.MarketBudget()))
	}

	// Policy
	if c.Policy.MinConfidence < 0 || c.Policy.MinConfidence > 1 {
		errs = append(errs, "policy: min_confidence must be within [0, 1]")
	}

	// Proof
	if !validProofModes[c.Proof.Mode] {
		errs = append(errs, fmt.Sprintf("proof: unknown mode %q (valid: empty, digest, signed)", c.Proof.Mode))
	}

	// Store
	if !validStoreDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, none)", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
	}
	if c.Store.Driver == "sqlite" && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Kafka
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, "kafka: topic must not be empty when brokers are set")
	}

	// Server
	if c.Server.Enabled || strings.ToLower(c.Mode) == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
