package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTOML = `
mode = "once"
node_id = "node-a"

[chain]
rpc_url = "http://localhost:8545"
chain_id = 31337
ledger_address = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
oracle_address = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
receipt_timeout = "45s"

[wallet]
private_key = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

[evidence]
news_api_key = "news-key"

[decision]
api_key = "sk-test"

[sweep]
interval = "1m"
concurrency = 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "once" || cfg.NodeID != "node-a" {
		t.Errorf("top-level fields not decoded: mode=%q node=%q", cfg.Mode, cfg.NodeID)
	}
	if cfg.Chain.ReceiptTimeout.Duration != 45*time.Second {
		t.Errorf("receipt_timeout = %v, want 45s", cfg.Chain.ReceiptTimeout.Duration)
	}
	if cfg.Sweep.Interval.Duration != time.Minute || cfg.Sweep.Concurrency != 2 {
		t.Errorf("sweep section not decoded: %+v", cfg.Sweep)
	}
	// Untouched values keep their defaults.
	if cfg.Decision.Model != "gpt-4o-mini" {
		t.Errorf("model default lost: %q", cfg.Decision.Model)
	}
	if cfg.Evidence.MaxItems != 5 {
		t.Errorf("max_items default lost: %d", cfg.Evidence.MaxItems)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PHANTOMBET_SWEEP_INTERVAL", "90s")
	t.Setenv("PHANTOMBET_CONSENSUS_STRATEGY", "quorum")
	t.Setenv("PHANTOMBET_KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("PHANTOMBET_POLICY_SUBMIT_FALLBACK", "false")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sweep.Interval.Duration != 90*time.Second {
		t.Errorf("interval = %v, want 90s", cfg.Sweep.Interval.Duration)
	}
	if cfg.Consensus.Strategy != "quorum" {
		t.Errorf("strategy = %q", cfg.Consensus.Strategy)
	}
	if got := strings.Join(cfg.Kafka.Brokers, "|"); got != "a:9092|b:9092" {
		t.Errorf("brokers = %q", got)
	}
	if cfg.Policy.SubmitFallback {
		t.Error("submit_fallback override ignored")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "poll" {
		t.Errorf("mode = %q, want default poll", cfg.Mode)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Consensus.ExpectedNodes = 3
	cfg.Proof.Mode = "zk"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "turbo"`,
		"ledger_address",
		"wallet: either private_key",
		"decision: api_key",
		"requires redis.enabled",
		`proof: unknown mode "zk"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "secret"
	cfg.Decision.APIKey = "sk"
	cfg.Notify.Events = []string{"settled"}

	out := RedactedConfig(&cfg)
	if out.Wallet.PrivateKey != redacted || out.Decision.APIKey != redacted {
		t.Errorf("secrets not redacted: %+v %+v", out.Wallet, out.Decision)
	}
	if out.Evidence.NewsAPIKey != "" {
		t.Errorf("empty secret should stay empty, got %q", out.Evidence.NewsAPIKey)
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "settled" {
		t.Error("redacted copy aliases the original slice")
	}
	if cfg.Wallet.PrivateKey != "secret" {
		t.Error("original config mutated")
	}
}

// validConfig returns defaults plus the fields Validate requires.
func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.LedgerAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	cfg.Chain.OracleAddress = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	cfg.Wallet.PrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.Evidence.NewsAPIKey = "news-key"
	cfg.Decision.APIKey = "sk-test"
	return cfg
}

func TestValidateSweepLockWithConsensus(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Enabled = true
	cfg.Consensus.ExpectedNodes = 2
	if err := cfg.Validate(); err != nil {
		t.Fatalf("consensus with per-market locks: %v", err)
	}

	cfg.Sweep.DistributedLock = true
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "distributed_lock cannot be combined") {
		t.Fatalf("Validate(expected_nodes=2, distributed_lock=true) = %v", err)
	}

	cfg.Consensus.ExpectedNodes = 1
	if err := cfg.Validate(); err != nil {
		t.Errorf("single node with sweep lock: %v", err)
	}
}

func TestValidateMarketTimeoutCoversStages(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}

	cfg.Redis.Enabled = true
	cfg.Consensus.ExpectedNodes = 3
	if cfg.Sweep.MarketTimeout.Duration <= cfg.MarketBudget() {
		t.Errorf("default market_timeout %v does not cover consensus budget %v", cfg.Sweep.MarketTimeout.Duration, cfg.MarketBudget())
	}

	// 2 sources * (10s + 30s) + 2 * 30s + 2m
	if got, want := cfg.MarketBudget(), 4*time.Minute+20*time.Second; got != want {
		t.Errorf("MarketBudget = %v, want %v", got, want)
	}

	// Queued rate-limited fetches may spend a second source timeout.
	cfg.Evidence.RateLimitWait = true
	if got, want := cfg.MarketBudget(), 4*time.Minute+40*time.Second; got != want {
		t.Errorf("MarketBudget with rate_limit_wait = %v, want %v", got, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default market_timeout rejected with rate_limit_wait: %v", err)
	}

	cfg.Sweep.MarketTimeout = duration{3 * time.Minute}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "market_timeout") {
		t.Errorf("3m market_timeout accepted: %v", err)
	}
}

func TestDefaultNodeIDIsHostname(t *testing.T) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		t.Skip("no hostname")
	}
	if got := Defaults().NodeID; got != host {
		t.Errorf("default node_id = %q, want %q", got, host)
	}
}
