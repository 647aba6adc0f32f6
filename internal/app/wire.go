package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/intelliDean/PhantomBet/internal/blob/s3"
	"github.com/intelliDean/PhantomBet/internal/cache/redis"
	"github.com/intelliDean/PhantomBet/internal/chain"
	"github.com/intelliDean/PhantomBet/internal/config"
	"github.com/intelliDean/PhantomBet/internal/crypto"
	"github.com/intelliDean/PhantomBet/internal/decision"
	"github.com/intelliDean/PhantomBet/internal/domain"
	"github.com/intelliDean/PhantomBet/internal/events"
	"github.com/intelliDean/PhantomBet/internal/evidence"
	"github.com/intelliDean/PhantomBet/internal/llm"
	"github.com/intelliDean/PhantomBet/internal/notify"
	"github.com/intelliDean/PhantomBet/internal/server/handler"
	"github.com/intelliDean/PhantomBet/internal/server/ws"
	"github.com/intelliDean/PhantomBet/internal/settlement"
	"github.com/intelliDean/PhantomBet/internal/store/postgres"
	"github.com/intelliDean/PhantomBet/internal/store/sqlite"
	"github.com/intelliDean/PhantomBet/internal/sweep"
)

// Dependencies holds every wired component. Optional infrastructure is nil
// when disabled in config.
type Dependencies struct {
	Eth     *ethclient.Client
	Sweeper *sweep.Sweeper
	Hub     *ws.Hub

	Store       domain.SettlementStore
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	BlobReader  domain.BlobReader
	Events      *events.Fanout

	// Checks feed GET /api/health.
	Checks map[string]handler.Check
}

// closerFunc adapts a plain func to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Wire builds the dependency graph from cfg. The returned cleanup closes
// everything opened, in reverse order, and is safe to call on error paths.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("cleanup: close failed", slog.String("error", err.Error()))
			}
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// Wallet key. Decrypted once; the node signs settlements and, in signed
	// proof mode, attestations with it.
	key, err := crypto.LoadECDSA(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: wallet: %w", err))
	}

	// Chain.
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.CallTimeout.Duration)
	eth, err := chain.Dial(dialCtx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, closerFunc(func() error { eth.Close(); return nil }))
	deps.Eth = eth
	deps.Checks["chain"] = func(ctx context.Context) error {
		_, err := eth.BlockNumber(ctx)
		return err
	}

	ledger, err := chain.NewLedgerReader(eth, common.HexToAddress(cfg.Chain.LedgerAddress), cfg.Chain.CallTimeout.Duration, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	oracle, err := chain.NewOracleClient(eth, key, chain.OracleConfig{
		Address:        common.HexToAddress(cfg.Chain.OracleAddress),
		ChainID:        big.NewInt(cfg.Chain.ChainID),
		GasLimit:       cfg.Chain.GasLimit,
		CallTimeout:    cfg.Chain.CallTimeout.Duration,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
		PollInterval:   cfg.Chain.ReceiptPollInterval.Duration,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	logger.Info("chain wired",
		slog.Int64("chain_id", cfg.Chain.ChainID),
		slog.String("ledger", cfg.Chain.LedgerAddress),
		slog.String("oracle", cfg.Chain.OracleAddress),
		slog.String("settler", oracle.From().Hex()),
	)

	// Redis: locks, rate limits, consensus rounds and the event bus.
	var rc *redis.Client
	if cfg.Redis.Enabled {
		rc, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, rc)
		deps.RateLimiter = redis.NewRateLimiter(rc, cfg.Evidence.RateLimit, cfg.Evidence.RateLimitWindow.Duration)
		deps.SignalBus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.Checks["redis"] = rc.Ping
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// Evidence.
	aggregator, err := wireEvidence(cfg, rc, deps.RateLimiter, logger)
	if err != nil {
		return fail(err)
	}

	// Decision.
	model, err := llm.New(llm.Config{
		APIKey:      cfg.Decision.APIKey,
		BaseURL:     cfg.Decision.BaseURL,
		Model:       cfg.Decision.Model,
		Timeout:     cfg.Decision.Timeout.Duration,
		Temperature: cfg.Decision.Temperature,
		MaxTokens:   cfg.Decision.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	engine := decision.NewEngine(model, cfg.Decision.PriceRule, logger)

	// Settlement.
	var marketLocks, sweepLock domain.LockManager
	if rc != nil {
		lm := redis.NewLockManager(rc)
		if cfg.Sweep.MarketLockEnabled {
			marketLocks = lm
		}
		if cfg.Sweep.DistributedLock {
			sweepLock = lm
		}
	}
	submitter := settlement.NewSubmitter(ledger, oracle, marketLocks, cfg.Sweep.LockTTL.Duration, logger)

	var attestor *crypto.Attestor
	if cfg.Proof.Mode == crypto.ProofSigned {
		if attestor, err = crypto.NewAttestor(key); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
	}
	prover, err := crypto.NewProofBuilder(cfg.Proof.Mode, attestor)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// History store.
	store, closeStore, err := wireStore(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}
	deps.Store = store

	// Archive.
	var archiver domain.Archiver
	if cfg.S3.Enabled {
		client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		reader := s3blob.NewReader(client)
		archiver = s3blob.NewArchiver(s3blob.NewWriter(client), reader)
		deps.BlobReader = reader
		deps.Checks["s3"] = client.Health
		logger.Info("s3 archive enabled", slog.String("bucket", client.Bucket()))
	}

	// Events. The hub takes this node's events directly only when there is
	// no bus to relay them.
	hub := ws.NewHub(deps.SignalBus, func() any {
		if deps.Sweeper == nil {
			return nil
		}
		return deps.Sweeper.State()
	}, logger)
	deps.Hub = hub

	var sinks []domain.EventSink
	if deps.SignalBus != nil {
		sinks = append(sinks, events.NewBusSink(deps.SignalBus))
	} else {
		sinks = append(sinks, hub)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := events.NewKafkaSink(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		closers = append(closers, ks)
		sinks = append(sinks, ks)
		logger.Info("kafka event stream enabled",
			slog.String("brokers", strings.Join(cfg.Kafka.Brokers, ",")),
			slog.String("topic", cfg.Kafka.Topic),
		)
	}
	if n := wireNotifier(cfg, logger); n.Enabled() {
		sinks = append(sinks, events.NewNotifySink(n))
	}
	deps.Events = events.NewFanout(logger, sinks...)

	sweeper, err := sweep.New(sweep.Deps{
		Markets:  ledger,
		Evidence: aggregator,
		Decider:  engine,
		Settler:  submitter,
		Prover:   prover,
		Archiver: archiver,
		Store:    store,
		Events:   deps.Events,
		Lock:     sweepLock,
	}, sweep.Config{
		NodeID:        cfg.NodeID,
		Concurrency:   cfg.Sweep.Concurrency,
		MarketTimeout: cfg.Sweep.MarketTimeout.Duration,
		LockTTL:       cfg.Sweep.LockTTL.Duration,
		Policy: sweep.Policy{
			SubmitFallback: cfg.Policy.SubmitFallback,
			MinConfidence:  cfg.Policy.MinConfidence,
		},
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Sweeper = sweeper

	return deps, cleanup, nil
}

// wireEvidence builds the enabled sources and, for multi-node deployments,
// the consensus coordinator in front of them.
func wireEvidence(cfg *config.Config, rc *redis.Client, limiter domain.RateLimiter, logger *slog.Logger) (*evidence.Aggregator, error) {
	timeout := cfg.Evidence.SourceTimeout.Duration
	var sources []evidence.Source
	if cfg.Evidence.NewsEnabled {
		sources = append(sources, evidence.NewNewsSource(cfg.Evidence.NewsBaseURL, cfg.Evidence.NewsAPIKey, cfg.Evidence.MaxItems, timeout))
	}
	if cfg.Evidence.PriceEnabled {
		sources = append(sources, evidence.NewPriceSource(cfg.Evidence.PriceBaseURL, timeout))
	}
	if limiter != nil && cfg.Evidence.RateLimit > 0 {
		for i, src := range sources {
			limited := evidence.WithRateLimit(src, limiter, cfg.Evidence.RateLimit, cfg.Evidence.RateLimitWindow.Duration)
			if cfg.Evidence.RateLimitWait {
				limited.Blocking(timeout)
			}
			sources[i] = limited
		}
	}

	var opts []evidence.Option
	if cfg.Consensus.ExpectedNodes > 1 {
		strategy, err := evidence.NewStrategy(cfg.Consensus.Strategy, cfg.Consensus.Quorum)
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		ttl := 2 * cfg.Consensus.Window.Duration
		var board domain.ObservationBoard
		if rc != nil {
			board = redis.NewObservationBoard(rc, ttl)
		} else {
			board = evidence.NewLocalBoard(ttl)
		}
		coord := evidence.NewCoordinator(board, cfg.NodeID, strategy, cfg.Consensus.ExpectedNodes, cfg.Consensus.CollectTimeout.Duration, logger)
		opts = append(opts, evidence.WithConsensus(coord))
		logger.Info("evidence consensus enabled",
			slog.String("strategy", strategy.Name()),
			slog.Int("expected_nodes", cfg.Consensus.ExpectedNodes),
		)
	}

	agg := evidence.NewAggregator(sources, cfg.Consensus.Window.Duration, logger, opts...)
	logger.Info("evidence sources", slog.String("sources", strings.Join(agg.Sources(), ",")))
	return agg, nil
}

// wireStore opens the configured history backend. Both return values are
// nil for driver "none".
func wireStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.SettlementStore, io.Closer, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			migCtx, cancel := context.WithTimeout(ctx, time.Minute)
			err := pg.RunMigrations(migCtx)
			cancel()
			if err != nil {
				pg.Close()
				return nil, nil, fmt.Errorf("wire: %w", err)
			}
		}
		logger.Info("settlement history: postgres")
		return postgres.NewSettlementStore(pg.Pool()), closerFunc(func() error { pg.Close(); return nil }), nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		logger.Info("settlement history: sqlite", slog.String("path", st.Path()))
		return st, st, nil
	case "none", "":
		logger.Info("settlement history disabled")
		return nil, nil, nil
	default:
		return nil, nil, errors.New("wire: unknown store driver " + cfg.Store.Driver)
	}
}

func wireNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, logger)
}
