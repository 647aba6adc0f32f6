// Package sweep drives settlement passes: scan the ledger, then gather
// evidence, decide and submit for every eligible market.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/intelliDean/PhantomBet/internal/crypto"
	"github.com/intelliDean/PhantomBet/internal/domain"
	"github.com/intelliDean/PhantomBet/internal/settlement"
)

// MarketLister enumerates eligible markets. *chain.LedgerReader satisfies it.
type MarketLister interface {
	ListEligibleMarkets(ctx context.Context, now time.Time) ([]domain.Market, error)
}

// Gatherer collects evidence. *evidence.Aggregator satisfies it.
type Gatherer interface {
	Gather(ctx context.Context, m domain.Market) []domain.EvidenceRecord
}

// Decider chooses an outcome. *decision.Engine satisfies it.
type Decider interface {
	Decide(ctx context.Context, m domain.Market, evidence []domain.EvidenceRecord) (domain.Decision, error)
}

// Settler submits a decision. *settlement.Submitter satisfies it.
type Settler interface {
	Submit(ctx context.Context, m domain.Market, d domain.Decision, proof []byte) (domain.TxResult, error)
}

// Prover builds proof bytes. *crypto.ProofBuilder satisfies it.
type Prover interface {
	Build(marketID uint64, outcome string, digest common.Hash) ([]byte, error)
}

// Policy gates which decisions are submitted automatically.
type Policy struct {
	// SubmitFallback allows fallback decisions to be submitted.
	SubmitFallback bool
	// MinConfidence is the lowest confidence submitted for non-fallback
	// decisions.
	MinConfidence float64
}

// Config holds orchestrator settings.
type Config struct {
	NodeID        string
	Concurrency   int
	MarketTimeout time.Duration
	LockTTL       time.Duration
	Policy        Policy
}

// Deps are the collaborators of a Sweeper. Archiver, Store, Events and Lock
// are optional.
type Deps struct {
	Markets  MarketLister
	Evidence Gatherer
	Decider  Decider
	Settler  Settler
	Prover   Prover
	Archiver domain.Archiver
	Store    domain.SettlementStore
	Events   domain.EventSink
	Lock     domain.LockManager
}

// Sweeper runs settlement passes. At most one pass runs at a time per
// process, and with a Lock configured, across every node sharing it.
type Sweeper struct {
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool
	state   *tracker
	trigger chan struct{}
}

// New creates a Sweeper.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	if deps.Markets == nil || deps.Evidence == nil || deps.Decider == nil || deps.Settler == nil {
		return nil, errors.New("sweep: markets, evidence, decider and settler are required")
	}
	if deps.Prover == nil {
		p, err := crypto.NewProofBuilder(crypto.ProofEmpty, nil)
		if err != nil {
			return nil, err
		}
		deps.Prover = p
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MarketTimeout <= 0 {
		cfg.MarketTimeout = 3 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Sweeper{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "sweeper")),
		now:     time.Now,
		state:   newTracker(),
		trigger: make(chan struct{}, 1),
	}, nil
}

// State returns a snapshot of the orchestrator state.
func (s *Sweeper) State() State {
	return s.state.snapshot()
}

// Trigger asks a running Run loop for an extra pass. It reports false when a
// request is already pending.
func (s *Sweeper) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run performs a pass immediately and then every interval, or when
// triggered, until ctx is cancelled. Pass errors are logged, not returned.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	s.logger.InfoContext(ctx, "sweep loop starting", slog.Duration("interval", interval))

	s.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		case <-s.trigger:
			s.logger.InfoContext(ctx, "manual sweep triggered")
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, domain.ErrSweepInProgress) {
			s.logger.InfoContext(ctx, "sweep skipped, another pass is running")
			return
		}
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
	}
}

// RunOnce performs one pass. It returns an error only when the pass could
// not start: another pass holds the gate, or the ledger could not be
// enumerated. Per-market failures are reported in the returned report.
func (s *Sweeper) RunOnce(ctx context.Context) (domain.SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return domain.SweepReport{}, domain.ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.deps.Lock != nil {
		unlock, err := s.deps.Lock.Acquire(ctx, "sweep", s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.SweepReport{}, fmt.Errorf("%w: held by another node", domain.ErrSweepInProgress)
		}
		if err != nil {
			return domain.SweepReport{}, fmt.Errorf("sweep: acquire lock: %w", err)
		}
		defer unlock()
	}

	sweepID := uuid.NewString()
	started := s.now().UTC()
	log := s.logger.With(slog.String("sweep_id", sweepID))

	s.state.scanning(sweepID, started)
	s.emit(ctx, domain.Event{Type: domain.EventSweepStarted, SweepID: sweepID})

	markets, err := s.deps.Markets.ListEligibleMarkets(ctx, started)
	if err != nil {
		s.state.idle(nil)
		s.emit(ctx, domain.Event{Type: domain.EventSweepError, SweepID: sweepID, Message: err.Error()})
		return domain.SweepReport{}, fmt.Errorf("sweep: scan: %w", err)
	}

	markets = dedupe(markets)
	log.InfoContext(ctx, "sweep started", slog.Int("eligible", len(markets)))
	s.state.processing(len(markets))

	attempts, cancelled := s.processAll(ctx, sweepID, markets)

	report := domain.SweepReport{
		Summary: domain.SweepSummary{
			ID:         sweepID,
			NodeID:     s.cfg.NodeID,
			StartedAt:  started,
			FinishedAt: s.now().UTC(),
			Eligible:   len(markets),
			Cancelled:  cancelled,
		},
		Attempts: attempts,
	}
	report.Count()
	s.finishReport(ctx, log, report)

	summary := report.Summary
	s.state.idle(&summary)
	return report, nil
}

// processAll runs every market, sequentially or with bounded concurrency.
// Once ctx is cancelled no new market starts; markets already started run
// to completion.
func (s *Sweeper) processAll(ctx context.Context, sweepID string, markets []domain.Market) ([]domain.SettlementAttempt, bool) {
	results := make([]*domain.SettlementAttempt, len(markets))
	var cancelled atomic.Bool

	if s.cfg.Concurrency == 1 {
		for i, m := range markets {
			if ctx.Err() != nil {
				cancelled.Store(true)
				break
			}
			a := s.process(ctx, sweepID, m)
			results[i] = &a
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.cfg.Concurrency)
		var mu sync.Mutex
		for i, m := range markets {
			if ctx.Err() != nil {
				cancelled.Store(true)
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					cancelled.Store(true)
					return nil
				}
				a := s.process(ctx, sweepID, m)
				mu.Lock()
				results[i] = &a
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	attempts := make([]domain.SettlementAttempt, 0, len(markets))
	for _, a := range results {
		if a != nil {
			attempts = append(attempts, *a)
		}
	}
	return attempts, cancelled.Load()
}

// process takes one market through evidence, decision, policy, proof and
// submission. It runs on a context that ignores cancellation of ctx but is
// bounded by the market timeout.
func (s *Sweeper) process(ctx context.Context, sweepID string, m domain.Market) domain.SettlementAttempt {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.MarketTimeout)
	defer cancel()

	s.state.begin(m.ID)
	defer s.state.finish(m.ID)

	log := s.logger.With(slog.String("sweep_id", sweepID), slog.Uint64("market_id", m.ID))
	attempt := domain.SettlementAttempt{
		SweepID:   sweepID,
		MarketID:  m.ID,
		Question:  m.Question,
		CreatedAt: s.now().UTC(),
	}

	fail := func(stage string, err error) domain.SettlementAttempt {
		attempt.Status, attempt.Stage, attempt.Error = domain.AttemptFailed, stage, err.Error()
		log.WarnContext(mctx, "market failed", slog.String("stage", stage), slog.String("error", err.Error()))
		return s.record(mctx, attempt)
	}

	records := s.deps.Evidence.Gather(mctx, m)
	attempt.EvidenceCount = len(records)

	d, err := s.deps.Decider.Decide(mctx, m, records)
	if err != nil {
		return fail("decide", err)
	}
	attempt.Outcome = d.Outcome
	attempt.Confidence = d.Confidence
	attempt.Fallback = d.IsFallback()
	attempt.Method = d.Method

	bundle, digest, err := crypto.BundleDigest(crypto.NewEvidenceBundle(m, d.Outcome, records))
	if err != nil {
		return fail("proof", err)
	}
	attempt.EvidenceDigest = digest.Hex()

	if s.deps.Archiver != nil {
		if _, err := s.deps.Archiver.ArchiveEvidence(mctx, m.ID, digest.Hex(), bundle); err != nil {
			log.WarnContext(mctx, "evidence archive failed", slog.String("error", err.Error()))
		}
	}

	if reason, held := s.held(d); held {
		attempt.Status, attempt.Stage, attempt.Error = domain.AttemptHeld, "policy", reason
		log.InfoContext(mctx, "decision held by policy", slog.String("reason", reason), slog.String("outcome", d.Outcome))
		return s.record(mctx, attempt)
	}

	proof, err := s.deps.Prover.Build(m.ID, d.Outcome, digest)
	if err != nil {
		return fail("proof", err)
	}

	res, err := s.deps.Settler.Submit(mctx, m, d, proof)
	attempt.TxHash = res.TxHash
	switch {
	case err == nil:
		attempt.Status = domain.AttemptSucceeded
	case settlement.IsSkip(err):
		attempt.Status, attempt.Stage, attempt.Error = domain.AttemptSkipped, "submit", err.Error()
	default:
		return fail("submit", err)
	}
	return s.record(mctx, attempt)
}

// held applies the submission policy to d.
func (s *Sweeper) held(d domain.Decision) (string, bool) {
	if d.IsFallback() {
		if !s.cfg.Policy.SubmitFallback {
			return "fallback decisions are not submitted", true
		}
		return "", false
	}
	if d.Confidence < s.cfg.Policy.MinConfidence {
		return fmt.Sprintf("confidence %.2f below minimum %.2f", d.Confidence, s.cfg.Policy.MinConfidence), true
	}
	return "", false
}

// record persists and announces a finished attempt.
func (s *Sweeper) record(ctx context.Context, a domain.SettlementAttempt) domain.SettlementAttempt {
	if s.deps.Store != nil {
		if err := s.deps.Store.RecordAttempt(ctx, a); err != nil {
			s.logger.WarnContext(ctx, "record attempt failed",
				slog.Uint64("market_id", a.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	id := a.MarketID
	ev := domain.Event{
		SweepID:    a.SweepID,
		MarketID:   &id,
		Outcome:    a.Outcome,
		Confidence: a.Confidence,
		Fallback:   a.Fallback,
		TxHash:     a.TxHash,
		Message:    a.Error,
	}
	switch a.Status {
	case domain.AttemptSucceeded:
		ev.Type = domain.EventSettled
	case domain.AttemptSkipped:
		ev.Type = domain.EventSkipped
	case domain.AttemptHeld:
		ev.Type = domain.EventHeld
	default:
		ev.Type = domain.EventFailed
	}
	s.emit(ctx, ev)
	return a
}

// finishReport persists, archives and announces the pass summary.
func (s *Sweeper) finishReport(ctx context.Context, log *slog.Logger, report domain.SweepReport) {
	// The pass may have been cancelled; bookkeeping still has to land.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if s.deps.Store != nil {
		if err := s.deps.Store.RecordSweep(bctx, report.Summary); err != nil {
			log.WarnContext(bctx, "record sweep failed", slog.String("error", err.Error()))
		}
	}
	if s.deps.Archiver != nil {
		if _, err := s.deps.Archiver.ArchiveReport(bctx, report); err != nil {
			log.WarnContext(bctx, "report archive failed", slog.String("error", err.Error()))
		}
	}

	sum := report.Summary
	s.emit(bctx, domain.Event{
		Type:    domain.EventSweepFinished,
		SweepID: sum.ID,
		Message: fmt.Sprintf("eligible=%d succeeded=%d failed=%d skipped=%d held=%d",
			sum.Eligible, sum.Succeeded, sum.Failed, sum.Skipped, sum.Held),
	})
	log.InfoContext(bctx, "sweep finished",
		slog.Int("eligible", sum.Eligible),
		slog.Int("succeeded", sum.Succeeded),
		slog.Int("failed", sum.Failed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("held", sum.Held),
		slog.Bool("cancelled", sum.Cancelled),
		slog.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
	)
}

func (s *Sweeper) emit(ctx context.Context, ev domain.Event) {
	if s.deps.Events == nil {
		return
	}
	ev.NodeID = s.cfg.NodeID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	if err := s.deps.Events.Emit(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.WarnContext(ctx, "emit event failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

// dedupe drops repeated market ids, keeping the first occurrence.
func dedupe(markets []domain.Market) []domain.Market {
	seen := make(map[uint64]struct{}, len(markets))
	out := markets[:0:0]
	for _, m := range markets {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
