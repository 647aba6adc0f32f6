// Package settlement submits decided outcomes to the oracle contract, at
// most once per market.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// SettledChecker re-reads a market's settled flag. *chain.LedgerReader
// satisfies it.
type SettledChecker interface {
	IsSettled(ctx context.Context, marketID uint64) (bool, error)
}

// Oracle sends the settlement transaction. *chain.OracleClient satisfies it.
type Oracle interface {
	ReceiveSettlement(ctx context.Context, sub domain.SettlementSubmission) (domain.TxResult, error)
}

// Submitter owns the signing account. Submissions are serialized so only
// one transaction from the account is in flight at a time.
type Submitter struct {
	checker SettledChecker
	oracle  Oracle
	locks   domain.LockManager
	lockTTL time.Duration
	logger  *slog.Logger

	mu sync.Mutex
}

// NewSubmitter creates a Submitter. locks may be nil; when set, a per-market
// lock keeps nodes sharing the same wallet from racing on one market.
func NewSubmitter(checker SettledChecker, oracle Oracle, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *Submitter {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Submitter{
		checker: checker,
		oracle:  oracle,
		locks:   locks,
		lockTTL: lockTTL,
		logger:  logger.With(slog.String("component", "settlement_submitter")),
	}
}

// Submit settles m with d and proof. It returns domain.ErrInvalidDecision
// without touching the chain when d does not belong to m,
// domain.ErrAlreadySettled when the market was settled since it was read,
// and domain.ErrLockHeld when another node is settling it.
func (s *Submitter) Submit(ctx context.Context, m domain.Market, d domain.Decision, proof []byte) (domain.TxResult, error) {
	log := s.logger.With(slog.Uint64("market_id", m.ID))

	if err := d.Validate(m); err != nil {
		log.ErrorContext(ctx, "refusing invalid decision", slog.String("error", err.Error()))
		return domain.TxResult{}, fmt.Errorf("settlement: market %d: %w", m.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "settle:"+strconv.FormatUint(m.ID, 10), s.lockTTL)
		if err != nil {
			return domain.TxResult{}, fmt.Errorf("settlement: market %d: %w", m.ID, err)
		}
		defer unlock()
	}

	settled, err := s.checker.IsSettled(ctx, m.ID)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("settlement: market %d: check settled: %w", m.ID, err)
	}
	if settled {
		log.InfoContext(ctx, "market already settled, skipping")
		return domain.TxResult{}, fmt.Errorf("settlement: market %d: %w", m.ID, domain.ErrAlreadySettled)
	}

	if proof == nil {
		proof = []byte{}
	}
	log.InfoContext(ctx, "submitting settlement",
		slog.String("outcome", d.Outcome),
		slog.Bool("fallback", d.IsFallback()),
		slog.Int("proof_bytes", len(proof)),
	)

	res, err := s.oracle.ReceiveSettlement(ctx, domain.SettlementSubmission{
		MarketID: m.ID,
		Outcome:  d.Outcome,
		Proof:    proof,
	})
	if err != nil {
		attrs := []any{slog.String("error", err.Error())}
		if res.TxHash != "" {
			attrs = append(attrs, slog.String("tx_hash", res.TxHash))
		}
		log.ErrorContext(ctx, "settlement failed", attrs...)
		return res, err
	}

	log.InfoContext(ctx, "market settled",
		slog.String("outcome", d.Outcome),
		slog.String("tx_hash", res.TxHash),
		slog.Uint64("block", res.BlockNumber),
	)
	return res, nil
}

// IsSkip reports whether err from Submit means the market needs no further
// action this pass rather than that settlement failed.
func IsSkip(err error) bool {
	return errors.Is(err, domain.ErrAlreadySettled) || errors.Is(err, domain.ErrLockHeld)
}
