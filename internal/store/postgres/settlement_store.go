package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// RecordAttempt appends one settlement attempt.
func (s *SettlementStore) RecordAttempt(ctx context.Context, a domain.SettlementAttempt) error {
	const query = `
		INSERT INTO settlement_attempts (
			sweep_id, market_id, question, status, stage, outcome, confidence,
			fallback, method, evidence_count, evidence_digest, tx_hash, error, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err := s.pool.Exec(ctx, query,
		a.SweepID, int64(a.MarketID), a.Question, string(a.Status), a.Stage, a.Outcome, a.Confidence,
		a.Fallback, a.Method, a.EvidenceCount, a.EvidenceDigest, a.TxHash, a.Error, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record attempt for market %d: %w", a.MarketID, err)
	}
	return nil
}

// ListAttempts returns attempts newest first, filtered by opts.
func (s *SettlementStore) ListAttempts(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementAttempt, error) {
	query := `
		SELECT id, sweep_id, market_id, question, status, stage, outcome, confidence,
		       fallback, method, evidence_count, evidence_digest, tx_hash, error, created_at
		FROM settlement_attempts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.MarketID != nil {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, int64(*opts.MarketID))
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.SettlementAttempt, 0)
	for rows.Next() {
		var (
			a        domain.SettlementAttempt
			marketID int64
			status   string
		)
		if err := rows.Scan(&a.ID, &a.SweepID, &marketID, &a.Question, &status, &a.Stage, &a.Outcome,
			&a.Confidence, &a.Fallback, &a.Method, &a.EvidenceCount, &a.EvidenceDigest, &a.TxHash,
			&a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		a.MarketID = uint64(marketID)
		a.Status = domain.AttemptStatus(status)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attempts rows: %w", err)
	}
	return attempts, nil
}

// RecordSweep upserts a sweep summary.
func (s *SettlementStore) RecordSweep(ctx context.Context, sum domain.SweepSummary) error {
	const query = `
		INSERT INTO sweeps (id, node_id, started_at, finished_at, eligible, succeeded, failed, skipped, held, cancelled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			eligible    = EXCLUDED.eligible,
			succeeded   = EXCLUDED.succeeded,
			failed      = EXCLUDED.failed,
			skipped     = EXCLUDED.skipped,
			held        = EXCLUDED.held,
			cancelled   = EXCLUDED.cancelled`

	_, err := s.pool.Exec(ctx, query,
		sum.ID, sum.NodeID, sum.StartedAt, sum.FinishedAt,
		sum.Eligible, sum.Succeeded, sum.Failed, sum.Skipped, sum.Held, sum.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("postgres: record sweep %s: %w", sum.ID, err)
	}
	return nil
}

// LastSweep returns the most recently started sweep, or domain.ErrNotFound.
func (s *SettlementStore) LastSweep(ctx context.Context) (domain.SweepSummary, error) {
	const query = `
		SELECT id, node_id, started_at, finished_at, eligible, succeeded, failed, skipped, held, cancelled
		FROM sweeps ORDER BY started_at DESC LIMIT 1`

	var sum domain.SweepSummary
	err := s.pool.QueryRow(ctx, query).Scan(
		&sum.ID, &sum.NodeID, &sum.StartedAt, &sum.FinishedAt,
		&sum.Eligible, &sum.Succeeded, &sum.Failed, &sum.Skipped, &sum.Held, &sum.Cancelled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SweepSummary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SweepSummary{}, fmt.Errorf("postgres: last sweep: %w", err)
	}
	return sum, nil
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
