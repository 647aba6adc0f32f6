// Package sqlite persists settlement history in a local SQLite file for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

const defaultPath = "data/settler.db"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sweeps (
    id          TEXT PRIMARY KEY,
    node_id     TEXT    NOT NULL DEFAULT '',
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    eligible    INTEGER NOT NULL DEFAULT 0,
    succeeded   INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    held        INTEGER NOT NULL DEFAULT 0,
    cancelled   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sweeps_started_at ON sweeps (started_at DESC);

CREATE TABLE IF NOT EXISTS settlement_attempts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    sweep_id        TEXT    NOT NULL,
    market_id       INTEGER NOT NULL,
    question        TEXT    NOT NULL DEFAULT '',
    status          TEXT    NOT NULL,
    stage           TEXT    NOT NULL DEFAULT '',
    outcome         TEXT    NOT NULL DEFAULT '',
    confidence      REAL    NOT NULL DEFAULT 0,
    fallback        INTEGER NOT NULL DEFAULT 0,
    method          TEXT    NOT NULL DEFAULT '',
    evidence_count  INTEGER NOT NULL DEFAULT 0,
    evidence_digest TEXT    NOT NULL DEFAULT '',
    tx_hash         TEXT    NOT NULL DEFAULT '',
    error           TEXT    NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_market ON settlement_attempts (market_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_attempts_created ON settlement_attempts (created_at DESC);
`

// Store implements domain.SettlementStore on SQLite. Timestamps are stored
// as unix microseconds.
type Store struct {
	path string
	db   *sql.DB
}

// Open creates (if needed) and opens the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: ensure data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; also keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{path: path, db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// RecordAttempt appends one settlement attempt.
func (s *Store) RecordAttempt(ctx context.Context, a domain.SettlementAttempt) error {
	const query = `
		INSERT INTO settlement_attempts (
			sweep_id, market_id, question, status, stage, outcome, confidence,
			fallback, method, evidence_count, evidence_digest, tx_hash, error, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		a.SweepID, int64(a.MarketID), a.Question, string(a.Status), a.Stage, a.Outcome, a.Confidence,
		a.Fallback, a.Method, a.EvidenceCount, a.EvidenceDigest, a.TxHash, a.Error, created.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record attempt for market %d: %w", a.MarketID, err)
	}
	return nil
}

// ListAttempts returns attempts newest first, filtered by opts.
func (s *Store) ListAttempts(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementAttempt, error) {
	query := `
		SELECT id, sweep_id, market_id, question, status, stage, outcome, confidence,
		       fallback, method, evidence_count, evidence_digest, tx_hash, error, created_at
		FROM settlement_attempts WHERE 1=1`
	args := []any{}

	if opts.MarketID != nil {
		query += " AND market_id = ?"
		args = append(args, int64(*opts.MarketID))
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.UnixMicro())
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 && opts.Offset > 0 {
		limit = -1
	}
	if limit != 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.SettlementAttempt, 0)
	for rows.Next() {
		var (
			a        domain.SettlementAttempt
			marketID int64
			status   string
			created  int64
		)
		if err := rows.Scan(&a.ID, &a.SweepID, &marketID, &a.Question, &status, &a.Stage, &a.Outcome,
			&a.Confidence, &a.Fallback, &a.Method, &a.EvidenceCount, &a.EvidenceDigest, &a.TxHash,
			&a.Error, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan attempt: %w", err)
		}
		a.MarketID = uint64(marketID)
		a.Status = domain.AttemptStatus(status)
		a.CreatedAt = time.UnixMicro(created).UTC()
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list attempts rows: %w", err)
	}
	return attempts, nil
}

// RecordSweep upserts a sweep summary.
func (s *Store) RecordSweep(ctx context.Context, sum domain.SweepSummary) error {
	const query = `
		INSERT INTO sweeps (id, node_id, started_at, finished_at, eligible, succeeded, failed, skipped, held, cancelled)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = excluded.finished_at,
			eligible    = excluded.eligible,
			succeeded   = excluded.succeeded,
			failed      = excluded.failed,
			skipped     = excluded.skipped,
			held        = excluded.held,
			cancelled   = excluded.cancelled`

	_, err := s.db.ExecContext(ctx, query,
		sum.ID, sum.NodeID, sum.StartedAt.UnixMicro(), sum.FinishedAt.UnixMicro(),
		sum.Eligible, sum.Succeeded, sum.Failed, sum.Skipped, sum.Held, sum.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record sweep %s: %w", sum.ID, err)
	}
	return nil
}

// LastSweep returns the most recently started sweep, or domain.ErrNotFound.
func (s *Store) LastSweep(ctx context.Context) (domain.SweepSummary, error) {
	const query = `
		SELECT id, node_id, started_at, finished_at, eligible, succeeded, failed, skipped, held, cancelled
		FROM sweeps ORDER BY started_at DESC LIMIT 1`

	var (
		sum              domain.SweepSummary
		started, finished int64
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&sum.ID, &sum.NodeID, &started, &finished,
		&sum.Eligible, &sum.Succeeded, &sum.Failed, &sum.Skipped, &sum.Held, &sum.Cancelled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SweepSummary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SweepSummary{}, fmt.Errorf("sqlite: last sweep: %w", err)
	}
	sum.StartedAt = time.UnixMicro(started).UTC()
	sum.FinishedAt = time.UnixMicro(finished).UTC()
	return sum, nil
}

var _ domain.SettlementStore = (*Store)(nil)
