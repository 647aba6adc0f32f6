package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// LedgerReader projects ledger contract state into typed domain.Market
// values. All calls are eth_call reads: no signing and no gas.
type LedgerReader struct {
	caller  ethereum.ContractCaller
	address common.Address
	abi     abi.ABI
	timeout time.Duration
	logger  *slog.Logger
}

// NewLedgerReader creates a reader for the ledger deployed at address. Each
// contract call is bounded by timeout.
func NewLedgerReader(caller ethereum.ContractCaller, address common.Address, timeout time.Duration, logger *slog.Logger) (*LedgerReader, error) {
	parsed, err := LedgerABI()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LedgerReader{
		caller:  caller,
		address: address,
		abi:     parsed,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "chain_reader")),
	}, nil
}

// call packs, executes and unpacks a single view method.
func (r *LedgerReader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.caller.CallContract(callCtx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: call %s: empty result (no contract at %s?)", method, r.address.Hex())
	}

	vals, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

// NextMarketID returns the ledger's market counter. Valid ids are
// 0..NextMarketID-1.
func (r *LedgerReader) NextMarketID(ctx context.Context) (uint64, error) {
	vals, err := r.call(ctx, "nextMarketId")
	if err != nil {
		return 0, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("chain: nextMarketId: unexpected value %v", vals[0])
	}
	return n.Uint64(), nil
}

// Market reads the market struct for id. Outcomes is left empty.
func (r *LedgerReader) Market(ctx context.Context, id uint64) (domain.Market, error) {
	vals, err := r.call(ctx, "markets", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Market{}, err
	}
	m, err := decodeMarket(vals)
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: market %d: %w", id, err)
	}
	if m.ID != id {
		return domain.Market{}, fmt.Errorf("chain: market %d: struct reports id %d", id, m.ID)
	}
	return m, nil
}

// Outcomes reads the ordered outcome list for id.
func (r *LedgerReader) Outcomes(ctx context.Context, id uint64) ([]string, error) {
	vals, err := r.call(ctx, "getMarketOutcomes", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	outcomes, ok := vals[0].([]string)
	if !ok {
		return nil, fmt.Errorf("chain: outcomes %d: unexpected type %T", id, vals[0])
	}
	return outcomes, nil
}

// IsSettled re-reads the settled flag for id.
func (r *LedgerReader) IsSettled(ctx context.Context, id uint64) (bool, error) {
	m, err := r.Market(ctx, id)
	if err != nil {
		return false, err
	}
	return m.Settled, nil
}

// ListEligibleMarkets scans every market id and returns those that are
// unsettled and past their reveal deadline at now, with outcomes populated.
// A failure to read the market counter is returned; failures on individual
// markets are logged and the market is left out.
func (r *LedgerReader) ListEligibleMarkets(ctx context.Context, now time.Time) ([]domain.Market, error) {
	count, err := r.NextMarketID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: list eligible markets: %w", err)
	}

	r.logger.DebugContext(ctx, "scanning markets", slog.Uint64("count", count))

	eligible := make([]domain.Market, 0)
	for id := uint64(0); id < count; id++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("chain: list eligible markets: %w", err)
		}

		m, err := r.Market(ctx, id)
		if err != nil {
			r.logger.WarnContext(ctx, "market read failed, excluding",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !m.Eligible(now) {
			continue
		}

		outcomes, err := r.Outcomes(ctx, id)
		if err != nil {
			r.logger.WarnContext(ctx, "outcome read failed, excluding",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(outcomes) == 0 {
			r.logger.WarnContext(ctx, "market has no outcomes, excluding",
				slog.Uint64("market_id", id),
			)
			continue
		}
		m.Outcomes = outcomes
		eligible = append(eligible, m)
	}

	r.logger.InfoContext(ctx, "market scan complete",
		slog.Uint64("scanned", count),
		slog.Int("eligible", len(eligible)),
	)
	return eligible, nil
}

var errBadMarketTuple = errors.New("unexpected markets() tuple")

// decodeMarket converts the unpacked markets() tuple into a domain.Market.
func decodeMarket(vals []any) (domain.Market, error) {
	if len(vals) != 8 {
		return domain.Market{}, fmt.Errorf("%w: %d values", errBadMarketTuple, len(vals))
	}

	id, ok1 := vals[0].(*big.Int)
	question, ok2 := vals[1].(string)
	betting, ok3 := vals[2].(*big.Int)
	reveal, ok4 := vals[3].(*big.Int)
	revealed, ok5 := vals[4].(bool)
	final, ok6 := vals[5].(*big.Int)
	settled, ok7 := vals[6].(bool)
	pool, ok8 := vals[7].(*big.Int)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8) {
		return domain.Market{}, errBadMarketTuple
	}
	if !id.IsUint64() || !final.IsUint64() || !betting.IsInt64() || !reveal.IsInt64() {
		return domain.Market{}, fmt.Errorf("%w: field out of range", errBadMarketTuple)
	}

	return domain.Market{
		ID:              id.Uint64(),
		Question:        question,
		BettingDeadline: time.Unix(betting.Int64(), 0).UTC(),
		RevealDeadline:  time.Unix(reveal.Int64(), 0).UTC(),
		Revealed:        revealed,
		FinalOutcomeID:  final.Uint64(),
		Settled:         settled,
		TotalPool:       pool,
	}, nil
}
