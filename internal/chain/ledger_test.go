package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ledgerAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarket struct {
	question string
	betting  int64
	reveal   int64
	settled  bool
	outcomes []string
}

// fakeLedger answers eth_call requests with ABI-encoded data, the way a real
// node would for the ledger contract.
type fakeLedger struct {
	abi         abi.ABI
	markets     []fakeMarket
	failMarket  map[uint64]bool
	failCounter bool
	calls       map[string]int
}

func newFakeLedger(t *testing.T, markets ...fakeMarket) *fakeLedger {
	t.Helper()
	parsed, err := LedgerABI()
	if err != nil {
		t.Fatalf("ledger abi: %v", err)
	}
	return &fakeLedger{abi: parsed, markets: markets, failMarket: map[uint64]bool{}, calls: map[string]int{}}
}

func (f *fakeLedger) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if msg.To == nil || *msg.To != ledgerAddr {
		return nil, errors.New("wrong contract")
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	f.calls[method.Name]++
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "nextMarketId":
		if f.failCounter {
			return nil, errors.New("connection refused")
		}
		return method.Outputs.Pack(big.NewInt(int64(len(f.markets))))
	case "markets":
		id := args[0].(*big.Int).Uint64()
		if f.failMarket[id] {
			return nil, errors.New("rpc timeout")
		}
		m := f.markets[id]
		return method.Outputs.Pack(
			new(big.Int).SetUint64(id), m.question,
			big.NewInt(m.betting), big.NewInt(m.reveal),
			false, big.NewInt(0), m.settled, big.NewInt(1e18),
		)
	case "getMarketOutcomes":
		id := args[0].(*big.Int).Uint64()
		return method.Outputs.Pack(f.markets[id].outcomes)
	}
	return nil, errors.New("unknown method")
}

func newReader(t *testing.T, f *fakeLedger) *LedgerReader {
	t.Helper()
	r, err := NewLedgerReader(f, ledgerAddr, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewLedgerReader: %v", err)
	}
	return r
}

func TestListEligibleMarketsScenario(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	past := now.Add(-time.Hour).Unix()
	future := now.Add(time.Hour).Unix()

	f := newFakeLedger(t,
		fakeMarket{question: "Will it rain?", betting: past - 60, reveal: past, outcomes: []string{"Yes", "No"}},
		fakeMarket{question: "Future?", betting: past, reveal: future, outcomes: []string{"Yes", "No"}},
		fakeMarket{question: "Done?", betting: past - 60, reveal: past, settled: true, outcomes: []string{"Yes", "No"}},
	)

	got, err := newReader(t, f).ListEligibleMarkets(context.Background(), now)
	if err != nil {
		t.Fatalf("ListEligibleMarkets: %v", err)
	}
	if len(got) != 1 || got[0].ID != 0 {
		t.Fatalf("eligible = %+v, want exactly market 0", got)
	}
	m := got[0]
	if m.Question != "Will it rain?" || len(m.Outcomes) != 2 || m.Outcomes[0] != "Yes" {
		t.Errorf("market not decoded: %+v", m)
	}
	if !m.RevealDeadline.Equal(time.Unix(past, 0)) {
		t.Errorf("reveal deadline = %v", m.RevealDeadline)
	}
	if m.TotalPool.Cmp(big.NewInt(1e18)) != 0 {
		t.Errorf("total pool = %v", m.TotalPool)
	}
	// Outcomes are only fetched for candidates.
	if f.calls["getMarketOutcomes"] != 1 {
		t.Errorf("getMarketOutcomes called %d times, want 1", f.calls["getMarketOutcomes"])
	}
}

func TestListEligibleMarketsEmpty(t *testing.T) {
	got, err := newReader(t, newFakeLedger(t)).ListEligibleMarkets(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", got)
	}
}

func TestListEligibleMarketsIsolatesFailures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	past := now.Add(-time.Hour).Unix()
	f := newFakeLedger(t,
		fakeMarket{question: "a", reveal: past, outcomes: []string{"A", "B"}},
		fakeMarket{question: "b", reveal: past, outcomes: []string{"A", "B"}},
		fakeMarket{question: "c", reveal: past, outcomes: nil},
		fakeMarket{question: "d", reveal: past, outcomes: []string{"X"}},
	)
	f.failMarket[1] = true

	got, err := newReader(t, f).ListEligibleMarkets(context.Background(), now)
	if err != nil {
		t.Fatalf("ListEligibleMarkets: %v", err)
	}
	var ids []uint64
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 3 {
		t.Errorf("ids = %v, want [0 3]", ids)
	}
}

func TestListEligibleMarketsCounterFailureIsFatal(t *testing.T) {
	f := newFakeLedger(t, fakeMarket{question: "a"})
	f.failCounter = true

	if _, err := newReader(t, f).ListEligibleMarkets(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error when nextMarketId fails")
	}
}

func TestEligibilityFilterMatchesDomainRule(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var markets []fakeMarket
	for i := 0; i < 24; i++ {
		offset := int64(i%6-3) * 600
		markets = append(markets, fakeMarket{
			question: "q",
			reveal:   now.Unix() + offset,
			settled:  i%4 == 0,
			outcomes: []string{"Yes", "No"},
		})
	}
	f := newFakeLedger(t, markets...)

	got, err := newReader(t, f).ListEligibleMarkets(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	included := map[uint64]bool{}
	for _, m := range got {
		included[m.ID] = true
	}
	for i, m := range markets {
		want := !m.settled && now.Unix() > m.reveal
		if included[uint64(i)] != want {
			t.Errorf("market %d: included=%v want %v", i, included[uint64(i)], want)
		}
	}
}

func TestIsSettled(t *testing.T) {
	f := newFakeLedger(t,
		fakeMarket{question: "a", outcomes: []string{"A"}},
		fakeMarket{question: "b", settled: true, outcomes: []string{"A"}},
	)
	r := newReader(t, f)

	for id, want := range []bool{false, true} {
		got, err := r.IsSettled(context.Background(), uint64(id))
		if err != nil {
			t.Fatalf("IsSettled(%d): %v", id, err)
		}
		if got != want {
			t.Errorf("IsSettled(%d) = %v, want %v", id, got, want)
		}
	}
}
