package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChain struct {
	mu       sync.Mutex
	settled  map[uint64]bool
	sent     []domain.SettlementSubmission
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	sendErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{settled: map[uint64]bool{}}
}

func (f *fakeChain) IsSettled(ctx context.Context, id uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled[id], nil
}

func (f *fakeChain) ReceiveSettlement(ctx context.Context, sub domain.SettlementSubmission) (domain.TxResult, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return domain.TxResult{TxHash: "0xbad"}, f.sendErr
	}
	f.sent = append(f.sent, sub)
	f.settled[sub.MarketID] = true
	return domain.TxResult{TxHash: "0xabc", BlockNumber: 10, Status: 1}, nil
}

func market(id uint64) domain.Market {
	return domain.Market{ID: id, Question: "q", Outcomes: []string{"Yes", "No"}}
}

func yes(id uint64) domain.Decision {
	return domain.Decision{MarketID: id, Outcome: "Yes", OutcomeIndex: 0, Confidence: 0.9, Method: domain.MethodModel}
}

func TestSubmitSendsOnce(t *testing.T) {
	fc := newFakeChain()
	s := NewSubmitter(fc, fc, nil, 0, discardLogger())

	res, err := s.Submit(context.Background(), market(1), yes(1), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TxHash != "0xabc" || len(fc.sent) != 1 {
		t.Fatalf("res = %+v, sent = %d", res, len(fc.sent))
	}
	if fc.sent[0].Proof == nil || fc.sent[0].Outcome != "Yes" {
		t.Errorf("submission = %+v", fc.sent[0])
	}

	// Idempotence: the second submission sees the settled flag.
	_, err = s.Submit(context.Background(), market(1), yes(1), nil)
	if !errors.Is(err, domain.ErrAlreadySettled) || !IsSkip(err) {
		t.Errorf("err = %v, want ErrAlreadySettled", err)
	}
	if len(fc.sent) != 1 {
		t.Errorf("sent %d transactions, want 1", len(fc.sent))
	}
}

func TestSubmitRejectsInvalidDecision(t *testing.T) {
	fc := newFakeChain()
	s := NewSubmitter(fc, fc, nil, 0, discardLogger())

	cases := []domain.Decision{
		{MarketID: 2, Outcome: "Yes", OutcomeIndex: 0},
		{MarketID: 1, Outcome: "yes", OutcomeIndex: 0},
		{MarketID: 1, Outcome: "No", OutcomeIndex: 0},
	}
	for _, d := range cases {
		if _, err := s.Submit(context.Background(), market(1), d, nil); !errors.Is(err, domain.ErrInvalidDecision) {
			t.Errorf("decision %+v: err = %v", d, err)
		}
	}
	if len(fc.sent) != 0 {
		t.Error("invalid decisions must not reach the chain")
	}
}

func TestSubmitPropagatesTxFailure(t *testing.T) {
	fc := newFakeChain()
	fc.sendErr = domain.ErrTxReverted
	s := NewSubmitter(fc, fc, nil, 0, discardLogger())

	res, err := s.Submit(context.Background(), market(1), yes(1), []byte{1})
	if !errors.Is(err, domain.ErrTxReverted) || IsSkip(err) {
		t.Errorf("err = %v", err)
	}
	if res.TxHash != "0xbad" {
		t.Errorf("tx hash not propagated: %+v", res)
	}
}

func TestSubmitSerializesSigningAccount(t *testing.T) {
	fc := newFakeChain()
	fc.delay = 5 * time.Millisecond
	s := NewSubmitter(fc, fc, nil, 0, discardLogger())

	var wg sync.WaitGroup
	for i := uint64(0); i < 8; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			_, _ = s.Submit(context.Background(), market(id), yes(id), nil)
		}(i)
	}
	wg.Wait()

	if fc.maxSeen != 1 {
		t.Errorf("max concurrent submissions = %d, want 1", fc.maxSeen)
	}
	if len(fc.sent) != 8 {
		t.Errorf("sent = %d, want 8", len(fc.sent))
	}
}

type heldLocks struct{ keys []string }

func (h *heldLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	h.keys = append(h.keys, key)
	return nil, domain.ErrLockHeld
}

func TestSubmitSkipsWhenPeerHoldsLock(t *testing.T) {
	fc := newFakeChain()
	locks := &heldLocks{}
	s := NewSubmitter(fc, fc, locks, time.Minute, discardLogger())

	_, err := s.Submit(context.Background(), market(5), yes(5), nil)
	if !errors.Is(err, domain.ErrLockHeld) || !IsSkip(err) {
		t.Errorf("err = %v, want ErrLockHeld", err)
	}
	if len(locks.keys) != 1 || locks.keys[0] != "settle:5" {
		t.Errorf("lock keys = %v", locks.keys)
	}
	if len(fc.sent) != 0 {
		t.Error("nothing should be sent while a peer holds the lock")
	}
}
