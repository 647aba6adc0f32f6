package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "settler.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAttemptsRoundTripAndFilter(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	in := []domain.SettlementAttempt{
		{SweepID: "s1", MarketID: 1, Question: "a?", Status: domain.AttemptSucceeded, Outcome: "Yes", Confidence: 0.9,
			Method: domain.MethodModel, EvidenceCount: 2, EvidenceDigest: "0xd1", TxHash: "0xt1", CreatedAt: base},
		{SweepID: "s1", MarketID: 2, Question: "b?", Status: domain.AttemptFailed, Stage: "submit",
			Error: "reverted", Fallback: true, CreatedAt: base.Add(time.Second)},
		{SweepID: "s2", MarketID: 1, Question: "a?", Status: domain.AttemptSkipped, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, a := range in {
		if err := s.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}

	all, err := s.ListAttempts(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Status != domain.AttemptSkipped {
		t.Fatalf("all = %+v", all)
	}
	last := all[2]
	if last.MarketID != 1 || last.TxHash != "0xt1" || last.EvidenceCount != 2 || !last.CreatedAt.Equal(base) || last.ID == 0 {
		t.Errorf("oldest attempt = %+v", last)
	}
	if !all[1].Fallback || all[1].Stage != "submit" {
		t.Errorf("failed attempt = %+v", all[1])
	}

	id := uint64(1)
	byMarket, _ := s.ListAttempts(ctx, domain.ListOpts{MarketID: &id})
	if len(byMarket) != 2 {
		t.Errorf("by market = %d, want 2", len(byMarket))
	}
	failed, _ := s.ListAttempts(ctx, domain.ListOpts{Status: domain.AttemptFailed})
	if len(failed) != 1 || failed[0].MarketID != 2 {
		t.Errorf("failed = %+v", failed)
	}
	since := base.Add(time.Second)
	recent, _ := s.ListAttempts(ctx, domain.ListOpts{Since: &since})
	if len(recent) != 2 {
		t.Errorf("since = %d, want 2", len(recent))
	}
	page, _ := s.ListAttempts(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].MarketID != 2 {
		t.Errorf("page = %+v", page)
	}
	offsetOnly, _ := s.ListAttempts(ctx, domain.ListOpts{Offset: 2})
	if len(offsetOnly) != 1 {
		t.Errorf("offset only = %d, want 1", len(offsetOnly))
	}
}

func TestSweeps(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if _, err := s.LastSweep(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("empty store: err = %v", err)
	}

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := domain.SweepSummary{ID: "a", NodeID: "n1", StartedAt: t0, FinishedAt: t0.Add(time.Second), Eligible: 3, Succeeded: 2, Failed: 1}
	second := domain.SweepSummary{ID: "b", NodeID: "n1", StartedAt: t0.Add(time.Minute), FinishedAt: t0.Add(time.Minute), Cancelled: true}
	for _, sum := range []domain.SweepSummary{first, second} {
		if err := s.RecordSweep(ctx, sum); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.LastSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "b" || !got.Cancelled || !got.StartedAt.Equal(second.StartedAt) {
		t.Errorf("last = %+v", got)
	}

	// Re-recording updates counters in place.
	second.Succeeded = 4
	if err := s.RecordSweep(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LastSweep(ctx)
	if got.Succeeded != 4 {
		t.Errorf("upsert did not update: %+v", got)
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.RecordSweep(context.Background(), domain.SweepSummary{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LastSweep(context.Background()); err != nil {
		t.Fatal(err)
	}
}
