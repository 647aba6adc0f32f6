package domain

import (
	"errors"
	"testing"
	"time"
)

func TestMarketEligible(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name   string
		market Market
		want   bool
	}{
		{"past deadline unsettled", Market{RevealDeadline: now.Add(-time.Minute)}, true},
		{"future deadline", Market{RevealDeadline: now.Add(time.Minute)}, false},
		{"deadline equals now", Market{RevealDeadline: now}, false},
		{"settled", Market{RevealDeadline: now.Add(-time.Hour), Settled: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.market.Eligible(now); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecisionValidate(t *testing.T) {
	m := Market{ID: 4, Outcomes: []string{"Yes", "No"}}

	ok := Decision{MarketID: 4, Outcome: "No", OutcomeIndex: 1}
	if err := ok.Validate(m); err != nil {
		t.Fatalf("valid decision rejected: %v", err)
	}

	bad := []Decision{
		{MarketID: 4, Outcome: "yes", OutcomeIndex: 0},
		{MarketID: 4, Outcome: "Maybe", OutcomeIndex: 0},
		{MarketID: 5, Outcome: "Yes", OutcomeIndex: 0},
		{MarketID: 4, Outcome: "Yes", OutcomeIndex: 1},
	}
	for _, d := range bad {
		if err := d.Validate(m); !errors.Is(err, ErrInvalidDecision) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidDecision", d, err)
		}
	}
}

func TestNormalizeConfidence(t *testing.T) {
	cases := map[float64]float64{
		-0.5:  0,
		0.456: 0.46,
		1.7:   1,
		0.8:   0.8,
	}
	for in, want := range cases {
		if got := NormalizeConfidence(in); got != want {
			t.Errorf("NormalizeConfidence(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestSweepReportCount(t *testing.T) {
	r := SweepReport{Attempts: []SettlementAttempt{
		{Status: AttemptSucceeded},
		{Status: AttemptFailed},
		{Status: AttemptFailed},
		{Status: AttemptSkipped},
		{Status: AttemptHeld},
	}}
	r.Count()
	s := r.Summary
	if s.Succeeded != 1 || s.Failed != 2 || s.Skipped != 1 || s.Held != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
}
