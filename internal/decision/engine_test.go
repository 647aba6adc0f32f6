package decision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/quick"

	"github.com/intelliDean/PhantomBet/internal/domain"
	"github.com/intelliDean/PhantomBet/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scripted replays one reply per call and records the prompts it saw.
type scripted struct {
	replies []string
	errs    []error
	prompts []string
	systems []string
}

func (s *scripted) Complete(ctx context.Context, system, user string) (string, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, user)
	s.systems = append(s.systems, system)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", errors.New("unexpected call")
}

func yesNo(id uint64, q string) domain.Market {
	return domain.Market{ID: id, Question: q, Outcomes: []string{"Yes", "No"}}
}

func TestDecideValidAnswer(t *testing.T) {
	model := &scripted{replies: []string{"```json\n{\"outcome\":\"No\",\"confidence\":0.876,\"reasoning\":\"It stayed dry.\"}\n```"}}
	e := NewEngine(model, true, discardLogger())

	d, err := e.Decide(context.Background(), yesNo(3, "Will it rain in Lagos?"), nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Outcome != "No" || d.OutcomeIndex != 1 || d.Confidence != 0.88 || d.Fallback || d.Method != domain.MethodModel {
		t.Errorf("decision = %+v", d)
	}
	if err := d.Validate(yesNo(3, "")); err != nil {
		t.Errorf("decision does not validate: %v", err)
	}
	if !strings.Contains(model.prompts[0], NoContextMarker) {
		t.Error("prompt should carry the no-context marker when evidence is empty")
	}
}

func TestDecideRetriesThenAccepts(t *testing.T) {
	model := &scripted{replies: []string{
		`{"outcome":"Maybe","confidence":0.9,"reasoning":"?"}`,
		`{"outcome":"Yes","confidence":"0.7","reasoning":"ok"}`,
	}}
	d, err := NewEngine(model, false, discardLogger()).Decide(context.Background(), yesNo(1, "q"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Outcome != "Yes" || d.Confidence != 0.7 || d.Fallback {
		t.Errorf("decision = %+v", d)
	}
	if len(model.prompts) != 2 || model.systems[1] != strictSystemPrompt {
		t.Errorf("expected one strict retry, got %d calls", len(model.prompts))
	}
	if !strings.Contains(model.prompts[1], `"Yes", "No"`) {
		t.Errorf("strict prompt should list accepted values:\n%s", model.prompts[1])
	}
}

func TestDecideFallbackAfterRetry(t *testing.T) {
	model := &scripted{replies: []string{"I think yes", `{"outcome":"yes"}`}}
	m := domain.Market{ID: 4, Question: "q", Outcomes: []string{"Team A", "Team B", "Draw"}}

	d, err := NewEngine(model, false, discardLogger()).Decide(context.Background(), m, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := domain.Decision{MarketID: 4, Outcome: "Team A", OutcomeIndex: 0, Confidence: 0,
		Reasoning: reasonNoValid, Fallback: true, Method: domain.MethodFallback}
	if d != want {
		t.Errorf("decision = %+v\nwant       %+v", d, want)
	}
	if !d.IsFallback() {
		t.Error("IsFallback should be true")
	}
}

func TestDecideFallbackWhenUnavailable(t *testing.T) {
	model := &scripted{errs: []error{fmt.Errorf("llm: %w: 429", domain.ErrDecisionUnavailable)}}
	d, err := NewEngine(model, false, discardLogger()).Decide(context.Background(), yesNo(8, "q"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Fallback || d.Outcome != "Yes" || d.Confidence != 0 || !strings.HasPrefix(d.Reasoning, "[FALLBACK]") {
		t.Errorf("decision = %+v", d)
	}
	if len(model.prompts) != 1 {
		t.Errorf("unavailable source should not be retried, got %d calls", len(model.prompts))
	}
}

func TestDecideEmptyResponseRetried(t *testing.T) {
	model := &scripted{
		errs:    []error{llm.ErrEmptyResponse, nil},
		replies: []string{"", `{"outcome":"No","confidence":1,"reasoning":"r"}`},
	}
	d, err := NewEngine(model, false, discardLogger()).Decide(context.Background(), yesNo(1, "q"), nil)
	if err != nil || d.Outcome != "No" {
		t.Errorf("decision = %+v, err = %v", d, err)
	}
}

func TestDecideOtherErrorsPropagate(t *testing.T) {
	model := &scripted{errs: []error{errors.New("llm: 400 invalid model")}}
	_, err := NewEngine(model, false, discardLogger()).Decide(context.Background(), yesNo(1, "q"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDecideNoModelFallsBack(t *testing.T) {
	d, err := NewEngine(nil, false, discardLogger()).Decide(context.Background(), yesNo(1, "q"), nil)
	if err != nil || !d.Fallback {
		t.Errorf("decision = %+v, err = %v", d, err)
	}
}

func TestDecideFallbackIsDeterministic(t *testing.T) {
	m := domain.Market{ID: 2, Question: "q", Outcomes: []string{"B", "A"}}
	e := NewEngine(nil, false, discardLogger())
	first, _ := e.Decide(context.Background(), m, nil)
	for i := 0; i < 5; i++ {
		again, _ := e.Decide(context.Background(), m, nil)
		if again != first {
			t.Fatalf("fallback changed: %+v vs %+v", again, first)
		}
	}
}

func TestDecideOutcomeAlwaysMember(t *testing.T) {
	f := func(outcomes []string, reply1, reply2 string, pick uint8) bool {
		if len(outcomes) == 0 {
			outcomes = []string{"only"}
		}
		// Sometimes answer with a real member to exercise the accept path.
		if pick%3 == 0 {
			reply2 = fmt.Sprintf(`{"outcome":%q,"confidence":0.5}`, outcomes[int(pick)%len(outcomes)])
		}
		m := domain.Market{ID: 1, Question: "q", Outcomes: outcomes}
		model := &scripted{replies: []string{reply1, reply2}}
		d, err := NewEngine(model, false, discardLogger()).Decide(context.Background(), m, nil)
		if err != nil {
			return false
		}
		return d.Validate(m) == nil && d.Confidence >= 0 && d.Confidence <= 1
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestPromptIsDeterministic(t *testing.T) {
	m := yesNo(1, "Will BTC be above $100k?")
	ev := []domain.EvidenceRecord{
		{SourceName: "news", Content: "a", Confidence: 0.8},
		{SourceName: "price", Content: "bitcoin/usd: 1.00", Confidence: 0.95},
	}
	p1, p2 := buildPrompt(m, ev), buildPrompt(m, ev)
	if p1 != p2 {
		t.Fatal("prompt differs between calls")
	}
	if strings.Contains(p1, NoContextMarker) {
		t.Error("marker present despite evidence")
	}
	if strings.Index(p1, "[news]") > strings.Index(p1, "[price]") {
		t.Error("evidence order not preserved")
	}
}

func TestPriceRule(t *testing.T) {
	price := func(c string) []domain.EvidenceRecord {
		return []domain.EvidenceRecord{{SourceName: "price", Content: c, Confidence: 0.95}}
	}
	cases := []struct {
		name     string
		question string
		evidence []domain.EvidenceRecord
		want     string
		applies  bool
	}{
		{"above hit", "Will BTC be above $70,000 by Friday?", price("bitcoin/usd: 71000.00"), "Yes", true},
		{"above miss", "Will BTC be above $70,000 by Friday?", price("bitcoin/usd: 69999.99"), "No", true},
		{"equal counts", "Will BTC reach $70000?", price("bitcoin/usd: 70000.00"), "Yes", true},
		{"k suffix", "Will ETH hit $5k?", price("ethereum/usd: 4100.50"), "No", true},
		{"below", "Will MON fall below $2.50?", price("monad/usd: 2.10"), "Yes", true},
		{"no price record", "Will BTC be above $70,000?", nil, "", false},
		{"no dollar", "Will BTC halve?", price("bitcoin/usd: 1.00"), "", false},
		{"two coins", "Will ETH or BTC top $1?", price("bitcoin/usd: 2.00\nethereum/usd: 2.00"), "", false},
		{"wrong coin", "Will BTC be above $1?", price("ethereum/usd: 2.00"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := priceRule(yesNo(1, tc.question), tc.evidence)
			if ok != tc.applies {
				t.Fatalf("applies = %v, want %v", ok, tc.applies)
			}
			if ok && (d.Outcome != tc.want || d.Method != domain.MethodPriceRule) {
				t.Errorf("decision = %+v, want outcome %s", d, tc.want)
			}
		})
	}

	m := domain.Market{ID: 1, Question: "Will BTC be above $1?", Outcomes: []string{"Up", "Down"}}
	if _, ok := priceRule(m, price("bitcoin/usd: 2.00")); ok {
		t.Error("rule must not apply to non Yes/No markets")
	}
}

func TestDecideUsesPriceRuleBeforeModel(t *testing.T) {
	model := &scripted{}
	ev := []domain.EvidenceRecord{{SourceName: "price", Content: "bitcoin/usd: 100.00"}}
	d, err := NewEngine(model, true, discardLogger()).Decide(context.Background(), yesNo(1, "BTC above $50?"), ev)
	if err != nil || d.Outcome != "Yes" || d.Method != domain.MethodPriceRule {
		t.Errorf("decision = %+v, err = %v", d, err)
	}
	if len(model.prompts) != 0 {
		t.Error("model should not be consulted when the rule applies")
	}
}
