// Package decision turns a market and its evidence into a settlement
// decision, falling back to a fixed policy when no valid answer can be had.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/intelliDean/PhantomBet/internal/domain"
	"github.com/intelliDean/PhantomBet/internal/llm"
)

// Completer is a chat-completion backend. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const (
	reasonUnavailable = domain.FallbackTag + " decision source unavailable"
	reasonNoValid     = domain.FallbackTag + " no valid response after retry"
)

// Engine decides markets. It holds no per-market state.
type Engine struct {
	model     Completer
	priceRule bool
	logger    *slog.Logger
}

// NewEngine creates an Engine. model may be nil, in which case every market
// that the price rule does not settle gets the fallback decision.
func NewEngine(model Completer, priceRule bool, logger *slog.Logger) *Engine {
	return &Engine{
		model:     model,
		priceRule: priceRule,
		logger:    logger.With(slog.String("component", "decision_engine")),
	}
}

// Decide selects an outcome for m. The returned decision always names an
// exact member of m.Outcomes. An error is returned only when the decision
// source rejected the request for a reason other than being unavailable,
// or ctx ended.
func (e *Engine) Decide(ctx context.Context, m domain.Market, evidence []domain.EvidenceRecord) (domain.Decision, error) {
	if len(m.Outcomes) == 0 {
		return domain.Decision{}, fmt.Errorf("decision: market %d: %w: no outcomes", m.ID, domain.ErrInvalidDecision)
	}
	log := e.logger.With(slog.Uint64("market_id", m.ID))

	if e.priceRule {
		if d, ok := priceRule(m, evidence); ok {
			log.InfoContext(ctx, "decided by price rule", slog.String("outcome", d.Outcome), slog.String("reasoning", d.Reasoning))
			return d, nil
		}
	}
	if e.model == nil {
		log.WarnContext(ctx, "no decision source configured, using fallback")
		return fallback(m, reasonUnavailable), nil
	}

	attempts := []struct {
		system, user string
	}{
		{systemPrompt, buildPrompt(m, evidence)},
		{strictSystemPrompt, strictPrompt(m, evidence)},
	}

	for i, a := range attempts {
		raw, err := e.model.Complete(ctx, a.system, a.user)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return domain.Decision{}, fmt.Errorf("decision: market %d: %w", m.ID, ctx.Err())
			case errors.Is(err, domain.ErrDecisionUnavailable):
				log.WarnContext(ctx, "decision source unavailable, using fallback", slog.String("error", err.Error()))
				return fallback(m, reasonUnavailable), nil
			case errors.Is(err, llm.ErrEmptyResponse):
				log.WarnContext(ctx, "empty model response", slog.Int("attempt", i+1))
				continue
			default:
				return domain.Decision{}, fmt.Errorf("decision: market %d: %w", m.ID, err)
			}
		}

		d, err := toDecision(m, raw)
		if err != nil {
			log.WarnContext(ctx, "invalid model response",
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()),
			)
			continue
		}
		log.InfoContext(ctx, "decided by model",
			slog.String("outcome", d.Outcome),
			slog.Float64("confidence", d.Confidence),
			slog.Int("attempt", i+1),
		)
		return d, nil
	}

	log.WarnContext(ctx, "no valid response after retry, using fallback")
	return fallback(m, reasonNoValid), nil
}

// toDecision parses raw and checks the outcome against m.
func toDecision(m domain.Market, raw string) (domain.Decision, error) {
	a, err := parseAnswer(raw)
	if err != nil {
		return domain.Decision{}, err
	}
	idx := m.OutcomeIndex(a.Outcome)
	if idx < 0 {
		return domain.Decision{}, fmt.Errorf("outcome %q not in %q", a.Outcome, m.Outcomes)
	}
	return domain.Decision{
		MarketID:     m.ID,
		Outcome:      m.Outcomes[idx],
		OutcomeIndex: idx,
		Confidence:   domain.NormalizeConfidence(float64(a.Confidence)),
		Reasoning:    a.Reasoning,
		Method:       domain.MethodModel,
	}, nil
}

// fallback is the deterministic decision used when no valid answer exists:
// the first listed outcome with zero confidence.
func fallback(m domain.Market, reason string) domain.Decision {
	return domain.Decision{
		MarketID:     m.ID,
		Outcome:      m.Outcomes[0],
		OutcomeIndex: 0,
		Confidence:   0,
		Reasoning:    reason,
		Fallback:     true,
		Method:       domain.MethodFallback,
	}
}
