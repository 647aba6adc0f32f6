package evidence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// Aggregator collects one record per configured source for a market. It
// holds no state between calls.
type Aggregator struct {
	sources []Source
	coord   *Coordinator
	window  time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithConsensus routes every fetched record through coord before it is
// accepted.
func WithConsensus(coord *Coordinator) Option {
	return func(a *Aggregator) { a.coord = coord }
}

// WithClock overrides the aggregator's clock.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator over sources. window is the length of
// a consensus window; queries within the same window are identical.
func NewAggregator(sources []Source, window time.Duration, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		sources: sources,
		window:  window,
		logger:  logger.With(slog.String("component", "evidence_aggregator")),
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Sources returns the names of the configured sources.
func (a *Aggregator) Sources() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

// Gather returns the evidence for m. A source that fails, does not apply,
// or is rejected by consensus is skipped; when every source is skipped the
// result is an empty slice. Gather never fails.
func (a *Aggregator) Gather(ctx context.Context, m domain.Market) []domain.EvidenceRecord {
	window := a.now().UTC()
	if a.window > 0 {
		window = window.Truncate(a.window)
	}
	q := Query{MarketID: m.ID, Question: m.Question, Outcomes: m.Outcomes, Window: window}

	records := make([]domain.EvidenceRecord, 0, len(a.sources))
	for _, src := range a.sources {
		if ctx.Err() != nil {
			break
		}
		log := a.logger.With(slog.Uint64("market_id", m.ID), slog.String("source", src.Name()))

		rec, err := src.Fetch(ctx, q)
		if err != nil {
			if errors.Is(err, domain.ErrNotApplicable) {
				log.DebugContext(ctx, "source not applicable")
			} else {
				log.WarnContext(ctx, "evidence source failed, skipping", slog.String("error", err.Error()))
			}
			continue
		}

		if a.coord != nil {
			agreed, err := a.coord.Agree(ctx, RoundKey(m.ID, src.Name(), window), rec.Content)
			if err != nil {
				log.WarnContext(ctx, "evidence rejected by consensus, skipping", slog.String("error", err.Error()))
				continue
			}
			rec.Content = agreed
		}

		log.DebugContext(ctx, "evidence gathered", slog.Int("bytes", len(rec.Content)))
		records = append(records, rec)
	}

	a.logger.InfoContext(ctx, "evidence gathered",
		slog.Uint64("market_id", m.ID),
		slog.Int("records", len(records)),
		slog.Int("sources", len(a.sources)),
	)
	return records
}
