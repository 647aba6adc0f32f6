package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// Strategy reduces the observations collected for one round to a single
// agreed content, or rejects the round.
type Strategy interface {
	Name() string
	Resolve(obs []domain.Observation, expected int) (string, error)
}

// Identical accepts a round only when every expected node reported
// byte-identical content.
type Identical struct{}

func (Identical) Name() string { return "identical" }

func (Identical) Resolve(obs []domain.Observation, expected int) (string, error) {
	if len(obs) == 0 || len(obs) < expected {
		return "", fmt.Errorf("%w: have %d of %d", domain.ErrInsufficientObservations, len(obs), expected)
	}
	first := obs[0].Content
	for _, o := range obs[1:] {
		if o.Content != first {
			return "", fmt.Errorf("%w: node %s differs from node %s", domain.ErrDivergentEvidence, o.NodeID, obs[0].NodeID)
		}
	}
	return first, nil
}

// Quorum accepts the most frequent content if at least Min nodes reported
// it. A tie for first place rejects the round.
type Quorum struct {
	Min int
}

func (q Quorum) Name() string { return "quorum" }

func (q Quorum) Resolve(obs []domain.Observation, expected int) (string, error) {
	min := q.Min
	if min <= 0 {
		min = expected/2 + 1
	}
	if len(obs) < min {
		return "", fmt.Errorf("%w: have %d, quorum %d", domain.ErrInsufficientObservations, len(obs), min)
	}

	votes := make(map[string]int, len(obs))
	for _, o := range obs {
		votes[o.Content]++
	}
	var best string
	bestVotes, tied := 0, false
	for content, n := range votes {
		switch {
		case n > bestVotes:
			best, bestVotes, tied = content, n, false
		case n == bestVotes:
			tied = true
		}
	}
	if tied {
		return "", fmt.Errorf("%w: tie at %d votes", domain.ErrDivergentEvidence, bestVotes)
	}
	if bestVotes < min {
		return "", fmt.Errorf("%w: best content has %d votes, quorum %d", domain.ErrDivergentEvidence, bestVotes, min)
	}
	return best, nil
}

// NewStrategy returns the strategy named by name.
func NewStrategy(name string, quorum int) (Strategy, error) {
	switch name {
	case "", "identical":
		return Identical{}, nil
	case "quorum":
		return Quorum{Min: quorum}, nil
	default:
		return nil, fmt.Errorf("evidence: unknown consensus strategy %q", name)
	}
}

// RoundKey identifies a consensus round: one source for one market within
// one window.
func RoundKey(marketID uint64, source string, window time.Time) string {
	return fmt.Sprintf("%d:%s:%d", marketID, source, window.Unix())
}

// Coordinator runs one consensus round per (market, source, window).
type Coordinator struct {
	board    domain.ObservationBoard
	nodeID   string
	strategy Strategy
	expected int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator that waits up to timeout for
// expected nodes to publish.
func NewCoordinator(board domain.ObservationBoard, nodeID string, strategy Strategy, expected int, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if expected < 1 {
		expected = 1
	}
	return &Coordinator{
		board:    board,
		nodeID:   nodeID,
		strategy: strategy,
		expected: expected,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "consensus")),
	}
}

// Agree publishes content for round, collects the peers' observations and
// returns the content the strategy settles on.
func (c *Coordinator) Agree(ctx context.Context, round, content string) (string, error) {
	if err := c.board.Publish(ctx, round, domain.Observation{NodeID: c.nodeID, Content: content}); err != nil {
		return "", fmt.Errorf("evidence: publish observation: %w", err)
	}

	collectCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	obs, err := c.board.Collect(collectCtx, round, c.expected)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("evidence: collect observations: %w", err)
	}

	agreed, err := c.strategy.Resolve(obs, c.expected)
	if err != nil {
		return "", err
	}
	c.logger.DebugContext(ctx, "round agreed",
		slog.String("round", round),
		slog.String("strategy", c.strategy.Name()),
		slog.Int("observations", len(obs)),
	)
	return agreed, nil
}

// LocalBoard is an in-process ObservationBoard. Nodes sharing one process
// (tests, single-host deployments) exchange observations through it.
type LocalBoard struct {
	mu      sync.Mutex
	rounds  map[string]*localRound
	changed chan struct{}
	ttl     time.Duration
	now     func() time.Time
}

type localRound struct {
	created time.Time
	obs     []domain.Observation
}

// NewLocalBoard creates a board that forgets rounds older than ttl.
func NewLocalBoard(ttl time.Duration) *LocalBoard {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalBoard{
		rounds:  make(map[string]*localRound),
		changed: make(chan struct{}),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Publish implements domain.ObservationBoard. A node's first observation
// for a round wins.
func (b *LocalBoard) Publish(_ context.Context, round string, obs domain.Observation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for k, r := range b.rounds {
		if now.Sub(r.created) > b.ttl {
			delete(b.rounds, k)
		}
	}

	r, ok := b.rounds[round]
	if !ok {
		r = &localRound{created: now}
		b.rounds[round] = r
	}
	for _, o := range r.obs {
		if o.NodeID == obs.NodeID {
			return nil
		}
	}
	r.obs = append(r.obs, obs)

	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// Collect implements domain.ObservationBoard. When ctx ends first it
// returns what it has along with ctx's error.
func (b *LocalBoard) Collect(ctx context.Context, round string, want int) ([]domain.Observation, error) {
	for {
		b.mu.Lock()
		var obs []domain.Observation
		if r, ok := b.rounds[round]; ok {
			obs = append(obs, r.obs...)
		}
		changed := b.changed
		b.mu.Unlock()

		if len(obs) >= want {
			return obs, nil
		}
		select {
		case <-ctx.Done():
			return obs, ctx.Err()
		case <-changed:
		}
	}
}

var _ domain.ObservationBoard = (*LocalBoard)(nil)
