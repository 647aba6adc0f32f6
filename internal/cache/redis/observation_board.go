package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

const boardPollInterval = 250 * time.Millisecond

// ObservationBoard implements domain.ObservationBoard on a Redis hash per
// round, keyed by node id. HSETNX keeps each node's first observation.
type ObservationBoard struct {
	rdb  *redis.Client
	ttl  time.Duration
	poll time.Duration
}

// NewObservationBoard creates a board whose rounds expire after ttl.
func NewObservationBoard(c *Client, ttl time.Duration) *ObservationBoard {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ObservationBoard{rdb: c.Underlying(), ttl: ttl, poll: boardPollInterval}
}

func roundKey(round string) string {
	return keyPrefix + "consensus:" + round
}

// Publish records obs for round unless the node already published.
func (b *ObservationBoard) Publish(ctx context.Context, round string, obs domain.Observation) error {
	k := roundKey(round)
	pipe := b.rdb.TxPipeline()
	pipe.HSetNX(ctx, k, obs.NodeID, obs.Content)
	pipe.Expire(ctx, k, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish observation %s: %w", round, err)
	}
	return nil
}

// Collect polls round until want nodes have published or ctx ends, in which
// case it returns what it has with ctx's error. Observations are ordered by
// node id.
func (b *ObservationBoard) Collect(ctx context.Context, round string, want int) ([]domain.Observation, error) {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	var obs []domain.Observation
	for {
		fields, err := b.rdb.HGetAll(ctx, roundKey(round)).Result()
		switch {
		case err == nil:
			obs = observations(fields)
			if len(obs) >= want {
				return obs, nil
			}
		case ctx.Err() != nil:
			return obs, ctx.Err()
		default:
			return obs, fmt.Errorf("redis: collect observations %s: %w", round, err)
		}

		select {
		case <-ctx.Done():
			return obs, ctx.Err()
		case <-ticker.C:
		}
	}
}

func observations(fields map[string]string) []domain.Observation {
	out := make([]domain.Observation, 0, len(fields))
	for node, content := range fields {
		out = append(out, domain.Observation{NodeID: node, Content: content})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

var _ domain.ObservationBoard = (*ObservationBoard)(nil)
