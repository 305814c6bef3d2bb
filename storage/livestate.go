package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIVE STATE - Redis snapshot for ops tooling
// ═══════════════════════════════════════════════════════════════════════════════
//
// Publishes current positions and the catastrophe state under
// fadebot:* keys with a short TTL, so external dashboards never read
// stale state after a crash. Optional - enabled by REDIS_URL.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	keyPositions   = "fadebot:positions"
	keyCatastrophe = "fadebot:catastrophe"
	liveStateTTL   = 30 * time.Second
)

// LiveState publishes runtime snapshots to redis.
type LiveState struct {
	client *redis.Client
}

// NewLiveState connects to redis. Returns nil (disabled) on an empty URL.
func NewLiveState(redisURL string) (*LiveState, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info().Msg("💾 Redis live state enabled")
	return &LiveState{client: client}, nil
}

// PublishPositions snapshots the open position set.
func (ls *LiveState) PublishPositions(ctx context.Context, positions []types.Position) {
	if ls == nil {
		return
	}
	payload, err := json.Marshal(positions)
	if err != nil {
		return
	}
	if err := ls.client.Set(ctx, keyPositions, payload, liveStateTTL).Err(); err != nil {
		log.Debug().Err(err).Msg("Live state publish failed")
	}
}

// PublishCatastrophe snapshots the failure-escalation summary.
func (ls *LiveState) PublishCatastrophe(ctx context.Context, summary any) {
	if ls == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := ls.client.Set(ctx, keyCatastrophe, payload, liveStateTTL).Err(); err != nil {
		log.Debug().Err(err).Msg("Live state publish failed")
	}
}

// Close releases the redis connection.
func (ls *LiveState) Close() error {
	if ls == nil {
		return nil
	}
	return ls.client.Close()
}
