// Package redisstore implements the store interfaces on redis, so
// several server processes can share one durable backend. Envelope
// queues ride redis lists with key TTL; sessions and ballots are JSON
// values with a SETNX occupancy key providing the conflict check.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// EnvelopeStore keeps one redis list per (room, receiver) under
// `signal:{room}:{peer}`.
type EnvelopeStore struct {
	client *redis.Client
	clk    clock.Clock
}

func NewEnvelopeStore(client *redis.Client, clk clock.Clock) *EnvelopeStore {
	return &EnvelopeStore{client: client, clk: clk}
}

func queueKey(roomID domain.RoomID, peer domain.ParticipantID) string {
	return "signal:" + string(roomID) + ":" + string(peer)
}

func (s *EnvelopeStore) Append(ctx context.Context, env *domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	key := queueKey(env.RoomID, env.ToPeer)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	// Key TTL tracks the newest envelope; older entries carry their own
	// ExpiresAt and are filtered on read.
	pipe.PExpire(ctx, key, domain.EnvelopeTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *EnvelopeStore) TakeForPeer(ctx context.Context, roomID domain.RoomID, peer domain.ParticipantID) ([]*domain.Envelope, error) {
	key := queueKey(roomID, peer)

	// LRANGE+DEL inside MULTI/EXEC: the fetch and the delete are one
	// atomic server-side step, which is what at-most-once rests on.
	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	raw := rangeCmd.Val()
	if len(raw) == 0 {
		return nil, nil
	}
	now := s.clk.Now()
	out := make([]*domain.Envelope, 0, len(raw))
	for _, item := range raw {
		var env domain.Envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			log.Error().Err(err).Str("module", "store.redis").Msg("corrupt envelope dropped")
			continue
		}
		if env.Expired(now) {
			continue
		}
		out = append(out, &env)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Sweep trims individually expired envelopes out of still-live queues.
// Whole-key expiry is redis's job via the key TTL.
func (s *EnvelopeStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	dropped := 0
	iter := s.client.Scan(ctx, 0, "signal:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := s.sweepKey(ctx, key, now)
		if err != nil {
			return dropped, err
		}
		dropped += n
	}
	return dropped, iter.Err()
}

func (s *EnvelopeStore) sweepKey(ctx context.Context, key string, now time.Time) (int, error) {
	dropped := 0
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		kept := make([]interface{}, 0, len(raw))
		for _, item := range raw {
			var env domain.Envelope
			if err := json.Unmarshal([]byte(item), &env); err != nil || env.Expired(now) {
				dropped++
				continue
			}
			kept = append(kept, item)
		}
		if dropped == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(kept) > 0 {
				pipe.RPush(ctx, key, kept...)
				pipe.PExpire(ctx, key, domain.EnvelopeTTL)
			}
			return nil
		})
		return err
	}, key)
	if err == redis.TxFailedErr {
		// Concurrent append won the key; skip this round.
		return 0, nil
	}
	return dropped, err
}
