package redisstore

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// BallotStore keeps one hash per session, field per voter. HSET is the
// idempotent upsert: a voter casting twice overwrites their field and
// never double-counts.
type BallotStore struct {
	client *redis.Client
}

func NewBallotStore(client *redis.Client) *BallotStore {
	return &BallotStore{client: client}
}

func ballotsKey(id domain.SessionID) string { return "ballots:" + string(id) }

func (s *BallotStore) Upsert(ctx context.Context, b *domain.Ballot) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, ballotsKey(b.SessionID), string(b.VoterID), data).Err()
}

func (s *BallotStore) BySession(ctx context.Context, id domain.SessionID) ([]*domain.Ballot, error) {
	fields, err := s.client.HGetAll(ctx, ballotsKey(id)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Ballot, 0, len(fields))
	for voter, raw := range fields {
		var ballot domain.Ballot
		if err := json.Unmarshal([]byte(raw), &ballot); err != nil {
			log.Error().Err(err).Str("module", "store.redis").Str("voter", voter).Msg("corrupt ballot dropped")
			continue
		}
		out = append(out, &ballot)
	}
	return out, nil
}
