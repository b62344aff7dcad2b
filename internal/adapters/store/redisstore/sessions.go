package redisstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// SessionStore persists sessions as JSON values. The per-(room, kind)
// occupancy key acquired with SETNX is what makes concurrent requests
// yield exactly one winner; it is released when the session reaches a
// terminal state.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(id domain.SessionID) string { return "sess:" + string(id) }

func historyKey(roomID domain.RoomID) string { return "sess:room:" + string(roomID) }

func occupancyKey(roomID domain.RoomID, kind domain.SessionKind) string {
	return "sess:active:" + string(roomID) + ":" + string(kind)
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	ok, err := s.client.SetNX(ctx, occupancyKey(sess.RoomID, sess.Kind), string(sess.ID), 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrConflict
	}

	data, err := json.Marshal(sess)
	if err != nil {
		s.releaseOccupancy(ctx, sess)
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, 0)
	pipe.LPush(ctx, historyKey(sess.RoomID), string(sess.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		// Without the session record behind it the slot must not stay
		// occupied.
		s.releaseOccupancy(ctx, sess)
		return err
	}
	log.Info().Str("module", "store.redis").Str("session", string(sess.ID)).Str("room", string(sess.RoomID)).Str("kind", string(sess.Kind)).Msg("session created")
	return nil
}

// releaseOccupancy frees the (room, kind) slot, but only while this
// session still owns it.
func (s *SessionStore) releaseOccupancy(ctx context.Context, sess *domain.Session) {
	key := occupancyKey(sess.RoomID, sess.Kind)
	owner, err := s.client.Get(ctx, key).Result()
	if err != nil || owner != string(sess.ID) {
		return
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		log.Error().Err(err).Str("module", "store.redis").Str("session", string(sess.ID)).Msg("occupancy release failed")
	}
}

func (s *SessionStore) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) Transition(
	ctx context.Context,
	id domain.SessionID,
	from []domain.SessionState,
	to domain.SessionState,
	mutate func(*domain.Session),
) (*domain.Session, bool, error) {
	var result *domain.Session
	var changed bool

	key := sessionKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return err
		}

		if sess.State == to {
			// Idempotent no-op: a racing caller already got here.
			result, changed = &sess, false
			return nil
		}
		allowed := false
		for _, f := range from {
			if sess.State == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return core.ErrInvalidState
		}

		sess.State = to
		if mutate != nil {
			mutate(&sess)
		}
		updated, err := json.Marshal(&sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			if to.Terminal() {
				pipe.Del(ctx, occupancyKey(sess.RoomID, sess.Kind))
			}
			return nil
		})
		if err != nil {
			return err
		}
		result, changed = &sess, true
		return nil
	}, key)
	if err != nil {
		if err == redis.TxFailedErr {
			// Someone else transitioned concurrently; re-read and report
			// the no-op if they reached the same target.
			sess, getErr := s.Get(ctx, id)
			if getErr != nil {
				return nil, false, getErr
			}
			if sess.State == to {
				return sess, false, nil
			}
			return nil, false, core.ErrInvalidState
		}
		return nil, false, err
	}
	if changed {
		log.Info().Str("module", "store.redis").Str("session", string(id)).Str("state", string(to)).Msg("session transitioned")
	}
	return result, changed, nil
}

func (s *SessionStore) ActiveOf(ctx context.Context, roomID domain.RoomID, kind domain.SessionKind) (*domain.Session, error) {
	id, err := s.client.Get(ctx, occupancyKey(roomID, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, domain.SessionID(id))
}

func (s *SessionStore) ByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.Session, error) {
	ids, err := s.client.LRange(ctx, historyKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, domain.SessionID(id))
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}
