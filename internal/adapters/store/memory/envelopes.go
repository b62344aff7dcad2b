// Package memory provides mutex-guarded in-process implementations of
// the store interfaces. It is the default backend and the one the test
// suites run against; redisstore provides the shared-process variant.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

type envelopeKey struct {
	room domain.RoomID
	peer domain.ParticipantID
}

// EnvelopeStore keeps one FIFO queue per (room, receiver). All methods
// are atomic under a single mutex, which is what the relay contract
// requires of a backend.
type EnvelopeStore struct {
	clk clock.Clock

	mu     sync.Mutex
	queues map[envelopeKey][]*domain.Envelope
}

func NewEnvelopeStore(clk clock.Clock) *EnvelopeStore {
	return &EnvelopeStore{
		clk:    clk,
		queues: make(map[envelopeKey][]*domain.Envelope),
	}
}

func (s *EnvelopeStore) Append(ctx context.Context, env *domain.Envelope) error {
	key := envelopeKey{room: env.RoomID, peer: env.ToPeer}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[key] = append(s.queues[key], env)
	return nil
}

func (s *EnvelopeStore) TakeForPeer(ctx context.Context, roomID domain.RoomID, peer domain.ParticipantID) ([]*domain.Envelope, error) {
	key := envelopeKey{room: roomID, peer: peer}
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.queues[key]
	if !ok {
		return nil, nil
	}
	delete(s.queues, key)

	// Expired envelopes are dropped here as well; the sweeper only
	// bounds storage for peers that never poll.
	out := make([]*domain.Envelope, 0, len(queue))
	for _, env := range queue {
		if env.Expired(now) {
			continue
		}
		out = append(out, env)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *EnvelopeStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key, queue := range s.queues {
		kept := queue[:0]
		for _, env := range queue {
			if env.Expired(now) {
				dropped++
				continue
			}
			kept = append(kept, env)
		}
		if len(kept) == 0 {
			delete(s.queues, key)
			continue
		}
		s.queues[key] = kept
	}
	if dropped > 0 {
		log.Debug().Str("module", "store.memory").Int("dropped", dropped).Msg("swept expired envelopes")
	}
	return dropped, nil
}
