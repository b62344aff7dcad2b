package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// SessionStore keeps full session history in memory. Create and
// Transition are atomic under the store mutex, which gives the
// coordinator its exactly-one-winner and idempotent-transition
// guarantees.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*domain.Session
	// byRoom preserves insertion order for history listings.
	byRoom map[domain.RoomID][]domain.SessionID
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]*domain.Session),
		byRoom:   make(map[domain.RoomID][]domain.SessionID),
	}
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byRoom[sess.RoomID] {
		existing := s.sessions[id]
		if existing.Kind != sess.Kind {
			continue
		}
		switch existing.State {
		case domain.StateRequested, domain.StatePendingPermission, domain.StateActive:
			// Requested counts too: a session is created requested and
			// transitioned to pending_permission moments later, and two
			// concurrent requests must still yield exactly one winner.
			return core.ErrConflict
		}
	}

	s.sessions[sess.ID] = cloneSession(sess)
	s.byRoom[sess.RoomID] = append(s.byRoom[sess.RoomID], sess.ID)
	log.Info().Str("module", "store.memory").Str("session", string(sess.ID)).Str("room", string(sess.RoomID)).Str("kind", string(sess.Kind)).Msg("session created")
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *SessionStore) Transition(
	ctx context.Context,
	id domain.SessionID,
	from []domain.SessionState,
	to domain.SessionState,
	mutate func(*domain.Session),
) (*domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, core.ErrNotFound
	}
	// Already there: idempotent no-op, both racing callers succeed.
	if sess.State == to {
		return cloneSession(sess), false, nil
	}
	for _, f := range from {
		if sess.State == f {
			sess.State = to
			if mutate != nil {
				mutate(sess)
			}
			log.Info().Str("module", "store.memory").Str("session", string(id)).Str("state", string(to)).Msg("session transitioned")
			return cloneSession(sess), true, nil
		}
	}
	return nil, false, core.ErrInvalidState
}

func (s *SessionStore) ActiveOf(ctx context.Context, roomID domain.RoomID, kind domain.SessionKind) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byRoom[roomID] {
		sess := s.sessions[id]
		if sess.Kind != kind {
			continue
		}
		if sess.State == domain.StatePendingPermission || sess.State == domain.StateActive {
			return cloneSession(sess), nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *SessionStore) ByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byRoom[roomID]
	out := make([]*domain.Session, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, cloneSession(s.sessions[ids[i]]))
	}
	return out, nil
}

// cloneSession keeps callers from mutating store state through shared
// pointers.
func cloneSession(sess *domain.Session) *domain.Session {
	clone := *sess
	clone.Participants = append([]domain.ParticipantID(nil), sess.Participants...)
	if sess.EndedAt != nil {
		ended := *sess.EndedAt
		clone.EndedAt = &ended
	}
	if sess.Metadata != nil {
		clone.Metadata = make(map[string]any, len(sess.Metadata))
		for k, v := range sess.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
