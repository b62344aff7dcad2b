package app

import (
	"context"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// SessionRegistry answers "what is going on in this room right now".
// The coordinator uses it for its conflict check; late joiners use it
// to discover an in-progress session without having voted.
type SessionRegistry struct {
	Sessions core.SessionStore
}

func NewSessionRegistry(sessions core.SessionStore) *SessionRegistry {
	return &SessionRegistry{Sessions: sessions}
}

// ActiveSessionOf returns the room's current session of the kind, which
// is either pending_permission or active. ErrNotFound means none.
func (r *SessionRegistry) ActiveSessionOf(ctx context.Context, roomID domain.RoomID, kind domain.SessionKind) (*domain.Session, error) {
	return r.Sessions.ActiveOf(ctx, roomID, kind)
}

// Get returns the session by id regardless of state.
func (r *SessionRegistry) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return r.Sessions.Get(ctx, id)
}

// History returns the room's sessions newest first. Sessions are never
// physically deleted, so this is the full record.
func (r *SessionRegistry) History(ctx context.Context, roomID domain.RoomID) ([]*domain.Session, error) {
	return r.Sessions.ByRoom(ctx, roomID)
}
