package core

import (
	"context"
	"time"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// EnvelopeStore is durable keyed storage for signaling envelopes.
// Correctness of the relay rests entirely on Append being atomic and
// TakeForPeer being an atomic fetch-and-delete; no cross-process lock
// exists above it.
type EnvelopeStore interface {
	// Append stores the envelope with its TTL.
	Append(ctx context.Context, env *domain.Envelope) error
	// TakeForPeer returns all non-expired envelopes addressed to peer
	// in room, FIFO by creation time, and deletes them in the same
	// operation. A second call without intervening Appends returns nil.
	TakeForPeer(ctx context.Context, roomID domain.RoomID, peer domain.ParticipantID) ([]*domain.Envelope, error)
	// Sweep purges envelopes past ExpiresAt and reports how many were
	// dropped. Backends with native TTL may have nothing to do here.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// SessionStore persists sessions. Sessions are never deleted.
type SessionStore interface {
	// Create inserts the session. It must atomically refuse with
	// ErrConflict when another session of the same kind in the same
	// room is requested, pending_permission or active, so that
	// concurrent requests yield exactly one winner.
	Create(ctx context.Context, sess *domain.Session) error
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	// Transition moves the session from one of the given states to the
	// target state and returns the updated session. If the session is
	// already in the target state the call is a no-op reporting
	// changed=false with no error; any other state is ErrInvalidState.
	Transition(ctx context.Context, id domain.SessionID, from []domain.SessionState, to domain.SessionState, mutate func(*domain.Session)) (sess *domain.Session, changed bool, err error)
	// ActiveOf returns the single pending_permission or active session
	// of the kind in the room, or ErrNotFound.
	ActiveOf(ctx context.Context, roomID domain.RoomID, kind domain.SessionKind) (*domain.Session, error)
	// ByRoom returns the room's full session history, newest first.
	ByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.Session, error)
}

// BallotStore persists votes with idempotent upsert semantics.
type BallotStore interface {
	// Upsert records the ballot, overwriting any earlier cast by the
	// same voter for the same session.
	Upsert(ctx context.Context, b *domain.Ballot) error
	// BySession returns all ballots recorded for the session.
	BySession(ctx context.Context, id domain.SessionID) ([]*domain.Ballot, error)
}
