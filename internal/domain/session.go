package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

// SessionKind distinguishes the two sensitive activities that require
// unanimous consent before going live.
type SessionKind string

const (
	KindScreenShare SessionKind = "screen_share"
	KindRecording   SessionKind = "recording"
)

func (k SessionKind) Valid() bool {
	return k == KindScreenShare || k == KindRecording
}

type SessionState string

const (
	StateRequested         SessionState = "requested"
	StatePendingPermission SessionState = "pending_permission"
	StateActive            SessionState = "active"
	StateCancelled         SessionState = "cancelled"
	StateCompleted         SessionState = "completed"
	StateFailed            SessionState = "failed"
)

// Terminal reports whether no further transition can leave the state.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCancelled, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Session is a screen-share or recording activity. Mutated only by the
// coordinator; never physically deleted, kept for history.
type Session struct {
	ID          SessionID    `json:"id"`
	RoomID      RoomID       `json:"roomId"`
	Kind        SessionKind  `json:"kind"`
	InitiatorID ParticipantID `json:"initiatorId"`
	State       SessionState `json:"state"`
	// Participants is the online snapshot taken when the session was
	// requested. Unanimity is measured against this list, not against
	// whoever is online later.
	Participants []ParticipantID `json:"participants"`
	CreatedAt    time.Time       `json:"createdAt"`
	EndedAt      *time.Time      `json:"endedAt,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// NewSession avoids raw literals in adapters and keeps construction obvious.
func NewSession(roomID RoomID, initiator ParticipantID, kind SessionKind, snapshot []ParticipantID, now time.Time) *Session {
	return &Session{
		ID:           SessionID(uuid.NewString()),
		RoomID:       roomID,
		Kind:         kind,
		InitiatorID:  initiator,
		State:        StateRequested,
		Participants: snapshot,
		CreatedAt:    now,
	}
}

// InSnapshot reports whether p was online when the session was requested.
func (s *Session) InSnapshot(p ParticipantID) bool {
	for _, id := range s.Participants {
		if id == p {
			return true
		}
	}
	return false
}

// Ballot is one participant's grant/deny vote on a pending session.
// Unique per (session, voter); a later cast overwrites the earlier one.
type Ballot struct {
	SessionID SessionID     `json:"sessionId"`
	VoterID   ParticipantID `json:"voterId"`
	Granted   bool          `json:"granted"`
	CastAt    time.Time     `json:"castAt"`
}
