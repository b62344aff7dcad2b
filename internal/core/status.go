package core

import "github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"

// VoteStatus is the caller-facing outcome of a single ballot cast.
type VoteStatus string

const (
	VoteWaiting   VoteStatus = "waiting"
	VoteActive    VoteStatus = "active"
	VoteCancelled VoteStatus = "cancelled"
)

// BallotResult reports vote progress after a cast.
type BallotResult struct {
	Status            VoteStatus `json:"status"`
	ResponsesReceived int        `json:"responsesReceived"`
	TotalParticipants int        `json:"totalParticipants"`
}

// SessionEventType labels lifecycle notifications pushed to room
// subscribers.
type SessionEventType string

const (
	EventSessionRequested SessionEventType = "session_requested"
	EventBallotCast       SessionEventType = "ballot_cast"
	EventSessionActive    SessionEventType = "session_active"
	EventSessionCancelled SessionEventType = "session_cancelled"
	EventSessionEnded     SessionEventType = "session_ended"
)

// SessionEvent is a read-only view pushed over the events socket.
type SessionEvent struct {
	Type      SessionEventType    `json:"type"`
	SessionID domain.SessionID    `json:"sessionId"`
	RoomID    domain.RoomID       `json:"roomId"`
	Kind      domain.SessionKind  `json:"kind"`
	State     domain.SessionState `json:"state"`
	Progress  *BallotResult       `json:"progress,omitempty"`
}

// Notifier fans session events out to whoever is listening. A nil
// notifier is valid; the coordinator works without subscribers.
type Notifier interface {
	Publish(roomID domain.RoomID, ev SessionEvent)
}
