package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EnvelopeID string

// EnvelopeKind is the negotiation message type carried by an envelope.
// The payload itself is opaque to the relay.
type EnvelopeKind string

const (
	EnvelopeOffer        EnvelopeKind = "offer"
	EnvelopeAnswer       EnvelopeKind = "answer"
	EnvelopeIceCandidate EnvelopeKind = "ice_candidate"
)

func (k EnvelopeKind) Valid() bool {
	switch k {
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeIceCandidate:
		return true
	}
	return false
}

// EnvelopeTTL bounds how long an unconsumed envelope survives. A poll
// that never happens before expiry loses the envelope permanently.
const EnvelopeTTL = 5 * time.Minute

// Envelope is one addressed, TTL-bounded signaling message. It is
// consumed exactly once by the addressed receiver or vanishes at
// ExpiresAt, whichever comes first.
type Envelope struct {
	ID        EnvelopeID      `json:"id"`
	RoomID    RoomID          `json:"roomId"`
	FromPeer  ParticipantID   `json:"fromPeer"`
	ToPeer    ParticipantID   `json:"toPeer"`
	Kind      EnvelopeKind    `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func NewEnvelope(roomID RoomID, from, to ParticipantID, kind EnvelopeKind, payload json.RawMessage, now time.Time) *Envelope {
	return &Envelope{
		ID:        EnvelopeID(uuid.NewString()),
		RoomID:    roomID,
		FromPeer:  from,
		ToPeer:    to,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(EnvelopeTTL),
	}
}

// Expired reports whether the envelope is past its TTL at the given time.
func (e *Envelope) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
