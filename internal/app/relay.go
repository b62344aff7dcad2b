package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// Relay is the store-and-forward exchange of negotiation envelopes
// between two named peers without a pre-existing direct channel.
// Delivery is at-most-once: an envelope that is not polled before its
// TTL is lost, indistinguishable from never having been sent.
// Negotiation retries, not relay redelivery, are the recovery
// mechanism.
type Relay struct {
	Envelopes core.EnvelopeStore
	Presence  core.Presence
	Clock     clock.Clock
}

func NewRelay(envelopes core.EnvelopeStore, presence core.Presence, clk clock.Clock) *Relay {
	return &Relay{Envelopes: envelopes, Presence: presence, Clock: clk}
}

// Send validates and stores one envelope with the fixed TTL.
func (r *Relay) Send(ctx context.Context, roomID domain.RoomID, from, to domain.ParticipantID, kind domain.EnvelopeKind, payload json.RawMessage) (*domain.Envelope, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: missing peer id", core.ErrValidation)
	}
	if from == to {
		return nil, fmt.Errorf("%w: envelope addressed to sender", core.ErrValidation)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown envelope kind %q", core.ErrValidation, kind)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", core.ErrValidation)
	}
	known, err := r.Presence.RoomKnown(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: unknown room %q", core.ErrValidation, roomID)
	}

	env := domain.NewEnvelope(roomID, from, to, kind, payload, r.Clock.Now())
	if err := r.Envelopes.Append(ctx, env); err != nil {
		return nil, err
	}
	log.Debug().Str("module", "app.relay").Str("room", string(roomID)).Str("from", string(from)).Str("to", string(to)).Str("kind", string(kind)).Msg("envelope stored")
	return env, nil
}

// Receive atomically fetches and deletes all pending envelopes for the
// peer, FIFO by creation time. A second call without new Sends returns
// nothing.
func (r *Relay) Receive(ctx context.Context, roomID domain.RoomID, peer domain.ParticipantID) ([]*domain.Envelope, error) {
	if peer == "" {
		return nil, fmt.Errorf("%w: missing peer id", core.ErrValidation)
	}
	envs, err := r.Envelopes.TakeForPeer(ctx, roomID, peer)
	if err != nil {
		return nil, err
	}
	if len(envs) > 0 {
		log.Debug().Str("module", "app.relay").Str("room", string(roomID)).Str("peer", string(peer)).Int("count", len(envs)).Msg("envelopes consumed")
	}
	return envs, nil
}
