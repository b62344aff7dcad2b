package peer

import (
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// LinkState is the negotiation state machine for one remote peer.
type LinkState string

const (
	LinkIdle         LinkState = "idle"
	LinkNegotiating  LinkState = "negotiating"
	LinkConnected    LinkState = "connected"
	LinkReconnecting LinkState = "reconnecting"
	LinkFailed       LinkState = "failed"
)

// link is the client-local, never-persisted connection record for one
// remote peer. Owned exclusively by one Manager; all fields are guarded
// by the Manager's mutex.
type link struct {
	remote domain.ParticipantID
	state  LinkState
	conn   core.MediaConnection

	// attempts counts consecutive reconnections since the last live
	// media path. Reset to zero on connect.
	attempts int
	// retry is the pending one-shot backoff timer, nil when none is
	// scheduled. A manual stop cancels it.
	retry *clock.Timer

	// failureNotified keeps the failure callback from firing more than
	// once per link. Scoped here, not process-global, so concurrent
	// rooms in one process do not interfere.
	failureNotified bool
}

func (l *link) cancelRetry() {
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
}
