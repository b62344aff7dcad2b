package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is the black-box negotiation engine for one remote
// peer. It produces and consumes offers, answers and ICE candidates and
// reports connection-state and track-ended events; everything below the
// SDP surface is the engine's business.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	// CreateAndSetOffer builds the local offer (initiator role).
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer handles the remote offer (answerer role).
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer installs the remote answer on the offering side.
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnConnected sets a callback fired when a live media path is up.
	OnConnected(func())
	// OnTrackEnded sets a callback fired when the media path is lost
	// (remote track ended, ICE disconnect). Transient class: the owner
	// decides whether to retry.
	OnTrackEnded(func())
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
}

// MediaDialer builds one MediaConnection per remote peer.
type MediaDialer interface {
	Dial(remote string) (MediaConnection, error)
}

// MediaSource is the local capture layer. Acquire failing with a
// wrapped ErrPermissionDenied is terminal and must never be retried
// automatically.
type MediaSource interface {
	// Acquire returns the local tracks to attach to outgoing offers.
	Acquire(ctx context.Context) ([]*webrtc.TrackLocalStaticRTP, error)
	// Stop releases the captured tracks. Idempotent.
	Stop()
}
