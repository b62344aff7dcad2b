package rtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
)

// Dialer builds one WebRTCConnection per remote peer.
type Dialer struct {
	Config webrtc.Configuration
}

func NewDialer() *Dialer {
	return &Dialer{Config: DefaultWebRTCConfig()}
}

func (d *Dialer) Dial(remote string) (core.MediaConnection, error) {
	return NewWebRTCConnection(d.Config, remote)
}

// StaticSource serves a fixed set of pre-built local tracks. The real
// capture device lives with the client; server-side callers hand the
// manager whatever tracks they have.
type StaticSource struct {
	tracks []*webrtc.TrackLocalStaticRTP
}

func NewStaticSource(tracks []*webrtc.TrackLocalStaticRTP) *StaticSource {
	return &StaticSource{tracks: tracks}
}

func (s *StaticSource) Acquire(ctx context.Context) ([]*webrtc.TrackLocalStaticRTP, error) {
	return s.tracks, nil
}

func (s *StaticSource) Stop() {}

// DeniedSource models a capture layer whose user refused the media
// permission prompt. Acquire always fails terminally.
type DeniedSource struct{}

func (DeniedSource) Acquire(ctx context.Context) ([]*webrtc.TrackLocalStaticRTP, error) {
	return nil, fmt.Errorf("%w: media capture refused", core.ErrPermissionDenied)
}

func (DeniedSource) Stop() {}
