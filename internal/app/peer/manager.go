// Package peer owns the client-local side of an active screen-share
// session: one negotiation state machine per remote peer, driven by
// relay polling and a linear-backoff reconnection policy.
package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

const (
	// MaxReconnectAttempts bounds automatic recovery; afterwards the
	// link is failed and torn down locally.
	MaxReconnectAttempts = 3
	// BackoffStep is multiplied by the attempt count: 2s, 4s, 6s.
	BackoffStep = 2 * time.Second
	// DefaultPollInterval is how often the manager drains its relay
	// queue. The poll is the manager's sole suspension point.
	DefaultPollInterval = time.Second
)

// SignalExchange is the slice of the relay the manager needs.
// *app.Relay satisfies it.
type SignalExchange interface {
	Send(ctx context.Context, roomID domain.RoomID, from, to domain.ParticipantID, kind domain.EnvelopeKind, payload json.RawMessage) (*domain.Envelope, error)
	Receive(ctx context.Context, roomID domain.RoomID, peer domain.ParticipantID) ([]*domain.Envelope, error)
}

// Manager is one local participant's connection owner. Envelopes
// retrieved in one poll are processed sequentially before the next, so
// negotiation handling per remote peer is effectively serialized;
// managers for different participants run independently.
type Manager struct {
	// OnLinkFailed fires once per link when reconnection attempts are
	// exhausted; the owner tears the session down locally.
	OnLinkFailed func(remote domain.ParticipantID)

	roomID domain.RoomID
	local  domain.ParticipantID

	relay  SignalExchange
	dialer core.MediaDialer
	source core.MediaSource
	clk    clock.Clock
	poll   time.Duration

	mu      sync.Mutex
	links   map[domain.ParticipantID]*link
	tracks  []*webrtc.TrackLocalStaticRTP
	stopped bool
	runCtx  context.Context
}

func NewManager(
	roomID domain.RoomID,
	local domain.ParticipantID,
	relay SignalExchange,
	dialer core.MediaDialer,
	source core.MediaSource,
	clk clock.Clock,
) *Manager {
	return &Manager{
		roomID: roomID,
		local:  local,
		relay:  relay,
		dialer: dialer,
		source: source,
		clk:    clk,
		poll:   DefaultPollInterval,
		links:  make(map[domain.ParticipantID]*link),
		runCtx: context.Background(),
	}
}

// SetPollInterval overrides the relay poll period. Call before Run.
func (m *Manager) SetPollInterval(d time.Duration) { m.poll = d }

// Run acquires local media and polls the relay until ctx is cancelled.
// A permission-denial from the capture layer is terminal: it is
// returned as-is and never retried here.
func (m *Manager) Run(ctx context.Context) error {
	tracks, err := m.source.Acquire(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("local", string(m.local)).Msg("media capture failed")
		return err
	}
	m.mu.Lock()
	m.tracks = tracks
	m.runCtx = ctx
	m.mu.Unlock()

	ticker := m.clk.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return nil
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll drains one batch of envelopes and processes them in order.
func (m *Manager) Poll(ctx context.Context) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}

	envs, err := m.relay.Receive(ctx, m.roomID, m.local)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("local", string(m.local)).Msg("relay poll failed")
		return
	}
	for _, env := range envs {
		m.handleEnvelope(ctx, env)
	}
}

// Connect starts negotiation toward every listed remote (initiator
// role). The local peer is skipped if present.
func (m *Manager) Connect(ctx context.Context, remotes []domain.ParticipantID) {
	for _, remote := range remotes {
		if remote == m.local {
			continue
		}
		if err := m.Initiate(ctx, remote); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("initiate failed")
		}
	}
}

// Initiate builds a local offer with the attached media tracks, sends
// it via the relay and moves the link to negotiating. Transient
// failures are routed through the reconnection policy.
func (m *Manager) Initiate(ctx context.Context, remote domain.ParticipantID) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	l := m.ensureLinkLocked(remote)
	l.cancelRetry()
	old := l.conn
	l.conn = nil
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	conn, err := m.dial(ctx, remote)
	if err != nil {
		m.handleTrackEnded(remote)
		return err
	}
	offer, err := conn.CreateAndSetOffer()
	if err != nil {
		conn.Close()
		m.handleTrackEnded(remote)
		return err
	}
	payload, err := json.Marshal(offer)
	if err != nil {
		conn.Close()
		return err
	}

	// Stop may have landed while the dial was in flight; it wins. The
	// send happens under the mutex so a stopped manager can never emit
	// the offer or keep the fresh connection.
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	if _, err := m.relay.Send(ctx, m.roomID, m.local, remote, domain.EnvelopeOffer, payload); err != nil {
		m.mu.Unlock()
		conn.Close()
		m.handleTrackEnded(remote)
		return err
	}
	l.conn = conn
	l.state = LinkNegotiating
	m.mu.Unlock()
	log.Info().Str("module", "peer").Str("local", string(m.local)).Str("remote", string(remote)).Msg("offer sent")
	return nil
}

// Stop is the explicit local teardown: cancel pending reconnect timers,
// close every connection and release captured tracks. Manual stop
// always takes precedence over an in-flight automatic reconnection.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	var conns []core.MediaConnection
	for _, l := range m.links {
		l.cancelRetry()
		if l.conn != nil {
			conns = append(conns, l.conn)
			l.conn = nil
		}
		l.state = LinkIdle
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	m.source.Stop()
	log.Info().Str("module", "peer").Str("local", string(m.local)).Msg("manager stopped")
}

// LinkState reports the state machine position for a remote, with the
// current reconnect attempt count.
func (m *Manager) LinkState(remote domain.ParticipantID) (LinkState, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remote]
	if !ok {
		return LinkIdle, 0
	}
	return l.state, l.attempts
}

func (m *Manager) handleEnvelope(ctx context.Context, env *domain.Envelope) {
	switch env.Kind {
	case domain.EnvelopeOffer:
		m.handleOffer(ctx, env)
	case domain.EnvelopeAnswer:
		m.handleAnswer(env)
	case domain.EnvelopeIceCandidate:
		m.handleCandidate(env)
	default:
		log.Warn().Str("module", "peer").Str("kind", string(env.Kind)).Msg("unknown envelope kind")
	}
}

func (m *Manager) handleOffer(ctx context.Context, env *domain.Envelope) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &offer); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("bad offer payload")
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	l := m.ensureLinkLocked(env.FromPeer)
	l.cancelRetry()
	old := l.conn
	l.conn = nil
	m.mu.Unlock()
	// A fresh offer supersedes whatever negotiation was in flight.
	if old != nil {
		old.Close()
	}

	conn, err := m.dial(ctx, env.FromPeer)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(env.FromPeer)).Msg("dial for answer failed")
		return
	}
	answer, err := conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		conn.Close()
		log.Error().Err(err).Str("module", "peer").Str("remote", string(env.FromPeer)).Msg("answer failed")
		return
	}
	payload, err := json.Marshal(answer)
	if err != nil {
		conn.Close()
		return
	}

	// Same race as Initiate: a stop during the dial wins.
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		conn.Close()
		return
	}
	if _, err := m.relay.Send(ctx, m.roomID, m.local, env.FromPeer, domain.EnvelopeAnswer, payload); err != nil {
		m.mu.Unlock()
		conn.Close()
		log.Error().Err(err).Str("module", "peer").Str("remote", string(env.FromPeer)).Msg("answer send failed")
		return
	}
	l.conn = conn
	l.state = LinkNegotiating
	m.mu.Unlock()
}

func (m *Manager) handleAnswer(env *domain.Envelope) {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &answer); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("bad answer payload")
		return
	}
	conn := m.connOf(env.FromPeer)
	if conn == nil {
		log.Warn().Str("module", "peer").Str("remote", string(env.FromPeer)).Msg("answer without pending offer")
		return
	}
	if err := conn.ApplyAnswer(answer); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(env.FromPeer)).Msg("apply answer failed")
	}
}

func (m *Manager) handleCandidate(env *domain.Envelope) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Payload, &candidate); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("bad candidate payload")
		return
	}
	conn := m.connOf(env.FromPeer)
	if conn == nil {
		return
	}
	if err := conn.AddICECandidate(candidate); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(env.FromPeer)).Msg("add candidate failed")
	}
}

// dial builds the engine connection for a remote: local tracks
// attached, callbacks registered, lifetime started.
func (m *Manager) dial(ctx context.Context, remote domain.ParticipantID) (core.MediaConnection, error) {
	conn, err := m.dialer.Dial(string(remote))
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	tracks := m.tracks
	m.mu.Unlock()
	for _, track := range tracks {
		if _, err := conn.AddLocalTrack(track); err != nil {
			conn.Close()
			return nil, err
		}
	}

	conn.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		payload, err := json.Marshal(candidate)
		if err != nil {
			return
		}
		if _, err := m.relay.Send(ctx, m.roomID, m.local, remote, domain.EnvelopeIceCandidate, payload); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("candidate send failed")
		}
	})
	conn.OnConnected(func() { m.handleConnected(remote) })
	conn.OnTrackEnded(func() { m.handleTrackEnded(remote) })

	if err := conn.Start(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (m *Manager) handleConnected(remote domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remote]
	if !ok {
		return
	}
	l.state = LinkConnected
	l.attempts = 0
	l.failureNotified = false
	log.Info().Str("module", "peer").Str("local", string(m.local)).Str("remote", string(remote)).Msg("media path connected")
}

// handleTrackEnded applies the reconnection policy: linear backoff at
// 2s x attempt count, at most MaxReconnectAttempts attempts, then a
// terminal failed state. A stopped manager never reconnects.
func (m *Manager) handleTrackEnded(remote domain.ParticipantID) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	l, ok := m.links[remote]
	if !ok || l.state == LinkFailed {
		m.mu.Unlock()
		return
	}

	if l.attempts >= MaxReconnectAttempts {
		l.state = LinkFailed
		conn := l.conn
		l.conn = nil
		notify := !l.failureNotified && m.OnLinkFailed != nil
		l.failureNotified = true
		m.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		log.Warn().Str("module", "peer").Str("local", string(m.local)).Str("remote", string(remote)).Msg("reconnect attempts exhausted, link failed")
		if notify {
			m.OnLinkFailed(remote)
		}
		return
	}

	l.attempts++
	l.state = LinkReconnecting
	attempt := l.attempts
	delay := BackoffStep * time.Duration(attempt)
	l.cancelRetry()
	ctx := m.runCtx
	l.retry = m.clk.AfterFunc(delay, func() { m.reconnect(ctx, remote) })
	m.mu.Unlock()
	log.Info().Str("module", "peer").Str("local", string(m.local)).Str("remote", string(remote)).Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

func (m *Manager) reconnect(ctx context.Context, remote domain.ParticipantID) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if l, ok := m.links[remote]; ok {
		l.retry = nil
	}
	m.mu.Unlock()

	if err := m.Initiate(ctx, remote); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("reconnect attempt failed")
	}
}

func (m *Manager) connOf(remote domain.ParticipantID) core.MediaConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[remote]; ok {
		return l.conn
	}
	return nil
}

func (m *Manager) ensureLinkLocked(remote domain.ParticipantID) *link {
	l, ok := m.links[remote]
	if !ok {
		l = &link{remote: remote, state: LinkIdle}
		m.links[remote] = l
	}
	return l
}
