package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/adapters/roster"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/adapters/store/memory"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/app"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeConn is a scriptable negotiation engine. Tests drive connection
// events by invoking the captured callbacks directly.
type fakeConn struct {
	remote string

	started bool
	closed  bool

	appliedOffer  *webrtc.SessionDescription
	appliedAnswer *webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit

	iceCb  func(webrtc.ICECandidateInit)
	connCb func()
	endCb  func()
}

func (c *fakeConn) Start(_ context.Context) error { c.started = true; return nil }
func (c *fakeConn) Close()                        { c.closed = true }

func (c *fakeConn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("v=0 offer for %s", c.remote)}, nil
}

func (c *fakeConn) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.appliedOffer = &offer
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("v=0 answer from %s", c.remote)}, nil
}

func (c *fakeConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.appliedAnswer = &answer
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) OnICECandidate(cb func(webrtc.ICECandidateInit)) { c.iceCb = cb }
func (c *fakeConn) OnConnected(cb func())                           { c.connCb = cb }
func (c *fakeConn) OnTrackEnded(cb func())                          { c.endCb = cb }

func (c *fakeConn) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return nil, nil
}

type fakeDialer struct {
	err   error
	conns []*fakeConn
}

func (d *fakeDialer) Dial(remote string) (core.MediaConnection, error) {
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{remote: remote}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last(t *testing.T) *fakeConn {
	t.Helper()
	if len(d.conns) == 0 {
		t.Fatal("no connection dialed")
	}
	return d.conns[len(d.conns)-1]
}

type fakeSource struct {
	err     error
	stopped bool
}

func (s *fakeSource) Acquire(_ context.Context) ([]*webrtc.TrackLocalStaticRTP, error) {
	return nil, s.err
}
func (s *fakeSource) Stop() { s.stopped = true }

type fixture struct {
	relay *app.Relay
	clk   *clock.FakeClock
}

func newFixture(t *testing.T, participants ...domain.ParticipantID) *fixture {
	t.Helper()
	clk := clock.Fake(epoch)
	rooms := roster.NewMemory()
	ctx := context.Background()
	for _, p := range participants {
		if err := rooms.Join(ctx, "r1", p); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}
	return &fixture{relay: app.NewRelay(memory.NewEnvelopeStore(clk), rooms, clk), clk: clk}
}

func (f *fixture) manager(local domain.ParticipantID, dialer *fakeDialer) *Manager {
	return NewManager("r1", local, f.relay, dialer, &fakeSource{}, f.clk)
}

func TestNegotiationRoundTrip(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	dialerA := &fakeDialer{}
	dialerB := &fakeDialer{}
	mgrA := f.manager("a", dialerA)
	mgrB := f.manager("b", dialerB)

	if err := mgrA.Initiate(ctx, "b"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if state, _ := mgrA.LinkState("b"); state != LinkNegotiating {
		t.Fatalf("initiator state = %s, want negotiating", state)
	}
	connA := dialerA.last(t)
	if !connA.started {
		t.Fatal("initiator connection not started")
	}

	// B polls, receives the offer and answers it.
	mgrB.Poll(ctx)
	connB := dialerB.last(t)
	if connB.appliedOffer == nil {
		t.Fatal("offer never reached the answering side")
	}
	if state, _ := mgrB.LinkState("a"); state != LinkNegotiating {
		t.Fatalf("answerer state = %s, want negotiating", state)
	}

	// A polls and installs the answer on its pending connection.
	mgrA.Poll(ctx)
	if connA.appliedAnswer == nil {
		t.Fatal("answer never applied on the offering side")
	}

	// Trickled candidate from A lands on B's connection.
	connA.iceCb(webrtc.ICECandidateInit{Candidate: "candidate:0 1 udp 1 192.0.2.1 3478 typ host"})
	mgrB.Poll(ctx)
	if len(connB.candidates) != 1 {
		t.Fatalf("answerer holds %d candidates, want 1", len(connB.candidates))
	}

	// Engine reports a live media path.
	connA.connCb()
	if state, attempts := mgrA.LinkState("b"); state != LinkConnected || attempts != 0 {
		t.Fatalf("state = %s attempts = %d, want connected with 0", state, attempts)
	}
}

func TestReconnectBackoffIsLinear(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	dialer := &fakeDialer{}
	mgr := f.manager("a", dialer)
	if err := mgr.Initiate(ctx, "b"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	for attempt := 1; attempt <= MaxReconnectAttempts; attempt++ {
		dialer.last(t).endCb()
		state, got := mgr.LinkState("b")
		if state != LinkReconnecting || got != attempt {
			t.Fatalf("after loss %d: state = %s attempts = %d, want reconnecting with %d", attempt, state, got, attempt)
		}

		delay := BackoffStep * time.Duration(attempt)
		dialed := len(dialer.conns)

		// One instant short of the deadline nothing happens.
		f.clk.Advance(delay - time.Millisecond)
		if len(dialer.conns) != dialed {
			t.Fatalf("attempt %d fired before its %v backoff", attempt, delay)
		}
		f.clk.Advance(time.Millisecond)
		if len(dialer.conns) != dialed+1 {
			t.Fatalf("attempt %d did not fire at its %v backoff", attempt, delay)
		}
		if state, _ := mgr.LinkState("b"); state != LinkNegotiating {
			t.Fatalf("after retry %d: state = %s, want negotiating", attempt, state)
		}
	}
}

func TestLinkFailsAfterExhaustedAttempts(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	dialer := &fakeDialer{}
	mgr := f.manager("a", dialer)
	var failed []domain.ParticipantID
	mgr.OnLinkFailed = func(remote domain.ParticipantID) { failed = append(failed, remote) }

	if err := mgr.Initiate(ctx, "b"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	for attempt := 1; attempt <= MaxReconnectAttempts; attempt++ {
		dialer.last(t).endCb()
		f.clk.Advance(BackoffStep * time.Duration(attempt))
	}

	// Fourth loss: budget spent, link fails terminally.
	last := dialer.last(t)
	last.endCb()
	if state, _ := mgr.LinkState("b"); state != LinkFailed {
		t.Fatalf("state = %s, want failed", state)
	}
	if !last.closed {
		t.Fatal("failed link's connection left open")
	}
	if len(failed) != 1 || failed[0] != "b" {
		t.Fatalf("OnLinkFailed fired %d times for %v, want once for b", len(failed), failed)
	}

	// Stray late events neither renotify nor revive the link.
	last.endCb()
	if len(failed) != 1 {
		t.Fatal("OnLinkFailed fired again for the same link")
	}
	f.clk.Advance(time.Minute)
	if state, _ := mgr.LinkState("b"); state != LinkFailed {
		t.Fatal("failed link revived by a stale timer")
	}
}

func TestConnectedResetsAttemptBudget(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	dialer := &fakeDialer{}
	mgr := f.manager("a", dialer)
	if err := mgr.Initiate(ctx, "b"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	dialer.last(t).endCb()
	f.clk.Advance(BackoffStep)
	dialer.last(t).endCb()
	f.clk.Advance(2 * BackoffStep)

	// Recovery: attempts return to zero, the budget is whole again.
	dialer.last(t).connCb()
	if state, attempts := mgr.LinkState("b"); state != LinkConnected || attempts != 0 {
		t.Fatalf("state = %s attempts = %d, want connected with 0", state, attempts)
	}

	dialer.last(t).endCb()
	if _, attempts := mgr.LinkState("b"); attempts != 1 {
		t.Fatalf("attempts after recovered loss = %d, want 1", attempts)
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	dialer := &fakeDialer{}
	source := &fakeSource{}
	mgr := NewManager("r1", "a", f.relay, dialer, source, f.clk)
	if err := mgr.Initiate(ctx, "b"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	conn := dialer.last(t)
	conn.endCb()

	mgr.Stop()
	dialed := len(dialer.conns)
	f.clk.Advance(time.Minute)
	if len(dialer.conns) != dialed {
		t.Fatal("reconnect fired after manual stop")
	}
	if !conn.closed {
		t.Fatal("connection left open after stop")
	}
	if !source.stopped {
		t.Fatal("capture source not released")
	}

	// Events arriving after stop are inert.
	conn.endCb()
	if state, _ := mgr.LinkState("b"); state != LinkIdle {
		t.Fatalf("state after stop = %s, want idle", state)
	}

	// No envelopes leave a stopped manager.
	if err := mgr.Initiate(ctx, "b"); err != nil {
		t.Fatalf("Initiate after stop: %v", err)
	}
	if len(dialer.conns) != dialed {
		t.Fatal("stopped manager dialed a new connection")
	}
}

func TestFreshOfferSupersedesInFlightNegotiation(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	dialerB := &fakeDialer{}
	mgrB := f.manager("b", dialerB)

	send := func() {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
		payload, err := json.Marshal(offer)
		if err != nil {
			t.Fatalf("marshal offer: %v", err)
		}
		if _, err := f.relay.Send(ctx, "r1", "a", "b", domain.EnvelopeOffer, payload); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	send()
	mgrB.Poll(ctx)
	first := dialerB.last(t)

	send()
	mgrB.Poll(ctx)
	second := dialerB.last(t)

	if first == second {
		t.Fatal("renegotiation reused the old connection")
	}
	if !first.closed {
		t.Fatal("superseded connection left open")
	}
}

// blockingDialer parks Dial until released, so a test can land Stop in
// the middle of an in-flight negotiation.
type blockingDialer struct {
	fakeDialer
	entered chan struct{}
	release chan struct{}
}

func newBlockingDialer() *blockingDialer {
	return &blockingDialer{entered: make(chan struct{}), release: make(chan struct{})}
}

func (d *blockingDialer) Dial(remote string) (core.MediaConnection, error) {
	d.entered <- struct{}{}
	<-d.release
	return d.fakeDialer.Dial(remote)
}

func TestStopDuringInitiateWins(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	dialer := newBlockingDialer()
	mgr := NewManager("r1", "a", f.relay, dialer, &fakeSource{}, f.clk)

	done := make(chan error, 1)
	go func() { done <- mgr.Initiate(ctx, "b") }()

	<-dialer.entered
	mgr.Stop()
	close(dialer.release)
	if err := <-done; err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	if conn := dialer.last(t); !conn.closed {
		t.Fatal("connection dialed during stop left open")
	}
	envs, err := f.relay.Receive(ctx, "r1", "b")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(envs) != 0 {
		t.Fatalf("stopped manager sent %d envelope(s)", len(envs))
	}
	if state, _ := mgr.LinkState("b"); state != LinkIdle {
		t.Fatalf("state after stop = %s, want idle", state)
	}
}

func TestStopDuringOfferHandlingWins(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	dialer := newBlockingDialer()
	mgr := NewManager("r1", "b", f.relay, dialer, &fakeSource{}, f.clk)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	payload, err := json.Marshal(offer)
	if err != nil {
		t.Fatalf("marshal offer: %v", err)
	}
	if _, err := f.relay.Send(ctx, "r1", "a", "b", domain.EnvelopeOffer, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	done := make(chan struct{})
	go func() { mgr.Poll(ctx); close(done) }()

	<-dialer.entered
	mgr.Stop()
	close(dialer.release)
	<-done

	if conn := dialer.last(t); !conn.closed {
		t.Fatal("connection dialed during stop left open")
	}
	envs, err := f.relay.Receive(ctx, "r1", "a")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(envs) != 0 {
		t.Fatalf("stopped manager answered with %d envelope(s)", len(envs))
	}
}

func TestRunStopsOnMediaPermissionDenied(t *testing.T) {
	f := newFixture(t, "a", "b")

	denied := fmt.Errorf("%w: screen capture refused", core.ErrPermissionDenied)
	mgr := NewManager("r1", "a", f.relay, &fakeDialer{}, &fakeSource{err: denied}, f.clk)

	err := mgr.Run(context.Background())
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("Run = %v, want ErrPermissionDenied", err)
	}
}
