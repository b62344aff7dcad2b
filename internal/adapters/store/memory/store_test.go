package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newEnvelope(clk clock.Clock, room domain.RoomID, from, to domain.ParticipantID) *domain.Envelope {
	return domain.NewEnvelope(room, from, to, domain.EnvelopeOffer, json.RawMessage(`{"sdp":"x"}`), clk.Now())
}

func TestEnvelopeTakeConsumesExactlyOnce(t *testing.T) {
	clk := clock.Fake(epoch)
	store := NewEnvelopeStore(clk)
	ctx := context.Background()

	if err := store.Append(ctx, newEnvelope(clk, "r1", "a", "b")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := store.TakeForPeer(ctx, "r1", "b")
	if err != nil {
		t.Fatalf("TakeForPeer: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("first take returned %d envelopes, want 1", len(got))
	}

	got, err = store.TakeForPeer(ctx, "r1", "b")
	if err != nil {
		t.Fatalf("second TakeForPeer: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("second take returned %d envelopes, want 0", len(got))
	}
}

func TestEnvelopeTakeIsFIFOPerReceiver(t *testing.T) {
	clk := clock.Fake(epoch)
	store := NewEnvelopeStore(clk)
	ctx := context.Background()

	first := newEnvelope(clk, "r1", "a", "b")
	clk.Advance(time.Millisecond)
	second := newEnvelope(clk, "r1", "c", "b")
	if err := store.Append(ctx, first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, second); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := store.TakeForPeer(ctx, "r1", "b")
	if err != nil {
		t.Fatalf("TakeForPeer: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("take returned %d envelopes, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Fatal("envelopes returned out of creation order")
	}
}

func TestEnvelopeTakeIsScopedToReceiver(t *testing.T) {
	clk := clock.Fake(epoch)
	store := NewEnvelopeStore(clk)
	ctx := context.Background()

	if err := store.Append(ctx, newEnvelope(clk, "r1", "a", "b")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, _ := store.TakeForPeer(ctx, "r1", "c")
	if len(got) != 0 {
		t.Fatal("envelope visible to a peer it was not addressed to")
	}
	got, _ = store.TakeForPeer(ctx, "r2", "b")
	if len(got) != 0 {
		t.Fatal("envelope visible in another room")
	}
	got, _ = store.TakeForPeer(ctx, "r1", "b")
	if len(got) != 1 {
		t.Fatal("envelope lost for its actual receiver")
	}
}

func TestEnvelopeExpiresAtTTL(t *testing.T) {
	clk := clock.Fake(epoch)
	store := NewEnvelopeStore(clk)
	ctx := context.Background()

	if err := store.Append(ctx, newEnvelope(clk, "r1", "a", "b")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	clk.Advance(domain.EnvelopeTTL)

	got, err := store.TakeForPeer(ctx, "r1", "b")
	if err != nil {
		t.Fatalf("TakeForPeer: %v", err)
	}
	if len(got) != 0 {
		t.Fatal("expired envelope still delivered")
	}
}

func TestEnvelopeSweepPurgesExpired(t *testing.T) {
	clk := clock.Fake(epoch)
	store := NewEnvelopeStore(clk)
	ctx := context.Background()

	if err := store.Append(ctx, newEnvelope(clk, "r1", "a", "b")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	clk.Advance(domain.EnvelopeTTL - time.Second)
	fresh := newEnvelope(clk, "r1", "a", "b")
	if err := store.Append(ctx, fresh); err != nil {
		t.Fatalf("Append: %v", err)
	}
	clk.Advance(time.Second)

	dropped, err := store.Sweep(ctx, clk.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("Sweep dropped %d, want 1", dropped)
	}

	got, _ := store.TakeForPeer(ctx, "r1", "b")
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Fatal("sweep removed the unexpired envelope")
	}
}

func pendingSession(room domain.RoomID, kind domain.SessionKind) *domain.Session {
	sess := domain.NewSession(room, "a", kind, []domain.ParticipantID{"a", "b"}, epoch)
	sess.State = domain.StatePendingPermission
	return sess
}

func TestSessionCreateConflictsWhilePendingOrActive(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	first := pendingSession("r1", domain.KindScreenShare)
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, pendingSession("r1", domain.KindScreenShare)); err != core.ErrConflict {
		t.Fatalf("Create while pending = %v, want ErrConflict", err)
	}
	// A different kind in the same room is fine.
	if err := store.Create(ctx, pendingSession("r1", domain.KindRecording)); err != nil {
		t.Fatalf("Create other kind: %v", err)
	}
	// Same kind in a different room is fine.
	if err := store.Create(ctx, pendingSession("r2", domain.KindScreenShare)); err != nil {
		t.Fatalf("Create other room: %v", err)
	}

	// Terminal state releases the slot.
	if _, _, err := store.Transition(ctx, first.ID, []domain.SessionState{domain.StatePendingPermission}, domain.StateCancelled, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.Create(ctx, pendingSession("r1", domain.KindScreenShare)); err != nil {
		t.Fatalf("Create after cancel: %v", err)
	}
}

func TestSessionCreateConcurrentSingleWinner(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Create(ctx, pendingSession("r1", domain.KindRecording))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch err {
		case nil:
			wins++
		case core.ErrConflict:
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d concurrent creates succeeded, want exactly 1", wins)
	}
}

func TestSessionTransitionIdempotent(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	sess := pendingSession("r1", domain.KindScreenShare)
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, changed, err := store.Transition(ctx, sess.ID, []domain.SessionState{domain.StatePendingPermission}, domain.StateActive, nil)
	if err != nil || !changed {
		t.Fatalf("first Transition = (changed=%v, err=%v), want (true, nil)", changed, err)
	}
	// Second caller saw "all granted" too: must be a silent no-op.
	_, changed, err = store.Transition(ctx, sess.ID, []domain.SessionState{domain.StatePendingPermission}, domain.StateActive, nil)
	if err != nil || changed {
		t.Fatalf("repeat Transition = (changed=%v, err=%v), want (false, nil)", changed, err)
	}

	// Moving from a wrong state is rejected.
	_, _, err = store.Transition(ctx, sess.ID, []domain.SessionState{domain.StatePendingPermission}, domain.StateCancelled, nil)
	if err != core.ErrInvalidState {
		t.Fatalf("Transition from active to cancelled = %v, want ErrInvalidState", err)
	}

	_, _, err = store.Transition(ctx, "nope", []domain.SessionState{domain.StateActive}, domain.StateCompleted, nil)
	if err != core.ErrNotFound {
		t.Fatalf("Transition on unknown session = %v, want ErrNotFound", err)
	}
}

func TestSessionHistoryNewestFirst(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	first := pendingSession("r1", domain.KindScreenShare)
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := store.Transition(ctx, first.ID, []domain.SessionState{domain.StatePendingPermission}, domain.StateCancelled, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	second := pendingSession("r1", domain.KindScreenShare)
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("Create: %v", err)
	}

	history, err := store.ByRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("ByRoom: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].ID != second.ID || history[1].ID != first.ID {
		t.Fatal("history not newest first")
	}
}

func TestBallotUpsertOverwrites(t *testing.T) {
	store := NewBallotStore()
	ctx := context.Background()

	cast := func(granted bool) {
		if err := store.Upsert(ctx, &domain.Ballot{SessionID: "s1", VoterID: "a", Granted: granted, CastAt: epoch}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	cast(true)
	cast(true)
	cast(false)

	ballots, err := store.BySession(ctx, "s1")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(ballots) != 1 {
		t.Fatalf("ballot count = %d, want 1 (upsert, not append)", len(ballots))
	}
	if ballots[0].Granted {
		t.Fatal("latest cast should win")
	}
}
