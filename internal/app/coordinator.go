package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/clock"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// Coordinator drives the request → vote → activate/cancel lifecycle.
// Unanimity is a single authoritative counter under the store's atomic
// primitives, not a replicated state machine: every correctness
// property here reduces to SessionStore.Create being an atomic
// conflict-checked insert and SessionStore.Transition being an
// idempotent compare-and-set.
type Coordinator struct {
	Sessions core.SessionStore
	Ballots  core.BallotStore
	Presence core.Presence
	Clock    clock.Clock
	Events   core.Notifier

	// InitiatorAutoGrant records a granted ballot for the initiator as
	// part of session creation, so the initiator is not asked to
	// consent to their own request. Off means the initiator must cast
	// like everyone else.
	InitiatorAutoGrant bool
}

// RequestSession snapshots the room's online participants, creates the
// session and opens the voting window. Fails with ErrConflict when a
// session of the kind is already underway in the room.
func (c *Coordinator) RequestSession(ctx context.Context, roomID domain.RoomID, initiator domain.ParticipantID, kind domain.SessionKind) (*domain.Session, error) {
	if initiator == "" {
		return nil, fmt.Errorf("%w: missing initiator id", core.ErrValidation)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown session kind %q", core.ErrValidation, kind)
	}
	known, err := c.Presence.RoomKnown(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: unknown room %q", core.ErrValidation, roomID)
	}

	snapshot, err := c.Presence.OnlineSnapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !containsParticipant(snapshot, initiator) {
		snapshot = append(snapshot, initiator)
	}

	now := c.Clock.Now()
	sess := domain.NewSession(roomID, initiator, kind, snapshot, now)
	if err := c.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	sess, _, err = c.Sessions.Transition(ctx, sess.ID, []domain.SessionState{domain.StateRequested}, domain.StatePendingPermission, nil)
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "app.coordinator").Str("session", string(sess.ID)).Str("room", string(roomID)).Str("kind", string(kind)).Int("snapshot", len(snapshot)).Msg("session requested")
	c.publish(sess, core.EventSessionRequested, nil)

	if c.InitiatorAutoGrant {
		if _, err := c.CastBallot(ctx, sess.ID, initiator, true); err != nil {
			return nil, err
		}
		// Single-participant room: the auto-grant alone may have made
		// the vote unanimous.
		return c.Sessions.Get(ctx, sess.ID)
	}
	return sess, nil
}

// CastBallot upserts the vote and applies the consensus rule: any deny
// cancels immediately without waiting for remaining voters; a grant
// activates only once every snapshot participant has granted.
func (c *Coordinator) CastBallot(ctx context.Context, id domain.SessionID, voter domain.ParticipantID, granted bool) (core.BallotResult, error) {
	var zero core.BallotResult

	sess, err := c.Sessions.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	if sess.State != domain.StatePendingPermission {
		return zero, fmt.Errorf("%w: session is %s", core.ErrInvalidState, sess.State)
	}
	if !sess.InSnapshot(voter) {
		return zero, fmt.Errorf("%w: %s is not part of the session's online snapshot", core.ErrValidation, voter)
	}

	if err := c.Ballots.Upsert(ctx, &domain.Ballot{
		SessionID: id,
		VoterID:   voter,
		Granted:   granted,
		CastAt:    c.Clock.Now(),
	}); err != nil {
		return zero, err
	}

	responses, grants, err := c.tally(ctx, sess)
	if err != nil {
		return zero, err
	}
	result := core.BallotResult{
		Status:            core.VoteWaiting,
		ResponsesReceived: responses,
		TotalParticipants: len(sess.Participants),
	}

	if !granted {
		// Fail fast: the outcome is already determined, do not wait on
		// slow responders.
		now := c.Clock.Now()
		sess, changed, err := c.Sessions.Transition(ctx, id, []domain.SessionState{domain.StatePendingPermission}, domain.StateCancelled, func(s *domain.Session) {
			s.EndedAt = &now
		})
		if err != nil {
			return zero, err
		}
		if changed {
			log.Info().Str("module", "app.coordinator").Str("session", string(id)).Str("voter", string(voter)).Msg("session cancelled by deny")
			c.publish(sess, core.EventSessionCancelled, &result)
		}
		result.Status = core.VoteCancelled
		return result, nil
	}

	if grants == len(sess.Participants) {
		sess, changed, err := c.Sessions.Transition(ctx, id, []domain.SessionState{domain.StatePendingPermission}, domain.StateActive, nil)
		if err != nil {
			// A deny may have landed between our read and the
			// transition. The voter's cast was valid; report the
			// session's fate instead of an error.
			if errors.Is(err, core.ErrInvalidState) {
				if cur, getErr := c.Sessions.Get(ctx, id); getErr == nil && cur.State.Terminal() {
					result.Status = core.VoteCancelled
					return result, nil
				}
			}
			return zero, err
		}
		if changed {
			log.Info().Str("module", "app.coordinator").Str("session", string(id)).Int("participants", len(sess.Participants)).Msg("session activated, consent unanimous")
			c.publish(sess, core.EventSessionActive, &result)
		}
		result.Status = core.VoteActive
		return result, nil
	}

	c.publish(sess, core.EventBallotCast, &result)
	return result, nil
}

// StopSession ends an active session. Permitted only for the initiator
// or a room host; valid only from the active state. The outcome is
// completed unless the termination metadata marks it failed.
func (c *Coordinator) StopSession(ctx context.Context, id domain.SessionID, requester domain.ParticipantID, meta map[string]any) (*domain.Session, error) {
	sess, err := c.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if requester != sess.InitiatorID {
		host, err := c.Presence.IsHost(ctx, sess.RoomID, requester)
		if err != nil {
			return nil, err
		}
		if !host {
			return nil, fmt.Errorf("%w: only the initiator or a room host may stop the session", core.ErrPermissionDenied)
		}
	}
	if sess.State != domain.StateActive {
		return nil, fmt.Errorf("%w: session is %s", core.ErrInvalidState, sess.State)
	}

	target := domain.StateCompleted
	if outcome, ok := meta["outcome"].(string); ok && outcome == "failed" {
		target = domain.StateFailed
	}

	now := c.Clock.Now()
	sess, changed, err := c.Sessions.Transition(ctx, id, []domain.SessionState{domain.StateActive}, target, func(s *domain.Session) {
		s.EndedAt = &now
		if len(meta) > 0 {
			if s.Metadata == nil {
				s.Metadata = make(map[string]any, len(meta))
			}
			for k, v := range meta {
				s.Metadata[k] = v
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().Str("module", "app.coordinator").Str("session", string(id)).Str("requester", string(requester)).Str("state", string(target)).Msg("session stopped")
		c.publish(sess, core.EventSessionEnded, nil)
	}
	return sess, nil
}

// tally counts responses and grants from snapshot voters only; a ballot
// from anyone else never reaches the store, but the filter keeps the
// counter honest regardless.
func (c *Coordinator) tally(ctx context.Context, sess *domain.Session) (responses, grants int, err error) {
	ballots, err := c.Ballots.BySession(ctx, sess.ID)
	if err != nil {
		return 0, 0, err
	}
	for _, b := range ballots {
		if !sess.InSnapshot(b.VoterID) {
			continue
		}
		responses++
		if b.Granted {
			grants++
		}
	}
	return responses, grants, nil
}

func (c *Coordinator) publish(sess *domain.Session, typ core.SessionEventType, progress *core.BallotResult) {
	if c.Events == nil || sess == nil {
		return
	}
	c.Events.Publish(sess.RoomID, core.SessionEvent{
		Type:      typ,
		SessionID: sess.ID,
		RoomID:    sess.RoomID,
		Kind:      sess.Kind,
		State:     sess.State,
		Progress:  progress,
	})
}

func containsParticipant(list []domain.ParticipantID, p domain.ParticipantID) bool {
	for _, id := range list {
		if id == p {
			return true
		}
	}
	return false
}
