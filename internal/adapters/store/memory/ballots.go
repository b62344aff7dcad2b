package memory

import (
	"context"
	"sync"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// BallotStore keeps one ballot per (session, voter); a later cast
// overwrites the earlier one.
type BallotStore struct {
	mu      sync.Mutex
	ballots map[domain.SessionID]map[domain.ParticipantID]*domain.Ballot
}

func NewBallotStore() *BallotStore {
	return &BallotStore{
		ballots: make(map[domain.SessionID]map[domain.ParticipantID]*domain.Ballot),
	}
}

func (s *BallotStore) Upsert(ctx context.Context, b *domain.Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	voters, ok := s.ballots[b.SessionID]
	if !ok {
		voters = make(map[domain.ParticipantID]*domain.Ballot)
		s.ballots[b.SessionID] = voters
	}
	clone := *b
	voters[b.VoterID] = &clone
	return nil
}

func (s *BallotStore) BySession(ctx context.Context, id domain.SessionID) ([]*domain.Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	voters := s.ballots[id]
	out := make([]*domain.Ballot, 0, len(voters))
	for _, b := range voters {
		clone := *b
		out = append(out, &clone)
	}
	return out, nil
}
