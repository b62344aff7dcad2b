package core

import (
	"context"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// Presence is the external room/membership collaborator. Identity
// issuance and membership live elsewhere; we only ask who is online
// right now and who may override a stop.
type Presence interface {
	RoomKnown(ctx context.Context, roomID domain.RoomID) (bool, error)
	IsOnline(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) (bool, error)
	// OnlineSnapshot returns the participants currently online in the
	// room, in no particular order.
	OnlineSnapshot(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantID, error)
	// IsHost reports whether p holds the room-host role, which permits
	// stopping another participant's session.
	IsHost(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) (bool, error)
}
