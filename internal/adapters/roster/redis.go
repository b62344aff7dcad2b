package roster

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// Redis keeps presence in redis sets, one `room:{id}:peers` set per
// room plus a `room:{id}:hosts` set, so multiple server processes see
// the same roster.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func peersKey(roomID domain.RoomID) string { return "room:" + string(roomID) + ":peers" }
func hostsKey(roomID domain.RoomID) string { return "room:" + string(roomID) + ":hosts" }
func roomKey(roomID domain.RoomID) string  { return "room:" + string(roomID) }

func (r *Redis) Join(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	pipe := r.client.TxPipeline()
	pipe.SetNX(ctx, roomKey(roomID), "1", 0)
	pipe.SAdd(ctx, peersKey(roomID), string(p))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}
	// First joiner becomes host, mirroring the memory backend.
	count, err := r.client.SCard(ctx, hostsKey(roomID)).Result()
	if err != nil {
		return err
	}
	if count == 0 {
		return r.client.SAdd(ctx, hostsKey(roomID), string(p)).Err()
	}
	return nil
}

func (r *Redis) Leave(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	return r.client.SRem(ctx, peersKey(roomID), string(p)).Err()
}

func (r *Redis) SetHost(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID, host bool) error {
	if host {
		return r.client.SAdd(ctx, hostsKey(roomID), string(p)).Err()
	}
	return r.client.SRem(ctx, hostsKey(roomID), string(p)).Err()
}

func (r *Redis) RoomKnown(ctx context.Context, roomID domain.RoomID) (bool, error) {
	n, err := r.client.Exists(ctx, roomKey(roomID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) IsOnline(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) (bool, error) {
	return r.client.SIsMember(ctx, peersKey(roomID), string(p)).Result()
}

func (r *Redis) OnlineSnapshot(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantID, error) {
	members, err := r.client.SMembers(ctx, peersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ParticipantID, 0, len(members))
	for _, m := range members {
		out = append(out, domain.ParticipantID(m))
	}
	return out, nil
}

func (r *Redis) IsHost(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) (bool, error) {
	return r.client.SIsMember(ctx, hostsKey(roomID), string(p)).Result()
}
