// Package roster provides Presence implementations. Room membership and
// identity are owned by an external service; these adapters track just
// enough (known rooms, online peers, hosts) for the subsystem to run
// standalone.
package roster

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

type roomEntry struct {
	online map[domain.ParticipantID]bool
	hosts  map[domain.ParticipantID]bool
}

// Memory is the in-process Presence backend.
type Memory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[domain.RoomID]*roomEntry)}
}

// Join marks the participant online in the room, creating the room
// record on first use. The first joiner becomes the room host.
func (m *Memory) Join(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		room = &roomEntry{
			online: make(map[domain.ParticipantID]bool),
			hosts:  make(map[domain.ParticipantID]bool),
		}
		room.hosts[p] = true
		m.rooms[roomID] = room
	}
	room.online[p] = true
	log.Info().Str("module", "roster").Str("room", string(roomID)).Str("participant", string(p)).Msg("participant online")
	return nil
}

func (m *Memory) Leave(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[roomID]; ok {
		delete(room.online, p)
		log.Info().Str("module", "roster").Str("room", string(roomID)).Str("participant", string(p)).Msg("participant offline")
	}
	return nil
}

// SetHost grants or revokes the room-host role.
func (m *Memory) SetHost(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID, host bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	if host {
		room.hosts[p] = true
	} else {
		delete(room.hosts, p)
	}
	return nil
}

func (m *Memory) RoomKnown(ctx context.Context, roomID domain.RoomID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[roomID]
	return ok, nil
}

func (m *Memory) IsOnline(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return false, nil
	}
	return room.online[p], nil
}

func (m *Memory) OnlineSnapshot(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.ParticipantID, 0, len(room.online))
	for p := range room.online {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) IsHost(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return false, nil
	}
	return room.hosts[p], nil
}
