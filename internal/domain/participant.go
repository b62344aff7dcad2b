// Package domain contains entities without logic, just meta-data
package domain

// Participants are owned by the external room/membership service; this
// subsystem only ever references them by id, plus their online flag at
// snapshot time through the presence interface.
type (
	RoomID        string
	ParticipantID string
)
