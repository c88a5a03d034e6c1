package models

import (
	"time"

	"github.com/google/uuid"
)

// RaceMode defines how contestants feed progress into a race.
type RaceMode string

const (
	RaceModeManual RaceMode = "manual"
	RaceModeVoice  RaceMode = "voice"
)

// HostIDPrefix marks a creator id that belongs to a non-racing host.
const HostIDPrefix = "host-"

// Room represents a lucky-envelope room.
type Room struct {
	ID           uuid.UUID `json:"id"`
	Code         string    `json:"code"`
	Name         *string   `json:"name"`
	MaxPeople    int       `json:"max_people"`
	RaceDuration int       `json:"race_duration"` // seconds
	RaceMode     RaceMode  `json:"race_mode"`
	CreatorID    *string   `json:"creator_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// HostPlaceholderID is the creator id stored for a host who does not race.
func HostPlaceholderID(roomID uuid.UUID) string {
	return HostIDPrefix + roomID.String()
}
