package models

import (
	"time"

	"github.com/google/uuid"
)

// PoolAmount is one prize amount configured for a room.
type PoolAmount struct {
	ID                   uuid.UUID  `json:"id"`
	RoomID               uuid.UUID  `json:"room_id"`
	Amount               int        `json:"amount"`
	TakenByParticipantID *uuid.UUID `json:"taken_by_participant_id,omitempty"`
	TakenAt              *time.Time `json:"taken_at,omitempty"`
}

// Envelope is a prize handed to a participant together with a wish.
type Envelope struct {
	ID            uuid.UUID `json:"id"`
	RoomID        uuid.UUID `json:"room_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Amount        int       `json:"amount"`
	WishText      string    `json:"wish_text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Wish is a greeting text for an age group.
type Wish struct {
	ID       uuid.UUID `json:"id"`
	Text     string    `json:"text"`
	AgeGroup string    `json:"age_group"`
	Active   bool      `json:"active"`
}
