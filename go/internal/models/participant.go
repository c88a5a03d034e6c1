package models

import (
	"time"

	"github.com/google/uuid"
)

// Gender is free-form in the UI; "other" is the default.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Participant represents someone who joined a room.
type Participant struct {
	ID          uuid.UUID  `json:"id"`
	RoomID      uuid.UUID  `json:"room_id"`
	DisplayName string     `json:"display_name"`
	Gender      Gender     `json:"gender"`
	Age         *int       `json:"age"`
	OpenedAt    *time.Time `json:"opened_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HasPrize reports whether the participant already holds an envelope.
func (p Participant) HasPrize() bool {
	return p.OpenedAt != nil
}
