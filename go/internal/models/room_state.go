package models

import "time"

// RoomState is the full room view pushed to clients on subscribe and on every change.
type RoomState struct {
	Room           RoomInfo          `json:"room"`
	Participants   []ParticipantInfo `json:"participants"`
	Envelopes      []EnvelopeInfo    `json:"envelopes"`
	AvailableCount int               `json:"available_count"`
	TotalEnvelopes int               `json:"total_envelopes"`
}

// RoomInfo is the room section of a RoomState.
type RoomInfo struct {
	ID           string   `json:"id"`
	Code         string   `json:"code"`
	Name         *string  `json:"name"`
	MaxPeople    int      `json:"max_people"`
	RaceDuration int      `json:"race_duration"`
	RaceMode     RaceMode `json:"race_mode"`
	CreatorID    *string  `json:"creator_id"`
}

// ParticipantInfo is a participant as shown in a RoomState.
type ParticipantInfo struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Gender      Gender     `json:"gender"`
	Age         *int       `json:"age"`
	OpenedAt    *time.Time `json:"opened_at"`
}

// EnvelopeInfo is an opened envelope as shown in a RoomState.
type EnvelopeInfo struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Amount        int    `json:"amount"`
	WishText      string `json:"wish_text"`
}
