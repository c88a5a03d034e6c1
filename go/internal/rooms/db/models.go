package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type AmountPool struct {
	ID                   uuid.UUID     `json:"id"`
	RoomID               uuid.UUID     `json:"room_id"`
	Amount               int32         `json:"amount"`
	TakenByParticipantID uuid.NullUUID `json:"taken_by_participant_id"`
	TakenAt              sql.NullTime  `json:"taken_at"`
}

type Envelope struct {
	ID            uuid.UUID `json:"id"`
	RoomID        uuid.UUID `json:"room_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Amount        int32     `json:"amount"`
	WishText      string    `json:"wish_text"`
	CreatedAt     time.Time `json:"created_at"`
}

type Participant struct {
	ID          uuid.UUID     `json:"id"`
	RoomID      uuid.UUID     `json:"room_id"`
	DisplayName string        `json:"display_name"`
	Gender      string        `json:"gender"`
	Age         sql.NullInt32 `json:"age"`
	OpenedAt    sql.NullTime  `json:"opened_at"`
	JoinSeq     int64         `json:"join_seq"`
	CreatedAt   time.Time     `json:"created_at"`
}

type Room struct {
	ID           uuid.UUID      `json:"id"`
	Code         string         `json:"code"`
	Name         sql.NullString `json:"name"`
	MaxPeople    int32          `json:"max_people"`
	RaceDuration int32          `json:"race_duration"`
	RaceMode     string         `json:"race_mode"`
	CreatorID    sql.NullString `json:"creator_id"`
	CreatedAt    time.Time      `json:"created_at"`
}
