package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type RaceOutbox struct {
	ID        uuid.UUID             `json:"id"`
	RoomCode  string                `json:"room_code"`
	EventType string                `json:"event_type"`
	Payload   json.RawMessage       `json:"payload"`
	Metadata  pqtype.NullRawMessage `json:"metadata"`
	CreatedAt time.Time             `json:"created_at"`
	SentAt    sql.NullTime          `json:"sent_at"`
}
