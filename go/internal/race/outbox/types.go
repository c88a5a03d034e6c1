package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is a row of race_outbox as seen by the relay
type OutboxEvent struct {
	ID        uuid.UUID         `json:"id"`
	RoomCode  string            `json:"room_code"`
	EventType string            `json:"event_type"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Publisher delivers an outbox event to the message bus.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}
