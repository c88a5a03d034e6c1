package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event payload types shared between the orchestrator, the gateway and the outbox

// EventType names a room-scoped event pushed to clients.
type EventType string

const (
	EventTypeRoomState     EventType = "room:state"
	EventTypeRoomUpdate    EventType = "room:update"
	EventTypeRoomError     EventType = "room:error"
	EventTypeRoomClosed    EventType = "room:closed"
	EventTypeRaceCountdown EventType = "race:countdown"
	EventTypeRaceGo        EventType = "race:go"
	EventTypeRaceProgress  EventType = "race:progress"
	EventTypeRaceComplete  EventType = "race:complete"
)

// Event is the envelope for everything sent to websocket clients.
type Event struct {
	ID        string          `json:"id"`
	RoomCode  string          `json:"room_code"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New marshals payload into a fresh event.
func New(roomCode string, eventType EventType, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		RoomCode:  roomCode,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// CountdownPayload is the payload for a race:countdown event
type CountdownPayload struct {
	Count int `json:"count"`
}

// RoomClosedPayload is the payload for a room:closed event
type RoomClosedPayload struct {
	RoomCode string `json:"room_code"`
}

// ErrorPayload is the payload for a room:error event
type ErrorPayload struct {
	Message string `json:"message"`
}

// RaceCompletedPayload is the outbox payload published when a race's prizes are settled
type RaceCompletedPayload struct {
	RoomCode    string         `json:"room_code"`
	FinishOrder []string       `json:"finish_order"`
	Prizes      []PrizePayload `json:"prizes"`
	CompletedAt time.Time      `json:"completed_at"`
}

// RoomDeletedPayload is the outbox payload published when a room is closed
type RoomDeletedPayload struct {
	RoomCode  string    `json:"room_code"`
	DeletedAt time.Time `json:"deleted_at"`
}

// PrizePayload records one envelope handed out by a race
type PrizePayload struct {
	ParticipantID string `json:"participant_id"`
	Position      int    `json:"position"`
	Amount        int    `json:"amount"`
}

// Outbox event types
const (
	OutboxRaceCompleted  = "RaceCompleted"
	OutboxEnvelopeOpened = "EnvelopeOpened"
	OutboxRoomDeleted    = "RoomDeleted"
)

// EnvelopeOpenedPayload is the outbox payload for a manually opened envelope
type EnvelopeOpenedPayload struct {
	RoomCode      string    `json:"room_code"`
	ParticipantID string    `json:"participant_id"`
	Amount        int       `json:"amount"`
	OpenedAt      time.Time `json:"opened_at"`
}
