package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mcdev12/envelope-race/go/internal/models"
	"github.com/mcdev12/envelope-race/go/internal/race/events"
	"github.com/mcdev12/envelope-race/go/internal/race/orchestrator"
	"github.com/mcdev12/envelope-race/go/internal/race/session"
	"github.com/mcdev12/envelope-race/go/internal/rooms"
	"github.com/rs/zerolog/log"
)

// RoomService is what the gateway needs from room management
type RoomService interface {
	ValidateSubscriber(ctx context.Context, roomCode, id string) error
	RoomState(ctx context.Context, roomCode string) (*models.RoomState, error)
}

// RaceController is what the gateway needs from the race orchestrator
type RaceController interface {
	StartRace(ctx context.Context, req orchestrator.StartRaceRequest) error
	ApplyInput(roomCode, participantID string, amount int) bool
	Snapshot(roomCode string) *session.Snapshot
}

// requestTimeout bounds the database work a single client message may trigger
const requestTimeout = 10 * time.Second

// WebSocketHandler upgrades room connections and dispatches client messages
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	rooms             RoomService
	races             RaceController
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, roomService RoomService, races RaceController) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		rooms:             roomService,
		races:             races,
	}
}

// HandleRoomConnection handles /ws/room. The connection is bound to a room
// by a later room:subscribe message.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	// Upgrade writes its own HTTP error response on failure
	if _, err := h.connectionManager.UpgradeConnection(w, r, h.handleClientMessage); err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

func (h *WebSocketHandler) handleClientMessage(c *Connection, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(c, "", "Invalid message")
		return
	}

	var data RoomMessage
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			h.sendError(c, "", "Invalid message")
			return
		}
	}

	// Inputs may omit ids the connection already subscribed with
	subRoom, subParticipant := h.connectionManager.Subscription(c)
	data.RoomCode = rooms.NormalizeCode(data.RoomCode)
	if data.RoomCode == "" {
		data.RoomCode = subRoom
	}
	if data.ParticipantID == "" {
		data.ParticipantID = subParticipant
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("message_type", msg.Type).
		Str("room_code", data.RoomCode).
		Str("participant_id", data.ParticipantID).
		Msg("received client message")

	switch msg.Type {
	case MessageRoomSubscribe:
		h.handleSubscribe(c, data)
	case MessageRaceStart:
		h.handleStart(c, data)
	case MessageRaceTap:
		h.races.ApplyInput(data.RoomCode, data.ParticipantID, 1)
	case MessageRaceVoice:
		h.races.ApplyInput(data.RoomCode, data.ParticipantID, data.Amount)
	default:
		h.sendError(c, data.RoomCode, "Unknown message type")
	}
}

func (h *WebSocketHandler) handleSubscribe(c *Connection, data RoomMessage) {
	if data.RoomCode == "" || data.ParticipantID == "" {
		h.sendError(c, data.RoomCode, "Room code and participant id are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := h.rooms.ValidateSubscriber(ctx, data.RoomCode, data.ParticipantID); err != nil {
		_, msg := rooms.ErrorCode(err)
		h.sendError(c, data.RoomCode, msg)
		return
	}

	state, err := h.rooms.RoomState(ctx, data.RoomCode)
	if err != nil {
		_, msg := rooms.ErrorCode(err)
		h.sendError(c, data.RoomCode, msg)
		return
	}

	h.connectionManager.Subscribe(c, data.RoomCode, data.ParticipantID)
	h.send(c, data.RoomCode, events.EventTypeRoomState, state)

	// late joiners see a race already under way
	if snap := h.races.Snapshot(data.RoomCode); snap != nil {
		h.send(c, data.RoomCode, events.EventTypeRaceProgress, snap)
	}
}

func (h *WebSocketHandler) handleStart(c *Connection, data RoomMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := h.races.StartRace(ctx, orchestrator.StartRaceRequest{
		RoomCode:    data.RoomCode,
		RequesterID: data.ParticipantID,
	})
	if err != nil {
		var rej *orchestrator.RejectionError
		if !errors.As(err, &rej) {
			log.Error().Err(err).Str("room_code", data.RoomCode).Msg("failed to start race")
		}
		h.sendError(c, data.RoomCode, orchestrator.RejectionMessage(err, "Failed to start race"))
	}
}

func (h *WebSocketHandler) sendError(c *Connection, roomCode, message string) {
	h.send(c, roomCode, events.EventTypeRoomError, events.ErrorPayload{Message: message})
}

func (h *WebSocketHandler) send(c *Connection, roomCode string, eventType events.EventType, payload any) {
	event, err := events.New(roomCode, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	h.connectionManager.SendTo(c, event)
}
