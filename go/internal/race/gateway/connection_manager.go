package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/envelope-race/go/internal/race/events"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections and their room subscriptions
type ConnectionManager struct {
	// every live connection, subscribed or not
	connections map[*Connection]bool
	// subscribed connections by room code
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Manager *ConnectionManager

	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onMessage func(*Connection, []byte)

	// guarded by Manager.mu
	roomCode      string
	participantID string
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"`

	// BroadcastBufferSize is the queue between the race loop and fan-out
	BroadcastBufferSize int `yaml:"broadcast_buffer_size"`

	// TerminalSendTimeout is how long a terminal event waits for room in a
	// full broadcast queue before it is dropped
	TerminalSendTimeout time.Duration `yaml:"terminal_send_timeout"`

	// CheckOrigin defaults to gorilla's same-origin check when nil
	CheckOrigin func(r *http.Request) bool `yaml:"-"`
}

// BroadcastMessage is an event queued for every subscriber of a room
type BroadcastMessage struct {
	RoomCode string
	Event    *events.Event
}

// ConnectionStats is served on /ws/stats
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	Subscribed       int            `json:"subscribed"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,

		// race progress runs at ~12 events per second per room
		BroadcastBufferSize: 1000,
		TerminalSendTimeout: 2 * time.Second,
	}
}

// AllowedOrigins returns a CheckOrigin func for the configured origins.
// "*" accepts every origin; requests without an Origin header are not
// from a browser and are accepted. An empty list yields nil, which keeps
// the upgrader's same-origin check.
func AllowedOrigins(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return nil
	}

	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = normalizeOrigin(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return allowed[normalizeOrigin(origin)]
	}
}

func normalizeOrigin(o string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/")
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	d := DefaultConnectionConfig()
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = d.WriteTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = d.ReadTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = d.PingInterval
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = d.MaxMessageSize
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = d.SendBufferSize
	}
	if config.BroadcastBufferSize <= 0 {
		config.BroadcastBufferSize = d.BroadcastBufferSize
	}
	if config.TerminalSendTimeout <= 0 {
		config.TerminalSendTimeout = d.TerminalSendTimeout
	}

	return &ConnectionManager{
		connections:     make(map[*Connection]bool),
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBufferSize),
	}
}

// Start processes queued broadcasts in order until ctx is done, then
// closes every connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. onMessage is
// called from the connection's read loop for every client frame.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, onMessage func(*Connection, []byte)) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Manager:     cm,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, cm.config.SendBufferSize),
		done:        make(chan struct{}),
		onMessage:   onMessage,
	}

	cm.mu.Lock()
	cm.connections[connection] = true
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

// Subscribe moves conn into roomCode's pool. A connection follows one room at a time.
func (cm *ConnectionManager) Subscribe(conn *Connection, roomCode, participantID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.connections[conn] {
		return
	}
	cm.removeFromRoomLocked(conn)

	if cm.roomConnections[roomCode] == nil {
		cm.roomConnections[roomCode] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomCode][conn] = true
	conn.roomCode = roomCode
	conn.participantID = participantID

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_code", roomCode).
		Str("participant_id", participantID).
		Int("room_connections", len(cm.roomConnections[roomCode])).
		Msg("connection subscribed")
}

// Subscription returns the room and participant conn subscribed with
func (cm *ConnectionManager) Subscription(conn *Connection) (roomCode, participantID string) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return conn.roomCode, conn.participantID
}

// unregisterConnection removes a connection from the manager and stops its writer
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.connections[conn] {
		return
	}
	delete(cm.connections, conn)
	cm.removeFromRoomLocked(conn)
	conn.closeSend()

	log.Info().
		Str("connection_id", conn.ID).
		Str("room_code", conn.roomCode).
		Str("participant_id", conn.participantID).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) removeFromRoomLocked(conn *Connection) {
	if conn.roomCode == "" {
		return
	}
	if pool, ok := cm.roomConnections[conn.roomCode]; ok {
		delete(pool, conn)
		if len(pool) == 0 {
			delete(cm.roomConnections, conn.roomCode)
		}
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		cm.unregisterConnection(c)
	}
}

// BroadcastToRoom queues an event for every connection subscribed to roomCode.
// When the queue is full, progress events are dropped at once; terminal
// events wait up to TerminalSendTimeout for room.
func (cm *ConnectionManager) BroadcastToRoom(roomCode string, event *events.Event) {
	message := BroadcastMessage{RoomCode: roomCode, Event: event}
	select {
	case cm.broadcastCh <- message:
		return
	default:
	}

	if isTerminal(event.Type) {
		timer := time.NewTimer(cm.config.TerminalSendTimeout)
		defer timer.Stop()
		select {
		case cm.broadcastCh <- message:
			return
		case <-timer.C:
		}
	}

	log.Warn().
		Str("room_code", roomCode).
		Str("event_type", string(event.Type)).
		Msg("broadcast channel full, dropping message")
}

// isTerminal reports whether a client cannot recover the event from a
// later one
func isTerminal(t events.EventType) bool {
	switch t {
	case events.EventTypeRaceGo, events.EventTypeRaceComplete, events.EventTypeRoomUpdate, events.EventTypeRoomClosed:
		return true
	}
	return false
}

// SendTo delivers an event to one connection only
func (cm *ConnectionManager) SendTo(conn *Connection, event *events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event")
		return
	}
	cm.deliver(conn, data)
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	pool, exists := cm.roomConnections[message.RoomCode]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(pool))
	for conn := range pool {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	// Marshal the event once
	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		cm.deliver(conn, data)
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_code", message.RoomCode).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) deliver(conn *Connection, data []byte) {
	select {
	case <-conn.done:
	case conn.send <- data:
	default:
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.roomConnections),
		RoomConnections:  make(map[string]int, len(cm.roomConnections)),
	}
	for code, pool := range cm.roomConnections {
		stats.RoomConnections[code] = len(pool)
		stats.Subscribed += len(pool)
	}
	return stats
}

func (c *Connection) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.onMessage != nil {
			c.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
