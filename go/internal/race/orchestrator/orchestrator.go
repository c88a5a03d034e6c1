package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/envelope-race/go/internal/models"
	"github.com/mcdev12/envelope-race/go/internal/race/events"
	"github.com/mcdev12/envelope-race/go/internal/race/session"
	"github.com/rs/zerolog/log"
)

// Broadcaster fans an event out to every connection subscribed to a room
type Broadcaster interface {
	BroadcastToRoom(roomCode string, event *events.Event)
}

// RoomDirectory is what the orchestrator needs from room management
type RoomDirectory interface {
	// RaceRoster returns an error wrapping models.ErrRoomNotFound for unknown rooms.
	RaceRoster(ctx context.Context, roomCode string) (*Roster, error)
	AssignPrizes(ctx context.Context, roomCode string, finishOrder []string) error
	RoomState(ctx context.Context, roomCode string) (*models.RoomState, error)
}

// Roster is the room data a race is started from.
type Roster struct {
	RoomCode            string
	CreatorID           *string
	RaceDurationSeconds int
	// Contestants holds participants without a prize, in join order.
	Contestants     []session.Contestant
	PrizesRemaining int
}

// Config holds the race choreography timings.
type Config struct {
	CountdownStep     time.Duration `yaml:"countdown_step"`
	CountdownFrom     int           `yaml:"countdown_from"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	CleanupDelay      time.Duration `yaml:"cleanup_delay"`
	MaxInputAmount    int           `yaml:"max_input_amount"`
	MinEligible       int           `yaml:"min_eligible"`
}

// DefaultConfig returns the standard 3-2-1 countdown at ~12 broadcasts per second.
func DefaultConfig() Config {
	return Config{
		CountdownStep:     time.Second,
		CountdownFrom:     3,
		BroadcastInterval: 80 * time.Millisecond,
		CleanupDelay:      5 * time.Second,
		MaxInputAmount:    5,
		MinEligible:       2,
	}
}

// withDefaults fills any zero field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CountdownStep <= 0 {
		c.CountdownStep = d.CountdownStep
	}
	if c.CountdownFrom <= 0 {
		c.CountdownFrom = d.CountdownFrom
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = d.BroadcastInterval
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = d.CleanupDelay
	}
	if c.MaxInputAmount <= 0 {
		c.MaxInputAmount = d.MaxInputAmount
	}
	if c.MinEligible <= 0 {
		c.MinEligible = d.MinEligible
	}
	return c
}

// StartRaceRequest is a start request from a room member.
type StartRaceRequest struct {
	RoomCode    string
	RequesterID string
}

// Orchestrator drives each room's race from countdown to cleanup.
type Orchestrator struct {
	store       *session.Store
	rooms       RoomDirectory
	broadcaster Broadcaster
	clock       clockwork.Clock
	cfg         Config
	instanceID  string

	// one round per room; a round owns every timer of its race
	activeRounds map[string]*round

	// startLocks serializes StartRace per room
	startLocks     map[string]*sync.Mutex
	activeRoundsMu sync.Mutex
	wg             sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock all race timers are created from. It should be
// the same clock the session store uses.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithConfig overrides the race timings.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg.withDefaults() }
}

// NewOrchestrator creates an orchestrator over store.
func NewOrchestrator(store *session.Store, rooms RoomDirectory, broadcaster Broadcaster, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		rooms:        rooms,
		broadcaster:  broadcaster,
		clock:        clockwork.NewRealClock(),
		cfg:          DefaultConfig(),
		instanceID:   uuid.New().String()[:8],
		activeRounds: make(map[string]*round),
		startLocks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store exposes the session store for read-only snapshot access.
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

// StartRace validates a start request and, if accepted, initializes the
// session, emits the first countdown tick and schedules the rest of the race.
func (o *Orchestrator) StartRace(ctx context.Context, req StartRaceRequest) error {
	code := req.RoomCode

	// Two concurrent requests for one room must not both pass the checks.
	// Other rooms are not held up by this room's roster lookup.
	mu := o.startLock(code)
	mu.Lock()
	defer mu.Unlock()

	if o.store.HasSession(code) {
		return reject(ErrRaceInProgress, "Race already in progress or completed")
	}

	roster, err := o.rooms.RaceRoster(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			return reject(models.ErrRoomNotFound, "Room not found")
		}
		return fmt.Errorf("load race roster: %w", err)
	}

	if roster.CreatorID != nil && *roster.CreatorID != req.RequesterID {
		return reject(ErrNotCreator, "Only the room creator can start the race")
	}
	if roster.PrizesRemaining <= 0 {
		return reject(ErrNoPrizesRemaining, "No envelopes left to race for")
	}
	if len(roster.Contestants) < o.cfg.MinEligible {
		return reject(ErrNotEnoughContestants,
			fmt.Sprintf("Need at least %d participants without an envelope to start", o.cfg.MinEligible))
	}

	// Residual timers from a previous round must never fire into this one
	o.cancelRound(code)

	duration := roster.RaceDurationSeconds
	if duration <= 0 {
		duration = session.DefaultDurationSeconds
	}
	if !o.store.Initialize(code, roster.Contestants, duration) {
		return reject(ErrRaceInProgress, "Race already in progress or completed")
	}

	r := o.newRound(code, time.Duration(duration)*time.Second)
	o.replaceRound(code, r)

	log.Info().
		Str("room_code", code).
		Str("instance", o.instanceID).
		Int("contestants", len(roster.Contestants)).
		Int("prizes_remaining", roster.PrizesRemaining).
		Int("race_duration_seconds", duration).
		Msg("race starting")

	o.emit(code, events.EventTypeRaceCountdown, events.CountdownPayload{Count: o.cfg.CountdownFrom})

	o.wg.Add(1)
	go o.runRound(r)

	return nil
}

// ApplyInput forwards a tap or voice input to the store. Amounts above
// MaxInputAmount are capped; amounts below 1 are rejected by the store. If
// the input completes the race the round is finalized at once instead of
// waiting for the next broadcast tick.
func (o *Orchestrator) ApplyInput(roomCode, participantID string, amount int) bool {
	amount = min(amount, o.cfg.MaxInputAmount)

	if !o.store.ApplyInput(roomCode, participantID, amount) {
		return false
	}
	if o.store.IsFinished(roomCode) {
		o.signalFinished(roomCode)
	}
	return true
}

// Snapshot returns the current race snapshot for roomCode, or nil.
func (o *Orchestrator) Snapshot(roomCode string) *session.Snapshot {
	return o.store.Snapshot(roomCode)
}

// CancelRoom stops every pending timer for roomCode and drops its session.
// It is called when a room is deleted.
func (o *Orchestrator) CancelRoom(roomCode string) {
	mu := o.startLock(roomCode)
	mu.Lock()
	defer mu.Unlock()

	o.cancelRound(roomCode)
	o.store.Cleanup(roomCode)
	log.Info().Str("room_code", roomCode).Msg("room race cancelled")
}

func (o *Orchestrator) startLock(roomCode string) *sync.Mutex {
	o.activeRoundsMu.Lock()
	defer o.activeRoundsMu.Unlock()

	mu, ok := o.startLocks[roomCode]
	if !ok {
		mu = &sync.Mutex{}
		o.startLocks[roomCode] = mu
	}
	return mu
}

// ActiveRounds returns the number of rooms with a scheduled round.
func (o *Orchestrator) ActiveRounds() int {
	o.activeRoundsMu.Lock()
	defer o.activeRoundsMu.Unlock()
	return len(o.activeRounds)
}

// Run blocks until ctx is done, then cancels all rounds and waits for them to exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().Str("instance", o.instanceID).Msg("race orchestrator started")

	<-ctx.Done()

	log.Info().Str("instance", o.instanceID).Msg("shutting down race rounds")
	o.cancelAllRounds()
	o.wg.Wait()
	log.Info().Str("instance", o.instanceID).Msg("all race rounds shut down")

	return ctx.Err()
}

func (o *Orchestrator) emit(roomCode string, eventType events.EventType, payload any) {
	event, err := events.New(roomCode, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("room_code", roomCode).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	o.broadcaster.BroadcastToRoom(roomCode, event)
}
