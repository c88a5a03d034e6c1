package rooms

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/envelope-race/go/internal/models"
	"github.com/mcdev12/envelope-race/go/internal/race/events"
	"github.com/mcdev12/envelope-race/go/internal/race/orchestrator"
	"github.com/mcdev12/envelope-race/go/internal/race/session"
	"github.com/rs/zerolog/log"
)

const maxCodeAttempts = 10

// RoomsRepository defines what the app layer needs from the repository
type RoomsRepository interface {
	CreateRoom(ctx context.Context, req NewRoom) (*models.Room, error)
	RoomCodeExists(ctx context.Context, code string) (bool, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	JoinRoom(ctx context.Context, room *models.Room, req NewParticipant) (*models.Participant, error)
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
	ListEnvelopes(ctx context.Context, roomID uuid.UUID) ([]models.EnvelopeInfo, error)
	CountAmounts(ctx context.Context, roomID uuid.UUID) (total, available int, err error)
	OpenEnvelope(ctx context.Context, room *models.Room, participantID uuid.UUID) (*OpenEnvelopeResponse, error)
	AssignPrizes(ctx context.Context, room *models.Room, finishOrder []uuid.UUID, metadata map[string]string) ([]Prize, error)
	DeleteRoom(ctx context.Context, room *models.Room) error
}

// RaceCanceller stops a room's race when the room goes away
type RaceCanceller interface {
	CancelRoom(roomCode string)
}

// App handles room business logic
type App struct {
	repo        RoomsRepository
	broadcaster orchestrator.Broadcaster
	races       RaceCanceller
	newCode     func() string
}

// NewApp creates a new rooms App. broadcaster may be nil, in which case
// room changes are not pushed to subscribers.
func NewApp(repo RoomsRepository, broadcaster orchestrator.Broadcaster) *App {
	return &App{
		repo:        repo,
		broadcaster: broadcaster,
		newCode:     GenerateRoomCode,
	}
}

// SetRaceCanceller wires the race orchestrator, which is built after the
// app because it reads rosters from it.
func (a *App) SetRaceCanceller(races RaceCanceller) {
	a.races = races
}

// GenerateRoomCode returns a random code from RoomCodeAlphabet
func GenerateRoomCode() string {
	var b strings.Builder
	b.Grow(RoomCodeLength)
	for range RoomCodeLength {
		b.WriteByte(RoomCodeAlphabet[rand.IntN(len(RoomCodeAlphabet))])
	}
	return b.String()
}

// NormalizeCode trims and upper-cases a client supplied room code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoom validates the request, picks an unused code and persists the room
func (a *App) CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResponse, error) {
	newRoom, err := a.validateCreateRoomRequest(req)
	if err != nil {
		return nil, err
	}

	code, err := a.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}
	newRoom.Code = code

	room, err := a.repo.CreateRoom(ctx, newRoom)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	log.Info().
		Str("room_code", room.Code).
		Int("max_people", room.MaxPeople).
		Int("amounts", len(newRoom.Amounts)).
		Str("race_mode", string(room.RaceMode)).
		Bool("creator_joined", newRoom.Creator != nil).
		Msg("room created")

	resp := &CreateRoomResponse{RoomCode: room.Code}
	if room.CreatorID != nil {
		resp.CreatorID = *room.CreatorID
	}
	return resp, nil
}

// JoinRoom adds a participant to the room and pushes the new state
func (a *App) JoinRoom(ctx context.Context, code string, req JoinRoomRequest) (*JoinRoomResponse, error) {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidRequest)
	}

	room, err := a.repo.GetRoomByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	p, err := a.repo.JoinRoom(ctx, room, NewParticipant{
		DisplayName: name,
		Gender:      normalizeGender(req.Gender),
		Age:         req.Age,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("room_code", room.Code).
		Str("participant_id", p.ID.String()).
		Msg("participant joined")

	a.broadcastUpdate(ctx, room.Code)
	return &JoinRoomResponse{ParticipantID: p.ID.String(), RoomCode: room.Code}, nil
}

// OpenEnvelope draws a random envelope for a participant outside of a race
func (a *App) OpenEnvelope(ctx context.Context, code string, req OpenEnvelopeRequest) (*OpenEnvelopeResponse, error) {
	participantID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		return nil, ErrParticipantNotFound
	}

	room, err := a.repo.GetRoomByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	resp, err := a.repo.OpenEnvelope(ctx, room, participantID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("room_code", room.Code).
		Str("participant_id", participantID.String()).
		Int("amount", resp.Amount).
		Msg("envelope opened")

	a.broadcastUpdate(ctx, room.Code)
	return resp, nil
}

// RoomState builds the full room view sent to clients
func (a *App) RoomState(ctx context.Context, code string) (*models.RoomState, error) {
	room, err := a.repo.GetRoomByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	participants, err := a.repo.ListParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	envelopes, err := a.repo.ListEnvelopes(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	total, available, err := a.repo.CountAmounts(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	state := &models.RoomState{
		Room: models.RoomInfo{
			ID:           room.ID.String(),
			Code:         room.Code,
			Name:         room.Name,
			MaxPeople:    room.MaxPeople,
			RaceDuration: room.RaceDuration,
			RaceMode:     room.RaceMode,
			CreatorID:    room.CreatorID,
		},
		Participants:   make([]models.ParticipantInfo, len(participants)),
		Envelopes:      envelopes,
		AvailableCount: available,
		TotalEnvelopes: total,
	}
	for i, p := range participants {
		state.Participants[i] = models.ParticipantInfo{
			ID:          p.ID.String(),
			DisplayName: p.DisplayName,
			Gender:      p.Gender,
			Age:         p.Age,
			OpenedAt:    p.OpenedAt,
		}
	}
	if state.Envelopes == nil {
		state.Envelopes = []models.EnvelopeInfo{}
	}
	return state, nil
}

// RaceRoster lists the participants still without an envelope
func (a *App) RaceRoster(ctx context.Context, code string) (*orchestrator.Roster, error) {
	room, err := a.repo.GetRoomByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	participants, err := a.repo.ListParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	_, available, err := a.repo.CountAmounts(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	roster := &orchestrator.Roster{
		RoomCode:            room.Code,
		CreatorID:           room.CreatorID,
		RaceDurationSeconds: room.RaceDuration,
		PrizesRemaining:     available,
	}
	for _, p := range participants {
		if p.HasPrize() {
			continue
		}
		roster.Contestants = append(roster.Contestants, session.Contestant{
			ID:          p.ID.String(),
			DisplayName: p.DisplayName,
		})
	}
	return roster, nil
}

// AssignPrizes settles a finished race. The orchestrator pushes the
// resulting room state itself.
func (a *App) AssignPrizes(ctx context.Context, code string, finishOrder []string) error {
	room, err := a.repo.GetRoomByCode(ctx, NormalizeCode(code))
	if err != nil {
		return err
	}

	ids := make([]uuid.UUID, 0, len(finishOrder))
	for _, raw := range finishOrder {
		id, err := uuid.Parse(raw)
		if err != nil {
			log.Warn().Str("room_code", room.Code).Str("participant_id", raw).Msg("skipping invalid id in finish order")
			continue
		}
		ids = append(ids, id)
	}

	prizes, err := a.repo.AssignPrizes(ctx, room, ids, map[string]string{
		"finishers": strconv.Itoa(len(ids)),
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("room_code", room.Code).
		Int("finishers", len(ids)).
		Int("prizes", len(prizes)).
		Msg("race prizes assigned")
	return nil
}

// ValidateSubscriber checks that id may follow the room: either the host
// placeholder recorded as creator, or a participant of the room.
func (a *App) ValidateSubscriber(ctx context.Context, code, id string) error {
	room, err := a.repo.GetRoomByCode(ctx, NormalizeCode(code))
	if err != nil {
		return err
	}

	if strings.HasPrefix(id, models.HostIDPrefix) {
		if room.CreatorID == nil || *room.CreatorID != id {
			return ErrInvalidHost
		}
		return nil
	}

	participantID, err := uuid.Parse(id)
	if err != nil {
		return ErrInvalidSubscriber
	}
	p, err := a.repo.GetParticipant(ctx, participantID)
	if err != nil {
		if errors.Is(err, ErrParticipantNotFound) {
			return ErrInvalidSubscriber
		}
		return err
	}
	if p.RoomID != room.ID {
		return ErrInvalidSubscriber
	}
	return nil
}

// DeleteRoom removes a room on behalf of its creator, stops any race in it
// and tells subscribers the room is gone.
func (a *App) DeleteRoom(ctx context.Context, code, requesterID string) error {
	code = NormalizeCode(code)
	room, err := a.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return err
	}
	if room.CreatorID == nil || *room.CreatorID != requesterID {
		return ErrNotRoomCreator
	}

	if err := a.repo.DeleteRoom(ctx, room); err != nil {
		return err
	}

	if a.races != nil {
		a.races.CancelRoom(code)
	}
	if a.broadcaster != nil {
		event, err := events.New(code, events.EventTypeRoomClosed, events.RoomClosedPayload{RoomCode: code})
		if err != nil {
			log.Error().Err(err).Str("room_code", code).Msg("failed to build room closed event")
		} else {
			a.broadcaster.BroadcastToRoom(code, event)
		}
	}

	log.Info().Str("room_code", code).Msg("room deleted")
	return nil
}

func (a *App) broadcastUpdate(ctx context.Context, code string) {
	if a.broadcaster == nil {
		return
	}
	state, err := a.RoomState(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to load room state for update")
		return
	}
	event, err := events.New(code, events.EventTypeRoomUpdate, state)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to build room update")
		return
	}
	a.broadcaster.BroadcastToRoom(code, event)
}

func (a *App) uniqueCode(ctx context.Context) (string, error) {
	for range maxCodeAttempts {
		code := a.newCode()
		exists, err := a.repo.RoomCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free room code after %d attempts", maxCodeAttempts)
}

func (a *App) validateCreateRoomRequest(req CreateRoomRequest) (NewRoom, error) {
	if req.MaxPeople <= 0 || strings.TrimSpace(req.AmountsCSV) == "" {
		return NewRoom{}, fmt.Errorf("%w: max people and amounts are required", ErrInvalidRequest)
	}

	amounts := ParseAmounts(req.AmountsCSV)
	if len(amounts) == 0 {
		return NewRoom{}, fmt.Errorf("%w: invalid amounts", ErrInvalidRequest)
	}

	room := NewRoom{
		MaxPeople:    req.MaxPeople,
		RaceDuration: ClampRaceDuration(req.RaceDuration),
		RaceMode:     models.RaceModeManual,
		Amounts:      amounts,
	}
	if name := strings.TrimSpace(req.RoomName); name != "" {
		room.Name = &name
	}
	if req.RaceMode == string(models.RaceModeVoice) {
		room.RaceMode = models.RaceModeVoice
	}

	if req.CreatorJoin {
		name := strings.TrimSpace(req.CreatorName)
		if name != "" {
			room.Creator = &NewParticipant{
				DisplayName: name,
				Gender:      normalizeGender(req.CreatorGender),
				Age:         req.CreatorAge,
			}
		}
	}
	return room, nil
}

// ParseAmounts reads a comma separated list and keeps the positive integers
func ParseAmounts(csv string) []int {
	var amounts []int
	for _, part := range strings.Split(csv, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			continue
		}
		amounts = append(amounts, n)
	}
	return amounts
}

// ClampRaceDuration bounds seconds to [MinRaceDuration, MaxRaceDuration];
// zero or negative means the default.
func ClampRaceDuration(seconds int) int {
	if seconds <= 0 {
		return DefaultRaceDuration
	}
	return max(MinRaceDuration, min(seconds, MaxRaceDuration))
}

func normalizeGender(g string) models.Gender {
	switch models.Gender(strings.ToLower(strings.TrimSpace(g))) {
	case models.GenderMale:
		return models.GenderMale
	case models.GenderFemale:
		return models.GenderFemale
	default:
		return models.GenderOther
	}
}
