package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/envelope-race/go/internal/models"
	"github.com/mcdev12/envelope-race/go/internal/race/events"
	"github.com/mcdev12/envelope-race/go/internal/race/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRoomsRepository is a mock of RoomsRepository
type MockRoomsRepository struct {
	mock.Mock
}

func (m *MockRoomsRepository) CreateRoom(ctx context.Context, req NewRoom) (*models.Room, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}

func (m *MockRoomsRepository) RoomCodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockRoomsRepository) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}

func (m *MockRoomsRepository) JoinRoom(ctx context.Context, room *models.Room, req NewParticipant) (*models.Participant, error) {
	args := m.Called(ctx, room, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockRoomsRepository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockRoomsRepository) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).([]models.Participant), args.Error(1)
}

func (m *MockRoomsRepository) ListEnvelopes(ctx context.Context, roomID uuid.UUID) ([]models.EnvelopeInfo, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).([]models.EnvelopeInfo), args.Error(1)
}

func (m *MockRoomsRepository) CountAmounts(ctx context.Context, roomID uuid.UUID) (int, int, error) {
	args := m.Called(ctx, roomID)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockRoomsRepository) OpenEnvelope(ctx context.Context, room *models.Room, participantID uuid.UUID) (*OpenEnvelopeResponse, error) {
	args := m.Called(ctx, room, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*OpenEnvelopeResponse), args.Error(1)
}

func (m *MockRoomsRepository) AssignPrizes(ctx context.Context, room *models.Room, finishOrder []uuid.UUID, metadata map[string]string) ([]Prize, error) {
	args := m.Called(ctx, room, finishOrder, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Prize), args.Error(1)
}

func (m *MockRoomsRepository) DeleteRoom(ctx context.Context, room *models.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

type recordingCanceller struct {
	mu        sync.Mutex
	cancelled []string
}

func (c *recordingCanceller) CancelRoom(roomCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, roomCode)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*events.Event
}

func (b *recordingBroadcaster) BroadcastToRoom(_ string, event *events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) all() []*events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*events.Event(nil), b.events...)
}

func testRoom(creatorID *string) *models.Room {
	return &models.Room{
		ID:           uuid.New(),
		Code:         "ABC234",
		MaxPeople:    10,
		RaceDuration: 30,
		RaceMode:     models.RaceModeManual,
		CreatorID:    creatorID,
	}
}

func ptr[T any](v T) *T { return &v }

// expectRoomState sets up the reads RoomState performs for room
func expectRoomState(repo *MockRoomsRepository, room *models.Room, participants []models.Participant) {
	repo.On("GetRoomByCode", mock.Anything, room.Code).Return(room, nil)
	repo.On("ListParticipants", mock.Anything, room.ID).Return(participants, nil)
	repo.On("ListEnvelopes", mock.Anything, room.ID).Return([]models.EnvelopeInfo(nil), nil)
	repo.On("CountAmounts", mock.Anything, room.ID).Return(3, 2, nil)
}

func TestCreateRoom_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRoomRequest
	}{
		{"missing max people", CreateRoomRequest{AmountsCSV: "10,20"}},
		{"missing amounts", CreateRoomRequest{MaxPeople: 5, AmountsCSV: "  "}},
		{"no positive amounts", CreateRoomRequest{MaxPeople: 5, AmountsCSV: "0,-3,abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockRoomsRepository{}
			app := NewApp(repo, nil)

			_, err := app.CreateRoom(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			repo.AssertNotCalled(t, "CreateRoom", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateRoom_HostOnly(t *testing.T) {
	repo := &MockRoomsRepository{}
	app := NewApp(repo, nil)
	codes := []string{"TAKEN2", "FREE34"}
	app.newCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}

	repo.On("RoomCodeExists", mock.Anything, "TAKEN2").Return(true, nil)
	repo.On("RoomCodeExists", mock.Anything, "FREE34").Return(false, nil)

	room := testRoom(nil)
	room.Code = "FREE34"
	room.CreatorID = ptr(models.HostPlaceholderID(room.ID))
	repo.On("CreateRoom", mock.Anything, mock.MatchedBy(func(req NewRoom) bool {
		return req.Code == "FREE34" &&
			req.Name != nil && *req.Name == "Tết 2026" &&
			req.RaceDuration == MaxRaceDuration &&
			req.RaceMode == models.RaceModeVoice &&
			assert.ObjectsAreEqual([]int{50, 10, 20}, req.Amounts) &&
			req.Creator == nil
	})).Return(room, nil)

	resp, err := app.CreateRoom(context.Background(), CreateRoomRequest{
		RoomName:     "  Tết 2026 ",
		MaxPeople:    8,
		AmountsCSV:   "50, 10,x,20,0",
		RaceDuration: 500,
		RaceMode:     "voice",
	})
	require.NoError(t, err)
	assert.Equal(t, "FREE34", resp.RoomCode)
	assert.True(t, strings.HasPrefix(resp.CreatorID, models.HostIDPrefix))
	repo.AssertExpectations(t)
}

func TestCreateRoom_CreatorJoins(t *testing.T) {
	repo := &MockRoomsRepository{}
	app := NewApp(repo, nil)
	app.newCode = func() string { return "JOIN22" }

	creatorID := uuid.New().String()
	room := testRoom(&creatorID)
	repo.On("RoomCodeExists", mock.Anything, "JOIN22").Return(false, nil)
	repo.On("CreateRoom", mock.Anything, mock.MatchedBy(func(req NewRoom) bool {
		return req.Creator != nil &&
			req.Creator.DisplayName == "Lan" &&
			req.Creator.Gender == models.GenderOther &&
			req.RaceDuration == DefaultRaceDuration &&
			req.RaceMode == models.RaceModeManual
	})).Return(room, nil)

	resp, err := app.CreateRoom(context.Background(), CreateRoomRequest{
		MaxPeople:     4,
		AmountsCSV:    "10",
		RaceMode:      "bogus",
		CreatorJoin:   true,
		CreatorName:   "Lan",
		CreatorGender: "robot",
	})
	require.NoError(t, err)
	assert.Equal(t, creatorID, resp.CreatorID)
}

func TestCreateRoom_CodeSpaceExhausted(t *testing.T) {
	repo := &MockRoomsRepository{}
	app := NewApp(repo, nil)
	app.newCode = func() string { return "SAME22" }
	repo.On("RoomCodeExists", mock.Anything, "SAME22").Return(true, nil)

	_, err := app.CreateRoom(context.Background(), CreateRoomRequest{MaxPeople: 2, AmountsCSV: "1"})
	require.Error(t, err)
	repo.AssertNumberOfCalls(t, "RoomCodeExists", maxCodeAttempts)
}

func TestJoinRoom_BroadcastsUpdate(t *testing.T) {
	repo := &MockRoomsRepository{}
	bc := &recordingBroadcaster{}
	app := NewApp(repo, bc)

	room := testRoom(nil)
	p := &models.Participant{ID: uuid.New(), RoomID: room.ID, DisplayName: "Minh", Gender: models.GenderMale}
	expectRoomState(repo, room, []models.Participant{*p})
	repo.On("JoinRoom", mock.Anything, room, NewParticipant{
		DisplayName: "Minh",
		Gender:      models.GenderMale,
		Age:         ptr(9),
	}).Return(p, nil)

	resp, err := app.JoinRoom(context.Background(), " abc234 ", JoinRoomRequest{DisplayName: " Minh ", Gender: "Male", Age: ptr(9)})
	require.NoError(t, err)
	assert.Equal(t, p.ID.String(), resp.ParticipantID)
	assert.Equal(t, room.Code, resp.RoomCode)

	sent := bc.all()
	require.Len(t, sent, 1)
	assert.Equal(t, events.EventTypeRoomUpdate, sent[0].Type)

	var state models.RoomState
	require.NoError(t, json.Unmarshal(sent[0].Data, &state))
	require.Len(t, state.Participants, 1)
	assert.Equal(t, "Minh", state.Participants[0].DisplayName)
	assert.Equal(t, 2, state.AvailableCount)
	assert.Equal(t, 3, state.TotalEnvelopes)
	assert.NotNil(t, state.Envelopes)
}

func TestJoinRoom_Errors(t *testing.T) {
	repo := &MockRoomsRepository{}
	bc := &recordingBroadcaster{}
	app := NewApp(repo, bc)

	_, err := app.JoinRoom(context.Background(), "ABC234", JoinRoomRequest{DisplayName: "  "})
	require.ErrorIs(t, err, ErrInvalidRequest)

	repo.On("GetRoomByCode", mock.Anything, "NOPE22").Return(nil, models.ErrRoomNotFound)
	_, err = app.JoinRoom(context.Background(), "nope22", JoinRoomRequest{DisplayName: "A"})
	require.ErrorIs(t, err, models.ErrRoomNotFound)

	room := testRoom(nil)
	repo.On("GetRoomByCode", mock.Anything, room.Code).Return(room, nil)
	repo.On("JoinRoom", mock.Anything, room, mock.Anything).Return(nil, ErrRoomFull)
	_, err = app.JoinRoom(context.Background(), room.Code, JoinRoomRequest{DisplayName: "B"})
	require.ErrorIs(t, err, ErrRoomFull)

	assert.Empty(t, bc.all())
}

func TestOpenEnvelope(t *testing.T) {
	repo := &MockRoomsRepository{}
	bc := &recordingBroadcaster{}
	app := NewApp(repo, bc)

	room := testRoom(nil)
	pid := uuid.New()
	expectRoomState(repo, room, nil)
	repo.On("OpenEnvelope", mock.Anything, room, pid).Return(&OpenEnvelopeResponse{Amount: 50, WishText: "An khang"}, nil)

	resp, err := app.OpenEnvelope(context.Background(), room.Code, OpenEnvelopeRequest{ParticipantID: pid.String()})
	require.NoError(t, err)
	assert.Equal(t, 50, resp.Amount)
	assert.Len(t, bc.all(), 1)

	_, err = app.OpenEnvelope(context.Background(), room.Code, OpenEnvelopeRequest{ParticipantID: "garbage"})
	require.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestRaceRoster_SkipsPrizeHolders(t *testing.T) {
	repo := &MockRoomsRepository{}
	app := NewApp(repo, nil)

	creatorID := uuid.New().String()
	room := testRoom(&creatorID)
	room.RaceDuration = 45
	opened := time.Now()
	p1 := models.Participant{ID: uuid.New(), RoomID: room.ID, DisplayName: "A"}
	p2 := models.Participant{ID: uuid.New(), RoomID: room.ID, DisplayName: "B", OpenedAt: &opened}
	p3 := models.Participant{ID: uuid.New(), RoomID: room.ID, DisplayName: "C"}
	expectRoomState(repo, room, []models.Participant{p1, p2, p3})

	roster, err := app.RaceRoster(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, room.Code, roster.RoomCode)
	assert.Equal(t, &creatorID, roster.CreatorID)
	assert.Equal(t, 45, roster.RaceDurationSeconds)
	assert.Equal(t, 2, roster.PrizesRemaining)
	assert.Equal(t, []session.Contestant{
		{ID: p1.ID.String(), DisplayName: "A"},
		{ID: p3.ID.String(), DisplayName: "C"},
	}, roster.Contestants)
}

func TestRaceRoster_RoomNotFound(t *testing.T) {
	repo := &MockRoomsRepository{}
	app := NewApp(repo, nil)
	repo.On("GetRoomByCode", mock.Anything, "GONE22").Return(nil, models.ErrRoomNotFound)

	_, err := app.RaceRoster(context.Background(), "GONE22")
	require.ErrorIs(t, err, models.ErrRoomNotFound)
}

func TestAssignPrizes_ParsesFinishOrder(t *testing.T) {
	repo := &MockRoomsRepository{}
	app := NewApp(repo, nil)

	room := testRoom(nil)
	first, second := uuid.New(), uuid.New()
	repo.On("GetRoomByCode", mock.Anything, room.Code).Return(room, nil)
	repo.On("AssignPrizes", mock.Anything, room, []uuid.UUID{first, second}, map[string]string{"finishers": "2"}).
		Return([]Prize{{ParticipantID: first, Position: 1, Amount: 100}}, nil)

	err := app.AssignPrizes(context.Background(), room.Code, []string{first.String(), "host-x", second.String()})
	require.NoError(t, err)
	repo.AssertExpectations(t)

	failing := &MockRoomsRepository{}
	failing.On("GetRoomByCode", mock.Anything, room.Code).Return(room, nil)
	failing.On("AssignPrizes", mock.Anything, room, mock.Anything, mock.Anything).Return(nil, errors.New("deadlock"))
	require.Error(t, NewApp(failing, nil).AssignPrizes(context.Background(), room.Code, nil))
}

func TestValidateSubscriber(t *testing.T) {
	creatorRoom := testRoom(nil)
	host := models.HostPlaceholderID(creatorRoom.ID)
	creatorRoom.CreatorID = &host

	member := &models.Participant{ID: uuid.New(), RoomID: creatorRoom.ID}
	outsider := &models.Participant{ID: uuid.New(), RoomID: uuid.New()}
	unknown := uuid.New()

	repo := &MockRoomsRepository{}
	repo.On("GetRoomByCode", mock.Anything, creatorRoom.Code).Return(creatorRoom, nil)
	repo.On("GetParticipant", mock.Anything, member.ID).Return(member, nil)
	repo.On("GetParticipant", mock.Anything, outsider.ID).Return(outsider, nil)
	repo.On("GetParticipant", mock.Anything, unknown).Return(nil, ErrParticipantNotFound)
	app := NewApp(repo, nil)

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{"host placeholder", host, nil},
		{"other host", "host-" + uuid.NewString(), ErrInvalidHost},
		{"member", member.ID.String(), nil},
		{"participant of another room", outsider.ID.String(), ErrInvalidSubscriber},
		{"unknown participant", unknown.String(), ErrInvalidSubscriber},
		{"malformed id", "xyz", ErrInvalidSubscriber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := app.ValidateSubscriber(context.Background(), creatorRoom.Code, tt.id)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGenerateRoomCode(t *testing.T) {
	for range 50 {
		code := GenerateRoomCode()
		require.Len(t, code, RoomCodeLength)
		for _, c := range code {
			assert.Contains(t, RoomCodeAlphabet, string(c))
		}
	}
}

func TestClampRaceDuration(t *testing.T) {
	assert.Equal(t, DefaultRaceDuration, ClampRaceDuration(0))
	assert.Equal(t, MinRaceDuration, ClampRaceDuration(3))
	assert.Equal(t, 45, ClampRaceDuration(45))
	assert.Equal(t, MaxRaceDuration, ClampRaceDuration(999))
}

func TestDeleteRoom_CreatorClosesRoom(t *testing.T) {
	repo := &MockRoomsRepository{}
	bc := &recordingBroadcaster{}
	races := &recordingCanceller{}
	app := NewApp(repo, bc)
	app.SetRaceCanceller(races)

	room := testRoom(ptr("host-1"))
	repo.On("GetRoomByCode", mock.Anything, room.Code).Return(room, nil)
	repo.On("DeleteRoom", mock.Anything, room).Return(nil)

	require.NoError(t, app.DeleteRoom(context.Background(), " abc234", "host-1"))

	assert.Equal(t, []string{"ABC234"}, races.cancelled)
	sent := bc.all()
	require.Len(t, sent, 1)
	assert.Equal(t, events.EventTypeRoomClosed, sent[0].Type)
	assert.Equal(t, "ABC234", sent[0].RoomCode)
}

func TestDeleteRoom_Rejections(t *testing.T) {
	repo := &MockRoomsRepository{}
	bc := &recordingBroadcaster{}
	races := &recordingCanceller{}
	app := NewApp(repo, bc)
	app.SetRaceCanceller(races)

	withCreator := testRoom(ptr("host-1"))
	repo.On("GetRoomByCode", mock.Anything, withCreator.Code).Return(withCreator, nil)
	err := app.DeleteRoom(context.Background(), withCreator.Code, "someone-else")
	require.ErrorIs(t, err, ErrNotRoomCreator)

	noCreator := testRoom(nil)
	noCreator.Code = "FREE22"
	repo.On("GetRoomByCode", mock.Anything, "FREE22").Return(noCreator, nil)
	err = app.DeleteRoom(context.Background(), "FREE22", "")
	require.ErrorIs(t, err, ErrNotRoomCreator)

	repo.On("GetRoomByCode", mock.Anything, "GONE22").Return(nil, models.ErrRoomNotFound)
	err = app.DeleteRoom(context.Background(), "GONE22", "host-1")
	require.ErrorIs(t, err, models.ErrRoomNotFound)

	failing := testRoom(ptr("host-2"))
	failing.Code = "FAIL22"
	repo.On("GetRoomByCode", mock.Anything, "FAIL22").Return(failing, nil)
	repo.On("DeleteRoom", mock.Anything, failing).Return(errors.New("db down"))
	err = app.DeleteRoom(context.Background(), "FAIL22", "host-2")
	require.Error(t, err)

	repo.AssertNotCalled(t, "DeleteRoom", mock.Anything, withCreator)
	assert.Empty(t, races.cancelled)
	assert.Empty(t, bc.all())
}
