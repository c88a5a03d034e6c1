package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/envelope-race/go/internal/models"
	"github.com/mcdev12/envelope-race/go/internal/race/events"
	"github.com/mcdev12/envelope-race/go/internal/race/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	room    = "ROOM42"
	creator = "P1"
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// MockRoomDirectory is a mock of RoomDirectory
type MockRoomDirectory struct {
	mock.Mock
}

func (m *MockRoomDirectory) RaceRoster(ctx context.Context, roomCode string) (*Roster, error) {
	args := m.Called(ctx, roomCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Roster), args.Error(1)
}

func (m *MockRoomDirectory) AssignPrizes(ctx context.Context, roomCode string, finishOrder []string) error {
	args := m.Called(ctx, roomCode, finishOrder)
	return args.Error(0)
}

func (m *MockRoomDirectory) RoomState(ctx context.Context, roomCode string) (*models.RoomState, error) {
	args := m.Called(ctx, roomCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RoomState), args.Error(1)
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

func (b *recordingBroadcaster) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

func (b *recordingBroadcaster) count(t events.EventType) int {
	n := 0
	for _, et := range b.types() {
		if et == t {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) last(t events.EventType) *events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Type == t {
			return b.events[i]
		}
	}
	return nil
}

type harness struct {
	orch  *Orchestrator
	store *session.Store
	clock *clockwork.FakeClock
	rooms *MockRoomDirectory
	bc    *recordingBroadcaster
}

func newHarness(t *testing.T, goal int) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := session.NewStore(
		session.WithClock(clock),
		session.WithGoal(goal),
		session.WithMinInputInterval(0),
	)
	rooms := &MockRoomDirectory{}
	bc := &recordingBroadcaster{}
	orch := NewOrchestrator(store, rooms, bc, WithClock(clock))
	t.Cleanup(func() { orch.cancelAllRounds() })
	return &harness{orch: orch, store: store, clock: clock, rooms: rooms, bc: bc}
}

func roster(ids ...string) *Roster {
	c := creator
	contestants := make([]session.Contestant, 0, len(ids))
	for _, id := range ids {
		contestants = append(contestants, session.Contestant{ID: id, DisplayName: "name-" + id})
	}
	return &Roster{
		RoomCode:            room,
		CreatorID:           &c,
		RaceDurationSeconds: 10,
		Contestants:         contestants,
		PrizesRemaining:     len(ids),
	}
}

func (h *harness) expectFinish(assignErr error) {
	h.rooms.On("AssignPrizes", mock.Anything, room, mock.Anything).Return(assignErr)
	h.rooms.On("RoomState", mock.Anything, room).Return(&models.RoomState{AvailableCount: 0}, nil)
}

func (h *harness) waitCount(t *testing.T, et events.EventType, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.bc.count(et) >= n }, waitFor, tick,
		"waiting for %d %s events, have %v", n, et, h.bc.types())
}

// startAndGo starts a race and advances through the countdown.
func (h *harness) startAndGo(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: creator}))
	h.clock.Advance(3 * time.Second)
	h.waitCount(t, events.EventTypeRaceGo, 1)
}

func TestStartRace_Countdown(t *testing.T) {
	h := newHarness(t, 3)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P1", "P2"), nil)

	require.NoError(t, h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: creator}))

	// first tick goes out synchronously, the store is not racing yet
	require.Equal(t, []events.EventType{events.EventTypeRaceCountdown}, h.bc.types())
	assert.JSONEq(t, `{"count":3}`, string(h.bc.last(events.EventTypeRaceCountdown).Data))
	assert.Equal(t, session.StatusWaiting, h.store.Snapshot(room).Status)
	assert.False(t, h.orch.ApplyInput(room, "P1", 1))

	h.clock.Advance(time.Second)
	h.waitCount(t, events.EventTypeRaceCountdown, 2)
	assert.JSONEq(t, `{"count":2}`, string(h.bc.last(events.EventTypeRaceCountdown).Data))

	h.clock.Advance(time.Second)
	h.waitCount(t, events.EventTypeRaceCountdown, 3)
	assert.JSONEq(t, `{"count":1}`, string(h.bc.last(events.EventTypeRaceCountdown).Data))
	assert.Equal(t, session.StatusWaiting, h.store.Snapshot(room).Status)

	h.clock.Advance(time.Second)
	h.waitCount(t, events.EventTypeRaceGo, 1)
	assert.Equal(t, session.StatusRacing, h.store.Snapshot(room).Status)

	h.clock.Advance(80 * time.Millisecond)
	h.waitCount(t, events.EventTypeRaceProgress, 1)
}

func TestStartRace_Rejections(t *testing.T) {
	other := "someone-else"

	tests := []struct {
		name      string
		roster    *Roster
		rosterErr error
		requester string
		want      error
	}{
		{
			name:      "roster lookup fails",
			rosterErr: errors.New("connection refused"),
			requester: creator,
		},
		{
			name:      "not the creator",
			roster:    roster("P1", "P2"),
			requester: other,
			want:      ErrNotCreator,
		},
		{
			name:      "too few eligible",
			roster:    roster("P1"),
			requester: creator,
			want:      ErrNotEnoughContestants,
		},
		{
			name: "no prizes left",
			roster: func() *Roster {
				r := roster("P1", "P2")
				r.PrizesRemaining = 0
				return r
			}(),
			requester: creator,
			want:      ErrNoPrizesRemaining,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 100)
			h.rooms.On("RaceRoster", mock.Anything, room).Return(tt.roster, tt.rosterErr)

			err := h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: tt.requester})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				var rej *RejectionError
				require.ErrorAs(t, err, &rej)
				assert.NotEmpty(t, rej.Message)
			}
			assert.False(t, h.store.HasSession(room))
			assert.Empty(t, h.bc.types())
			assert.Zero(t, h.orch.ActiveRounds())
		})
	}
}

func TestStartRace_RoomNotFoundIsRejection(t *testing.T) {
	h := newHarness(t, 100)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(nil, models.ErrRoomNotFound)

	err := h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: creator})
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
	assert.Equal(t, "Room not found", RejectionMessage(err, "fallback"))
}

func TestStartRace_NoCreatorAllowsAnyone(t *testing.T) {
	h := newHarness(t, 100)
	r := roster("P1", "P2")
	r.CreatorID = nil
	h.rooms.On("RaceRoster", mock.Anything, room).Return(r, nil)

	require.NoError(t, h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: "anyone"}))
	assert.True(t, h.store.HasSession(room))
}

func TestStartRace_RejectsLiveSession(t *testing.T) {
	h := newHarness(t, 100)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P1", "P2"), nil)

	require.NoError(t, h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: creator}))
	err := h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: creator})
	assert.ErrorIs(t, err, ErrRaceInProgress)
	assert.Equal(t, 1, h.bc.count(events.EventTypeRaceCountdown))
	h.rooms.AssertNumberOfCalls(t, "RaceRoster", 1)
}

func TestInputDrivenFinish(t *testing.T) {
	h := newHarness(t, 3)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P1", "P2"), nil)
	h.expectFinish(nil)

	h.startAndGo(t)

	// amounts are capped at 5
	require.True(t, h.orch.ApplyInput(room, "P1", 1))
	assert.Equal(t, 1, progressOf(t, h.store, "P1"))
	require.True(t, h.orch.ApplyInput(room, "P2", 50))
	assert.Equal(t, 3, progressOf(t, h.store, "P2"))
	require.True(t, h.orch.ApplyInput(room, "P1", 2))

	// finalizes without any ticker advance
	h.waitCount(t, events.EventTypeRaceComplete, 1)
	h.waitCount(t, events.EventTypeRoomUpdate, 1)

	h.rooms.AssertCalled(t, "AssignPrizes", mock.Anything, room, []string{"P2", "P1"})

	types := h.bc.types()
	idx := func(et events.EventType) int {
		for i, x := range types {
			if x == et {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx(events.EventTypeRaceComplete), idx(events.EventTypeRoomUpdate))
	assert.Equal(t, events.EventTypeRaceProgress, types[idx(events.EventTypeRaceComplete)-1])

	// session survives the grace delay, then is cleaned up
	assert.True(t, h.store.HasSession(room))
	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return !h.store.HasSession(room) }, waitFor, tick)
	require.Eventually(t, func() bool { return h.orch.ActiveRounds() == 0 }, waitFor, tick)
}

func TestDeadlineForcesFinish(t *testing.T) {
	h := newHarness(t, 100)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P1", "P2", "P3"), nil)
	h.expectFinish(nil)

	h.startAndGo(t)
	require.True(t, h.orch.ApplyInput(room, "P2", 5))
	require.True(t, h.orch.ApplyInput(room, "P3", 2))

	h.clock.Advance(10 * time.Second)
	h.waitCount(t, events.EventTypeRaceComplete, 1)
	h.waitCount(t, events.EventTypeRoomUpdate, 1)

	h.rooms.AssertCalled(t, "AssignPrizes", mock.Anything, room, []string{"P2", "P3", "P1"})

	snap := h.store.Snapshot(room)
	require.NotNil(t, snap)
	assert.Equal(t, session.StatusFinished, snap.Status)
	require.NotNil(t, snap.TimeRemainingMs)
	assert.Zero(t, *snap.TimeRemainingMs)
}

func TestPrizeFailureDoesNotBlockCleanup(t *testing.T) {
	h := newHarness(t, 1)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P1", "P2"), nil)
	h.expectFinish(errors.New("db down"))

	h.startAndGo(t)
	h.orch.ApplyInput(room, "P1", 1)
	h.orch.ApplyInput(room, "P2", 1)

	h.waitCount(t, events.EventTypeRoomUpdate, 1)
	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return !h.store.HasSession(room) }, waitFor, tick)
}

func TestNextRoundAfterCleanup(t *testing.T) {
	h := newHarness(t, 1)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P1", "P2"), nil).Once()
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P3", "P4"), nil).Once()
	h.expectFinish(nil)

	h.startAndGo(t)
	h.orch.ApplyInput(room, "P1", 1)
	h.orch.ApplyInput(room, "P2", 1)
	h.waitCount(t, events.EventTypeRoomUpdate, 1)

	// still inside the grace delay
	err := h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: creator})
	assert.ErrorIs(t, err, ErrRaceInProgress)

	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return !h.store.HasSession(room) }, waitFor, tick)

	require.NoError(t, h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: creator}))
	snap := h.store.Snapshot(room)
	require.Len(t, snap.Horses, 2)
	assert.Equal(t, "P3", snap.Horses[0].ParticipantID)
}

func TestCancelRoom(t *testing.T) {
	h := newHarness(t, 100)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P1", "P2"), nil)

	require.NoError(t, h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: room, RequesterID: creator}))
	h.orch.CancelRoom(room)

	assert.False(t, h.store.HasSession(room))
	require.Eventually(t, func() bool { return h.orch.ActiveRounds() == 0 }, waitFor, tick)

	h.clock.Advance(time.Minute)
	// give a stray goroutine a chance to misbehave
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []events.EventType{events.EventTypeRaceCountdown}, h.bc.types())
	h.rooms.AssertNotCalled(t, "AssignPrizes", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_CancelsRoundsOnShutdown(t *testing.T) {
	h := newHarness(t, 100)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P1", "P2"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	h.startAndGo(t)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Zero(t, h.orch.ActiveRounds())
}

func TestApplyInput_RejectsNonPositiveAmounts(t *testing.T) {
	h := newHarness(t, 100)
	h.rooms.On("RaceRoster", mock.Anything, room).Return(roster("P1", "P2"), nil)

	h.startAndGo(t)

	assert.False(t, h.orch.ApplyInput(room, "P1", 0))
	assert.False(t, h.orch.ApplyInput(room, "P2", -7))
	assert.Zero(t, progressOf(t, h.store, "P1"))
	assert.Zero(t, progressOf(t, h.store, "P2"))

	// a rejected input leaves the contestant free to move
	require.True(t, h.orch.ApplyInput(room, "P1", 2))
	assert.Equal(t, 2, progressOf(t, h.store, "P1"))
}

func TestStartRace_SlowRosterDoesNotBlockOtherRooms(t *testing.T) {
	h := newHarness(t, 100)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.rooms.On("RaceRoster", mock.Anything, "SLOWRM").
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(roster("P1", "P2"), nil)
	h.rooms.On("RaceRoster", mock.Anything, "FASTRM").Return(roster("P3", "P4"), nil)

	slowDone := make(chan error, 1)
	go func() {
		slowDone <- h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: "SLOWRM", RequesterID: creator})
	}()
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("SLOWRM roster lookup never started")
	}

	fastDone := make(chan error, 1)
	go func() {
		fastDone <- h.orch.StartRace(context.Background(), StartRaceRequest{RoomCode: "FASTRM", RequesterID: creator})
	}()

	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(waitFor):
		close(release)
		t.Fatal("start in FASTRM waited for SLOWRM")
	}
	assert.True(t, h.store.HasSession("FASTRM"))
	assert.False(t, h.store.HasSession("SLOWRM"))

	close(release)
	require.NoError(t, <-slowDone)
	assert.True(t, h.store.HasSession("SLOWRM"))
}

func TestApplyInput_NoSession(t *testing.T) {
	h := newHarness(t, 100)
	assert.False(t, h.orch.ApplyInput(room, "P1", 1))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{BroadcastInterval: 40 * time.Millisecond}.withDefaults()
	assert.Equal(t, 40*time.Millisecond, cfg.BroadcastInterval)
	assert.Equal(t, time.Second, cfg.CountdownStep)
	assert.Equal(t, 3, cfg.CountdownFrom)
	assert.Equal(t, 5*time.Second, cfg.CleanupDelay)
	assert.Equal(t, 5, cfg.MaxInputAmount)
	assert.Equal(t, 2, cfg.MinEligible)
}

func progressOf(t *testing.T, store *session.Store, id string) int {
	t.Helper()
	snap := store.Snapshot(room)
	require.NotNil(t, snap)
	h, ok := snap.Horse(id)
	require.True(t, ok)
	return h.Progress
}
