package session

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Store holds one race session per room code. Every operation tolerates a
// missing session and returns a neutral result, since timers and socket
// handlers routinely race against cleanup.
type Store struct {
	mu    sync.RWMutex
	races map[string]*race

	clock            clockwork.Clock
	goal             int
	minInputInterval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for start times, rate limiting and time remaining.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithGoal overrides the finish-line threshold.
func WithGoal(goal int) Option {
	return func(s *Store) {
		if goal > 0 {
			s.goal = goal
		}
	}
}

// WithMinInputInterval overrides the per-contestant input rate limit.
func WithMinInputInterval(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.minInputInterval = d
		}
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		races:            make(map[string]*race),
		clock:            clockwork.NewRealClock(),
		goal:             DefaultGoal,
		minInputInterval: DefaultMinInputInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize creates a waiting session for roomCode. It returns false and
// leaves the existing session untouched if one is already live.
func (s *Store) Initialize(roomCode string, contestants []Contestant, durationSeconds int) bool {
	if durationSeconds <= 0 {
		durationSeconds = DefaultDurationSeconds
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.races[roomCode]; exists {
		return false
	}

	r := &race{
		status:       StatusWaiting,
		horses:       make(map[string]*horse, len(contestants)),
		order:        make([]*horse, 0, len(contestants)),
		finishOrder:  []string{},
		goal:         s.goal,
		raceDuration: time.Duration(durationSeconds) * time.Second,
	}
	for _, c := range contestants {
		if _, dup := r.horses[c.ID]; dup {
			continue
		}
		h := &horse{
			participantID: c.ID,
			displayName:   c.DisplayName,
			seq:           len(r.order),
		}
		r.horses[c.ID] = h
		r.order = append(r.order, h)
	}
	r.totalParticipants = len(r.order)

	s.races[roomCode] = r
	return true
}

// Start moves a session into racing and stamps its start time.
func (s *Store) Start(roomCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.races[roomCode]
	if !ok || r.status != StatusWaiting {
		return
	}
	now := s.clock.Now()
	r.status = StatusRacing
	r.startTime = &now
}

// ApplyInput adds amount to a contestant's progress. It reports whether the
// input was accepted; rejected inputs leave the session unchanged.
func (s *Store) ApplyInput(roomCode, participantID string, amount int) bool {
	if amount < 1 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.races[roomCode]
	if !ok || r.status != StatusRacing {
		return false
	}
	h, ok := r.horses[participantID]
	if !ok || h.finished {
		return false
	}

	now := s.clock.Now()
	if !h.lastInputTime.IsZero() && now.Sub(h.lastInputTime) < s.minInputInterval {
		return false
	}
	h.lastInputTime = now

	h.progress = min(h.progress+amount, r.goal)
	if h.progress >= r.goal {
		r.markFinished(h)
		if len(r.finishOrder) >= r.totalParticipants {
			r.status = StatusFinished
		}
	}
	return true
}

// ForceFinishAll ranks every unfinished contestant by current progress
// (join order breaks ties) after those who already finished, and closes the race.
func (s *Store) ForceFinishAll(roomCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.races[roomCode]
	if !ok {
		return
	}

	unfinished := make([]*horse, 0, len(r.order))
	for _, h := range r.order {
		if !h.finished {
			unfinished = append(unfinished, h)
		}
	}
	sort.SliceStable(unfinished, func(i, j int) bool {
		if unfinished[i].progress != unfinished[j].progress {
			return unfinished[i].progress > unfinished[j].progress
		}
		return unfinished[i].seq < unfinished[j].seq
	})
	for _, h := range unfinished {
		r.markFinished(h)
	}
	r.status = StatusFinished
}

// Snapshot returns a deep copy of the session state, or nil if there is none.
func (s *Store) Snapshot(roomCode string) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.races[roomCode]
	if !ok {
		return nil
	}

	snap := &Snapshot{
		Status:         r.status,
		Horses:         make([]HorseSnapshot, 0, len(r.order)),
		FinishOrder:    append([]string(nil), r.finishOrder...),
		Goal:           r.goal,
		RaceDurationMs: r.raceDuration.Milliseconds(),
	}
	if snap.FinishOrder == nil {
		snap.FinishOrder = []string{}
	}

	for _, h := range r.order {
		hs := HorseSnapshot{
			ParticipantID: h.participantID,
			DisplayName:   h.displayName,
			Progress:      h.progress,
			Finished:      h.finished,
		}
		if h.finishPosition != nil {
			pos := *h.finishPosition
			hs.FinishPosition = &pos
		}
		snap.Horses = append(snap.Horses, hs)
	}

	switch r.status {
	case StatusRacing:
		var remaining int64
		if r.startTime != nil {
			elapsed := s.clock.Since(*r.startTime)
			remaining = max(0, (r.raceDuration - elapsed).Milliseconds())
		}
		snap.TimeRemainingMs = &remaining
	case StatusFinished:
		var zero int64
		snap.TimeRemainingMs = &zero
	}

	return snap
}

// HasSession reports whether roomCode has a live session.
func (s *Store) HasSession(roomCode string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.races[roomCode]
	return ok
}

// IsFinished reports whether roomCode's session has finished.
func (s *Store) IsFinished(roomCode string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.races[roomCode]
	return ok && r.status == StatusFinished
}

// FinishOrder returns a copy of the finish order, empty if there is no session.
func (s *Store) FinishOrder(roomCode string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.races[roomCode]
	if !ok {
		return []string{}
	}
	return append([]string{}, r.finishOrder...)
}

// Cleanup removes roomCode's session.
func (s *Store) Cleanup(roomCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.races, roomCode)
}

// Stats returns the number of live sessions.
func (s *Store) Stats() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.races)
}

// markFinished assigns the next position. Callers hold the store lock.
func (r *race) markFinished(h *horse) {
	if h.finished {
		return
	}
	pos := len(r.finishOrder) + 1
	h.finished = true
	h.finishPosition = &pos
	r.finishOrder = append(r.finishOrder, h.participantID)
}
