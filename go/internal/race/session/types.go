package session

import (
	"time"
)

// Status is the lifecycle state of a race session. It only moves forward.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusRacing   Status = "racing"
	StatusFinished Status = "finished"
)

const (
	// DefaultGoal is the progress a contestant needs to cross the finish line.
	DefaultGoal = 100
	// DefaultMinInputInterval caps accepted inputs at ~20 per second per contestant.
	DefaultMinInputInterval = 50 * time.Millisecond
	// DefaultDurationSeconds is used when a room has no configured race duration.
	DefaultDurationSeconds = 30
)

// Contestant is an entry in the list a session is initialized with.
// List order is join order and is used as the tie-break when ranking.
type Contestant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// HorseSnapshot is the read-only view of one contestant inside a Snapshot.
type HorseSnapshot struct {
	ParticipantID  string `json:"participant_id"`
	DisplayName    string `json:"display_name"`
	Progress       int    `json:"progress"`
	FinishPosition *int   `json:"finish_position"`
	Finished       bool   `json:"finished"`
}

// Snapshot is the broadcast-ready projection of a session.
type Snapshot struct {
	Status          Status          `json:"status"`
	Horses          []HorseSnapshot `json:"horses"`
	FinishOrder     []string        `json:"finish_order"`
	Goal            int             `json:"goal"`
	RaceDurationMs  int64           `json:"race_duration_ms"`
	TimeRemainingMs *int64          `json:"time_remaining_ms"`
}

// Horse returns the snapshot entry for participantID, if present.
func (s *Snapshot) Horse(participantID string) (HorseSnapshot, bool) {
	for _, h := range s.Horses {
		if h.ParticipantID == participantID {
			return h, true
		}
	}
	return HorseSnapshot{}, false
}

type horse struct {
	participantID  string
	displayName    string
	seq            int // join order, total order for tie-breaks
	progress       int
	finished       bool
	finishPosition *int
	lastInputTime  time.Time
}

type race struct {
	status            Status
	horses            map[string]*horse
	order             []*horse // join order
	finishOrder       []string
	goal              int
	startTime         *time.Time
	raceDuration      time.Duration
	totalParticipants int
}
