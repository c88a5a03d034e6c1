package rooms

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcdev12/envelope-race/go/internal/models"
)

const (
	// RoomCodeAlphabet omits I, O, 0 and 1 so codes can be read aloud.
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	RoomCodeLength   = 6

	MinRaceDuration     = 10
	MaxRaceDuration     = 120
	DefaultRaceDuration = 30
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrRoomFull            = errors.New("room is full")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrWrongRoom           = errors.New("participant belongs to another room")
	ErrAlreadyOpened       = errors.New("already opened an envelope")
	ErrNoEnvelopesLeft     = errors.New("no envelopes left")
	ErrInvalidSubscriber   = errors.New("invalid participant or room")
	ErrInvalidHost         = errors.New("invalid host or room")
	ErrNotRoomCreator      = errors.New("only the room creator may do this")
)

// CreateRoomRequest represents the data needed to create a room
type CreateRoomRequest struct {
	RoomName     string `json:"room_name"`
	MaxPeople    int    `json:"max_people"`
	AmountsCSV   string `json:"amounts_csv"`
	RaceDuration int    `json:"race_duration"`
	RaceMode     string `json:"race_mode"`

	CreatorJoin   bool   `json:"creator_join"`
	CreatorName   string `json:"creator_name"`
	CreatorGender string `json:"creator_gender"`
	CreatorAge    *int   `json:"creator_age"`
}

// CreateRoomResponse is returned after a room is created
type CreateRoomResponse struct {
	RoomCode  string `json:"room_code"`
	CreatorID string `json:"creator_id"`
}

// JoinRoomRequest represents a participant joining a room
type JoinRoomRequest struct {
	RoomCode    string `json:"room_code"`
	DisplayName string `json:"display_name"`
	Gender      string `json:"gender"`
	Age         *int   `json:"age"`
}

// JoinRoomResponse is returned after a successful join
type JoinRoomResponse struct {
	ParticipantID string `json:"participant_id"`
	RoomCode      string `json:"room_code"`
}

// OpenEnvelopeRequest asks to draw an envelope outside of a race
type OpenEnvelopeRequest struct {
	RoomCode      string `json:"room_code"`
	ParticipantID string `json:"participant_id"`
}

// OpenEnvelopeResponse is the drawn envelope
type OpenEnvelopeResponse struct {
	Amount   int    `json:"amount"`
	WishText string `json:"wish_text"`
}

// GetRoomRequest asks for the full state of a room
type GetRoomRequest struct {
	RoomCode string `json:"room_code"`
}

// DeleteRoomRequest closes a room. Only its creator may send it.
type DeleteRoomRequest struct {
	RoomCode    string `json:"room_code"`
	RequesterID string `json:"requester_id"`
}

// DeleteRoomResponse is empty on success
type DeleteRoomResponse struct{}

// NewRoom is the validated input the repository persists
type NewRoom struct {
	Code         string
	Name         *string
	MaxPeople    int
	RaceDuration int
	RaceMode     models.RaceMode
	Amounts      []int
	Creator      *NewParticipant // nil when the host does not race
}

// NewParticipant is a validated participant about to be inserted
type NewParticipant struct {
	DisplayName string
	Gender      models.Gender
	Age         *int
}

// Prize is one envelope handed out by AssignPrizes
type Prize struct {
	ParticipantID uuid.UUID
	Position      int
	Amount        int
	WishText      string
}
