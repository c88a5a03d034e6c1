package gateway

import "encoding/json"

// Client message types
const (
	MessageRoomSubscribe = "room:subscribe"
	MessageRaceStart     = "race:start"
	MessageRaceTap       = "race:tap"
	MessageRaceVoice     = "race:voice"
)

// ClientMessage is a frame sent by a browser
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RoomMessage is the data of every client message. Amount is only read
// for race:voice.
type RoomMessage struct {
	RoomCode      string `json:"room_code"`
	ParticipantID string `json:"participant_id"`
	Amount        int    `json:"amount,omitempty"`
}
