package orchestrator

import (
	"errors"
)

var (
	ErrRaceInProgress       = errors.New("race already in progress")
	ErrNotCreator           = errors.New("requester is not the room creator")
	ErrNotEnoughContestants = errors.New("not enough eligible contestants")
	ErrNoPrizesRemaining    = errors.New("no prizes remaining")
)

// RejectionError is a start request refused for a reason the requester should see.
type RejectionError struct {
	Reason  error
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}

func reject(reason error, message string) error {
	return &RejectionError{Reason: reason, Message: message}
}

// RejectionMessage returns the user-facing text for err, falling back to
// fallback when err is not a rejection.
func RejectionMessage(err error, fallback string) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return fallback
}
