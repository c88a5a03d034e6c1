package models

import "errors"

// ErrRoomNotFound is returned by any lookup of an unknown room code.
var ErrRoomNotFound = errors.New("room not found")
