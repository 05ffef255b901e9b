package domain

import "errors"

// Registry error conditions. All of these are recoverable and are answered in
// place on the control connection; none of them closes it.
var (
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrServerFull      = errors.New("server is full")
	ErrTooManyRooms    = errors.New("too many rooms")
)
