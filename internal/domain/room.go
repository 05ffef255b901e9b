package domain

import "github.com/google/uuid"

type (
	RoomName string
	RoomID   string
)

type Room struct {
	ID   RoomID   `json:"id"`
	Name RoomName `json:"name"`
}

// NewRoom assigns a fresh id so a recreated room with the same name is never
// confused with the deleted one.
func NewRoom(name RoomName) *Room {
	return &Room{ID: RoomID(uuid.NewString()), Name: name}
}
