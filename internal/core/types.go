// Package core holds the small shared types the control plane, media plane
// and registry agree on, without binding any of them to a transport.
package core

import "github.com/wesfu/wesfu/internal/domain"

// SessionID identifies one participant for the connection's lifetime. Ids are
// drawn from a monotonic counter and never reused while the process lives;
// they are compact enough to ride in every media datagram header.
type SessionID uint32

// Frame is a raw encoded message ready to be written to a transport.
type Frame []byte

// SignalConnection is the control-plane endpoint of one session. TrySend must
// never block: a full outbound queue is an error the caller acts on. Owned by
// the control adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PeerInfo is a registry snapshot of one room member, taken under the
// registry lock and safe to use after it is released.
type PeerInfo struct {
	SID    SessionID
	Name   string
	Camera int
	Signal SignalConnection
}

// MembershipUpdate describes the post-mutation membership of one room; the
// control plane fans it out to every member except the originator. A room
// that ceased to exist is reported with an empty Members slice.
type MembershipUpdate struct {
	Room    domain.RoomName
	Members []PeerInfo
}

// RoomInfo is a read-only row for list responses and the status API. ID
// distinguishes a recreated room from a deleted one of the same name.
type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

// UserInfo is a read-only row for list responses and the status API.
type UserInfo struct {
	SID    SessionID       `json:"sid"`
	Name   string          `json:"name"`
	Room   domain.RoomName `json:"room,omitempty"`
	Camera int             `json:"camera"`
}
