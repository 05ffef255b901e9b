// Package app owns the authoritative in-memory state: sessions, rooms and
// membership. One lock guards all of it, so a join is one indivisible move
// and the relay's "who else is in my room" query can never observe a session
// half-way between rooms.
package app

import (
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wesfu/wesfu/internal/core"
	"github.com/wesfu/wesfu/internal/domain"
)

type sessionEntry struct {
	sess   *domain.Session
	signal core.SignalConnection
	media  *net.UDPAddr
	room   domain.RoomName // "" when not in a room
}

type roomEntry struct {
	room    *domain.Room
	members map[core.SessionID]struct{}
}

type Registry struct {
	mu       sync.RWMutex
	nextSID  core.SessionID
	sessions map[core.SessionID]*sessionEntry
	rooms    map[domain.RoomName]*roomEntry

	maxSessions int
	maxRooms    int
}

// NewRegistry creates an empty registry. Caps of zero or below mean
// unlimited.
func NewRegistry(maxSessions, maxRooms int) *Registry {
	return &Registry{
		sessions:    make(map[core.SessionID]*sessionEntry),
		rooms:       make(map[domain.RoomName]*roomEntry),
		maxSessions: maxSessions,
		maxRooms:    maxRooms,
	}
}

// Register creates a session for a freshly authenticated control connection.
func (r *Registry) Register(name string, sig core.SignalConnection) (core.SessionID, error) {
	sess, err := domain.NewSession(name)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return 0, domain.ErrServerFull
	}
	r.nextSID++
	sid := r.nextSID
	r.sessions[sid] = &sessionEntry{sess: sess, signal: sig}
	log.Info().Str("module", "app.registry").Uint32("sid", uint32(sid)).Str("name", name).Msg("session registered")
	return sid, nil
}

// Remove tears a session down. Idempotent: removing an unknown session does
// nothing. The returned updates describe the room the session left, if any.
func (r *Registry) Remove(sid core.SessionID) []core.MembershipUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	updates := r.leaveLocked(sid, entry)
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Uint32("sid", uint32(sid)).Str("name", entry.sess.Name).Msg("session removed")
	return updates
}

func (r *Registry) CreateRoom(name domain.RoomName) error {
	if err := domain.ValidateName(string(name)); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[name]; ok {
		return domain.ErrRoomExists
	}
	if r.maxRooms > 0 && len(r.rooms) >= r.maxRooms {
		return domain.ErrTooManyRooms
	}
	r.rooms[name] = &roomEntry{
		room:    domain.NewRoom(name),
		members: make(map[core.SessionID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("room", string(name)).Msg("room created")
	return nil
}

// DeleteRoom force-evicts every member, then deletes the room. The evicted
// snapshot lets the caller notify each of them after the lock is released.
func (r *Registry) DeleteRoom(name domain.RoomName) ([]core.PeerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	re, ok := r.rooms[name]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	evicted := r.membersLocked(re)
	for sid := range re.members {
		if entry, ok := r.sessions[sid]; ok {
			entry.room = ""
		}
	}
	delete(r.rooms, name)
	log.Info().Str("module", "app.registry").Str("room", string(name)).Int("evicted", len(evicted)).Msg("room deleted")
	return evicted, nil
}

// JoinRoom moves the session into the named room, atomically leaving its
// current room first. At no observable instant is the session in two rooms.
func (r *Registry) JoinRoom(sid core.SessionID, name domain.RoomName) ([]core.MembershipUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	re, ok := r.rooms[name]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if entry.room == name {
		return nil, nil
	}
	updates := r.leaveLocked(sid, entry)
	re.members[sid] = struct{}{}
	entry.room = name
	updates = append(updates, core.MembershipUpdate{Room: name, Members: r.membersLocked(re)})
	log.Info().Str("module", "app.registry").Uint32("sid", uint32(sid)).Str("room", string(name)).Msg("joined room")
	return updates, nil
}

// LeaveRoom is an idempotent no-op when the session is not in a room.
func (r *Registry) LeaveRoom(sid core.SessionID) []core.MembershipUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	return r.leaveLocked(sid, entry)
}

// leaveLocked removes the session from its current room, deleting the room
// eagerly when it empties. Caller holds the write lock.
func (r *Registry) leaveLocked(sid core.SessionID, entry *sessionEntry) []core.MembershipUpdate {
	if entry.room == "" {
		return nil
	}
	name := entry.room
	entry.room = ""
	re, ok := r.rooms[name]
	if !ok {
		return nil
	}
	delete(re.members, sid)
	if len(re.members) == 0 {
		delete(r.rooms, name)
		log.Info().Str("module", "app.registry").Str("room", string(name)).Msg("empty room deleted")
		return nil
	}
	return []core.MembershipUpdate{{Room: name, Members: r.membersLocked(re)}}
}

// SetCamera stores the advisory camera index and reports the member snapshot
// of the session's room so peers can be told. ok is false for unknown
// sessions; a roomless session yields an update with an empty room name.
func (r *Registry) SetCamera(sid core.SessionID, camera int) (core.MembershipUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return core.MembershipUpdate{}, false
	}
	entry.sess.Camera = camera
	if entry.room == "" {
		return core.MembershipUpdate{}, true
	}
	re, ok := r.rooms[entry.room]
	if !ok {
		return core.MembershipUpdate{}, true
	}
	return core.MembershipUpdate{Room: entry.room, Members: r.membersLocked(re)}, true
}

// RoomPeers snapshots the members of the session's current room, including
// the session itself. inRoom is false when the session has no room.
func (r *Registry) RoomPeers(sid core.SessionID) (peers []core.PeerInfo, inRoom bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.room == "" {
		return nil, false
	}
	re, ok := r.rooms[entry.room]
	if !ok {
		return nil, false
	}
	return r.membersLocked(re), true
}

// BindMediaEndpoint records the most recently observed datagram source
// address for the session. The newest address always wins, so clients
// survive NAT rebinding. Returns false for unknown sessions.
func (r *Registry) BindMediaEndpoint(sid core.SessionID, addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.media = addr
	return true
}

// MediaEndpoint returns the session's bound media address, if any.
func (r *Registry) MediaEndpoint(sid core.SessionID) (*net.UDPAddr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.media == nil {
		return nil, false
	}
	return entry.media, true
}

// MediaTargets is the relay's per-packet query: the bound media addresses of
// everyone else in the sender's room, resolved in one critical section so a
// concurrent join/leave can never produce a half-moved view.
func (r *Registry) MediaTargets(sid core.SessionID) []*net.UDPAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.room == "" {
		return nil
	}
	re, ok := r.rooms[entry.room]
	if !ok {
		return nil
	}
	targets := make([]*net.UDPAddr, 0, len(re.members)-1)
	for member := range re.members {
		if member == sid {
			continue
		}
		if me, ok := r.sessions[member]; ok && me.media != nil {
			targets = append(targets, me.media)
		}
	}
	return targets
}

func (r *Registry) ListRooms() []core.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(r.rooms))
	for name, re := range r.rooms {
		out = append(out, core.RoomInfo{ID: re.room.ID, Name: name, MemberCount: len(re.members)})
	}
	return out
}

func (r *Registry) ListUsers() []core.UserInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.UserInfo, 0, len(r.sessions))
	for sid, entry := range r.sessions {
		out = append(out, core.UserInfo{
			SID:    sid,
			Name:   entry.sess.Name,
			Room:   entry.room,
			Camera: entry.sess.Camera,
		})
	}
	return out
}

// Counts reports live session and room totals for gauges.
func (r *Registry) Counts() (sessions, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.rooms)
}

// membersLocked snapshots a room's members. Caller holds at least the read
// lock.
func (r *Registry) membersLocked(re *roomEntry) []core.PeerInfo {
	out := make([]core.PeerInfo, 0, len(re.members))
	for sid := range re.members {
		entry, ok := r.sessions[sid]
		if !ok {
			continue
		}
		out = append(out, core.PeerInfo{
			SID:    sid,
			Name:   entry.sess.Name,
			Camera: entry.sess.Camera,
			Signal: entry.signal,
		})
	}
	return out
}
