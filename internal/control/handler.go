package control

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wesfu/wesfu/internal/core"
	"github.com/wesfu/wesfu/internal/domain"
	"github.com/wesfu/wesfu/internal/wire"
)

// handleConn drives one participant through its lifecycle: handshake,
// command loop, teardown. Teardown always removes the session, so the relay
// stops forwarding to this client the instant the connection dies.
func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	conn := newSignalConn(nc, s.cfg.SendQueue)
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)
	defer conn.Close()
	go conn.writePump()

	sid, name, ok := s.handshake(nc, conn)
	if !ok {
		return
	}
	log.Info().Str("module", "control").Uint32("sid", uint32(sid)).Str("name", name).
		Str("remote", nc.RemoteAddr().String()).Msg("client connected")

	defer func() {
		s.fanOut(s.reg.Remove(sid), sid)
		log.Info().Str("module", "control").Uint32("sid", uint32(sid)).Str("name", name).Msg("client disconnected")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := nc.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		cmd, err := wire.Read(nc)
		if err != nil {
			s.logReadError(sid, err)
			return
		}
		s.m.RecordCommand(cmd.ID.String())
		if done := s.dispatch(sid, conn, cmd); done {
			return
		}
	}
}

// handshake performs registration: the first command must be HelloFromClient
// carrying the desired display name, or an empty string to have one
// generated. On any failure the client gets an ErrorResponse and the
// connection is dropped; nothing was registered yet so there is no state to
// unwind.
func (s *Server) handshake(nc net.Conn, conn *signalConn) (core.SessionID, string, bool) {
	if err := nc.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
		return 0, "", false
	}
	cmd, err := wire.Read(nc)
	if err != nil {
		log.Debug().Err(err).Str("module", "control").Msg("handshake read failed")
		return 0, "", false
	}
	if cmd.ID != wire.CmdHelloFromClient {
		s.send(conn, wire.String(wire.CmdErrorResponse, "expected hello"))
		return 0, "", false
	}

	name := cmd.Str
	if name == "" {
		name = domain.GenerateName()
	}
	sid, err := s.reg.Register(name, conn)
	if err != nil {
		s.send(conn, wire.String(wire.CmdErrorResponse, err.Error()))
		log.Info().Err(err).Str("module", "control").Str("name", name).Msg("registration rejected")
		return 0, "", false
	}
	if !s.send(conn, wire.String(wire.CmdHelloFromServer, name)) {
		s.fanOut(s.reg.Remove(sid), sid)
		return 0, "", false
	}
	return sid, name, true
}

// dispatch handles one command and reports whether the connection should
// close. Registry errors are answered in place; they never end the session.
func (s *Server) dispatch(sid core.SessionID, conn *signalConn, cmd wire.Command) bool {
	switch cmd.ID {
	case wire.CmdGetUserList:
		users := s.reg.ListUsers()
		entries := make([]string, 0, len(users))
		for _, u := range users {
			entries = append(entries, u.Name)
		}
		return !s.send(conn, wire.StringList(wire.CmdUserList, entries))

	case wire.CmdGetRoomList:
		rooms := s.reg.ListRooms()
		entries := make([]string, 0, len(rooms))
		for _, r := range rooms {
			entries = append(entries, fmt.Sprintf("%s (%d)", r.Name, r.MemberCount))
		}
		return !s.send(conn, wire.StringList(wire.CmdRoomList, entries))

	case wire.CmdCreateRoom:
		if err := s.reg.CreateRoom(domain.RoomName(cmd.Str)); err != nil {
			return !s.sendError(conn, err)
		}
		return !s.send(conn, wire.Simple(wire.CmdCreateRoomSuccess))

	case wire.CmdDeleteRoom:
		room := domain.RoomName(cmd.Str)
		evicted, err := s.reg.DeleteRoom(room)
		if err != nil {
			return !s.sendError(conn, err)
		}
		s.notifyRoomGone(room, evicted, sid)
		return !s.send(conn, wire.Simple(wire.CmdDeleteRoomSuccess))

	case wire.CmdJoinRoom:
		updates, err := s.reg.JoinRoom(sid, domain.RoomName(cmd.Str))
		if err != nil {
			return !s.sendError(conn, err)
		}
		var idBytes [4]byte
		binary.BigEndian.PutUint32(idBytes[:], uint32(sid))
		ok := s.send(conn, wire.Bytes(wire.CmdJoinRoomSuccess, idBytes[:]))
		s.fanOut(updates, sid)
		return !ok

	case wire.CmdLeaveRoom:
		updates := s.reg.LeaveRoom(sid)
		ok := s.send(conn, wire.Simple(wire.CmdLeaveRoomSuccess))
		s.fanOut(updates, sid)
		return !ok

	case wire.CmdSwitchCamera:
		if len(cmd.Bytes) != 1 {
			return !s.send(conn, wire.String(wire.CmdErrorResponse, "camera payload must be one byte"))
		}
		update, ok := s.reg.SetCamera(sid, int(cmd.Bytes[0]))
		if !ok {
			return !s.sendError(conn, domain.ErrSessionNotFound)
		}
		sent := s.send(conn, wire.Simple(wire.CmdSwitchCameraSuccess))
		if update.Room != "" {
			s.fanOut([]core.MembershipUpdate{update}, sid)
		}
		return !sent

	case wire.CmdGetCameraList:
		peers, _ := s.reg.RoomPeers(sid)
		entries := make([]string, 0, len(peers))
		for _, p := range peers {
			entries = append(entries, memberEntry(p))
		}
		return !s.send(conn, wire.StringList(wire.CmdCameraList, entries))

	case wire.CmdExit:
		return true

	default:
		// Server-to-client ids arriving from a client.
		return !s.send(conn, wire.String(wire.CmdErrorResponse, "unknown command"))
	}
}

// fanOut pushes a RoomUpdate to every member of each affected room except
// the originator. Snapshots were taken under the registry lock; sends happen
// here, lock-free and non-blocking. A member that cannot keep up with its
// own room's events is kicked (its connection closed, which triggers its
// handler's teardown).
func (s *Server) fanOut(updates []core.MembershipUpdate, from core.SessionID) {
	for _, u := range updates {
		entries := make([]string, 0, len(u.Members)+1)
		entries = append(entries, string(u.Room))
		for _, p := range u.Members {
			entries = append(entries, memberEntry(p))
		}
		payload, err := wire.Encode(wire.StringList(wire.CmdRoomUpdate, entries))
		if err != nil {
			log.Error().Err(err).Str("module", "control").Str("room", string(u.Room)).Msg("encode room update")
			continue
		}
		for _, p := range u.Members {
			if p.SID == from {
				continue
			}
			if err := p.Signal.TrySend(payload); err != nil {
				log.Warn().Err(err).Str("module", "control").Uint32("sid", uint32(p.SID)).Msg("kicking slow consumer")
				p.Signal.Close()
			}
		}
	}
}

// notifyRoomGone tells evicted members their room was deleted: a RoomUpdate
// naming the room with no members left in it.
func (s *Server) notifyRoomGone(room domain.RoomName, evicted []core.PeerInfo, from core.SessionID) {
	payload, err := wire.Encode(wire.StringList(wire.CmdRoomUpdate, []string{string(room)}))
	if err != nil {
		return
	}
	for _, p := range evicted {
		if p.SID == from {
			continue
		}
		if err := p.Signal.TrySend(payload); err != nil {
			log.Warn().Err(err).Str("module", "control").Uint32("sid", uint32(p.SID)).Msg("kicking slow consumer")
			p.Signal.Close()
		}
	}
}

// memberEntry formats one member for list-style responses.
func memberEntry(p core.PeerInfo) string {
	return fmt.Sprintf("%s:%d", p.Name, p.Camera)
}

// send encodes and queues a reply on the client's own connection. A failure
// means the client is gone or hopelessly slow; the caller should close.
func (s *Server) send(conn *signalConn, cmd wire.Command) bool {
	payload, err := wire.Encode(cmd)
	if err != nil {
		log.Error().Err(err).Str("module", "control").Str("command", cmd.ID.String()).Msg("encode reply")
		return true
	}
	if err := conn.TrySend(payload); err != nil {
		log.Warn().Err(err).Str("module", "control").Msg("reply send failed")
		return false
	}
	return true
}

func (s *Server) sendError(conn *signalConn, err error) bool {
	return s.send(conn, wire.String(wire.CmdErrorResponse, err.Error()))
}

func (s *Server) logReadError(sid core.SessionID, err error) {
	switch {
	case errors.Is(err, io.EOF):
		log.Debug().Str("module", "control").Uint32("sid", uint32(sid)).Msg("clean disconnect")
	case errors.Is(err, wire.ErrMalformed):
		log.Warn().Err(err).Str("module", "control").Uint32("sid", uint32(sid)).Msg("undecodable command, closing")
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			log.Info().Str("module", "control").Uint32("sid", uint32(sid)).Msg("idle timeout")
			return
		}
		log.Debug().Err(err).Str("module", "control").Uint32("sid", uint32(sid)).Msg("read error")
	}
}
