package control

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/wesfu/wesfu/internal/app"
	"github.com/wesfu/wesfu/internal/config"
	"github.com/wesfu/wesfu/internal/domain"
	"github.com/wesfu/wesfu/internal/wire"
)

func testConfig() *config.Config {
	return &config.Config{
		BindAddress: "127.0.0.1",
		ControlPort: 0,
		IdleTimeout: 5 * time.Second,
		SendQueue:   32,
	}
}

func startServer(t *testing.T) (*Server, *app.Registry) {
	t.Helper()
	reg := app.NewRegistry(0, 0)
	s := NewServer(testConfig(), reg, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, reg
}

type client struct {
	t  *testing.T
	nc net.Conn
}

func dial(t *testing.T, s *Server) *client {
	t.Helper()
	nc, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = nc.Close() })
	return &client{t: t, nc: nc}
}

func (c *client) sendCmd(cmd wire.Command) {
	c.t.Helper()
	if err := wire.Write(c.nc, cmd); err != nil {
		c.t.Fatalf("Write: %v", err)
	}
}

func (c *client) readCmd() wire.Command {
	c.t.Helper()
	if err := c.nc.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		c.t.Fatalf("SetReadDeadline: %v", err)
	}
	cmd, err := wire.Read(c.nc)
	if err != nil {
		c.t.Fatalf("Read: %v", err)
	}
	return cmd
}

// expect reads one command and fails unless it carries the wanted id.
func (c *client) expect(id wire.CommandID) wire.Command {
	c.t.Helper()
	cmd := c.readCmd()
	if cmd.ID != id {
		c.t.Fatalf("got %s %+v, want %s", cmd.ID, cmd, id)
	}
	return cmd
}

// hello completes the handshake and returns the server-assigned name.
func (c *client) hello(name string) string {
	c.t.Helper()
	c.sendCmd(wire.String(wire.CmdHelloFromClient, name))
	return c.expect(wire.CmdHelloFromServer).Str
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestHandshakeEchoesName(t *testing.T) {
	s, _ := startServer(t)
	c := dial(t, s)
	if got := c.hello("alice"); got != "alice" {
		t.Errorf("handshake returned %q, want alice", got)
	}
}

func TestHandshakeGeneratesName(t *testing.T) {
	s, _ := startServer(t)
	c := dial(t, s)
	name := c.hello("")
	if name == "" {
		t.Fatal("empty name not replaced")
	}
	if err := domain.ValidateName(name); err != nil {
		t.Errorf("generated name %q invalid: %v", name, err)
	}
}

func TestHandshakeRejectsInvalidName(t *testing.T) {
	s, _ := startServer(t)
	c := dial(t, s)
	c.sendCmd(wire.String(wire.CmdHelloFromClient, "bad name!"))
	resp := c.expect(wire.CmdErrorResponse)
	if resp.Str == "" {
		t.Error("error response carried no reason")
	}
	// Connection is dropped after a failed handshake.
	_ = c.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wire.Read(c.nc); !errors.Is(err, io.EOF) {
		t.Errorf("connection still open after failed handshake: %v", err)
	}
}

func TestHandshakeRequiredFirst(t *testing.T) {
	s, _ := startServer(t)
	c := dial(t, s)
	c.sendCmd(wire.Simple(wire.CmdGetRoomList))
	resp := c.expect(wire.CmdErrorResponse)
	if resp.Str != "expected hello" {
		t.Errorf("got %q", resp.Str)
	}
}

func TestRoomLifecycle(t *testing.T) {
	s, _ := startServer(t)
	alice := dial(t, s)
	alice.hello("alice")

	alice.sendCmd(wire.String(wire.CmdCreateRoom, "demo"))
	alice.expect(wire.CmdCreateRoomSuccess)

	alice.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	joined := alice.expect(wire.CmdJoinRoomSuccess)
	if len(joined.Bytes) != 4 {
		t.Fatalf("join success carried %d bytes, want 4", len(joined.Bytes))
	}

	alice.sendCmd(wire.Simple(wire.CmdGetRoomList))
	rooms := alice.expect(wire.CmdRoomList)
	if !contains(rooms.List, "demo (1)") {
		t.Errorf("room list %v missing demo (1)", rooms.List)
	}

	alice.sendCmd(wire.Simple(wire.CmdGetUserList))
	users := alice.expect(wire.CmdUserList)
	if !contains(users.List, "alice") {
		t.Errorf("user list %v missing alice", users.List)
	}
}

func TestJoinBroadcastsRoomUpdate(t *testing.T) {
	s, _ := startServer(t)
	alice := dial(t, s)
	alice.hello("alice")
	bob := dial(t, s)
	bob.hello("bob")

	alice.sendCmd(wire.String(wire.CmdCreateRoom, "demo"))
	alice.expect(wire.CmdCreateRoomSuccess)
	alice.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	alice.expect(wire.CmdJoinRoomSuccess)

	bob.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	bob.expect(wire.CmdJoinRoomSuccess)

	update := alice.expect(wire.CmdRoomUpdate)
	if len(update.List) == 0 || update.List[0] != "demo" {
		t.Fatalf("update %v does not name the room first", update.List)
	}
	if !contains(update.List, "alice:0") || !contains(update.List, "bob:0") {
		t.Errorf("update %v missing members", update.List)
	}
}

func TestSwitchCameraBroadcasts(t *testing.T) {
	s, _ := startServer(t)
	alice := dial(t, s)
	alice.hello("alice")
	bob := dial(t, s)
	bob.hello("bob")

	alice.sendCmd(wire.String(wire.CmdCreateRoom, "demo"))
	alice.expect(wire.CmdCreateRoomSuccess)
	alice.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	alice.expect(wire.CmdJoinRoomSuccess)
	bob.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	bob.expect(wire.CmdJoinRoomSuccess)
	alice.expect(wire.CmdRoomUpdate)

	bob.sendCmd(wire.Bytes(wire.CmdSwitchCamera, []byte{1}))
	bob.expect(wire.CmdSwitchCameraSuccess)

	update := alice.expect(wire.CmdRoomUpdate)
	if !contains(update.List, "bob:1") {
		t.Errorf("update %v missing bob:1", update.List)
	}

	bob.sendCmd(wire.Simple(wire.CmdGetCameraList))
	cams := bob.expect(wire.CmdCameraList)
	if !contains(cams.List, "bob:1") || !contains(cams.List, "alice:0") {
		t.Errorf("camera list %v", cams.List)
	}
}

func TestSwitchCameraRejectsBadPayload(t *testing.T) {
	s, _ := startServer(t)
	c := dial(t, s)
	c.hello("alice")
	c.sendCmd(wire.Bytes(wire.CmdSwitchCamera, []byte{1, 2}))
	resp := c.expect(wire.CmdErrorResponse)
	if resp.Str != "camera payload must be one byte" {
		t.Errorf("got %q", resp.Str)
	}
	// Session survives the rejected command.
	c.sendCmd(wire.Simple(wire.CmdGetRoomList))
	c.expect(wire.CmdRoomList)
}

func TestDeleteRoomEvictsMembers(t *testing.T) {
	s, _ := startServer(t)
	alice := dial(t, s)
	alice.hello("alice")
	bob := dial(t, s)
	bob.hello("bob")

	alice.sendCmd(wire.String(wire.CmdCreateRoom, "demo"))
	alice.expect(wire.CmdCreateRoomSuccess)
	bob.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	bob.expect(wire.CmdJoinRoomSuccess)

	alice.sendCmd(wire.String(wire.CmdDeleteRoom, "demo"))
	alice.expect(wire.CmdDeleteRoomSuccess)

	update := bob.expect(wire.CmdRoomUpdate)
	if len(update.List) != 1 || update.List[0] != "demo" {
		t.Errorf("eviction update %v, want [demo]", update.List)
	}

	bob.sendCmd(wire.Simple(wire.CmdGetRoomList))
	rooms := bob.expect(wire.CmdRoomList)
	if len(rooms.List) != 0 {
		t.Errorf("room list %v after delete, want empty", rooms.List)
	}
}

func TestLeaveRoomNotifiesPeers(t *testing.T) {
	s, _ := startServer(t)
	alice := dial(t, s)
	alice.hello("alice")
	bob := dial(t, s)
	bob.hello("bob")

	alice.sendCmd(wire.String(wire.CmdCreateRoom, "demo"))
	alice.expect(wire.CmdCreateRoomSuccess)
	alice.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	alice.expect(wire.CmdJoinRoomSuccess)
	bob.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	bob.expect(wire.CmdJoinRoomSuccess)
	alice.expect(wire.CmdRoomUpdate)

	bob.sendCmd(wire.Simple(wire.CmdLeaveRoom))
	bob.expect(wire.CmdLeaveRoomSuccess)

	update := alice.expect(wire.CmdRoomUpdate)
	if !contains(update.List, "alice:0") || contains(update.List, "bob:0") {
		t.Errorf("update %v after bob left", update.List)
	}
}

func TestRegistryErrorsAnsweredInPlace(t *testing.T) {
	s, _ := startServer(t)
	c := dial(t, s)
	c.hello("alice")

	c.sendCmd(wire.String(wire.CmdJoinRoom, "nope"))
	resp := c.expect(wire.CmdErrorResponse)
	if resp.Str != domain.ErrRoomNotFound.Error() {
		t.Errorf("got %q, want %q", resp.Str, domain.ErrRoomNotFound.Error())
	}

	c.sendCmd(wire.String(wire.CmdCreateRoom, "demo"))
	c.expect(wire.CmdCreateRoomSuccess)
	c.sendCmd(wire.String(wire.CmdCreateRoom, "demo"))
	resp = c.expect(wire.CmdErrorResponse)
	if resp.Str != domain.ErrRoomExists.Error() {
		t.Errorf("got %q, want %q", resp.Str, domain.ErrRoomExists.Error())
	}

	// The connection keeps working after errors.
	c.sendCmd(wire.Simple(wire.CmdGetRoomList))
	c.expect(wire.CmdRoomList)
}

func TestServerSentIDFromClientRejected(t *testing.T) {
	s, _ := startServer(t)
	c := dial(t, s)
	c.hello("alice")
	c.sendCmd(wire.StringList(wire.CmdUserList, []string{"x"}))
	resp := c.expect(wire.CmdErrorResponse)
	if resp.Str != "unknown command" {
		t.Errorf("got %q", resp.Str)
	}
}

func TestExitRemovesSession(t *testing.T) {
	s, reg := startServer(t)
	c := dial(t, s)
	c.hello("alice")
	c.sendCmd(wire.Simple(wire.CmdExit))

	deadline := time.Now().Add(2 * time.Second)
	for {
		sessions, _ := reg.Counts()
		if sessions == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d sessions still registered after exit", sessions)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisconnectNotifiesRoomPeers(t *testing.T) {
	s, _ := startServer(t)
	alice := dial(t, s)
	alice.hello("alice")
	bob := dial(t, s)
	bob.hello("bob")

	alice.sendCmd(wire.String(wire.CmdCreateRoom, "demo"))
	alice.expect(wire.CmdCreateRoomSuccess)
	alice.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	alice.expect(wire.CmdJoinRoomSuccess)
	bob.sendCmd(wire.String(wire.CmdJoinRoom, "demo"))
	bob.expect(wire.CmdJoinRoomSuccess)
	alice.expect(wire.CmdRoomUpdate)

	// Abrupt disconnect, no Exit command.
	_ = bob.nc.Close()

	update := alice.expect(wire.CmdRoomUpdate)
	if contains(update.List, "bob:0") {
		t.Errorf("update %v still lists bob", update.List)
	}
}

func TestStopAnnouncesShutdown(t *testing.T) {
	s, _ := startServer(t)
	c := dial(t, s)
	c.hello("alice")

	s.Stop()

	resp := c.expect(wire.CmdErrorResponse)
	if resp.Str != "server shutting down" {
		t.Errorf("got %q", resp.Str)
	}
}
