// Package wire implements the binary codecs for both planes: framed control
// commands on the TCP stream and chunk headers on UDP datagrams. Encode and
// decode are pure and all-or-nothing; a partially valid buffer is rejected
// with ErrMalformed.
package wire

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrMalformed is returned for any undecodable input: unknown command id,
// truncated payload, invalid UTF-8, or a length field exceeding the buffer.
var ErrMalformed = errors.New("wire: malformed message")

// Command ids occupy a contiguous range starting at this offset, so a random
// first byte on the stream is very unlikely to alias a valid command.
const commandByteOffset = 69

// MaxPayloadLen is the largest String/Bytes payload and the largest
// StringList entry; lengths are encoded as a single byte.
const MaxPayloadLen = 255

type CommandID uint8

const (
	CmdHelloFromClient CommandID = iota
	CmdHelloFromServer
	CmdErrorResponse
	CmdGetUserList
	CmdUserList
	CmdGetRoomList
	CmdRoomList
	CmdCreateRoom
	CmdCreateRoomSuccess
	CmdDeleteRoom
	CmdDeleteRoomSuccess
	CmdJoinRoom
	CmdJoinRoomSuccess
	CmdLeaveRoom
	CmdLeaveRoomSuccess
	CmdSwitchCamera
	CmdSwitchCameraSuccess
	CmdRoomUpdate
	CmdGetCameraList
	CmdCameraList
	CmdExit

	commandIDCount
)

// PayloadKind describes how a command's payload is framed on the stream.
type PayloadKind int

const (
	KindSimple PayloadKind = iota
	KindString
	KindBytes
	KindStringList
)

var commandNames = [commandIDCount]string{
	"HelloFromClient", "HelloFromServer", "ErrorResponse",
	"GetUserList", "UserList", "GetRoomList", "RoomList",
	"CreateRoom", "CreateRoomSuccess", "DeleteRoom", "DeleteRoomSuccess",
	"JoinRoom", "JoinRoomSuccess", "LeaveRoom", "LeaveRoomSuccess",
	"SwitchCamera", "SwitchCameraSuccess", "RoomUpdate",
	"GetCameraList", "CameraList", "Exit",
}

func (id CommandID) String() string {
	if id < commandIDCount {
		return commandNames[id]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(id))
}

// Kind returns the payload framing of the command.
func (id CommandID) Kind() PayloadKind {
	switch id {
	case CmdHelloFromClient, CmdHelloFromServer, CmdErrorResponse,
		CmdCreateRoom, CmdDeleteRoom, CmdJoinRoom:
		return KindString
	case CmdJoinRoomSuccess, CmdSwitchCamera:
		return KindBytes
	case CmdUserList, CmdRoomList, CmdRoomUpdate, CmdCameraList:
		return KindStringList
	default:
		return KindSimple
	}
}

// Command is the closed variant type carried by the control plane. Exactly
// one of Str, Bytes or List is meaningful, selected by ID.Kind().
type Command struct {
	ID    CommandID
	Str   string
	Bytes []byte
	List  []string
}

func Simple(id CommandID) Command           { return Command{ID: id} }
func String(id CommandID, s string) Command { return Command{ID: id, Str: s} }
func Bytes(id CommandID, b []byte) Command  { return Command{ID: id, Bytes: b} }
func StringList(id CommandID, l []string) Command {
	return Command{ID: id, List: l}
}

// Encode serializes the command into a fresh buffer.
func Encode(c Command) ([]byte, error) {
	if c.ID >= commandIDCount {
		return nil, fmt.Errorf("%w: command id %d out of range", ErrMalformed, c.ID)
	}
	b := c.ID.toByte()
	switch c.ID.Kind() {
	case KindSimple:
		return []byte{b}, nil
	case KindString:
		if len(c.Str) > MaxPayloadLen {
			return nil, fmt.Errorf("%w: string payload %d bytes", ErrMalformed, len(c.Str))
		}
		out := make([]byte, 0, 2+len(c.Str))
		out = append(out, b, byte(len(c.Str)))
		return append(out, c.Str...), nil
	case KindBytes:
		if len(c.Bytes) > MaxPayloadLen {
			return nil, fmt.Errorf("%w: bytes payload %d bytes", ErrMalformed, len(c.Bytes))
		}
		out := make([]byte, 0, 2+len(c.Bytes))
		out = append(out, b, byte(len(c.Bytes)))
		return append(out, c.Bytes...), nil
	case KindStringList:
		if len(c.List) > MaxPayloadLen {
			return nil, fmt.Errorf("%w: list of %d entries", ErrMalformed, len(c.List))
		}
		out := []byte{b, byte(len(c.List))}
		for _, s := range c.List {
			if len(s) > MaxPayloadLen {
				return nil, fmt.Errorf("%w: list entry %d bytes", ErrMalformed, len(s))
			}
			out = append(out, byte(len(s)))
			out = append(out, s...)
		}
		return out, nil
	}
	return nil, ErrMalformed
}

// Write encodes the command and writes it to the stream in one call.
func Write(w io.Writer, c Command) error {
	buf, err := Encode(c)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Read decodes exactly one command from the stream. A clean EOF before the id
// byte is returned as io.EOF so callers can distinguish disconnect from
// protocol garbage; any truncation after the id byte is ErrMalformed.
func Read(r io.Reader) (Command, error) {
	var one [1]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return Command{}, err
	}

	id, ok := commandIDFromByte(one[0])
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown command byte 0x%02x", ErrMalformed, one[0])
	}

	switch id.Kind() {
	case KindSimple:
		return Simple(id), nil
	case KindString:
		s, err := readLenPrefixed(r)
		if err != nil {
			return Command{}, err
		}
		if !utf8.Valid(s) {
			return Command{}, fmt.Errorf("%w: invalid utf-8 in %s", ErrMalformed, id)
		}
		return String(id, string(s)), nil
	case KindBytes:
		b, err := readLenPrefixed(r)
		if err != nil {
			return Command{}, err
		}
		return Bytes(id, b), nil
	case KindStringList:
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return Command{}, truncated(err)
		}
		n := int(one[0])
		list := make([]string, 0, n)
		for i := 0; i < n; i++ {
			s, err := readLenPrefixed(r)
			if err != nil {
				return Command{}, err
			}
			if !utf8.Valid(s) {
				return Command{}, fmt.Errorf("%w: invalid utf-8 in %s", ErrMalformed, id)
			}
			list = append(list, string(s))
		}
		return StringList(id, list), nil
	}
	return Command{}, ErrMalformed
}

func (id CommandID) toByte() byte { return byte(id) + commandByteOffset }

func commandIDFromByte(b byte) (CommandID, bool) {
	id := CommandID(b - commandByteOffset)
	return id, id < commandIDCount
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var one [1]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		return nil, truncated(err)
	}
	buf := make([]byte, int(one[0]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, truncated(err)
	}
	return buf, nil
}

// truncated maps an EOF in the middle of a command to ErrMalformed; the
// stream died mid-message, which is indistinguishable from garbage framing.
func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated command", ErrMalformed)
	}
	return err
}
