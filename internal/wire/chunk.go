package wire

import (
	"encoding/binary"
	"fmt"
)

// Media chunk layout, big-endian:
// [SessionID:4][FrameSeq:4][ChunkIndex:2][ChunkCount:2][PayloadLen:2][payload]
const (
	ChunkHeaderSize = 14

	// MaxChunkPayload keeps the whole datagram at 1200 bytes, safely under
	// common path MTUs so chunks are never IP-fragmented.
	MaxChunkPayload = 1200 - ChunkHeaderSize

	// RegistrationChunkIndex marks an empty datagram a client sends to bind
	// its media endpoint before streaming. It is never forwarded.
	RegistrationChunkIndex = 0xFFFF
)

// ChunkHeader is the fixed header of one media datagram.
type ChunkHeader struct {
	SessionID  uint32
	FrameSeq   uint32
	ChunkIndex uint16
	ChunkCount uint16
	PayloadLen uint16
}

// IsRegistration reports whether this is an endpoint-binding datagram.
func (h ChunkHeader) IsRegistration() bool {
	return h.ChunkIndex == RegistrationChunkIndex && h.PayloadLen == 0
}

// EncodeChunk builds one datagram from a header and its payload. PayloadLen
// is taken from the payload slice, not the header field.
func EncodeChunk(h ChunkHeader, payload []byte) ([]byte, error) {
	if len(payload) > MaxChunkPayload {
		return nil, fmt.Errorf("%w: chunk payload %d bytes (max %d)", ErrMalformed, len(payload), MaxChunkPayload)
	}
	out := make([]byte, ChunkHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], h.SessionID)
	binary.BigEndian.PutUint32(out[4:8], h.FrameSeq)
	binary.BigEndian.PutUint16(out[8:10], h.ChunkIndex)
	binary.BigEndian.PutUint16(out[10:12], h.ChunkCount)
	binary.BigEndian.PutUint16(out[12:14], uint16(len(payload)))
	copy(out[ChunkHeaderSize:], payload)
	return out, nil
}

// DecodeChunk parses one datagram. The returned payload aliases buf; callers
// that retain it past the next socket read must copy it. The datagram must
// contain exactly PayloadLen bytes after the header.
func DecodeChunk(buf []byte) (ChunkHeader, []byte, error) {
	if len(buf) < ChunkHeaderSize {
		return ChunkHeader{}, nil, fmt.Errorf("%w: datagram %d bytes, header needs %d", ErrMalformed, len(buf), ChunkHeaderSize)
	}
	h := ChunkHeader{
		SessionID:  binary.BigEndian.Uint32(buf[0:4]),
		FrameSeq:   binary.BigEndian.Uint32(buf[4:8]),
		ChunkIndex: binary.BigEndian.Uint16(buf[8:10]),
		ChunkCount: binary.BigEndian.Uint16(buf[10:12]),
		PayloadLen: binary.BigEndian.Uint16(buf[12:14]),
	}
	if int(h.PayloadLen) != len(buf)-ChunkHeaderSize {
		return ChunkHeader{}, nil, fmt.Errorf("%w: payload_len %d but %d bytes follow header", ErrMalformed, h.PayloadLen, len(buf)-ChunkHeaderSize)
	}
	if h.PayloadLen > MaxChunkPayload {
		return ChunkHeader{}, nil, fmt.Errorf("%w: payload_len %d exceeds max %d", ErrMalformed, h.PayloadLen, MaxChunkPayload)
	}
	if h.IsRegistration() {
		return h, nil, nil
	}
	if h.ChunkCount == 0 {
		return ChunkHeader{}, nil, fmt.Errorf("%w: zero chunk_count", ErrMalformed)
	}
	if h.ChunkIndex >= h.ChunkCount {
		return ChunkHeader{}, nil, fmt.Errorf("%w: chunk_index %d out of range (count %d)", ErrMalformed, h.ChunkIndex, h.ChunkCount)
	}
	return h, buf[ChunkHeaderSize:], nil
}
