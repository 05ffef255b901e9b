package control

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wesfu/wesfu/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeDeadline = 5 * time.Second

	// closeGrace bounds how long Close waits for the write pump to flush
	// queued frames before the socket is torn down.
	closeGrace = 100 * time.Millisecond
)

// signalConn is the outbound half of one control connection: a bounded queue
// drained by a single writer goroutine, so registry fan-out never blocks on
// a slow client's socket.
type signalConn struct {
	nc   net.Conn
	send chan core.Frame
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newSignalConn(nc net.Conn, queue int) *signalConn {
	return &signalConn{
		nc:   nc,
		send: make(chan core.Frame, queue),
		done: make(chan struct{}),
	}
}

func (c *signalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close stops the connection. Frames already queued get a short grace period
// to reach the wire; after that the socket is closed, which also unblocks the
// reader goroutine.
func (c *signalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(closeGrace):
	}
	_ = c.nc.Close()
}

func (c *signalConn) writePump() {
	defer close(c.done)
	for data := range c.send {
		if err := c.nc.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			log.Error().Err(err).Str("module", "control").Msg("writePump set deadline")
			return
		}
		if _, err := c.nc.Write(data); err != nil {
			log.Debug().Err(err).Str("module", "control").Msg("writePump write error")
			return
		}
	}
}
