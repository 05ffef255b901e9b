// Package relay runs the media plane: one UDP socket shared by every
// participant. Each datagram is decoded, attributed to a sender session,
// checked for staleness and forwarded chunk-by-chunk to the sender's room
// peers. No payload is ever buffered; the server relays, it does not
// reassemble.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wesfu/wesfu/internal/app"
	"github.com/wesfu/wesfu/internal/config"
	"github.com/wesfu/wesfu/internal/core"
	"github.com/wesfu/wesfu/internal/metrics"
	"github.com/wesfu/wesfu/internal/wire"
)

const (
	readDeadlineSlice = time.Second
	janitorInterval   = 10 * time.Second

	// seqResetGap separates late arrivals from counter resets. Clients wrap
	// or restart their frame counter well below 2^32, so a backwards jump
	// this large is a resync, not reordering.
	seqResetGap = 1 << 16
)

// senderTrack is the per-sender bookkeeping: the highest frame sequence seen
// and when. Nothing here is shared between senders, so one misbehaving
// client cannot corrupt another's forwarding.
type senderTrack struct {
	latest   uint32
	lastSeen time.Time
}

type Engine struct {
	cfg *config.Config
	reg *app.Registry
	m   *metrics.Metrics

	conn *net.UDPConn

	mu      sync.Mutex
	senders map[core.SessionID]*senderTrack

	cancel context.CancelFunc
	wg     sync.WaitGroup
	fatal  chan error
}

func NewEngine(cfg *config.Config, reg *app.Registry, m *metrics.Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		reg:     reg,
		m:       m,
		senders: make(map[core.SessionID]*senderTrack),
		fatal:   make(chan error, 1),
	}
}

// Start binds the shared UDP socket and launches the receive loop and the
// bookkeeping janitor. A bind failure is returned; after that the only fatal
// condition is the socket itself dying, reported on Fatal().
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)
	addr, err := net.ResolveUDPAddr("udp", e.cfg.MediaAddr())
	if err != nil {
		return fmt.Errorf("failed to resolve media address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on media port: %w", err)
	}
	e.conn = conn
	if err := conn.SetReadBuffer(e.cfg.ReadBuffer); err != nil {
		log.Warn().Err(err).Str("module", "relay").Int("read_buffer", e.cfg.ReadBuffer).Msg("set read buffer")
	}
	log.Info().Str("module", "relay").Str("addr", conn.LocalAddr().String()).Msg("media relay started")

	e.wg.Add(2)
	go e.receiveLoop(ctx)
	go e.janitor(ctx)
	return nil
}

// Fatal delivers the error that killed the receive loop, if any.
func (e *Engine) Fatal() <-chan error {
	return e.fatal
}

// LocalAddr reports the bound socket address, for tests using port 0.
func (e *Engine) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.wg.Wait()
	log.Info().Str("module", "relay").Msg("media relay stopped")
}

func (e *Engine) receiveLoop(ctx context.Context) {
	defer e.wg.Done()

	buf := make([]byte, wire.ChunkHeaderSize+wire.MaxChunkPayload+1)
	for {
		if ctx.Err() != nil {
			return
		}
		// Short read deadlines keep the loop responsive to shutdown; UDP
		// itself never times out.
		if err := e.conn.SetReadDeadline(time.Now().Add(readDeadlineSlice)); err != nil {
			e.reportFatal(err)
			return
		}
		n, src, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			e.reportFatal(err)
			return
		}
		e.handleDatagram(buf[:n], src)
	}
}

// handleDatagram runs the full per-packet pipeline synchronously: the
// forwarded bytes alias the receive buffer, which is safe because the next
// read only happens after this returns.
func (e *Engine) handleDatagram(data []byte, src *net.UDPAddr) {
	e.m.RecordDatagramReceived()

	h, _, err := wire.DecodeChunk(data)
	if err != nil {
		// UDP has no sender-visible error channel; dropping is the policy.
		e.m.RecordDatagramDropped(metrics.DropMalformed)
		log.Debug().Err(err).Str("module", "relay").Str("src", src.String()).Msg("malformed datagram")
		return
	}

	sid := core.SessionID(h.SessionID)
	if !e.reg.BindMediaEndpoint(sid, src) {
		e.m.RecordDatagramDropped(metrics.DropUnknown)
		e.forget(sid)
		return
	}
	if h.IsRegistration() {
		log.Debug().Str("module", "relay").Uint32("sid", h.SessionID).Str("src", src.String()).Msg("media endpoint bound")
		return
	}
	if e.stale(sid, h.FrameSeq) {
		e.m.RecordDatagramDropped(metrics.DropStale)
		return
	}

	targets := e.reg.MediaTargets(sid)
	if len(targets) == 0 {
		// Roomless sender or empty room: normal, silent.
		return
	}
	sent := 0
	for _, addr := range targets {
		if _, err := e.conn.WriteToUDP(data, addr); err != nil {
			log.Debug().Err(err).Str("module", "relay").Str("dst", addr.String()).Msg("forward failed")
			continue
		}
		sent++
	}
	e.m.RecordDatagramsForwarded(sent)
}

// stale updates the sender's high-water mark and reports whether the chunk
// falls behind the trailing window. The comparison is signed so wrap at 2^32
// keeps working; a backwards jump past seqResetGap means the sender wrapped
// or restarted its counter early, so the mark resyncs instead of freezing
// the stream.
func (e *Engine) stale(sid core.SessionID, seq uint32) bool {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.senders[sid]
	if !ok {
		e.senders[sid] = &senderTrack{latest: seq, lastSeen: now}
		return false
	}
	t.lastSeen = now
	d := int32(seq - t.latest)
	switch {
	case d >= 0:
		t.latest = seq
		return false
	case uint32(-d) <= e.cfg.StaleWindow:
		return false
	case uint32(-d) >= seqResetGap:
		t.latest = seq
		return false
	default:
		return true
	}
}

func (e *Engine) forget(sid core.SessionID) {
	e.mu.Lock()
	delete(e.senders, sid)
	e.mu.Unlock()
}

// janitor prunes bookkeeping for senders that stopped transmitting, keeping
// the tracker map bounded no matter how clients behave.
func (e *Engine) janitor(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.mu.Lock()
			for sid, t := range e.senders {
				if now.Sub(t.lastSeen) > e.cfg.SenderTTL {
					delete(e.senders, sid)
				}
			}
			e.mu.Unlock()
		}
	}
}

func (e *Engine) reportFatal(err error) {
	log.Error().Err(err).Str("module", "relay").Msg("media socket failed")
	select {
	case e.fatal <- err:
	default:
	}
}
