// Package control runs the reliable plane: a TCP listener and one handler
// goroutine per participant, speaking the framed command protocol from
// internal/wire and mutating the registry on the client's behalf.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wesfu/wesfu/internal/app"
	"github.com/wesfu/wesfu/internal/config"
	"github.com/wesfu/wesfu/internal/metrics"
	"github.com/wesfu/wesfu/internal/wire"
)

type Server struct {
	cfg *config.Config
	reg *app.Registry
	m   *metrics.Metrics

	ln net.Listener
	wg sync.WaitGroup

	mu      sync.Mutex
	conns   map[*signalConn]struct{}
	stopped bool
}

func NewServer(cfg *config.Config, reg *app.Registry, m *metrics.Metrics) *Server {
	return &Server{
		cfg:   cfg,
		reg:   reg,
		m:     m,
		conns: make(map[*signalConn]struct{}),
	}
}

// Start binds the listener and begins accepting. A bind failure is returned
// to the caller; everything after that is handled per-connection.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ControlAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on control port: %w", err)
	}
	s.ln = ln
	log.Info().Str("module", "control").Str("addr", ln.Addr().String()).Msg("control server started")

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Addr reports the bound listener address, for tests using port 0.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped || ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("module", "control").Msg("accept error")
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, nc)
		}()
	}
}

// Stop tells connected clients the server is going away, then closes the
// listener and every connection and waits for the handlers to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conns := make([]*signalConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	goodbye, _ := wire.Encode(wire.String(wire.CmdErrorResponse, "server shutting down"))
	for _, c := range conns {
		_ = c.TrySend(goodbye)
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	log.Info().Str("module", "control").Msg("control server stopped")
}

func (s *Server) track(c *signalConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *signalConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
