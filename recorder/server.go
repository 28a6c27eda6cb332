package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultListen        = "127.0.0.1:45678"
	DefaultAttachTimeout = 5 * time.Second
	DefaultPollInterval  = 50 * time.Millisecond

	sessionIDLen = 32
)

var ErrRecorder = errors.New("recorder")

// Server accepts muxer connections. A muxer announces itself with the
// 32 character session id it was launched for and then waits for the
// stream.
type Server struct {
	AttachTimeout time.Duration
	PollInterval  time.Duration

	ln     net.Listener
	mu     sync.Mutex
	conns  map[string]net.Conn
	closed bool
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// Listen binds addr. Serve must run for muxers to be accepted.
func Listen(addr string) (*Server, error) {
	if addr == "" {
		addr = DefaultListen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("recorder listen %s: %w", addr, err)
	}
	return &Server{
		AttachTimeout: DefaultAttachTimeout,
		PollInterval:  DefaultPollInterval,
		ln:            ln,
		conns:         make(map[string]net.Conn),
		logger:        log.Logger,
	}, nil
}

func (s *Server) WithLogger(l zerolog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts connections until Close.
func (s *Server) Serve() error {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handshake(c)
		}()
	}
}

func (s *Server) handshake(c net.Conn) {
	c.SetReadDeadline(time.Now().Add(s.AttachTimeout))
	id := make([]byte, sessionIDLen)
	if _, err := io.ReadFull(c, id); err != nil {
		s.logger.Warn().Err(err).Str("remote", c.RemoteAddr().String()).Msg("muxer sent no session id")
		c.Close()
		return
	}
	c.SetReadDeadline(time.Time{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return
	}
	if old, ok := s.conns[string(id)]; ok {
		old.Close()
	}
	s.conns[string(id)] = c
	s.mu.Unlock()
	s.logger.Debug().Str("session", string(id)).Msg("muxer attached")
}

func (s *Server) take(id string) (net.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	return c, ok
}

// Await returns the muxer connection of session id, polling until it
// shows up, ctx ends or AttachTimeout elapses.
func (s *Server) Await(ctx context.Context, id string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.AttachTimeout)
	defer cancel()
	tick := time.NewTicker(s.PollInterval)
	defer tick.Stop()
	for {
		if c, ok := s.take(id); ok {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: muxer for session %s did not attach: %w", ErrRecorder, id, ctx.Err())
		case <-tick.C:
		}
	}
}

// Close stops accepting and closes every parked connection.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	s.closed = true
	for id, c := range s.conns {
		c.Close()
		delete(s.conns, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}
