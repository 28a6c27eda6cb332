// Package scrcpy drives one scrcpy server instance on an Android device:
// it deploys the server over adb, opens the video, audio and control
// sockets, and demultiplexes the media streams into a FrameSink.
package scrcpy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"adbcast/adb"
	"adbcast/sdriver"
	wire "adbcast/scrcpy"
)

// Session is a sdriver.Driver backed by a scrcpy server.
type Session struct {
	cfg    Config
	opts   wire.Options
	logger zerolog.Logger

	state atomic.Int32

	mu         sync.RWMutex
	meta       sdriver.MediaMeta
	resolution sdriver.Size
	configs    map[sdriver.StreamKind]sdriver.Frame

	videoConn   net.Conn
	audioConn   net.Conn
	controlConn net.Conn
	deployConn  net.Conn

	controller *Controller
	recorder   sdriver.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	startOnce  sync.Once
	stopOnce   sync.Once
	finishOnce sync.Once
	done       chan struct{}
}

var _ sdriver.Driver = (*Session)(nil)

// New prepares a session. Nothing touches the device before Start.
func New(cfg Config) (*Session, error) {
	cfg.setDefaults()
	if cfg.Sink == nil {
		return nil, errors.New("scrcpy session: nil frame sink")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	opts := cfg.Options
	opts.SCID = cfg.SCID
	s := &Session{
		cfg:      cfg,
		opts:     opts,
		recorder: cfg.Recorder,
		configs:  make(map[sdriver.StreamKind]sdriver.Frame, 2),
		done:     make(chan struct{}),
		logger: cfg.Logger.With().
			Str("device", cfg.Serial).
			Str("scid", fmt.Sprintf("%08x", cfg.SCID)).
			Logger(),
	}
	s.state.Store(int32(sdriver.StateCreated))
	return s, nil
}

func (s *Session) ID() string                { return s.cfg.SessionID }
func (s *Session) SCID() uint32              { return s.cfg.SCID }
func (s *Session) Options() wire.Options     { return s.opts }
func (s *Session) State() sdriver.State      { return sdriver.State(s.state.Load()) }
func (s *Session) Done() <-chan struct{}     { return s.done }
func (s *Session) Controller() *Controller   { return s.controller }
func (s *Session) setState(st sdriver.State) { s.state.Store(int32(st)) }

func (s *Session) Meta() sdriver.MediaMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.meta
	m.Width, m.Height = s.resolution.Width, s.resolution.Height
	return m
}

// Resolution is the current screen size, corrected by the latest video
// config unit.
func (s *Session) Resolution() sdriver.Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolution
}

// Start deploys the server, completes the handshake on every socket and
// launches the demux tasks. On failure everything opened so far is
// released and the session ends in StateStopped.
func (s *Session) Start(ctx context.Context) error {
	err := errors.New("scrcpy session: already started")
	s.startOnce.Do(func() { err = s.start(ctx) })
	return err
}

func (s *Session) start(ctx context.Context) (err error) {
	began := time.Now()
	s.setState(sdriver.StateDeploying)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Blocking handshake reads do not observe ctx; closing the sockets
	// does unblock them.
	stopWatch := context.AfterFunc(ctx, s.closeSockets)
	defer func() {
		stopWatch()
		if err != nil {
			s.logger.Error().Err(err).Msg("session start failed")
			s.cancel()
			s.closeSockets()
			if s.group != nil {
				s.group.Wait()
			}
			s.finish()
		}
	}()

	if err := s.pushServer(ctx); err != nil {
		return err
	}
	deploy, err := s.startServer(ctx)
	if err != nil {
		return err
	}
	s.setConn(&s.deployConn, deploy)

	s.group, _ = errgroup.WithContext(s.ctx)
	s.group.Go(s.deployLog)

	if err := s.connectStreams(ctx); err != nil {
		return err
	}
	if err := s.readConfigUnits(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return &adb.TransportError{Op: "start session", Err: ctx.Err()}
	}

	s.startRecorder(ctx)

	s.group.Go(s.videoLoop)
	if s.audioConn != nil {
		s.group.Go(s.audioLoop)
	}
	s.setState(sdriver.StateStreaming)
	meta := s.Meta()
	s.logger.Info().
		Str("name", meta.DeviceName).
		Str("video", meta.VideoCodec).
		Str("audio", meta.AudioCodec).
		Uint32("width", meta.Width).
		Uint32("height", meta.Height).
		Dur("took", time.Since(began)).
		Msg("session streaming")
	return nil
}

// connectStreams opens the sockets in the order the server accepts them
// and reads each one's preamble.
func (s *Session) connectStreams(ctx context.Context) error {
	video, err := s.openSocket(ctx, "video")
	if err != nil {
		return err
	}
	s.setConn(&s.videoConn, video)
	if err := s.handshake(video, wire.ReadDummyByte); err != nil {
		return err
	}

	if s.opts.AudioEnabled() {
		audio, err := s.openSocket(ctx, "audio")
		if err != nil {
			return err
		}
		s.setConn(&s.audioConn, audio)
	}
	if s.opts.ControlEnabled() {
		control, err := s.openSocket(ctx, "control")
		if err != nil {
			return err
		}
		s.setConn(&s.controlConn, control)
		s.controller = newController(control, s.cfg.Layout, s.Resolution, s.cfg.WriteTimeout, s.logger)
	}

	var name string
	var vm wire.VideoMeta
	err = s.handshake(video, func(r io.Reader) (err error) {
		if name, err = wire.ReadDeviceName(r); err != nil {
			return err
		}
		vm, err = wire.ReadVideoMeta(r)
		return err
	})
	if err != nil {
		return err
	}

	var am wire.AudioMeta
	if s.audioConn != nil {
		err := s.handshake(s.audioConn, func(r io.Reader) (err error) {
			am, err = wire.ReadAudioMeta(r)
			return err
		})
		if errors.Is(err, wire.ErrAudioDisabled) {
			s.logger.Warn().Msg("device refused audio capture (Android 11+ required), continuing without audio")
			s.audioConn.Close()
			s.setConn(&s.audioConn, nil)
		} else if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.meta = sdriver.MediaMeta{DeviceName: name, VideoCodec: vm.Codec, AudioCodec: am.Codec}
	s.resolution = sdriver.Size{Width: vm.Width, Height: vm.Height}
	s.mu.Unlock()
	return nil
}

// handshake runs read under the handshake deadline and clears the
// deadline afterwards. Failures are transport errors.
func (s *Session) handshake(conn net.Conn, read func(io.Reader) error) error {
	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	if err := read(conn); err != nil {
		if errors.Is(err, wire.ErrAudioDisabled) {
			return err
		}
		if !errors.Is(err, wire.ErrHandshake) {
			err = fmt.Errorf("%w: %w", wire.ErrHandshake, err)
		}
		return &adb.TransportError{Op: "scrcpy handshake", Err: err}
	}
	return nil
}

func (s *Session) startRecorder(ctx context.Context) {
	if s.recorder == nil {
		return
	}
	s.mu.RLock()
	configs := make([]sdriver.Frame, 0, 2)
	for _, k := range []sdriver.StreamKind{sdriver.StreamVideo, sdriver.StreamAudio} {
		if f, ok := s.configs[k]; ok {
			configs = append(configs, f)
		}
	}
	s.mu.RUnlock()
	if err := s.recorder.Start(ctx, s.Meta(), configs); err != nil {
		s.logger.Warn().Err(err).Msg("recorder unavailable, streaming without it")
		s.recorder = nil
	}
}

// Stop cancels the session and waits until every task has returned, the
// recorder is finalized and the sink is closed, or until ctx ends.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { go s.shutdown() })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) shutdown() {
	if s.State() == sdriver.StateDeploying {
		// Unblocks handshake reads of a Start still in flight.
		s.closeSockets()
	}
	neverStarted := false
	s.startOnce.Do(func() { neverStarted = true })
	if neverStarted {
		s.finish()
		return
	}
	if s.State() == sdriver.StateStopped {
		return
	}
	s.setState(sdriver.StateStopping)
	s.logger.Info().Msg("stopping session")
	s.cancel()
	s.closeSockets()
	if err := s.group.Wait(); err != nil {
		s.logger.Warn().Err(err).Msg("session task failed")
	}
	if s.recorder != nil {
		s.recorder.Stop(context.Background())
	}
	s.finish()
}

// finish closes the sink, marks the session stopped and fires OnStop.
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.cfg.Sink.Close()
		s.setState(sdriver.StateStopped)
		close(s.done)
		s.logger.Info().Msg("session stopped")
		if s.cfg.OnStop != nil {
			s.cfg.OnStop()
		}
	})
}

func (s *Session) setConn(dst *net.Conn, c net.Conn) {
	s.mu.Lock()
	*dst = c
	s.mu.Unlock()
}

// closeSockets closes video, audio, control and deploy sockets, in that
// order. Closing the video socket is what ends the session's streams.
func (s *Session) closeSockets() {
	s.mu.RLock()
	conns := []net.Conn{s.videoConn, s.audioConn, s.controlConn, s.deployConn}
	s.mu.RUnlock()
	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
}

// Send dispatches a control event.
func (s *Session) Send(ctx context.Context, ev sdriver.Event) (sdriver.Reply, error) {
	if s.controller == nil {
		return sdriver.Reply{}, ErrNoControl
	}
	return s.controller.Send(ctx, ev)
}
