package scrcpy

import (
	"bufio"
	"context"
	"errors"
	"net"

	"adbcast/sdriver"
	wire "adbcast/scrcpy"
)

// deployLog relays the server's output until the shell stream ends.
func (s *Session) deployLog() error {
	s.mu.RLock()
	conn := s.deployConn
	s.mu.RUnlock()
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		s.logger.Debug().Str("stream", "server").Msg(sc.Text())
	}
	return nil
}

// videoLoop demuxes the video stream. The end of the video stream ends
// the session.
func (s *Session) videoLoop() error {
	err := s.demux(sdriver.StreamVideo, s.videoConn, func(f sdriver.Frame) {
		s.cfg.Sink.Frame(f)
	})
	if s.ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, wire.ErrStreamClosed) {
		s.logger.Info().Err(err).Msg("video stream ended")
	} else {
		s.logger.Error().Err(err).Msg("video stream failed")
	}
	go s.Stop(context.Background())
	return nil
}

// audioLoop demuxes the audio stream. Silent frames reach the recorder
// but not the viewers. Audio failing leaves video running.
func (s *Session) audioLoop() error {
	codec := s.Meta().AudioCodec
	err := s.demux(sdriver.StreamAudio, s.audioConn, func(f sdriver.Frame) {
		if !wire.IsSilent(codec, f.Payload) {
			s.cfg.Sink.Frame(f)
		}
	})
	if s.ctx.Err() == nil {
		s.logger.Info().Err(err).Msg("audio stream ended")
	}
	return nil
}

// demux reads whole frames until the stream fails. Config units go
// through handleConfig; every frame reaches the recorder before deliver.
func (s *Session) demux(kind sdriver.StreamKind, conn net.Conn, deliver func(sdriver.Frame)) error {
	for {
		wf, err := wire.ReadFrame(conn)
		if err != nil {
			return err
		}
		f := sdriver.Frame{Kind: kind, Header: wf.Header, Payload: wf.Payload}
		if s.recorder != nil {
			s.recorder.Write(f)
		}
		if f.IsConfig() {
			s.handleConfig(f)
			continue
		}
		deliver(f)
	}
}
