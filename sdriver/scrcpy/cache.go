package scrcpy

import (
	"fmt"
	"io"
	"net"

	"adbcast/adb"
	"adbcast/sdriver"
	wire "adbcast/scrcpy"
)

// readConfigUnits reads the first frame of each open stream. The server
// sends the decoder configuration first, so anything else here means the
// stream is out of sync. Raw audio has no configuration; its first frame
// is left for the demuxer.
func (s *Session) readConfigUnits() error {
	conns := map[sdriver.StreamKind]net.Conn{sdriver.StreamVideo: s.videoConn}
	if s.audioConn != nil && s.Meta().AudioCodec != wire.CodecRaw {
		conns[sdriver.StreamAudio] = s.audioConn
	}
	for _, kind := range []sdriver.StreamKind{sdriver.StreamVideo, sdriver.StreamAudio} {
		conn, ok := conns[kind]
		if !ok {
			continue
		}
		var f wire.Frame
		err := s.handshake(conn, func(r io.Reader) (err error) {
			f, err = wire.ReadFrame(r)
			return err
		})
		if err != nil {
			return fmt.Errorf("read %s config unit: %w", kind, err)
		}
		if !f.Header.IsConfig() {
			return &adb.TransportError{
				Op:  "scrcpy handshake",
				Err: fmt.Errorf("%w: first %s frame is not a config unit", wire.ErrHandshake, kind),
			}
		}
		s.handleConfig(sdriver.Frame{Kind: kind, Header: f.Header, Payload: f.Payload})
	}
	return nil
}

// handleConfig caches a config unit, hands it to the sink and, for
// video, corrects the resolution from it.
func (s *Session) handleConfig(f sdriver.Frame) {
	s.mu.Lock()
	s.configs[f.Kind] = f
	s.mu.Unlock()
	s.logger.Debug().
		Stringer("stream", f.Kind).
		Int("size", len(f.Payload)).
		Msg("config unit")
	if f.Kind == sdriver.StreamVideo {
		s.correctResolution(f.Payload)
	}
	s.cfg.Sink.Config(f)
}

// ConfigUnits returns the cached config units, video first.
func (s *Session) ConfigUnits() []sdriver.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sdriver.Frame, 0, len(s.configs))
	for _, k := range []sdriver.StreamKind{sdriver.StreamVideo, sdriver.StreamAudio} {
		if f, ok := s.configs[k]; ok {
			out = append(out, f)
		}
	}
	return out
}

// correctResolution reorders the resolution to the orientation of the
// picture coded in the SPS. The handshake size is kept, since the coded
// size carries macroblock padding; it is only used as is when the
// handshake reported none. Codecs without an SPS decoder keep the size
// reported in the handshake.
func (s *Session) correctResolution(payload []byte) {
	s.mu.RLock()
	codec := s.meta.VideoCodec
	s.mu.RUnlock()
	dw, dh, err := wire.ResolutionFromConfig(codec, payload)
	if err != nil {
		s.logger.Debug().Err(err).Str("codec", codec).Msg("resolution not corrected")
		return
	}
	s.mu.Lock()
	prev := s.resolution
	w, h := dw, dh
	if prev.Width != 0 && prev.Height != 0 {
		w, h = wire.Orient(prev.Width, prev.Height, dw, dh)
	}
	s.resolution = sdriver.Size{Width: w, Height: h}
	s.mu.Unlock()
	if prev.Width != w || prev.Height != h {
		s.logger.Info().
			Uint32("width", w).
			Uint32("height", h).
			Msg("resolution corrected from SPS")
	}
}
