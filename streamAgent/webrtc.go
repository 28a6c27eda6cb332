package sagent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"adbcast/sdriver"
	"adbcast/streamAgent/webrtcHelper"
)

// WebRTCConfig describes the session a WebRTC viewer is created for.
type WebRTCConfig struct {
	ICEServers []string
	Meta       sdriver.MediaMeta
	// RequestKeyframe is called on picture loss, throttled.
	RequestKeyframe func()
	// AVSync puts both tracks in one media stream so browsers lip-sync
	// them, at the cost of latency.
	AVSync bool
	Logger zerolog.Logger
}

// WebRTCViewer sends a session to one browser peer connection.
type WebRTCViewer struct {
	id     string
	pc     *webrtc.PeerConnection
	tracks [2]*webrtc.TrackLocalStaticSample
	clocks [2]*webrtcHelper.SampleClock
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ Viewer = (*WebRTCViewer)(nil)

// NewWebRTCViewer answers offer and returns the viewer with the answer
// SDP. ICE gathering completes before it returns, so the answer carries
// every candidate.
func NewWebRTCViewer(ctx context.Context, offer string, cfg WebRTCConfig) (*WebRTCViewer, string, error) {
	if err := validateOffer(offer); err != nil {
		return nil, "", err
	}
	videoMime := mimeTypeFor(cfg.Meta.VideoCodec)
	if videoMime == "" || videoMime == webrtc.MimeTypeOpus {
		return nil, "", fmt.Errorf("video codec %q cannot be sent over WebRTC", cfg.Meta.VideoCodec)
	}
	mimes := []string{videoMime}
	audioMime := mimeTypeFor(cfg.Meta.AudioCodec)
	if audioMime == webrtc.MimeTypeOpus {
		mimes = append(mimes, audioMime)
	} else if cfg.Meta.AudioCodec != "" {
		cfg.Logger.Warn().Str("codec", cfg.Meta.AudioCodec).Msg("audio codec not supported over WebRTC, sending video only")
	}
	api, err := newAPI(mimes...)
	if err != nil {
		return nil, "", err
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, "", fmt.Errorf("create peer connection: %w", err)
	}

	v := &WebRTCViewer{
		id:     uuid.NewString(),
		pc:     pc,
		done:   make(chan struct{}),
		clocks: [2]*webrtcHelper.SampleClock{webrtcHelper.NewSampleClock(sdriver.StreamVideo), webrtcHelper.NewSampleClock(sdriver.StreamAudio)},
	}
	v.logger = cfg.Logger.With().Str("viewer", v.id).Logger()

	fail := func(err error) (*WebRTCViewer, string, error) {
		pc.Close()
		return nil, "", err
	}

	streamID := generateStreamID()
	videoStream, audioStream := streamID+"_video", streamID+"_audio"
	if cfg.AVSync {
		videoStream, audioStream = streamID, streamID
	}
	for _, t := range []struct {
		kind   sdriver.StreamKind
		mime   string
		stream string
	}{
		{sdriver.StreamVideo, videoMime, videoStream},
		{sdriver.StreamAudio, audioMime, audioStream},
	} {
		if t.kind == sdriver.StreamAudio && t.mime != webrtc.MimeTypeOpus {
			continue
		}
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: t.mime}, t.kind.String()+"-track", t.stream)
		if err != nil {
			return fail(fmt.Errorf("create %s track: %w", t.kind, err))
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fail(fmt.Errorf("add %s track: %w", t.kind, err))
		}
		v.tracks[t.kind] = track
		if t.kind == sdriver.StreamVideo && cfg.RequestKeyframe != nil {
			go webrtcHelper.HandleRTCP(sender, cfg.RequestKeyframe)
		} else {
			go webrtcHelper.HandleRTCP(sender, func() {})
		}
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		v.logger.Debug().Stringer("state", s).Msg("peer connection state")
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			v.Close()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return fail(fmt.Errorf("set remote description: %w", err))
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("create answer: %w", err))
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	return v, pc.LocalDescription().SDP, nil
}

func (v *WebRTCViewer) ID() string { return v.id }

// Done is closed when the peer connection is gone.
func (v *WebRTCViewer) Done() <-chan struct{} { return v.done }

func (v *WebRTCViewer) Send(f sdriver.Frame) error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return ErrViewerClosed
	}
	if int(f.Kind) >= len(v.tracks) || v.tracks[f.Kind] == nil {
		return nil
	}
	if err := v.tracks[f.Kind].WriteSample(v.clocks[f.Kind].Sample(f)); err != nil {
		return fmt.Errorf("write %s sample: %w", f.Kind, err)
	}
	return nil
}

func (v *WebRTCViewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	close(v.done)
	v.mu.Unlock()
	return v.pc.Close()
}

func generateStreamID() string {
	return "adbcast-" + uuid.NewString()
}
