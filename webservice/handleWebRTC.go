package webservice

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"adbcast/sdriver"
	sagent "adbcast/streamAgent"
)

const (
	webrtcAnswerTimeout    = 10 * time.Second
	keyframeRequestTimeout = 2 * time.Second
)

type webrtcRequest struct {
	SDP    string         `json:"sdp" binding:"required"`
	Config map[string]any `json:"config"`
	AVSync bool           `json:"av_sync"`
}

// relayViewer joins a session before the peer connection exists: the
// tracks can only be built once the session's codecs are known. Until
// bind it keeps the latest config unit per stream and drops the rest.
type relayViewer struct {
	id string

	mu      sync.Mutex
	target  sagent.Viewer
	configs []sdriver.Frame
	closed  bool
}

func newRelayViewer() *relayViewer { return &relayViewer{id: uuid.NewString()} }

func (r *relayViewer) ID() string { return r.id }

func (r *relayViewer) Send(f sdriver.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return sagent.ErrViewerClosed
	}
	if r.target != nil {
		return r.target.Send(f)
	}
	if f.IsConfig() {
		for i, c := range r.configs {
			if c.Kind == f.Kind {
				r.configs[i] = f
				return nil
			}
		}
		r.configs = append(r.configs, f)
	}
	return nil
}

// bind flushes the held config units to v and forwards everything after.
func (r *relayViewer) bind(v sagent.Viewer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return sagent.ErrViewerClosed
	}
	for _, f := range r.configs {
		if err := v.Send(f); err != nil {
			return err
		}
	}
	r.configs = nil
	r.target = v
	return nil
}

func (r *relayViewer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.target != nil {
		return r.target.Close()
	}
	return nil
}

// POST /webrtc/:device {sdp, config} -> {sdp}
func (wm *WebMaster) handleWebRTC(c *gin.Context) {
	device := deviceParam(c)
	var req webrtcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	opts, err := wm.sessionOptions(req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	relay := newRelayViewer()
	h, err := wm.registry.Attach(c.Request.Context(), device, opts, relay)
	if err != nil {
		wm.logger.Warn().Err(err).Str("device", device).Msg("attach failed")
		c.JSON(attachStatus(err), gin.H{"error": err.Error()})
		return
	}

	logger := wm.logger.With().Str("device", device).Str("session", h.SessionID()).Logger()
	ctx, cancel := context.WithTimeout(c.Request.Context(), webrtcAnswerTimeout)
	defer cancel()
	v, answer, err := sagent.NewWebRTCViewer(ctx, req.SDP, sagent.WebRTCConfig{
		ICEServers: wm.iceServers,
		Meta:       h.Meta(),
		RequestKeyframe: func() {
			ctx, cancel := context.WithTimeout(context.Background(), keyframeRequestTimeout)
			defer cancel()
			if _, err := h.Controller().Send(ctx, sdriver.ResetVideoEvent{}); err != nil {
				logger.Debug().Err(err).Msg("keyframe request failed")
			}
		},
		AVSync: req.AVSync,
		Logger: logger,
	})
	if err != nil {
		h.Detach()
		relay.Close()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := relay.bind(v); err != nil {
		// The session evicted the relay while the answer was negotiated.
		h.Detach()
		v.Close()
		c.JSON(http.StatusBadGateway, gin.H{"error": "session ended"})
		return
	}

	go func() {
		select {
		case <-v.Done():
		case <-h.Done():
		}
		h.Detach()
		relay.Close()
	}()
	logger.Info().Str("viewer", v.ID()).Msg("webrtc viewer attached")
	c.JSON(http.StatusOK, gin.H{"sdp": answer})
}
