package webservice

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"adbcast/sdriver"
	sagent "adbcast/streamAgent"
	"adbcast/streamServer"
)

const (
	wsWriteTimeout   = 2 * time.Second
	wsControlTimeout = 5 * time.Second
	wsReadLimit      = 1 << 20
)

// Audio frames share the binary channel with Annex B video (00 00 00 01)
// and control replies (00 00 00 02), so they carry their own prefix.
var wsAudioPrefix = []byte{0x00, 0x00, 0x00, 0x03}

// wsViewer sends a session's payloads as binary websocket messages.
// Writes from the broadcaster and control replies are serialized.
type wsViewer struct {
	id     string
	conn   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var _ sagent.Viewer = (*wsViewer)(nil)

func newWSViewer(conn *websocket.Conn, logger zerolog.Logger) *wsViewer {
	id := uuid.NewString()
	return &wsViewer{id: id, conn: conn, logger: logger.With().Str("viewer", id).Logger()}
}

func (v *wsViewer) ID() string { return v.id }

func (v *wsViewer) Send(f sdriver.Frame) error {
	if f.Kind == sdriver.StreamAudio {
		return v.write(wsAudioPrefix, f.Payload)
	}
	return v.write(nil, f.Payload)
}

func (v *wsViewer) write(prefix, payload []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return sagent.ErrViewerClosed
	}
	v.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	w, err := v.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if len(prefix) > 0 {
		if _, err := w.Write(prefix); err != nil {
			w.Close()
			return err
		}
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Close says goodbye and closes the connection, which also ends the read
// loop of the handler.
func (v *wsViewer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
	v.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	return v.conn.Close()
}

func (wm *WebMaster) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 64 << 10,
		CheckOrigin: func(r *http.Request) bool {
			return wm.originAllowed(r.Header.Get("Origin"))
		},
	}
}

// GET /ws/screen/:device?config=<json>
func (wm *WebMaster) handleScreenWS(c *gin.Context) {
	device := deviceParam(c)
	opts, err := wm.queryOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := wm.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wm.logger.Warn().Err(err).Str("device", device).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(wsReadLimit)

	v := newWSViewer(conn, wm.logger.With().Str("device", device).Logger())
	h, err := wm.registry.Attach(c.Request.Context(), device, opts, v)
	if err != nil {
		wm.logger.Warn().Err(err).Str("device", device).Msg("attach failed")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, truncateReason(err.Error()))
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		conn.Close()
		return
	}
	defer v.Close()
	defer h.Detach()

	wm.listenScreenWS(v, h)
}

// listenScreenWS dispatches the client's control messages until the
// connection closes.
func (wm *WebMaster) listenScreenWS(v *wsViewer, h *streamServer.Handle) {
	var view sdriver.Size
	for {
		mType, msg, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				v.logger.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		if mType != websocket.TextMessage {
			v.logger.Debug().Int("type", mType).Msg("ignoring non-text message")
			continue
		}
		m, err := parseControlMessage(msg)
		if err != nil {
			v.logger.Debug().Err(err).Msg("bad control message")
			continue
		}
		if m.MsgType == msgTypeResolution {
			if size, ok := m.view(); ok {
				view = size
			}
			continue
		}
		events, err := m.events(viewScale{view: view, device: h.Resolution()})
		if err != nil {
			v.logger.Debug().Err(err).Msg("control message dropped")
			continue
		}
		for _, ev := range events {
			if err := wm.dispatch(v, h, ev); err != nil {
				v.logger.Warn().Err(err).Uint8("event", uint8(ev.Type())).Msg("control failed")
				break
			}
		}
	}
}

func (wm *WebMaster) dispatch(v *wsViewer, h *streamServer.Handle, ev sdriver.Event) error {
	timeout := wsControlTimeout
	if sw, ok := ev.(sdriver.SwipeEvent); ok {
		timeout += sw.Duration
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	reply, err := h.Controller().Send(ctx, ev)
	if err != nil {
		return err
	}
	if msg := sagent.FeedbackMessage(ev, reply); msg != nil {
		return v.write(nil, msg)
	}
	return nil
}

// truncateReason keeps a close reason within the 123 bytes a control
// frame allows.
func truncateReason(s string) string {
	if len(s) > 123 {
		return s[:123]
	}
	return s
}
