package streamServer

import (
	"context"
	"sync"

	"adbcast/sdriver"
	sagent "adbcast/streamAgent"
)

// Controller sends control events to the device behind a session.
type Controller interface {
	Send(ctx context.Context, ev sdriver.Event) (sdriver.Reply, error)
}

// Handle is one viewer's membership in a device session.
type Handle struct {
	registry *Registry
	entry    *entry
	viewer   sagent.Viewer
	once     sync.Once
}

func (h *Handle) Controller() Controller  { return h.entry.driver }
func (h *Handle) Meta() sdriver.MediaMeta { return h.entry.driver.Meta() }
func (h *Handle) Resolution() sdriver.Size {
	return h.entry.driver.Resolution()
}
func (h *Handle) SessionID() string { return h.entry.driver.ID() }

// Done is closed when the session ends.
func (h *Handle) Done() <-chan struct{} { return h.entry.driver.Done() }

// Detach removes the viewer from the session without closing it. The
// session stops when its last viewer leaves. Calling Detach again is a
// no-op.
func (h *Handle) Detach() {
	h.once.Do(func() {
		n := h.entry.bc.Detach(h.viewer)
		h.registry.logger.Info().Str("device", h.entry.device).Str("viewer", h.viewer.ID()).Int("viewers", n).Msg("viewer detached")
		h.registry.maybeStop(h.entry)
	})
}
