package sagent

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"adbcast/sdriver"
)

// Broadcaster delivers every frame of a session to all attached viewers.
// Each viewer has its own bounded queue drained by its own goroutine, so
// a slow viewer is evicted instead of stalling the demux loop or the other
// viewers. It implements sdriver.FrameSink.
type Broadcaster struct {
	mu      sync.RWMutex
	viewers map[string]*subscriber
	configs [2]*sdriver.Frame
	closed  bool

	queueSize int
	onEmpty   func()
	observer  Observer
	logger    zerolog.Logger
}

var _ sdriver.FrameSink = (*Broadcaster)(nil)

type Option func(*Broadcaster)

func WithQueueSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

func WithObserver(o Observer) Option {
	return func(b *Broadcaster) { b.observer = o }
}

// OnEmpty registers fn to run when an eviction removes the last viewer.
func OnEmpty(fn func()) Option {
	return func(b *Broadcaster) { b.onEmpty = fn }
}

func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		viewers:   make(map[string]*subscriber),
		queueSize: DefaultQueueSize,
		observer:  nopObserver{},
		logger:    log.Logger,
	}
	for _, o := range opts {
		o(b)
	}
	// Room for the replayed config units.
	b.queueSize = max(b.queueSize, len(b.configs)+1)
	return b
}

// Attach registers v. The cached config units are queued ahead of any
// live frame, so a late joiner always starts with them.
func (b *Broadcaster) Attach(v Viewer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.viewers[v.ID()]; ok {
		return ErrDuplicate
	}
	s := newSubscriber(v, b.queueSize)
	for _, f := range b.configs {
		if f != nil {
			s.queue <- *f
		}
	}
	b.viewers[v.ID()] = s
	go s.pump(b)
	b.logger.Debug().Str("viewer", v.ID()).Int("viewers", len(b.viewers)).Msg("viewer attached")
	return nil
}

// Detach removes v without closing it and returns how many viewers remain.
// Detaching an unknown viewer is a no-op.
func (b *Broadcaster) Detach(v Viewer) int {
	n, _ := b.remove(v.ID())
	return n
}

func (b *Broadcaster) remove(id string) (int, bool) {
	b.mu.Lock()
	s, ok := b.viewers[id]
	if ok {
		delete(b.viewers, id)
	}
	n := len(b.viewers)
	b.mu.Unlock()
	if ok {
		s.stop()
		b.logger.Debug().Str("viewer", id).Int("viewers", n).Msg("viewer detached")
	}
	return n, ok
}

// evict detaches a viewer that failed delivery. It reports whether s was
// still attached and how many viewers remain.
func (b *Broadcaster) evict(s *subscriber, reason error) (int, bool) {
	n, ok := b.remove(s.viewer.ID())
	if !ok {
		return n, false
	}
	b.logger.Warn().Str("viewer", s.viewer.ID()).Err(reason).Msg("viewer evicted")
	b.observer.ViewerEvicted(reason)
	return n, true
}

// retire closes an evicted viewer. Closing can block on the viewer's
// transport, so it never runs on the demux path.
func (b *Broadcaster) retire(s *subscriber, remaining int) {
	s.viewer.Close()
	if remaining == 0 && b.onEmpty != nil {
		b.onEmpty()
	}
}

// Len is the number of attached viewers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewers)
}

// Config stores a config unit for replay to late joiners and delivers it
// to the current viewers.
func (b *Broadcaster) Config(f sdriver.Frame) {
	b.mu.Lock()
	if int(f.Kind) < len(b.configs) {
		b.configs[f.Kind] = &f
	}
	b.mu.Unlock()
	b.Frame(f)
}

// Frame queues f for every viewer without blocking.
func (b *Broadcaster) Frame(f sdriver.Frame) {
	var full []*subscriber
	b.mu.RLock()
	for _, s := range b.viewers {
		if !s.offer(f) {
			full = append(full, s)
		}
	}
	b.mu.RUnlock()
	b.observer.FrameBroadcast(f.Kind, len(f.Payload))
	for _, s := range full {
		if n, ok := b.evict(s, ErrQueueOverflow); ok {
			go b.retire(s, n)
		}
	}
}

// Close closes every viewer. Attach fails afterwards.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.viewers
	b.viewers = map[string]*subscriber{}
	b.mu.Unlock()
	for _, s := range subs {
		s.stop()
		s.viewer.Close()
	}
	if len(subs) > 0 {
		b.logger.Debug().Int("viewers", len(subs)).Msg("closed viewers")
	}
}
