package sagent

import (
	"sync"

	"adbcast/sdriver"
)

type subscriber struct {
	viewer Viewer
	queue  chan sdriver.Frame
	done   chan struct{}
	once   sync.Once
}

func newSubscriber(v Viewer, size int) *subscriber {
	return &subscriber{
		viewer: v,
		queue:  make(chan sdriver.Frame, size),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) offer(f sdriver.Frame) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.queue <- f:
		return true
	default:
		return false
	}
}

func (s *subscriber) stop() { s.once.Do(func() { close(s.done) }) }

// pump hands queued frames to the viewer until it is stopped or a send
// fails.
func (s *subscriber) pump(b *Broadcaster) {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.queue:
			if err := s.viewer.Send(f); err != nil {
				if n, ok := b.evict(s, err); ok {
					b.retire(s, n)
				}
				return
			}
		}
	}
}
