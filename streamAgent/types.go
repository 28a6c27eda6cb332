// Package sagent fans a session's frames out to its viewers.
package sagent

import (
	"errors"

	"adbcast/sdriver"
)

// Viewer is one consumer of a session's streams: a websocket, a WebRTC
// peer, or anything else a transport provides. Send is called from a
// goroutine owned by the broadcaster, one frame at a time, in wire order
// per stream.
type Viewer interface {
	ID() string
	Send(f sdriver.Frame) error
	Close() error
}

var (
	ErrClosed        = errors.New("broadcaster closed")
	ErrDuplicate     = errors.New("viewer already attached")
	ErrQueueOverflow = errors.New("viewer queue overflow")
	ErrViewerClosed  = errors.New("viewer closed")
)

// Observer is told about delivery outcomes, for metrics.
type Observer interface {
	FrameBroadcast(kind sdriver.StreamKind, bytes int)
	ViewerEvicted(reason error)
}

type nopObserver struct{}

func (nopObserver) FrameBroadcast(sdriver.StreamKind, int) {}
func (nopObserver) ViewerEvicted(error)                    {}

const DefaultQueueSize = 256
