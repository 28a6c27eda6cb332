package sdriver

import "context"

// Driver is one running mirroring session on a device.
type Driver interface {
	ID() string
	Start(ctx context.Context) error
	// Stop tears the session down and returns once every background task
	// has finished. It is safe to call more than once.
	Stop(ctx context.Context) error
	// Done is closed once the session has stopped for any reason.
	Done() <-chan struct{}
	State() State
	Meta() MediaMeta
	Resolution() Size
	Send(ctx context.Context, ev Event) (Reply, error)
}

// FrameSink receives the demuxed streams of a session. Config is called
// with every decoder configuration unit, Frame with everything else, in
// wire order per stream.
type FrameSink interface {
	Config(f Frame)
	Frame(f Frame)
	Close()
}

// Recorder receives every frame, headers included, for persistence.
// Failures stay inside the recorder.
type Recorder interface {
	Start(ctx context.Context, meta MediaMeta, configs []Frame) error
	Write(f Frame)
	Stop(ctx context.Context)
}
