// Package streamServer shares one mirroring session per device between
// any number of viewers.
package streamServer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	wire "adbcast/scrcpy"
	"adbcast/sdriver"
	sagent "adbcast/streamAgent"
)

const (
	DefaultStartTimeout = 30 * time.Second
	DefaultStopTimeout  = 10 * time.Second

	tracerName = "adbcast/streamServer"
)

var ErrShutdown = errors.New("registry shut down")

// Factory builds the driver of a new session on deviceID. Frames must go
// to sink.
type Factory func(deviceID string, opts wire.Options, sink sdriver.FrameSink) (sdriver.Driver, error)

// entry is the shared state of one device. pending counts attachers
// between lookup and viewer registration; the session is only stopped
// when it is zero and the broadcaster is empty.
type entry struct {
	device string
	bc     *sagent.Broadcaster
	driver sdriver.Driver

	// previous is the Done channel of a session on the same device that
	// was still stopping when this entry was created.
	previous <-chan struct{}

	ready   chan struct{}
	err     error
	pending int
	started bool

	stopOnce sync.Once
	endOnce  sync.Once
}

type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	stopping map[string]<-chan struct{}
	closed   bool
	wg       sync.WaitGroup

	factory      Factory
	queueSize    int
	startTimeout time.Duration
	stopTimeout  time.Duration
	metrics      *Metrics
	events       Publisher
	tracer       trace.Tracer
	logger       zerolog.Logger
}

type Option func(*Registry)

func WithQueueSize(n int) Option {
	return func(r *Registry) { r.queueSize = n }
}

func WithStartTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.startTimeout = d
		}
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.events = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		entries:      make(map[string]*entry),
		stopping:     make(map[string]<-chan struct{}),
		factory:      factory,
		queueSize:    sagent.DefaultQueueSize,
		startTimeout: DefaultStartTimeout,
		stopTimeout:  DefaultStopTimeout,
		events:       nopPublisher{},
		tracer:       otel.Tracer(tracerName),
		logger:       log.Logger,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	r.metrics.bind(r)
	return r
}

func (r *Registry) Metrics() *Metrics { return r.metrics }

// Attach joins viewer to the session of deviceID, starting it first if
// no session runs yet. Concurrent attachers of a device that is starting
// wait for the same start and share its result. opts only matter to the
// attacher that starts the session.
func (r *Registry) Attach(ctx context.Context, deviceID string, opts wire.Options, viewer sagent.Viewer) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShutdown
	}
	e, ok := r.entries[deviceID]
	if !ok {
		e = r.newEntry(deviceID)
		r.entries[deviceID] = e
		r.wg.Add(1)
		go r.start(ctx, e, opts)
	}
	e.pending++
	r.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		r.release(e)
		return nil, ctx.Err()
	}
	if e.err != nil {
		r.release(e)
		return nil, e.err
	}

	err := e.bc.Attach(viewer)
	r.release(e)
	if err != nil {
		if errors.Is(err, sagent.ErrClosed) {
			return nil, fmt.Errorf("attach %s: session ended", deviceID)
		}
		return nil, fmt.Errorf("attach %s: %w", deviceID, err)
	}
	r.logger.Info().Str("device", deviceID).Str("viewer", viewer.ID()).Int("viewers", e.bc.Len()).Msg("viewer attached")
	return &Handle{registry: r, entry: e, viewer: viewer}, nil
}

func (r *Registry) newEntry(deviceID string) *entry {
	e := &entry{device: deviceID, ready: make(chan struct{}), previous: r.stopping[deviceID]}
	e.bc = sagent.NewBroadcaster(
		sagent.WithQueueSize(r.queueSize),
		sagent.WithObserver(r.metrics),
		sagent.WithLogger(r.logger.With().Str("device", deviceID).Logger()),
		sagent.OnEmpty(func() { r.maybeStop(e) }),
	)
	return e
}

// start runs detached from the attacher's cancellation so one impatient
// viewer cannot fail the start for everyone else waiting on it.
func (r *Registry) start(ctx context.Context, e *entry, opts wire.Options) {
	defer r.wg.Done()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.startTimeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "session.start", trace.WithAttributes(attribute.String("device", e.device)))
	defer span.End()

	began := time.Now()
	err := r.awaitPrevious(ctx, e)
	if err == nil {
		err = r.startDriver(ctx, e, opts)
	}
	r.metrics.observeStart(time.Since(began), err)

	r.mu.Lock()
	if err != nil {
		e.err = err
		if r.entries[e.device] == e {
			delete(r.entries, e.device)
		}
	} else {
		e.started = true
		span.SetAttributes(attribute.String("session", e.driver.ID()))
	}
	close(e.ready)
	r.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.bc.Close()
		r.logger.Error().Err(err).Str("device", e.device).Msg("session start failed")
		r.publish(e, "", "failed")
		return
	}
	meta := e.driver.Meta()
	r.logger.Info().Str("device", e.device).Str("session", e.driver.ID()).
		Str("video", meta.VideoCodec).Str("audio", meta.AudioCodec).
		Uint32("width", meta.Width).Uint32("height", meta.Height).
		Msg("session started")
	r.publish(e, e.driver.ID(), "started")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		<-e.driver.Done()
		r.ended(e)
	}()
	// Every attacher may have given up while the session was starting.
	r.maybeStop(e)
}

// awaitPrevious holds a restart until the device's previous session has
// finished its cleanup.
func (r *Registry) awaitPrevious(ctx context.Context, e *entry) error {
	if e.previous == nil {
		return nil
	}
	select {
	case <-e.previous:
		return nil
	default:
	}
	r.logger.Debug().Str("device", e.device).Msg("waiting for the previous session to stop")
	select {
	case <-e.previous:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("previous session on %s still stopping: %w", e.device, ctx.Err())
	}
}

func (r *Registry) startDriver(ctx context.Context, e *entry, opts wire.Options) error {
	drv, err := r.factory(e.device, opts, e.bc)
	if err != nil {
		return fmt.Errorf("create session for %s: %w", e.device, err)
	}
	e.driver = drv
	if err := drv.Start(ctx); err != nil {
		return fmt.Errorf("start session for %s: %w", e.device, err)
	}
	return nil
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	e.pending--
	r.mu.Unlock()
	r.maybeStop(e)
}

// maybeStop stops the session once nobody watches or waits on it.
func (r *Registry) maybeStop(e *entry) {
	r.mu.Lock()
	idle := e.started && e.pending == 0 && e.bc.Len() == 0
	if idle && r.entries[e.device] == e {
		delete(r.entries, e.device)
		r.stopping[e.device] = e.driver.Done()
	}
	r.mu.Unlock()
	if idle {
		r.stop(e, "last viewer left")
	}
}

func (r *Registry) stop(e *entry, reason string) {
	select {
	case <-e.driver.Done():
		return
	default:
	}
	e.stopOnce.Do(func() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.stopTimeout)
			defer cancel()
			ctx, span := r.tracer.Start(ctx, "session.stop", trace.WithAttributes(
				attribute.String("device", e.device),
				attribute.String("session", e.driver.ID()),
				attribute.String("reason", reason),
			))
			defer span.End()
			r.logger.Info().Str("device", e.device).Str("reason", reason).Msg("stopping session")
			if err := e.driver.Stop(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				r.logger.Warn().Err(err).Str("device", e.device).Msg("session stop incomplete")
			}
		}()
	})
}

// ended runs once the driver is fully stopped, whoever stopped it.
func (r *Registry) ended(e *entry) {
	e.endOnce.Do(func() {
		r.mu.Lock()
		if r.entries[e.device] == e {
			delete(r.entries, e.device)
		}
		if r.stopping[e.device] == e.driver.Done() {
			delete(r.stopping, e.device)
		}
		r.mu.Unlock()
		e.bc.Close()
		r.logger.Info().Str("device", e.device).Str("session", e.driver.ID()).Msg("session ended")
		r.publish(e, e.driver.ID(), "stopped")
	})
}

func (r *Registry) publish(e *entry, sessionID, state string) {
	ev := LifecycleEvent{Device: e.device, Session: sessionID, State: state, At: time.Now().UTC()}
	if err := r.events.Publish(ev); err != nil {
		r.logger.Warn().Err(err).Str("device", e.device).Str("state", state).Msg("lifecycle event not published")
	}
}

// Session returns the running driver of deviceID, if any.
func (r *Registry) Session(deviceID string) (sdriver.Driver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[deviceID]
	if !ok || !e.started {
		return nil, false
	}
	return e.driver, true
}

// Devices lists the devices with a running session.
func (r *Registry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.started {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) counts() (sessions, viewers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.started {
			sessions++
			viewers += e.bc.Len()
		}
	}
	return sessions, viewers
}

// Shutdown refuses new attaches, stops every session and waits for all
// of them to end or ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		select {
		case <-e.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		if e.err == nil {
			r.stop(e, "shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
