package recorder

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	wire "adbcast/scrcpy"
	"adbcast/sdriver"
)

const (
	DefaultOutputDir     = "./media/video"
	DefaultFormat        = "mp4"
	DefaultResultTimeout = 10 * time.Second

	writeTimeout = 2 * time.Second
	resultSize   = 16
	queueSize    = 256
)

// Manager hands out one Bridge per session. Its zero Launcher, Catalog
// and Archive disable the matching step.
type Manager struct {
	Server        *Server
	Launcher      *Launcher
	Catalog       *Catalog
	Archive       *Archive
	OutputDir     string
	Format        string
	ResultTimeout time.Duration

	// OnFault is called once per recording that fails.
	OnFault func()
	Logger  zerolog.Logger
}

// Bridge streams one session to its muxer. It implements sdriver.Recorder;
// failures are logged, disable the bridge and never reach the session.
type Bridge struct {
	m         *Manager
	sessionID string
	scid      uint32
	device    string
	format    string
	path      string
	options   map[string]string

	mu       sync.Mutex
	conn     net.Conn
	queue    chan []byte
	drained  chan struct{}
	cmd      *exec.Cmd
	disabled bool
	started  time.Time
	logger   zerolog.Logger
}

var _ sdriver.Recorder = (*Bridge)(nil)

// NewBridge prepares the recording of one session. The output file is
// <output_dir>/<device>_<scid>.<format>.
func (m *Manager) NewBridge(device, sessionID string, scid uint32, opts wire.Options) *Bridge {
	format := m.Format
	if format == "" {
		format = DefaultFormat
	}
	dir := m.OutputDir
	if dir == "" {
		dir = DefaultOutputDir
	}
	return &Bridge{
		m:         m,
		sessionID: sessionID,
		scid:      scid,
		device:    device,
		format:    format,
		path:      filepath.Join(dir, fmt.Sprintf("%s_%d.%s", device, scid, format)),
		options:   opts.Map(),
		logger:    m.Logger.With().Str("session", sessionID).Str("device", device).Logger(),
	}
}

func (b *Bridge) Path() string { return b.path }

// Start launches the muxer if configured, waits for it to attach and
// sends the stream description followed by the config units.
func (b *Bridge) Start(ctx context.Context, meta sdriver.MediaMeta, configs []sdriver.Frame) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return b.fail(fmt.Errorf("%w: output dir: %w", ErrRecorder, err))
	}
	if b.m.Launcher != nil {
		cmd, err := b.m.Launcher.Start(b.sessionID, b.path, b.format, b.logger)
		if err != nil {
			return b.fail(err)
		}
		b.cmd = cmd
	}
	conn, err := b.m.Server.Await(ctx, b.sessionID)
	if err != nil {
		b.reap(0)
		return b.fail(err)
	}

	buf := make([]byte, 0, 16)
	video := wire.CodecTag(meta.VideoCodec)
	buf = append(buf, video[:]...)
	buf = binary.BigEndian.AppendUint32(buf, meta.Width)
	buf = binary.BigEndian.AppendUint32(buf, meta.Height)
	audio := wire.CodecTag(meta.AudioCodec)
	buf = append(buf, audio[:]...)
	for _, f := range configs {
		buf = f.Header.AppendTo(buf)
		buf = append(buf, f.Payload...)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(buf); err != nil {
		conn.Close()
		b.reap(0)
		return b.fail(fmt.Errorf("%w: write preamble: %w", ErrRecorder, err))
	}

	queue, drained := make(chan []byte, queueSize), make(chan struct{})
	b.mu.Lock()
	b.conn = conn
	b.queue, b.drained = queue, drained
	b.started = time.Now()
	b.mu.Unlock()
	go b.pump(conn, queue, drained)
	b.logger.Info().Str("output", b.path).Str("format", b.format).Msg("recording started")
	return nil
}

// Write queues f with its header and never waits on the muxer. A full
// queue or a failed write disables the bridge for good.
func (b *Bridge) Write(f sdriver.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue == nil || b.disabled {
		return
	}
	buf := make([]byte, 0, wire.FrameHeaderSize+len(f.Payload))
	buf = f.Header.AppendTo(buf)
	buf = append(buf, f.Payload...)
	select {
	case b.queue <- buf:
	default:
		b.disabled = true
		b.conn.Close()
		b.fail(fmt.Errorf("%w: muxer too slow, dropped %s frame", ErrRecorder, f.Kind))
	}
}

// pump drains queue into conn until Stop closes it.
func (b *Bridge) pump(conn net.Conn, queue <-chan []byte, drained chan<- struct{}) {
	defer close(drained)
	for buf := range queue {
		b.mu.Lock()
		disabled := b.disabled
		b.mu.Unlock()
		if disabled {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(buf); err != nil {
			b.mu.Lock()
			first := !b.disabled
			b.disabled = true
			b.mu.Unlock()
			conn.Close()
			if first {
				b.fail(fmt.Errorf("%w: write frame: %w", ErrRecorder, err))
			}
		}
	}
}

// Stop flushes the queue, collects the muxer's result and registers the
// recording. An invalid result removes the output file.
func (b *Bridge) Stop(ctx context.Context) {
	b.mu.Lock()
	conn, queue, drained := b.conn, b.queue, b.drained
	b.conn, b.queue = nil, nil
	b.mu.Unlock()
	if conn == nil {
		return
	}
	defer b.reap(DefaultResultTimeout)
	close(queue)
	<-drained

	b.mu.Lock()
	disabled := b.disabled
	b.mu.Unlock()
	if disabled {
		conn.Close()
		b.discard()
		return
	}

	duration, size, err := b.result(conn)
	conn.Close()
	if err == nil && duration == 0 {
		err = fmt.Errorf("%w: muxer reported an empty recording", ErrRecorder)
	}
	if err != nil {
		b.fail(err)
		b.discard()
		return
	}

	rec := Recording{
		SessionID:  b.sessionID,
		SCID:       b.scid,
		Device:     b.device,
		Format:     b.format,
		DurationMS: duration,
		SizeBytes:  size,
		Path:       b.path,
		StartedAt:  b.started,
		FinishedAt: time.Now(),
	}
	if opts, err := json.Marshal(b.options); err == nil {
		rec.Options = string(opts)
	}
	if b.m.Archive != nil {
		key, err := b.m.Archive.Upload(ctx, b.device, b.path)
		if err != nil {
			b.logger.Warn().Err(err).Msg("recording not archived")
		} else {
			rec.ArchiveKey = key
		}
	}
	if b.m.Catalog != nil {
		if err := b.m.Catalog.Insert(ctx, rec); err != nil {
			b.logger.Warn().Err(err).Msg("recording not cataloged")
		}
	}
	b.logger.Info().Uint64("duration_ms", duration).Uint64("size", size).Str("output", b.path).Msg("recording finished")
}

// result half-closes the stream and reads {u64 duration_ms}{u64 size}.
func (b *Bridge) result(conn net.Conn) (uint64, uint64, error) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return 0, 0, fmt.Errorf("%w: close write: %w", ErrRecorder, err)
		}
	}
	timeout := b.m.ResultTimeout
	if timeout <= 0 {
		timeout = DefaultResultTimeout
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	var res [resultSize]byte
	if _, err := io.ReadFull(conn, res[:]); err != nil {
		return 0, 0, fmt.Errorf("%w: read result: %w", ErrRecorder, err)
	}
	return binary.BigEndian.Uint64(res[0:8]), binary.BigEndian.Uint64(res[8:16]), nil
}

func (b *Bridge) fail(err error) error {
	b.logger.Warn().Err(err).Msg("recording disabled")
	if b.m.OnFault != nil {
		b.m.OnFault()
	}
	return err
}

func (b *Bridge) discard() {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		b.logger.Warn().Err(err).Str("output", b.path).Msg("remove recording")
	}
}

// reap gives the muxer grace to exit and kills it afterwards.
func (b *Bridge) reap(grace time.Duration) {
	if b.cmd == nil {
		return
	}
	cmd := b.cmd
	b.cmd = nil
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	select {
	case err := <-exited:
		if err != nil {
			b.logger.Debug().Err(err).Msg("muxer exited")
		}
	case <-time.After(grace):
		cmd.Process.Kill()
		<-exited
		b.logger.Warn().Msg("muxer killed")
	}
}
