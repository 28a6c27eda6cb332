package scrcpy

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"adbcast/adb"
	"adbcast/sdriver"
	wire "adbcast/scrcpy"
)

// spsLandscape is a baseline H.264 SPS coding 1920x1080 (1088 rows
// cropped by 8).
var spsLandscape = []byte{0x67, 0x42, 0x00, 0x28, 0xda, 0x01, 0xe0, 0x08, 0x9f, 0x95}

func annexB(nals ...[]byte) []byte {
	var b []byte
	for _, n := range nals {
		b = append(b, 0, 0, 0, 1)
		b = append(b, n...)
	}
	return b
}

func frameBytes(pts uint64, config, key bool, payload []byte) []byte {
	raw := pts
	if config {
		raw |= 1 << 63
	}
	if key {
		raw |= 1 << 62
	}
	b := binary.BigEndian.AppendUint64(nil, raw)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

func videoPreamble(name, codec string, w, h uint32) []byte {
	b := []byte{0}
	var n [wire.DeviceNameSize]byte
	copy(n[:], name)
	b = append(b, n[:]...)
	tag := wire.CodecTag(codec)
	b = append(b, tag[:]...)
	b = binary.BigEndian.AppendUint32(b, w)
	return binary.BigEndian.AppendUint32(b, h)
}

// fakeDevice plays both the adb daemon and the scrcpy server behind it.
// Logical sockets are numbered in open order: video, audio, control.
type fakeDevice struct {
	t      *testing.T
	ln     net.Listener
	serial string
	socket string

	// greet writes the server side preamble of logical socket i.
	greet func(i int, c net.Conn)

	opened  atomic.Int32
	sockets chan net.Conn
	shell   chan string
	pushed  chan []byte

	quit chan struct{}
	wg   sync.WaitGroup
}

func startFakeDevice(t *testing.T, scid uint32, greet func(i int, c net.Conn)) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	d := &fakeDevice{
		t:       t,
		ln:      ln,
		serial:  "emulator-5554",
		socket:  wire.SocketName(scid),
		greet:   greet,
		sockets: make(chan net.Conn, 3),
		shell:   make(chan string, 1),
		pushed:  make(chan []byte, 1),
		quit:    make(chan struct{}),
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer c.Close()
				d.serve(c)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		close(d.quit)
		d.wg.Wait()
	})
	return d
}

func (d *fakeDevice) client() *adb.Client {
	c := adb.NewClient(d.ln.Addr().String())
	c.Attempts = 50
	c.Interval = 2 * time.Millisecond
	return c
}

func (d *fakeDevice) serve(c net.Conn) {
	cmd, err := readCmd(c)
	if err != nil {
		return
	}
	if cmd != "host:transport:"+d.serial {
		writeFail(c, "device '"+cmd+"' not found")
		return
	}
	c.Write([]byte("OKAY"))
	svc, err := readCmd(c)
	if err != nil {
		return
	}
	switch {
	case svc == "sync:":
		c.Write([]byte("OKAY"))
		d.serveSync(c)
	case strings.HasPrefix(svc, "shell:"):
		c.Write([]byte("OKAY"))
		d.shell <- strings.TrimPrefix(svc, "shell:")
		io.WriteString(c, "[server] INFO: Device: fake\n")
		<-d.quit
	case svc == "localabstract:"+d.socket:
		c.Write([]byte("OKAY"))
		i := int(d.opened.Add(1)) - 1
		if d.greet != nil {
			d.greet(i, c)
		}
		d.sockets <- c
		<-d.quit
	default:
		writeFail(c, "unknown service "+svc)
	}
}

func (d *fakeDevice) serveSync(c net.Conn) {
	var content []byte
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(c, hdr[:]); err != nil {
			return
		}
		n := binary.LittleEndian.Uint32(hdr[4:])
		switch string(hdr[:4]) {
		case "SEND":
			io.CopyN(io.Discard, c, int64(n))
			content = content[:0]
			for {
				if _, err := io.ReadFull(c, hdr[:]); err != nil {
					return
				}
				n := binary.LittleEndian.Uint32(hdr[4:])
				if string(hdr[:4]) == "DONE" {
					break
				}
				chunk := make([]byte, n)
				io.ReadFull(c, chunk)
				content = append(content, chunk...)
			}
			d.pushed <- append([]byte(nil), content...)
			c.Write(syncPacket("OKAY", 0))
		case "STAT":
			io.CopyN(io.Discard, c, int64(n))
			c.Write(syncPacket("STAT", 0o100755, uint32(len(content)), 0))
		default:
			return
		}
	}
}

// socket waits for the next logical socket the session opened.
func (d *fakeDevice) socketConn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.sockets:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no logical socket opened")
		return nil
	}
}

func readCmd(c net.Conn) (string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(string(hdr[:]), 16, 16)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(c, buf)
	return string(buf), err
}

func writeFail(c net.Conn, msg string) {
	fmt.Fprintf(c, "FAIL%04x%s", len(msg), msg)
}

func syncPacket(id string, fields ...uint32) []byte {
	b := []byte(id)
	for _, f := range fields {
		b = binary.LittleEndian.AppendUint32(b, f)
	}
	return b
}

func writeServerJar(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scrcpy-server")
	require.NoError(t, os.WriteFile(p, []byte("fake server jar"), 0o644))
	return p
}

// recordingSink collects what a session delivers.
type recordingSink struct {
	mu      sync.Mutex
	configs []sdriver.Frame
	frames  chan sdriver.Frame
	closed  chan struct{}
	once    sync.Once
}

func newRecordingSink() *recordingSink {
	return &recordingSink{frames: make(chan sdriver.Frame, 64), closed: make(chan struct{})}
}

func (s *recordingSink) Config(f sdriver.Frame) {
	s.mu.Lock()
	s.configs = append(s.configs, f)
	s.mu.Unlock()
}

func (s *recordingSink) Frame(f sdriver.Frame) { s.frames <- f }

func (s *recordingSink) Close() { s.once.Do(func() { close(s.closed) }) }

func (s *recordingSink) Configs() []sdriver.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sdriver.Frame(nil), s.configs...)
}

func (s *recordingSink) next(t *testing.T) sdriver.Frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame delivered")
		return sdriver.Frame{}
	}
}

// memRecorder keeps every frame it is handed.
type memRecorder struct {
	mu      sync.Mutex
	meta    sdriver.MediaMeta
	configs []sdriver.Frame
	frames  []sdriver.Frame
	stopped int
	fail    error
}

func (r *memRecorder) Start(_ context.Context, meta sdriver.MediaMeta, configs []sdriver.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta, r.configs = meta, configs
	return r.fail
}

func (r *memRecorder) Write(f sdriver.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *memRecorder) Stop(context.Context) {
	r.mu.Lock()
	r.stopped++
	r.mu.Unlock()
}

func testConfig(d *fakeDevice, sink sdriver.FrameSink, jar string) Config {
	return Config{
		Serial:           d.serial,
		ServerJar:        jar,
		SessionID:        "0123456789abcdef0123456789abcdef",
		SCID:             0x01234567,
		HandshakeTimeout: 2 * time.Second,
		ADB:              d.client(),
		Sink:             sink,
		Logger:           zerolog.Nop(),
	}
}
