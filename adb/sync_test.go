package adb

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFS answers sync requests from an in-memory file table.
type fakeFS struct {
	mu       sync.Mutex
	files    map[string][]byte
	chunks   []int
	sendArg  string
	sizeSkew uint32
}

func (fs *fakeFS) serve(c net.Conn) {
	if !expectTransport(c, "X") {
		return
	}
	if cmd, err := readCmd(c); err != nil || cmd != "sync:" {
		writeFail(c, "bad service")
		return
	}
	writeOkay(c)
	for {
		req, err := readSyncRequest(c)
		if err != nil {
			return
		}
		switch req.id {
		case "STAT":
			fs.mu.Lock()
			data, ok := fs.files[req.arg]
			fs.mu.Unlock()
			if !ok {
				c.Write(syncPacket("STAT", 0, 0, 0))
				continue
			}
			c.Write(syncPacket("STAT", 0o100644, uint32(len(data))+fs.sizeSkew, 1700000000))
		case "LIST":
			for _, name := range []string{"a.txt", "b.bin", "c.log"} {
				c.Write(append(syncPacket("DENT", 0o100644, 3, 1700000000, uint32(len(name))), name...))
			}
			c.Write(syncPacket("DONE", 0, 0, 0, 0))
		case "RECV":
			fs.mu.Lock()
			data, ok := fs.files[req.arg]
			fs.mu.Unlock()
			if !ok {
				msg := "No such file or directory"
				c.Write(append(syncPacket("FAIL", uint32(len(msg))), msg...))
				continue
			}
			for len(data) > 0 {
				n := min(len(data), 1000)
				c.Write(append(syncPacket("DATA", uint32(n)), data[:n]...))
				data = data[n:]
			}
			c.Write(syncPacket("DONE", 0))
		case "SEND":
			fs.mu.Lock()
			fs.sendArg = req.arg
			fs.mu.Unlock()
			var buf bytes.Buffer
			for {
				var hdr [8]byte
				if _, err := io.ReadFull(c, hdr[:]); err != nil {
					return
				}
				n := binary.LittleEndian.Uint32(hdr[4:])
				if string(hdr[:4]) == "DONE" {
					break
				}
				fs.mu.Lock()
				fs.chunks = append(fs.chunks, int(n))
				fs.mu.Unlock()
				if _, err := io.CopyN(&buf, c, int64(n)); err != nil {
					return
				}
			}
			path, _, _ := bytes.Cut([]byte(req.arg), []byte(","))
			fs.mu.Lock()
			fs.files[string(path)] = buf.Bytes()
			fs.mu.Unlock()
			c.Write(syncPacket("OKAY", 0))
		case "QUIT":
			return
		}
	}
}

func openFakeSync(t *testing.T, fs *fakeFS) *SyncConn {
	t.Helper()
	d := startFakeDaemon(t, fs.serve)
	s, err := d.client().OpenSync(context.Background(), "X")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSyncStat(t *testing.T) {
	s := openFakeSync(t, &fakeFS{files: map[string][]byte{"/sdcard/x": []byte("hello")}})

	fi, err := s.Stat("/sdcard/x")
	require.NoError(t, err)
	assert.True(t, fi.Exists())
	assert.EqualValues(t, 5, fi.Size)
	assert.Equal(t, time.Unix(1700000000, 0), fi.ModTime)

	fi, err = s.Stat("/sdcard/missing")
	require.NoError(t, err)
	assert.False(t, fi.Exists())
}

func TestSyncListIsRestartable(t *testing.T) {
	s := openFakeSync(t, &fakeFS{files: map[string][]byte{}})

	var names []string
	for e, err := range s.List("/sdcard") {
		require.NoError(t, err)
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a.txt", "b.bin", "c.log"}, names)

	// Stopping early must leave the connection aligned for the next request.
	for e, err := range s.List("/sdcard") {
		require.NoError(t, err)
		assert.Equal(t, "/sdcard/a.txt", e.Path)
		break
	}
	names = names[:0]
	for e, err := range s.List("/sdcard") {
		require.NoError(t, err)
		names = append(names, e.Name)
	}
	assert.Len(t, names, 3)
}

func TestSyncPushChunks(t *testing.T) {
	fs := &fakeFS{files: map[string][]byte{}}
	s := openFakeSync(t, fs)

	payload := bytes.Repeat([]byte{0xab}, 10000)
	sent, err := s.Push(bytes.NewReader(payload), "/data/local/tmp/server.jar", DefaultPushMode, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 10000, sent)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, []int{4096, 4096, 1808}, fs.chunks)
	assert.Equal(t, "/data/local/tmp/server.jar,33261", fs.sendArg)
	assert.Equal(t, payload, fs.files["/data/local/tmp/server.jar"])
}

func TestSyncPushFileDetectsSizeMismatch(t *testing.T) {
	fs := &fakeFS{files: map[string][]byte{}, sizeSkew: 1}
	s := openFakeSync(t, fs)

	local := t.TempDir() + "/server.jar"
	require.NoError(t, os.WriteFile(local, []byte("jar-bytes"), 0o644))

	err := s.PushFile(local, "/data/local/tmp/server.jar", true)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.EqualValues(t, 9, ie.Sent)
	assert.EqualValues(t, 10, ie.Observed)
}

func TestSyncPull(t *testing.T) {
	content := bytes.Repeat([]byte("scrcpy"), 700)
	s := openFakeSync(t, &fakeFS{files: map[string][]byte{"/sdcard/log.txt": content}})

	var out bytes.Buffer
	n, err := s.Pull("/sdcard/log.txt", &out)
	require.NoError(t, err)
	assert.EqualValues(t, len(content), n)
	assert.Equal(t, content, out.Bytes())

	_, err = s.Pull("/sdcard/nope", io.Discard)
	var de *DaemonError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Msg, "No such file")
}
