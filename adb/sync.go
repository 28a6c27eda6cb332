package adb

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"time"
)

// Sync request and reply ids. Lengths and integers in the sync
// sub-protocol are little-endian u32.
const (
	syncStat = "STAT"
	syncList = "LIST"
	syncSend = "SEND"
	syncRecv = "RECV"
	syncQuit = "QUIT"
	syncDent = "DENT"
	syncData = "DATA"
	syncDone = "DONE"
	syncOkay = "OKAY"
	syncFail = "FAIL"

	// SyncChunkSize is the DATA payload size used by Push.
	SyncChunkSize = 4096
	// DefaultPushMode is the permission set on pushed files.
	DefaultPushMode os.FileMode = 0o755

	sIFREG = 0o100000
)

// FileInfo is the result of a STAT request. A zero Mode means the path
// does not exist on the device.
type FileInfo struct {
	Mode    uint32
	Size    uint32
	ModTime time.Time
}

func (fi FileInfo) Exists() bool { return fi.Mode != 0 }

func (fi FileInfo) IsDir() bool { return fi.Mode&0o170000 == 0o040000 }

// DirEntry is one DENT record of a LIST reply.
type DirEntry struct {
	Name string
	Path string
	FileInfo
}

// SyncConn is a daemon connection switched into sync mode. Requests are
// processed one at a time; a SyncConn is not safe for concurrent use.
type SyncConn struct {
	conn *Conn
}

// Close sends QUIT and closes the connection.
func (s *SyncConn) Close() error {
	s.request(syncQuit, "")
	return s.conn.Close()
}

// Watch closes the connection when ctx ends and returns a function that
// stops watching.
func (s *SyncConn) Watch(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() { s.conn.Close() })
}

func (s *SyncConn) Stat(p string) (FileInfo, error) {
	if err := s.request(syncStat, p); err != nil {
		return FileInfo{}, err
	}
	id, err := s.readID()
	if err != nil {
		return FileInfo{}, err
	}
	if id != syncStat {
		return FileInfo{}, &ProtocolError{Expected: syncStat, Got: id}
	}
	var body [12]byte
	if _, err := io.ReadFull(s.conn, body[:]); err != nil {
		return FileInfo{}, &TransportError{Op: "stat " + p, Err: err}
	}
	return decodeFileInfo(body[:]), nil
}

// List issues a LIST request each time the returned sequence is ranged
// over. Breaking out early drains the rest of the listing so the
// connection stays usable.
func (s *SyncConn) List(dir string) iter.Seq2[DirEntry, error] {
	return func(yield func(DirEntry, error) bool) {
		if err := s.request(syncList, dir); err != nil {
			yield(DirEntry{}, err)
			return
		}
		stopped := false
		for {
			id, err := s.readID()
			if err != nil {
				if !stopped {
					yield(DirEntry{}, err)
				}
				return
			}
			var body [16]byte
			if _, err := io.ReadFull(s.conn, body[:]); err != nil {
				if !stopped {
					yield(DirEntry{}, &TransportError{Op: "list " + dir, Err: err})
				}
				return
			}
			switch id {
			case syncDone:
				return
			case syncDent:
			default:
				if !stopped {
					yield(DirEntry{}, &ProtocolError{Expected: syncDent, Got: id})
				}
				return
			}
			nameLen := binary.LittleEndian.Uint32(body[12:16])
			name := make([]byte, nameLen)
			if _, err := io.ReadFull(s.conn, name); err != nil {
				if !stopped {
					yield(DirEntry{}, &TransportError{Op: "list " + dir, Err: err})
				}
				return
			}
			if stopped {
				continue
			}
			e := DirEntry{
				Name:     string(name),
				Path:     path.Join(dir, string(name)),
				FileInfo: decodeFileInfo(body[:12]),
			}
			if !yield(e, nil) {
				stopped = true
			}
		}
	}
}

// Push streams r to remote in SyncChunkSize pieces and returns the number
// of bytes sent once the daemon has acknowledged the transfer.
func (s *SyncConn) Push(r io.Reader, remote string, mode os.FileMode, mtime time.Time) (int64, error) {
	if err := s.request(syncSend, fmt.Sprintf("%s,%d", remote, sIFREG|uint32(mode.Perm()))); err != nil {
		return 0, err
	}
	var total int64
	buf := make([]byte, 8+SyncChunkSize)
	copy(buf, syncData)
	for {
		n, rerr := io.ReadFull(r, buf[8:])
		if n > 0 {
			binary.LittleEndian.PutUint32(buf[4:8], uint32(n))
			if _, err := s.conn.Write(buf[:8+n]); err != nil {
				return total, &TransportError{Op: "push " + remote, Err: err}
			}
			total += int64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return total, fmt.Errorf("push %s: read source: %w", remote, rerr)
		}
	}
	var done [8]byte
	copy(done[:], syncDone)
	binary.LittleEndian.PutUint32(done[4:], uint32(mtime.Unix()))
	if _, err := s.conn.Write(done[:]); err != nil {
		return total, &TransportError{Op: "push " + remote, Err: err}
	}
	if err := s.readSyncStatus(); err != nil {
		return total, err
	}
	return total, nil
}

// PushFile pushes the local file with DefaultPushMode. When verify is set
// the remote size is compared with the number of bytes sent.
func (s *SyncConn) PushFile(local, remote string, verify bool) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	sent, err := s.Push(f, remote, DefaultPushMode, time.Now())
	if err != nil {
		return err
	}
	if !verify {
		return nil
	}
	fi, err := s.Stat(remote)
	if err != nil {
		return err
	}
	if int64(fi.Size) != sent {
		return &IntegrityError{Path: remote, Sent: sent, Observed: int64(fi.Size)}
	}
	return nil
}

// Pull copies the remote file into w and returns the byte count.
func (s *SyncConn) Pull(remote string, w io.Writer) (int64, error) {
	if err := s.request(syncRecv, remote); err != nil {
		return 0, err
	}
	var total int64
	for {
		id, n, err := s.readHeader()
		if err != nil {
			return total, err
		}
		switch id {
		case syncData:
			copied, err := io.CopyN(w, s.conn, int64(n))
			total += copied
			if err != nil {
				return total, &TransportError{Op: "pull " + remote, Err: err}
			}
		case syncDone:
			return total, nil
		case syncFail:
			return total, s.readFailMessage(n)
		default:
			return total, &ProtocolError{Expected: syncData, Got: id}
		}
	}
}

func (s *SyncConn) request(id, arg string) error {
	buf := make([]byte, 8+len(arg))
	copy(buf, id)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(arg)))
	copy(buf[8:], arg)
	if _, err := s.conn.Write(buf); err != nil {
		return &TransportError{Op: id, Err: err}
	}
	return nil
}

func (s *SyncConn) readID() (string, error) {
	var id [4]byte
	if _, err := io.ReadFull(s.conn, id[:]); err != nil {
		return "", &TransportError{Op: "read sync id", Err: err}
	}
	return string(id[:]), nil
}

func (s *SyncConn) readHeader() (string, uint32, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
		return "", 0, &TransportError{Op: "read sync header", Err: err}
	}
	return string(hdr[:4]), binary.LittleEndian.Uint32(hdr[4:]), nil
}

func (s *SyncConn) readSyncStatus() error {
	id, n, err := s.readHeader()
	if err != nil {
		return err
	}
	switch id {
	case syncOkay:
		return nil
	case syncFail:
		return s.readFailMessage(n)
	default:
		return &ProtocolError{Expected: syncOkay, Got: id}
	}
}

func (s *SyncConn) readFailMessage(n uint32) error {
	msg := make([]byte, n)
	if _, err := io.ReadFull(s.conn, msg); err != nil {
		return &TransportError{Op: "read sync failure", Err: err}
	}
	return &DaemonError{Msg: string(msg)}
}

func decodeFileInfo(b []byte) FileInfo {
	fi := FileInfo{
		Mode: binary.LittleEndian.Uint32(b[0:4]),
		Size: binary.LittleEndian.Uint32(b[4:8]),
	}
	if mt := binary.LittleEndian.Uint32(b[8:12]); mt != 0 {
		fi.ModTime = time.Unix(int64(mt), 0)
	}
	return fi
}

// PushFile opens a sync connection to serial, pushes local to remote and
// verifies the remote size.
func (c *Client) PushFile(ctx context.Context, serial, local, remote string) error {
	s, err := c.OpenSync(ctx, serial)
	if err != nil {
		return err
	}
	defer s.Close()
	defer s.Watch(ctx)()
	return s.PushFile(local, remote, true)
}
