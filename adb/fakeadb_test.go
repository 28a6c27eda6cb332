package adb

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDaemon is an in-process stand-in for the adb server. Each accepted
// connection is handed to serve on its own goroutine.
type fakeDaemon struct {
	ln    net.Listener
	serve func(c net.Conn)
	wg    sync.WaitGroup
}

func startFakeDaemon(t *testing.T, serve func(c net.Conn)) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	d := &fakeDaemon{ln: ln, serve: serve}
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
		d.wg.Wait()
	})
	return d
}

func (d *fakeDaemon) Addr() string { return d.ln.Addr().String() }

func (d *fakeDaemon) client() *Client {
	c := NewClient(d.Addr())
	c.Attempts = 20
	c.Interval = time.Millisecond
	return c
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

func writeOkay(c net.Conn) { c.Write([]byte("OKAY")) }

func writeFail(c net.Conn, msg string) {
	fmt.Fprintf(c, "FAIL%04x%s", len(msg), msg)
}

// expectTransport consumes host:transport:<serial> and acknowledges it.
func expectTransport(c net.Conn, serial string) bool {
	cmd, err := readCmd(c)
	if err != nil || cmd != "host:transport:"+serial {
		writeFail(c, "device not found")
		return false
	}
	writeOkay(c)
	return true
}

// syncRequest is one request read off a sync-mode connection.
type syncRequest struct {
	id  string
	arg string
}

func readSyncRequest(c net.Conn) (syncRequest, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return syncRequest{}, err
	}
	n := binary.LittleEndian.Uint32(hdr[4:])
	arg := make([]byte, n)
	if _, err := io.ReadFull(c, arg); err != nil {
		return syncRequest{}, err
	}
	return syncRequest{id: string(hdr[:4]), arg: string(arg)}, nil
}

func syncPacket(id string, fields ...uint32) []byte {
	b := []byte(id)
	for _, f := range fields {
		b = binary.LittleEndian.AppendUint32(b, f)
	}
	return b
}
