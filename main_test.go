package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSerial = "emulator-5554"

var testFile = []byte("hello from the device\n")

// startDaemon serves host:devices-l and a sync session with one
// directory (/sdcard) holding one file (/sdcard/notes.txt).
func startDaemon(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				serveDaemon(c)
			}()
		}
	}()
	return ln.Addr().String()
}

func serveDaemon(c net.Conn) {
	cmd, err := readCmd(c)
	if err != nil {
		return
	}
	switch cmd {
	case "host:devices-l":
		body := testSerial + "          device product:sdk_gphone64 model:Pixel_7 device:emu64 transport_id:3\n"
		fmt.Fprintf(c, "OKAY%04x%s", len(body), body)
		return
	case "host:transport:" + testSerial:
		c.Write([]byte("OKAY"))
	default:
		msg := "device not found"
		fmt.Fprintf(c, "FAIL%04x%s", len(msg), msg)
		return
	}
	if cmd, err := readCmd(c); err != nil || cmd != "sync:" {
		return
	}
	c.Write([]byte("OKAY"))
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(c, hdr[:]); err != nil {
			return
		}
		arg := make([]byte, binary.LittleEndian.Uint32(hdr[4:]))
		if _, err := io.ReadFull(c, arg); err != nil {
			return
		}
		switch string(hdr[:4]) {
		case "LIST":
			for _, e := range []struct {
				name string
				mode uint32
				size uint32
			}{{".", 0o40771, 0}, {"..", 0o40755, 0}, {"Download", 0o40771, 0}, {"notes.txt", 0o100660, uint32(len(testFile))}} {
				c.Write(dent(e.name, e.mode, e.size))
			}
			c.Write(packet("DONE", 0, 0, 0, 0))
		case "RECV":
			c.Write(packet("DATA", uint32(len(testFile))))
			c.Write(testFile)
			c.Write(packet("DONE", 0))
		case "QUIT":
			return
		default:
			c.Write(packet("FAIL", 0))
			return
		}
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

func packet(id string, fields ...uint32) []byte {
	b := []byte(id)
	for _, f := range fields {
		b = binary.LittleEndian.AppendUint32(b, f)
	}
	return b
}

func dent(name string, mode, size uint32) []byte {
	b := packet("DENT", mode, size, 1700000000, uint32(len(name)))
	return append(b, name...)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg := filepath.Join(t.TempDir(), "adbcast.yaml")
	body := fmt.Sprintf("adb:\n  addr: %s\n  connect_attempts: 2\n  retry_interval: 1ms\nlog:\n  level: error\n", startDaemon(t))
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDevicesCommand(t *testing.T) {
	out, err := run(t, "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "SERIAL")
	assert.Regexp(t, testSerial+`\s+device\s+Pixel_7\s+3`, out)
}

func TestLsCommand(t *testing.T) {
	out, err := run(t, "ls", testSerial)
	require.NoError(t, err)
	assert.Contains(t, out, "Download/")
	assert.Contains(t, out, "notes.txt")
	assert.NotContains(t, out, "..")

	out, err = run(t, "ls", "-a", testSerial, "/sdcard")
	require.NoError(t, err)
	assert.Contains(t, out, "..")
}

func TestPullCommand(t *testing.T) {
	local := filepath.Join(t.TempDir(), "notes.txt")
	out, err := run(t, "pull", testSerial, "/sdcard/notes.txt", local)
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("%d bytes pulled", len(testFile)))

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, testFile, got)
}

func TestCommandsReportUnknownDevice(t *testing.T) {
	_, err := run(t, "ls", "nosuchdevice")
	assert.Error(t, err)
}
