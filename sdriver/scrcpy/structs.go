package scrcpy

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adbcast/adb"
	"adbcast/sdriver"
	wire "adbcast/scrcpy"
)

const (
	DefaultVersion          = "2.1.1"
	DefaultRemotePath       = "/data/local/tmp/scrcpy-server.jar"
	DefaultHandshakeTimeout = 3 * time.Second
	DefaultWriteTimeout     = 2 * time.Second

	serverClass = "com.genymobile.scrcpy.Server"
)

// Config describes one session. Zero fields take the defaults above.
type Config struct {
	Serial string

	// ServerJar is the local server binary pushed to RemotePath.
	ServerJar  string
	RemotePath string
	Version    string

	Options wire.Options
	// Layout overrides the control layout derived from Version.
	Layout wire.Layout

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// SessionID and SCID are generated by New when empty.
	SessionID string
	SCID      uint32

	ADB      *adb.Client
	Sink     sdriver.FrameSink
	Recorder sdriver.Recorder
	Logger   zerolog.Logger

	// OnStop runs once, after the session has fully stopped.
	OnStop func()
}

func (c *Config) setDefaults() {
	if c.RemotePath == "" {
		c.RemotePath = DefaultRemotePath
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Layout == 0 {
		c.Layout = wire.LayoutForVersion(c.Version)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SessionID == "" {
		c.SessionID, c.SCID = NewSessionID()
	}
	if c.ADB == nil {
		c.ADB = adb.NewClient("")
	}
}

// NewSessionID returns a 32 hex character correlation id and the 31-bit
// scid derived from it.
func NewSessionID() (string, uint32) {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", ""), binary.BigEndian.Uint32(id[:4]) & 0x7fffffff
}
