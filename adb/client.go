// Package adb speaks the ADB host protocol to a local adb daemon.
//
// Every request is framed as a 4-digit hex length followed by the command
// text; the daemon answers each one with OKAY or FAIL. Device-scoped
// services (shell, localabstract sockets, sync) are reached by first
// binding the connection with host:transport:<serial>.
package adb

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAddr        = "127.0.0.1:5037"
	DefaultAttempts    = 300
	DefaultInterval    = 10 * time.Millisecond
	DefaultDialTimeout = time.Second
)

// Client opens connections to the adb daemon. The zero value is not
// usable; create one with NewClient.
type Client struct {
	Addr string
	// Attempts bounds the open/retry loop used by the Open* methods.
	Attempts int
	// Interval is the pause between two attempts.
	Interval time.Duration
	// DialTimeout bounds the TCP dial and the daemon's reply to the
	// transport handshake of a single attempt.
	DialTimeout time.Duration

	logger zerolog.Logger
}

// NewClient returns a client for the daemon at addr. An empty addr means
// DefaultAddr.
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{
		Addr:        addr,
		Attempts:    DefaultAttempts,
		Interval:    DefaultInterval,
		DialTimeout: DefaultDialTimeout,
		logger:      log.With().Str("component", "adb").Str("daemon", addr).Logger(),
	}
}

// WithLogger replaces the client's logger.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.logger = l
	return c
}

// Dial opens a raw, unbound connection to the daemon.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return &Conn{Conn: nc}, nil
}

// Connect binds a fresh daemon connection to the device identified by
// serial. An empty serial selects the only connected device. The attempt is
// retried like the Open* calls.
func (c *Client) Connect(ctx context.Context, serial string) (*Conn, error) {
	return c.retry(ctx, "connect "+serial, func(ctx context.Context) (*Conn, error) {
		return c.connectOnce(ctx, serial)
	})
}

// OpenShell starts cmd on the device and returns the live shell stream.
func (c *Client) OpenShell(ctx context.Context, serial, cmd string) (*Conn, error) {
	return c.open(ctx, serial, "shell:"+cmd)
}

// OpenLocalSocket connects to the device-side abstract unix socket name.
func (c *Client) OpenLocalSocket(ctx context.Context, serial, name string) (*Conn, error) {
	return c.open(ctx, serial, "localabstract:"+name)
}

// OpenSync switches a bound connection into the sync sub-protocol.
func (c *Client) OpenSync(ctx context.Context, serial string) (*SyncConn, error) {
	conn, err := c.open(ctx, serial, "sync:")
	if err != nil {
		return nil, err
	}
	return &SyncConn{conn: conn}, nil
}

// Version returns the daemon's internal protocol version.
func (c *Client) Version(ctx context.Context) (int, error) {
	resp, err := c.hostQuery(ctx, "host:version")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(resp, 16, 32)
	if err != nil {
		return 0, &ProtocolError{Expected: "hex version", Got: resp}
	}
	return int(v), nil
}

// Devices lists the devices known to the daemon.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	resp, err := c.hostQuery(ctx, "host:devices-l")
	if err != nil {
		return nil, err
	}
	return parseDevices(resp), nil
}

func (c *Client) hostQuery(ctx context.Context, cmd string) (string, error) {
	conn, err := c.Dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	defer context.AfterFunc(ctx, func() { conn.Close() })()

	if err := conn.Send(cmd); err != nil {
		return "", &TransportError{Op: cmd, Err: err}
	}
	if err := conn.ReadStatus(); err != nil {
		return "", err
	}
	return conn.ReadHexString()
}

func (c *Client) connectOnce(ctx context.Context, serial string) (*Conn, error) {
	conn, err := c.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.handshake(c.DialTimeout, transportCommand(serial)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) open(ctx context.Context, serial, service string) (*Conn, error) {
	return c.retry(ctx, service, func(ctx context.Context) (*Conn, error) {
		conn, err := c.connectOnce(ctx, serial)
		if err != nil {
			return nil, err
		}
		if err := conn.handshake(c.DialTimeout, service); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	})
}

// retry runs fn until it succeeds, ctx ends, or the attempt budget is
// spent. The device-side server starts asynchronously after the shell
// command that launches it, so a refused localabstract open is expected
// for the first few attempts.
func (c *Client) retry(ctx context.Context, op string, fn func(context.Context) (*Conn, error)) (*Conn, error) {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		conn, err := fn(ctx)
		if err == nil {
			return conn, nil
		}
		last = err
		if ctx.Err() != nil {
			return nil, &TransportError{Op: op, Err: ctx.Err()}
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(c.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, &TransportError{Op: op, Err: ctx.Err()}
		case <-t.C:
		}
	}
	c.logger.Debug().Str("op", op).Int("attempts", attempts).Err(last).Msg("adb open gave up")
	return nil, &TransportError{Op: op, Err: fmt.Errorf("%w after %d attempts: %w", ErrTimeout, attempts, last)}
}

func transportCommand(serial string) string {
	if serial == "" {
		return "host:transport-any"
	}
	return "host:transport:" + serial
}
