package adb

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Conn is one TCP connection to the adb daemon. After a successful Open*
// call it carries the raw byte stream of the requested service.
type Conn struct {
	net.Conn
}

// Send writes cmd with its 4-digit hex length prefix.
func (c *Conn) Send(cmd string) error {
	if len(cmd) > 0xffff {
		return fmt.Errorf("adb command too long: %d bytes", len(cmd))
	}
	_, err := c.Write(encodeCommand(cmd))
	return err
}

// ReadStatus consumes a 4-byte status. FAIL is followed by a hex-length
// prefixed message, returned as a *DaemonError.
func (c *Conn) ReadStatus() error {
	var status [4]byte
	if _, err := io.ReadFull(c, status[:]); err != nil {
		return &TransportError{Op: "read status", Err: err}
	}
	switch string(status[:]) {
	case statusOkay:
		return nil
	case statusFail:
		msg, err := c.ReadHexString()
		if err != nil {
			return err
		}
		return &DaemonError{Msg: msg}
	default:
		return &ProtocolError{Expected: statusOkay, Got: string(status[:])}
	}
}

// ReadHexString reads a 4-digit hex length followed by that many bytes.
func (c *Conn) ReadHexString() (string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return "", &TransportError{Op: "read length", Err: err}
	}
	n, err := strconv.ParseUint(string(hdr[:]), 16, 16)
	if err != nil {
		return "", &ProtocolError{Expected: "hex length", Got: string(hdr[:])}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		return "", &TransportError{Op: "read payload", Err: err}
	}
	return string(buf), nil
}

// CloseWrite half-closes the connection when the transport supports it.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Close()
}

// handshake sends cmd and waits for OKAY, bounded by timeout.
func (c *Conn) handshake(timeout time.Duration, cmd string) error {
	if timeout > 0 {
		c.SetDeadline(time.Now().Add(timeout))
		defer c.SetDeadline(time.Time{})
	}
	if err := c.Send(cmd); err != nil {
		return &TransportError{Op: cmd, Err: err}
	}
	return c.ReadStatus()
}
