package adb

import (
	"errors"
	"fmt"
)

// ErrTimeout reports that the bounded retry budget ran out.
var ErrTimeout = errors.New("adb: retry budget exhausted")

// TransportError is returned when the daemon cannot be reached or a
// handshake with it does not complete.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("adb transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is an unexpected status or tag in a binary exchange.
type ProtocolError struct {
	Expected string
	Got      string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("adb protocol: expected %s, got %q", e.Expected, e.Got)
}

// DaemonError carries the message the daemon sent after FAIL.
type DaemonError struct {
	Msg string
}

func (e *DaemonError) Error() string {
	return "adb daemon: " + e.Msg
}

// IntegrityError is raised when a pushed file does not have the size that was sent.
type IntegrityError struct {
	Path     string
	Sent     int64
	Observed int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("adb push %s: sent %d bytes, remote reports %d", e.Path, e.Sent, e.Observed)
}
