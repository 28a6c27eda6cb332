package scrcpy

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrStreamClosed is returned when a media or control socket ends,
	// either between frames or in the middle of one.
	ErrStreamClosed = errors.New("scrcpy: stream closed")
	// ErrHandshake is returned when the server does not open a socket
	// with the expected preamble.
	ErrHandshake = errors.New("scrcpy: handshake failed")
	// ErrAudioDisabled is returned by ReadAudioMeta when the device sent
	// the all-zero codec tag.
	ErrAudioDisabled = errors.New("scrcpy: audio disabled by device")
	// ErrTooLarge is returned when a length on the wire exceeds
	// MaxFrameSize or MaxClipboardSize.
	ErrTooLarge = errors.New("scrcpy: length exceeds limit")
)

// UnknownOptionError names a server option outside the supported set.
type UnknownOptionError struct {
	Key string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("scrcpy: unknown server option %q", e.Key)
}

// InvalidOptionError reports an option whose value cannot be used.
type InvalidOptionError struct {
	Key    string
	Value  string
	Reason string
}

func (e *InvalidOptionError) Error() string {
	return fmt.Sprintf("scrcpy: option %s=%q: %s", e.Key, e.Value, e.Reason)
}

func closedErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
	return err
}
