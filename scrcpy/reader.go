package scrcpy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Upper bounds on lengths read off the wire. A clipboard message is
// bounded by the server's device message buffer.
const (
	MaxFrameSize     = 16 << 20
	MaxClipboardSize = 1<<18 - 5
)

// ReadDummyByte consumes the single 0x00 byte the server writes on the
// first socket of a forward tunnel.
func ReadDummyByte(r io.Reader) error {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return fmt.Errorf("%w: dummy byte: %w", ErrHandshake, err)
	}
	if b[0] != 0x00 {
		return fmt.Errorf("%w: dummy byte is 0x%02x", ErrHandshake, b[0])
	}
	return nil
}

// ReadDeviceName reads the 64-byte NUL padded device name.
func ReadDeviceName(r io.Reader) (string, error) {
	var buf [DeviceNameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", fmt.Errorf("%w: device name: %w", ErrHandshake, err)
	}
	name := buf[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name), nil
}

// ReadVideoMeta reads the codec tag and initial size of the video stream.
func ReadVideoMeta(r io.Reader) (VideoMeta, error) {
	var buf [12]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return VideoMeta{}, fmt.Errorf("%w: video meta: %w", ErrHandshake, err)
	}
	return VideoMeta{
		Codec:  codecName(buf[0:4]),
		Width:  binary.BigEndian.Uint32(buf[4:8]),
		Height: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// ReadAudioMeta reads the audio codec tag. An all-zero tag yields
// ErrAudioDisabled; the caller is expected to carry on without audio.
func ReadAudioMeta(r io.Reader) (AudioMeta, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return AudioMeta{}, fmt.Errorf("%w: audio meta: %w", ErrHandshake, err)
	}
	if buf == [4]byte{} {
		return AudioMeta{}, ErrAudioDisabled
	}
	return AudioMeta{Codec: codecName(buf[:])}, nil
}

// ReadFrameHeader reads one 12-byte frame header.
func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	var buf [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FrameHeader{}, closedErr(err)
	}
	return parseFrameHeader(buf[:]), nil
}

// ReadFrame reads a header and exactly Size payload bytes. A frame is
// returned whole or not at all; a short read is ErrStreamClosed.
func ReadFrame(r io.Reader) (Frame, error) {
	h, err := ReadFrameHeader(r)
	if err != nil {
		return Frame{}, err
	}
	if h.Size > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: frame of %d bytes", ErrTooLarge, h.Size)
	}
	payload := make([]byte, h.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, closedErr(err)
	}
	return Frame{Header: h, Payload: payload}, nil
}

// ReadDeviceMessage reads one device message from the control socket.
// Messages of unknown type cannot be framed and are reported as errors.
func ReadDeviceMessage(r io.Reader) (DeviceMessage, error) {
	var t [1]byte
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return DeviceMessage{}, closedErr(err)
	}
	msg := DeviceMessage{Type: t[0]}
	switch t[0] {
	case DeviceMsgClipboard:
		var n [4]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return msg, closedErr(err)
		}
		size := binary.BigEndian.Uint32(n[:])
		if size > MaxClipboardSize {
			return msg, fmt.Errorf("%w: clipboard of %d bytes", ErrTooLarge, size)
		}
		text := make([]byte, size)
		if _, err := io.ReadFull(r, text); err != nil {
			return msg, closedErr(err)
		}
		msg.Text = string(text)
	case DeviceMsgAckClipboard:
		var seq [8]byte
		if _, err := io.ReadFull(r, seq[:]); err != nil {
			return msg, closedErr(err)
		}
		msg.Sequence = binary.BigEndian.Uint64(seq[:])
	default:
		return msg, fmt.Errorf("scrcpy: unknown device message type %d", t[0])
	}
	return msg, nil
}
