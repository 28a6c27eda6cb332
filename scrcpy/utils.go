package scrcpy

import (
	"bytes"
	"fmt"
)

const (
	CodecH264 = "h264"
	CodecH265 = "h265"
	CodecAV1  = "av1"

	CodecOpus = "opus"
	CodecAAC  = "aac"
	CodecRaw  = "raw"
	CodecFLAC = "flac"
)

// codecName turns a 4-byte codec tag into its name. Tags shorter than four
// characters are NUL padded on the wire ("av1\x00").
func codecName(tag []byte) string {
	return string(bytes.TrimRight(tag, "\x00 "))
}

// CodecTag renders a codec name as a 4-byte NUL padded tag. An empty name
// gives the all-zero tag.
func CodecTag(name string) [4]byte {
	var tag [4]byte
	copy(tag[:], name)
	return tag
}

// SocketName is the abstract socket the server listens on for a scid.
func SocketName(scid uint32) string {
	return fmt.Sprintf("scrcpy_%08x", scid)
}
