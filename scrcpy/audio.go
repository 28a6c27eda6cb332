package scrcpy

import "bytes"

var (
	opusSilence = []byte{0xfc, 0xff, 0xfe}
	aacSilence  = bytes.Repeat([]byte{'Z'}, 50)
)

// IsSilent reports whether an audio payload is one of the filler frames
// the server emits while nothing is playing. Only live viewers skip them;
// recordings keep every frame so timestamps stay continuous.
func IsSilent(codec string, payload []byte) bool {
	switch codec {
	case CodecRaw:
		for _, b := range payload {
			if b != 0 {
				return false
			}
		}
		return true
	case CodecOpus:
		return bytes.Equal(payload, opusSilence)
	case CodecAAC:
		return bytes.Contains(payload, aacSilence)
	}
	return false
}
