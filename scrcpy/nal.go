package scrcpy

import (
	"bytes"
	"iter"
)

// NALUnits splits an Annex B payload on 4-byte start codes. The yielded
// slices alias payload and exclude the start code.
func NALUnits(payload []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		pos := 0
		if bytes.HasPrefix(payload, startCode4) {
			pos = len(startCode4)
		}
		for pos < len(payload) {
			end := len(payload)
			if next := bytes.Index(payload[pos:], startCode4); next >= 0 {
				end = pos + next
			}
			nal := payload[pos:end]
			pos = end + len(startCode4)
			if len(nal) == 0 {
				continue
			}
			if !yield(nal) {
				return
			}
		}
	}
}

// NALType returns the unit type from the NAL header of the given codec,
// or -1 when the codec is not NAL based.
func NALType(codec string, nal []byte) int {
	if len(nal) == 0 {
		return -1
	}
	switch codec {
	case CodecH264:
		return int(nal[0] & 0x1f)
	case CodecH265:
		return int(nal[0]>>1) & 0x3f
	}
	return -1
}

const (
	nalH264SPS = 7
	nalH265SPS = 33
)
