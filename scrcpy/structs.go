package scrcpy

import "encoding/binary"

const (
	// FrameHeaderSize is the size of the per-frame meta header.
	FrameHeaderSize = 12
	// DeviceNameSize is the NUL padded device name field sent after the
	// dummy byte.
	DeviceNameSize = 64

	packetFlagConfig   = uint64(1) << 63
	packetFlagKeyFrame = uint64(1) << 62
	packetPTSMask      = packetFlagKeyFrame - 1
)

// FrameHeader is the 12-byte header preceding every frame on a media
// socket: a big-endian u64 carrying pts and flags, and a big-endian u32
// payload length.
type FrameHeader struct {
	Raw  uint64
	Size uint32
}

func (h FrameHeader) PTS() uint64      { return h.Raw & packetPTSMask }
func (h FrameHeader) IsConfig() bool   { return h.Raw&packetFlagConfig != 0 }
func (h FrameHeader) IsKeyFrame() bool { return h.Raw&packetFlagKeyFrame != 0 }

// AppendTo appends the wire form of h to b.
func (h FrameHeader) AppendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, h.Raw)
	return binary.BigEndian.AppendUint32(b, h.Size)
}

func parseFrameHeader(b []byte) FrameHeader {
	return FrameHeader{
		Raw:  binary.BigEndian.Uint64(b[0:8]),
		Size: binary.BigEndian.Uint32(b[8:12]),
	}
}

// Frame is one fully read media unit.
type Frame struct {
	Header  FrameHeader
	Payload []byte
}

// VideoMeta is the codec block following the device name on the video
// socket.
type VideoMeta struct {
	Codec  string
	Width  uint32
	Height uint32
}

// AudioMeta is the codec tag at the start of the audio socket. An empty
// Codec means the device refused to capture audio.
type AudioMeta struct {
	Codec string
}

// DeviceMessage is a message sent by the device on the control socket.
type DeviceMessage struct {
	Type     byte
	Text     string
	Sequence uint64
}
