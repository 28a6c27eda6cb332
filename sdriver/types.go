package sdriver

import (
	"time"

	"adbcast/scrcpy"
)

type StreamKind uint8

const (
	StreamVideo StreamKind = iota
	StreamAudio
)

func (k StreamKind) String() string {
	switch k {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	}
	return "unknown"
}

// Frame is one demuxed media unit. The header is kept as read from the
// wire so recorders can forward it verbatim; viewers only need Payload.
// Frames are shared between consumers and must not be modified.
type Frame struct {
	Kind    StreamKind
	Header  scrcpy.FrameHeader
	Payload []byte
}

func (f Frame) PTS() time.Duration { return time.Duration(f.Header.PTS()) * time.Microsecond }
func (f Frame) IsConfig() bool     { return f.Header.IsConfig() }
func (f Frame) IsKeyFrame() bool   { return f.Header.IsKeyFrame() }

type Size struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// MediaMeta describes a running session. AudioCodec is empty when audio
// is off or was refused by the device.
type MediaMeta struct {
	DeviceName string `json:"device_name"`
	VideoCodec string `json:"video_codec"`
	AudioCodec string `json:"audio_codec"`
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
}

type State int32

const (
	StateCreated State = iota
	StateDeploying
	StateStreaming
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDeploying:
		return "deploying"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Reply carries the answer to clipboard requests.
type Reply struct {
	Clipboard string
	Sequence  uint64
}
