// Package webrtcHelper turns session frames into pion samples and RTCP
// feedback into session requests.
package webrtcHelper

import (
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"adbcast/sdriver"
)

const (
	DefaultVideoDuration = 16 * time.Millisecond
	DefaultAudioDuration = 20 * time.Millisecond
)

// SampleClock derives sample durations from successive pts values of one
// stream.
type SampleClock struct {
	fallback time.Duration
	last     time.Duration
	started  bool
}

func NewSampleClock(kind sdriver.StreamKind) *SampleClock {
	if kind == sdriver.StreamAudio {
		return &SampleClock{fallback: DefaultAudioDuration}
	}
	return &SampleClock{fallback: DefaultVideoDuration}
}

// Sample wraps f. Config units take no time. The first frame and frames
// whose pts does not advance get the fallback duration.
func (c *SampleClock) Sample(f sdriver.Frame) media.Sample {
	if f.IsConfig() {
		return media.Sample{Data: f.Payload, Duration: time.Microsecond}
	}
	pts := f.PTS()
	d := c.fallback
	if c.started && pts > c.last {
		d = pts - c.last
	}
	c.last, c.started = pts, true
	return media.Sample{Data: f.Payload, Duration: d}
}
