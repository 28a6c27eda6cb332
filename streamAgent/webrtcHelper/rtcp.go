package webrtcHelper

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
)

// KeyframeInterval is the minimum spacing of keyframe requests forwarded
// from picture loss indications.
const KeyframeInterval = 2 * time.Second

// RTCPReader is the read side of a pion RTPSender.
type RTCPReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

// HandleRTCP reads RTCP from sender until it fails and calls requestKeyframe
// for PLI and FIR packets, at most once per KeyframeInterval.
func HandleRTCP(sender RTCPReader, requestKeyframe func()) {
	buf := make([]byte, 1500)
	var last time.Time
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, p := range packets {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				now := time.Now()
				if !last.IsZero() && now.Sub(last) < KeyframeInterval {
					continue
				}
				last = now
				requestKeyframe()
			}
		}
	}
}
