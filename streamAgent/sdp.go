package sagent

import (
	"fmt"

	"github.com/pion/interceptor"
	pionSDP "github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

const (
	PAYLOAD_TYPE_AV1_PROFILE_MAIN_5_1            = 100 // 2560x1440 @ 60fps
	PAYLOAD_TYPE_H265_PROFILE_MAIN_TIER_MAIN_5_1 = 102 // 2560x1440 @ 60fps 40Mbps Max
	PAYLOAD_TYPE_H265_PROFILE_MAIN_TIER_MAIN_4_1 = 103 // 1920x1080 @ 60fps 20Mbps Max
	PAYLOAD_TYPE_H264_PROFILE_HIGH_5_1           = 104 // 2560x1440 @ 60fps
	PAYLOAD_TYPE_H264_PROFILE_HIGH_5_1_0C        = 105 // 2560x1440 @ 60fps for iphone safari
	PAYLOAD_TYPE_H264_PROFILE_BASELINE_3_1       = 106 // 720p @ 30fps
	PAYLOAD_TYPE_OPUS                            = 111
)

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "transport-cc", Parameter: ""},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack", Parameter: ""},
	{Type: "nack", Parameter: "pli"},
}

// mimeTypeFor maps a scrcpy codec name to the WebRTC MIME type, or "" when
// WebRTC cannot carry it.
func mimeTypeFor(codec string) string {
	switch codec {
	case "h264":
		return webrtc.MimeTypeH264
	case "h265":
		return webrtc.MimeTypeH265
	case "av1":
		return webrtc.MimeTypeAV1
	case "opus":
		return webrtc.MimeTypeOpus
	}
	return ""
}

// validateOffer checks that the offer parses and asks for video.
func validateOffer(offer string) error {
	var sd pionSDP.SessionDescription
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return fmt.Errorf("parse offer: %w", err)
	}
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == "video" {
			return nil
		}
	}
	return fmt.Errorf("offer has no video media section")
}

// newAPI builds a pion API whose media engine only offers the given codecs.
func newAPI(mimeTypes ...string) (*webrtc.API, error) {
	m, err := createMediaEngine(mimeTypes)
	if err != nil {
		return nil, err
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: pionSDP.TransportCCURI},
		webrtc.RTPCodecTypeVideo,
	); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

func createMediaEngine(mimeTypes []string) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	var params []webrtc.RTPCodecParameters
	var kinds []webrtc.RTPCodecType
	video := func(mime, fmtp string, pt webrtc.PayloadType) {
		params = append(params, webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     mime,
				ClockRate:    90000,
				SDPFmtpLine:  fmtp,
				RTCPFeedback: videoFeedback,
			},
			PayloadType: pt,
		})
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, mime := range mimeTypes {
		switch mime {
		case webrtc.MimeTypeAV1:
			// profile=0 (Main Profile), level-idx=13 (Level 5.1), tier=0 (Main Tier)
			video(mime, "profile=0;level-idx=13;tier=0", PAYLOAD_TYPE_AV1_PROFILE_MAIN_5_1)
		case webrtc.MimeTypeH265:
			video(mime, "profile-id=1;tier-flag=0;level-id=153", PAYLOAD_TYPE_H265_PROFILE_MAIN_TIER_MAIN_5_1)
			video(mime, "profile-id=1;tier-flag=0;level-id=123", PAYLOAD_TYPE_H265_PROFILE_MAIN_TIER_MAIN_4_1)
		case webrtc.MimeTypeH264:
			video(mime, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640033", PAYLOAD_TYPE_H264_PROFILE_HIGH_5_1)
			// iphone safari
			video(mime, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640c33", PAYLOAD_TYPE_H264_PROFILE_HIGH_5_1_0C)
			video(mime, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", PAYLOAD_TYPE_H264_PROFILE_BASELINE_3_1)
		case webrtc.MimeTypeOpus:
			params = append(params, webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:    webrtc.MimeTypeOpus,
					ClockRate:   48000,
					Channels:    2,
					SDPFmtpLine: "minptime=10;maxptime=20;useinbandfec=1;stereo=1;sprop-stereo=1",
				},
				PayloadType: PAYLOAD_TYPE_OPUS,
			})
			kinds = append(kinds, webrtc.RTPCodecTypeAudio)
		default:
			return nil, fmt.Errorf("unsupported MIME type %q", mime)
		}
	}
	for i, p := range params {
		if err := m.RegisterCodec(p, kinds[i]); err != nil {
			return nil, fmt.Errorf("register %s: %w", p.MimeType, err)
		}
	}
	return m, nil
}
