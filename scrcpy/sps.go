package scrcpy

import (
	"bytes"
	"errors"
	"fmt"
)

// SPSInfo is the subset of a sequence parameter set needed to size the
// picture.
type SPSInfo struct {
	Profile      uint8
	Level        string
	Tier         string
	ChromaFormat uint32
	Width        uint32
	Height       uint32
}

var startCode4 = []byte{0x00, 0x00, 0x00, 0x01}

var errNoSPS = errors.New("no SPS in config unit")

// ResolutionFromConfig extracts the coded picture size from a video config
// unit. It only looks at the first parameter set and is meant to be called
// on config units, never on ordinary frames.
func ResolutionFromConfig(codec string, payload []byte) (width, height uint32, err error) {
	nal, err := firstSPS(codec, payload)
	if err != nil {
		return 0, 0, err
	}
	var info SPSInfo
	switch codec {
	case CodecH264:
		info, err = ParseSPS_H264(nal)
	case CodecH265:
		info, err = ParseSPS_H265(nal)
	default:
		return 0, 0, fmt.Errorf("resolution from %q config unit not supported", codec)
	}
	if err != nil {
		return 0, 0, err
	}
	if info.Width == 0 || info.Height == 0 {
		return 0, 0, fmt.Errorf("sps: degenerate size %dx%d", info.Width, info.Height)
	}
	return info.Width, info.Height, nil
}

// Orient reorders (w, h) so that the longer side follows the orientation
// of the decoded picture (dw, dh).
func Orient(w, h, dw, dh uint32) (uint32, uint32) {
	long, short := max(w, h), min(w, h)
	if dw > dh {
		return long, short
	}
	return short, long
}

// firstSPS returns the first SPS NAL of a config unit, header included.
// Units ahead of it, such as an access unit delimiter, are skipped.
func firstSPS(codec string, payload []byte) ([]byte, error) {
	want := nalH264SPS
	if codec == CodecH265 {
		want = nalH265SPS
	}
	for nal := range NALUnits(payload) {
		if NALType(codec, nal) == want {
			return nal, nil
		}
	}
	return nil, errNoSPS
}

// ParseSPS_H264 parses an H.264 SPS NAL unit (header byte included, no
// start code).
func ParseSPS_H264(sps []byte) (SPSInfo, error) {
	info := SPSInfo{}
	if len(sps) < 4 {
		return info, fmt.Errorf("sps: too short (%d bytes)", len(sps))
	}
	if sps[0]&0x1f != 7 {
		return info, fmt.Errorf("not an H.264 SPS NAL unit (type: %d)", sps[0]&0x1f)
	}
	br := newBitReader(removeEmulationPreventionBytes(sps[1:]))

	profileIDC := br.ReadBits(8)
	br.ReadBits(8) // constraint flags + reserved
	levelIDC := br.ReadBits(8)
	info.Profile = uint8(profileIDC)
	info.Level = fmt.Sprintf("%.1f", float32(levelIDC)/10.0)
	br.ReadUE() // seq_parameter_set_id

	chromaFormatIDC := uint32(1)
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chromaFormatIDC = br.ReadUE()
		if chromaFormatIDC == 3 {
			br.ReadBits(1) // separate_colour_plane_flag
		}
		br.ReadUE()    // bit_depth_luma_minus8
		br.ReadUE()    // bit_depth_chroma_minus8
		br.ReadBits(1) // qpprime_y_zero_transform_bypass_flag
		if br.ReadBits(1) == 1 {
			lists := 8
			if chromaFormatIDC == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if br.ReadBits(1) == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(br, size)
				}
			}
		}
	}
	info.ChromaFormat = chromaFormatIDC

	br.ReadUE() // log2_max_frame_num_minus4
	switch br.ReadUE() {
	case 0:
		br.ReadUE() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		br.ReadBits(1) // delta_pic_order_always_zero_flag
		br.ReadSE()    // offset_for_non_ref_pic
		br.ReadSE()    // offset_for_top_to_bottom_field
		n := br.ReadUE()
		for i := uint32(0); i < n && !br.exhausted(); i++ {
			br.ReadSE()
		}
	}
	br.ReadUE()    // max_num_ref_frames
	br.ReadBits(1) // gaps_in_frame_num_value_allowed_flag

	widthInMbsMinus1 := br.ReadUE()
	heightInMapUnitsMinus1 := br.ReadUE()
	frameMbsOnly := br.ReadBits(1)
	if frameMbsOnly == 0 {
		br.ReadBits(1) // mb_adaptive_frame_field_flag
	}
	br.ReadBits(1) // direct_8x8_inference_flag

	var left, right, top, bottom uint32
	if br.ReadBits(1) == 1 {
		left, right, top, bottom = br.ReadUE(), br.ReadUE(), br.ReadUE(), br.ReadUE()
	}
	if br.exhausted() {
		return info, errors.New("sps: truncated before picture size")
	}

	cropX, cropY := uint32(1), 2-frameMbsOnly
	switch chromaFormatIDC {
	case 1:
		cropX, cropY = 2, 2*(2-frameMbsOnly)
	case 2:
		cropX = 2
	}
	info.Width = crop((widthInMbsMinus1+1)*16, (left+right)*cropX)
	info.Height = crop((2-frameMbsOnly)*(heightInMapUnitsMinus1+1)*16, (top+bottom)*cropY)
	return info, nil
}

func skipScalingList(br *bitReader, size int) {
	last, next := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if next != 0 {
			next = (last + br.ReadSE() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// ParseSPS_H265 parses an H.265 SPS NAL unit (2-byte header included, no
// start code). The size is reduced by the conformance window.
func ParseSPS_H265(sps []byte) (SPSInfo, error) {
	info := SPSInfo{}
	if len(sps) < 2 {
		return info, errors.New("sps: too short")
	}
	br := newBitReader(removeEmulationPreventionBytes(sps))

	br.ReadBits(1) // forbidden_zero_bit
	nalType := br.ReadBits(6)
	br.ReadBits(6) // nuh_layer_id
	br.ReadBits(3) // nuh_temporal_id_plus1
	if nalType != 33 {
		return info, fmt.Errorf("not an H.265 SPS NAL unit (type: %d)", nalType)
	}

	br.ReadBits(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := br.ReadBits(3)
	br.ReadBits(1) // sps_temporal_id_nesting_flag

	profile, tier, level := parseProfileTierLevel(br, maxSubLayersMinus1)
	info.Profile = profile
	info.Level = fmt.Sprintf("%.1f", float32(level)/30.0)
	info.Tier = "Main"
	if tier == 1 {
		info.Tier = "High"
	}

	br.ReadUE() // sps_seq_parameter_set_id
	chromaFormatIDC := br.ReadUE()
	info.ChromaFormat = chromaFormatIDC
	if chromaFormatIDC == 3 {
		br.ReadBits(1) // separate_colour_plane_flag
	}
	width := br.ReadUE()
	height := br.ReadUE()

	var left, right, top, bottom uint32
	if br.ReadBits(1) == 1 {
		left, right, top, bottom = br.ReadUE(), br.ReadUE(), br.ReadUE(), br.ReadUE()
	}
	if br.exhausted() {
		return info, errors.New("sps: truncated before conformance window")
	}

	subWidthC, subHeightC := uint32(1), uint32(1)
	switch chromaFormatIDC {
	case 1:
		subWidthC, subHeightC = 2, 2
	case 2:
		subWidthC = 2
	}
	info.Width = crop(width, (left+right)*subWidthC)
	info.Height = crop(height, (top+bottom)*subHeightC)
	return info, nil
}

// crop ignores windows that would consume the whole picture.
func crop(size, by uint32) uint32 {
	if by >= size {
		return size
	}
	return size - by
}

func parseProfileTierLevel(br *bitReader, maxSubLayersMinus1 uint32) (profile, tier, level uint8) {
	br.ReadBits(2) // general_profile_space
	tier = uint8(br.ReadBits(1))
	profile = uint8(br.ReadBits(5))
	br.ReadBits(32) // general_profile_compatibility_flags
	br.ReadBits(32) // general_constraint_indicator_flags
	br.ReadBits(16)
	level = uint8(br.ReadBits(8))

	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for i := range maxSubLayersMinus1 {
		profilePresent[i] = br.ReadBits(1) == 1
		levelPresent[i] = br.ReadBits(1) == 1
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			br.ReadBits(2) // reserved_zero_2bits
		}
	}
	for i := range maxSubLayersMinus1 {
		if profilePresent[i] {
			br.ReadBits(8)
			br.ReadBits(32)
			br.ReadBits(32)
			br.ReadBits(16)
		}
		if levelPresent[i] {
			br.ReadBits(8)
		}
	}
	return profile, tier, level
}

// bitReader reads MSB-first bits. Reads past the end yield zero bits and
// mark the reader exhausted.
type bitReader struct {
	data   []byte
	offset int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) exhausted() bool { return r.offset > len(r.data)*8 }

func (r *bitReader) ReadBits(n int) uint32 {
	var res uint32
	for range n {
		byteOffset := r.offset / 8
		bitOffset := 7 - (r.offset % 8)
		r.offset++
		if byteOffset >= len(r.data) {
			res <<= 1
			continue
		}
		res = res<<1 | uint32((r.data[byteOffset]>>bitOffset)&1)
	}
	return res
}

// ReadUE reads an unsigned Exp-Golomb code.
func (r *bitReader) ReadUE() uint32 {
	leadingZeros := 0
	for r.ReadBits(1) == 0 {
		leadingZeros++
		if leadingZeros > 31 || r.exhausted() {
			return 0
		}
	}
	return (1 << leadingZeros) - 1 + r.ReadBits(leadingZeros)
}

// ReadSE reads a signed Exp-Golomb code.
func (r *bitReader) ReadSE() int32 {
	k := r.ReadUE()
	if k%2 == 1 {
		return int32((k + 1) / 2)
	}
	return -int32(k / 2)
}

// removeEmulationPreventionBytes turns 00 00 03 into 00 00.
func removeEmulationPreventionBytes(data []byte) []byte {
	if !bytes.Contains(data, []byte{0, 0, 3}) {
		return data
	}
	buf := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 {
			buf = append(buf, 0, 0)
			i += 3
			continue
		}
		buf = append(buf, data[i])
		i++
	}
	return buf
}
