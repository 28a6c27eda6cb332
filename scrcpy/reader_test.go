package scrcpy

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader hands out the underlying bytes in randomly sized pieces,
// the way TCP segments arrive.
type chunkReader struct {
	data []byte
	rng  *rand.Rand
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), len(r.data), 1+r.rng.IntN(7))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func encodeFrame(raw uint64, payload []byte) []byte {
	b := FrameHeader{Raw: raw, Size: uint32(len(payload))}.AppendTo(nil)
	return append(b, payload...)
}

func TestReadFrameChunkingInvariance(t *testing.T) {
	want := []Frame{
		{Header: FrameHeader{Raw: packetFlagConfig, Size: 6}, Payload: []byte{0, 0, 0, 1, 0x67, 0x42}},
		{Header: FrameHeader{Raw: packetFlagKeyFrame | 16666, Size: 300}, Payload: bytes.Repeat([]byte{0xaa}, 300)},
		{Header: FrameHeader{Raw: 33333, Size: 0}, Payload: []byte{}},
		{Header: FrameHeader{Raw: 50000, Size: 5}, Payload: []byte("hello")},
	}
	var stream []byte
	for _, f := range want {
		stream = append(stream, encodeFrame(f.Header.Raw, f.Payload)...)
	}

	for seed := range uint64(20) {
		r := &chunkReader{data: stream, rng: rand.New(rand.NewPCG(seed, 1))}
		for i, w := range want {
			got, err := ReadFrame(r)
			require.NoError(t, err, "seed %d frame %d", seed, i)
			assert.Equal(t, w.Header, got.Header)
			assert.Equal(t, w.Payload, got.Payload)
		}
		_, err := ReadFrame(r)
		assert.ErrorIs(t, err, ErrStreamClosed)
	}
}

func TestFrameHeaderFlags(t *testing.T) {
	h := FrameHeader{Raw: packetFlagConfig | packetFlagKeyFrame | 123456}
	assert.True(t, h.IsConfig())
	assert.True(t, h.IsKeyFrame())
	assert.EqualValues(t, 123456, h.PTS())

	h = FrameHeader{Raw: 99}
	assert.False(t, h.IsConfig())
	assert.False(t, h.IsKeyFrame())
}

func TestReadFrameTruncatedPayloadIsStreamClosed(t *testing.T) {
	b := encodeFrame(1, []byte("0123456789"))
	_, err := ReadFrame(bytes.NewReader(b[:len(b)-3]))
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// Truncated inside the header.
	_, err = ReadFrame(bytes.NewReader(b[:7]))
	assert.ErrorIs(t, err, ErrStreamClosed)

	// Header exactly followed by EOF.
	_, err = ReadFrame(bytes.NewReader(b[:FrameHeaderSize]))
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestHandshakeReaders(t *testing.T) {
	var b bytes.Buffer
	b.WriteByte(0)
	name := make([]byte, DeviceNameSize)
	copy(name, "Pixel")
	b.Write(name)
	b.WriteString("h264")
	binary.Write(&b, binary.BigEndian, [2]uint32{1080, 1920})

	require.NoError(t, ReadDummyByte(&b))
	got, err := ReadDeviceName(&b)
	require.NoError(t, err)
	assert.Equal(t, "Pixel", got)
	vm, err := ReadVideoMeta(&b)
	require.NoError(t, err)
	assert.Equal(t, VideoMeta{Codec: "h264", Width: 1080, Height: 1920}, vm)
}

func TestReadDummyByteMismatch(t *testing.T) {
	err := ReadDummyByte(bytes.NewReader([]byte{0x01}))
	assert.ErrorIs(t, err, ErrHandshake)
	err = ReadDummyByte(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestReadAudioMeta(t *testing.T) {
	am, err := ReadAudioMeta(bytes.NewReader([]byte("opus")))
	require.NoError(t, err)
	assert.Equal(t, "opus", am.Codec)

	am, err = ReadAudioMeta(bytes.NewReader([]byte("aac\x00")))
	require.NoError(t, err)
	assert.Equal(t, "aac", am.Codec)

	_, err = ReadAudioMeta(bytes.NewReader([]byte{0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrAudioDisabled)
}

func TestReadDeviceMessage(t *testing.T) {
	var b bytes.Buffer
	b.Write([]byte{DeviceMsgClipboard, 0, 0, 0, 5})
	b.WriteString("hello")
	b.WriteByte(DeviceMsgAckClipboard)
	b.Write(binary.BigEndian.AppendUint64(nil, 42))
	b.WriteByte(0x7f)

	m, err := ReadDeviceMessage(&b)
	require.NoError(t, err)
	assert.Equal(t, DeviceMessage{Type: DeviceMsgClipboard, Text: "hello"}, m)

	m, err = ReadDeviceMessage(&b)
	require.NoError(t, err)
	assert.EqualValues(t, 42, m.Sequence)

	_, err = ReadDeviceMessage(&b)
	assert.Error(t, err)

	_, err = ReadDeviceMessage(&b)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestReadRejectsOversizedLengths(t *testing.T) {
	var b bytes.Buffer
	b.Write(binary.BigEndian.AppendUint64(nil, 1))
	b.Write(binary.BigEndian.AppendUint32(nil, 0xffffffff))
	_, err := ReadFrame(&b)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NotErrorIs(t, err, ErrStreamClosed)

	b.Reset()
	b.WriteByte(DeviceMsgClipboard)
	b.Write(binary.BigEndian.AppendUint32(nil, MaxClipboardSize+1))
	_, err = ReadDeviceMessage(&b)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestCodecTagRoundTrip(t *testing.T) {
	tag := CodecTag("av1")
	assert.Equal(t, [4]byte{'a', 'v', '1', 0}, tag)
	assert.Equal(t, "av1", codecName(tag[:]))
	assert.Equal(t, [4]byte{}, CodecTag(""))
	assert.Equal(t, "scrcpy_0000002a", SocketName(42))
}
