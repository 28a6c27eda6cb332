package scrcpy

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodedTouch mirrors the server-side parser for touch events.
type decodedTouch struct {
	Action        byte
	PointerID     int64
	X, Y          int32
	Width, Height uint16
	Pressure      uint16
	ActionButton  uint32
	Buttons       uint32
}

func decodeTouch(t *testing.T, b []byte, layout Layout) decodedTouch {
	t.Helper()
	require.Equal(t, TypeInjectTouchEvent, b[0])
	d := decodedTouch{
		Action:    b[1],
		PointerID: int64(binary.BigEndian.Uint64(b[2:10])),
		X:         int32(binary.BigEndian.Uint32(b[10:14])),
		Y:         int32(binary.BigEndian.Uint32(b[14:18])),
		Width:     binary.BigEndian.Uint16(b[18:20]),
		Height:    binary.BigEndian.Uint16(b[20:22]),
		Pressure:  binary.BigEndian.Uint16(b[22:24]),
	}
	if layout == LayoutV2 {
		require.Len(t, b, 32)
		d.ActionButton = binary.BigEndian.Uint32(b[24:28])
		d.Buttons = binary.BigEndian.Uint32(b[28:32])
	} else {
		require.Len(t, b, 28)
		d.Buttons = binary.BigEndian.Uint32(b[24:28])
	}
	return d
}

func TestTouchRoundTrip(t *testing.T) {
	for _, layout := range []Layout{LayoutV1, LayoutV2} {
		msg := InjectTouch{
			Action:       ActionDown,
			PointerID:    PointerIDMouse,
			Position:     Position{X: 100, Y: 200, Width: 1080, Height: 1920}.Clamp(),
			Pressure:     PressureMax,
			ActionButton: ButtonPrimary,
			Buttons:      ButtonPrimary,
		}
		got := decodeTouch(t, Encode(msg, layout), layout)
		assert.Equal(t, ActionDown, got.Action)
		assert.Equal(t, int64(-1), got.PointerID)
		assert.Equal(t, int32(100), got.X)
		assert.Equal(t, int32(200), got.Y)
		assert.Equal(t, uint16(1080), got.Width)
		assert.Equal(t, uint16(1920), got.Height)
		assert.Equal(t, PressureMax, got.Pressure)
		assert.Equal(t, ButtonPrimary, got.Buttons)
	}
}

func TestPositionClamp(t *testing.T) {
	p := Position{X: -5, Y: 50, Width: 1080, Height: 1920}.Clamp()
	assert.Equal(t, int32(0), p.X)
	assert.Equal(t, int32(50), p.Y)

	p = Position{X: 5000, Y: 1920, Width: 1080, Height: 1920}.Clamp()
	assert.Equal(t, int32(1079), p.X)
	assert.Equal(t, int32(1919), p.Y)

	p = Position{X: 7, Y: 7}.Clamp()
	assert.Equal(t, int32(0), p.X)
}

func TestScrollLayouts(t *testing.T) {
	msg := InjectScroll{Position: Position{X: 1, Y: 2, Width: 10, Height: 20}, DX: 0, DY: -1, Buttons: 0}

	v1 := Encode(msg, LayoutV1)
	require.Len(t, v1, 25)
	assert.Equal(t, int32(-1), int32(binary.BigEndian.Uint32(v1[17:21])))

	v2 := Encode(msg, LayoutV2)
	require.Len(t, v2, 21)
	assert.Equal(t, int16(-6000), int16(binary.BigEndian.Uint16(v2[15:17])))

	big := Encode(InjectScroll{DX: 100}, LayoutV2)
	assert.Equal(t, int16(32767), int16(binary.BigEndian.Uint16(big[13:15])))
}

func TestFixedMessages(t *testing.T) {
	assert.Equal(t, []byte{0, 1, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0, 0},
		Encode(InjectKeycode{Action: ActionUp, Keycode: 4}, LayoutV2))
	assert.Equal(t, []byte{1, 0, 0, 0, 2, 'h', 'i'}, Encode(InjectText{Text: "hi"}, LayoutV1))
	assert.Equal(t, []byte{4, 0}, Encode(BackOrScreenOn{Action: ActionDown}, LayoutV1))
	assert.Equal(t, []byte{8, 1}, Encode(GetClipboard{CopyKey: CopyKeyCopy}, LayoutV1))
	assert.Equal(t, []byte{10, 2}, Encode(SetScreenPowerMode{Mode: PowerModeNormal}, LayoutV1))
	assert.Equal(t, []byte{11}, Encode(RotateDevice, LayoutV1))
	assert.Equal(t, []byte{17}, Encode(ResetVideo, LayoutV2))

	set := Encode(SetClipboard{Sequence: 7, Paste: true, Text: "abc"}, LayoutV1)
	assert.Equal(t, append([]byte{9, 0, 0, 0, 0, 0, 0, 0, 7, 1, 0, 0, 0, 3}, "abc"...), set)
}

func TestLayoutForVersion(t *testing.T) {
	assert.Equal(t, LayoutV1, LayoutForVersion("1.25"))
	assert.Equal(t, LayoutV2, LayoutForVersion("2.1.1"))
	assert.Equal(t, LayoutV2, LayoutForVersion("3.3.3"))
	assert.Equal(t, LayoutV2, LayoutForVersion("10.0"))
	assert.Equal(t, LayoutV1, LayoutForVersion(""))
}
