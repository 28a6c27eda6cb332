package scrcpy

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// ControlMsg is a message the client writes on the control socket.
type ControlMsg interface {
	// AppendBinary appends the wire form of the message for the given
	// layout.
	AppendBinary(b []byte, layout Layout) []byte
}

// Position is a point on a screen of the given size. The server drops
// events whose screen size does not match the current video size.
type Position struct {
	X, Y          int32
	Width, Height uint16
}

// Clamp pulls the point into [0, Width) x [0, Height).
func (p Position) Clamp() Position {
	p.X = clampInt32(p.X, 0, int32(p.Width)-1)
	p.Y = clampInt32(p.Y, 0, int32(p.Height)-1)
	return p
}

func (p Position) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(p.X))
	b = binary.BigEndian.AppendUint32(b, uint32(p.Y))
	b = binary.BigEndian.AppendUint16(b, p.Width)
	return binary.BigEndian.AppendUint16(b, p.Height)
}

func clampInt32(v, lo, hi int32) int32 {
	if hi < lo {
		hi = lo
	}
	return min(max(v, lo), hi)
}

type InjectKeycode struct {
	Action    byte
	Keycode   int32
	Repeat    int32
	MetaState int32
}

func (m InjectKeycode) AppendBinary(b []byte, _ Layout) []byte {
	b = append(b, TypeInjectKeycode, m.Action)
	b = binary.BigEndian.AppendUint32(b, uint32(m.Keycode))
	b = binary.BigEndian.AppendUint32(b, uint32(m.Repeat))
	return binary.BigEndian.AppendUint32(b, uint32(m.MetaState))
}

type InjectText struct {
	Text string
}

func (m InjectText) AppendBinary(b []byte, _ Layout) []byte {
	b = append(b, TypeInjectText)
	b = binary.BigEndian.AppendUint32(b, uint32(len(m.Text)))
	return append(b, m.Text...)
}

type InjectTouch struct {
	Action    byte
	PointerID int64
	Position  Position
	Pressure  uint16
	// ActionButton is only carried by LayoutV2.
	ActionButton uint32
	Buttons      uint32
}

func (m InjectTouch) AppendBinary(b []byte, layout Layout) []byte {
	b = append(b, TypeInjectTouchEvent, m.Action)
	b = binary.BigEndian.AppendUint64(b, uint64(m.PointerID))
	b = m.Position.appendTo(b)
	b = binary.BigEndian.AppendUint16(b, m.Pressure)
	if layout >= LayoutV2 {
		b = binary.BigEndian.AppendUint32(b, m.ActionButton)
	}
	return binary.BigEndian.AppendUint32(b, m.Buttons)
}

type InjectScroll struct {
	Position Position
	DX, DY   int32
	Buttons  uint32
}

func (m InjectScroll) AppendBinary(b []byte, layout Layout) []byte {
	b = append(b, TypeInjectScrollEvent)
	b = m.Position.appendTo(b)
	if layout >= LayoutV2 {
		b = binary.BigEndian.AppendUint16(b, uint16(scrollFixed(m.DX)))
		b = binary.BigEndian.AppendUint16(b, uint16(scrollFixed(m.DY)))
	} else {
		b = binary.BigEndian.AppendUint32(b, uint32(m.DX))
		b = binary.BigEndian.AppendUint32(b, uint32(m.DY))
	}
	return binary.BigEndian.AppendUint32(b, m.Buttons)
}

func scrollFixed(d int32) int16 {
	v := int64(d) * scrollScaleV2
	return int16(min(max(v, math.MinInt16), math.MaxInt16))
}

type BackOrScreenOn struct {
	Action byte
}

func (m BackOrScreenOn) AppendBinary(b []byte, _ Layout) []byte {
	return append(b, TypeBackOrScreenOn, m.Action)
}

type GetClipboard struct {
	CopyKey byte
}

func (m GetClipboard) AppendBinary(b []byte, _ Layout) []byte {
	return append(b, TypeGetClipboard, m.CopyKey)
}

type SetClipboard struct {
	Sequence uint64
	Paste    bool
	Text     string
}

func (m SetClipboard) AppendBinary(b []byte, _ Layout) []byte {
	b = append(b, TypeSetClipboard)
	b = binary.BigEndian.AppendUint64(b, m.Sequence)
	paste := byte(0)
	if m.Paste {
		paste = 1
	}
	b = append(b, paste)
	b = binary.BigEndian.AppendUint32(b, uint32(len(m.Text)))
	return append(b, m.Text...)
}

type SetScreenPowerMode struct {
	Mode byte
}

func (m SetScreenPowerMode) AppendBinary(b []byte, _ Layout) []byte {
	return append(b, TypeSetScreenPowerMode, m.Mode)
}

// Command is a message made of its type byte only: panel expansion,
// rotation and video reset.
type Command byte

func (m Command) AppendBinary(b []byte, _ Layout) []byte {
	return append(b, byte(m))
}

const (
	ExpandNotificationPanel Command = Command(TypeExpandNotificationPanel)
	ExpandSettingsPanel     Command = Command(TypeExpandSettingsPanel)
	CollapsePanels          Command = Command(TypeCollapsePanels)
	RotateDevice            Command = Command(TypeRotateDevice)
	ResetVideo              Command = Command(TypeResetVideo)
)

// Encode returns the wire form of m.
func Encode(m ControlMsg, layout Layout) []byte {
	return m.AppendBinary(nil, layout)
}

// LayoutForVersion picks the control layout spoken by a server version
// such as "2.1.1".
func LayoutForVersion(version string) Layout {
	major, _, _ := strings.Cut(version, ".")
	if n, err := strconv.Atoi(major); err == nil && n >= 2 {
		return LayoutV2
	}
	return LayoutV1
}
