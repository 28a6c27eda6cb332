package scrcpy

// Control message types, client to device.
const (
	TypeInjectKeycode           byte = 0
	TypeInjectText              byte = 1
	TypeInjectTouchEvent        byte = 2
	TypeInjectScrollEvent       byte = 3
	TypeBackOrScreenOn          byte = 4
	TypeExpandNotificationPanel byte = 5
	TypeExpandSettingsPanel     byte = 6
	TypeCollapsePanels          byte = 7
	TypeGetClipboard            byte = 8
	TypeSetClipboard            byte = 9
	TypeSetScreenPowerMode      byte = 10
	TypeRotateDevice            byte = 11
	TypeResetVideo              byte = 17

	// TypeInjectSwipe never goes on the wire; the controller expands it
	// into touch events.
	TypeInjectSwipe byte = 30
)

// Device message types, device to client.
const (
	DeviceMsgClipboard    byte = 0
	DeviceMsgAckClipboard byte = 1
	DeviceMsgUHIDOutput   byte = 2
)

// Android key and motion actions.
const (
	ActionDown byte = 0
	ActionUp   byte = 1
	ActionMove byte = 2
)

const (
	CopyKeyNone byte = 0
	CopyKeyCopy byte = 1
	CopyKeyCut  byte = 2
)

const (
	PowerModeOff    byte = 0
	PowerModeNormal byte = 2
)

// Android MotionEvent button state bits.
const (
	ButtonPrimary   uint32 = 1 << 0
	ButtonSecondary uint32 = 1 << 1
	ButtonTertiary  uint32 = 1 << 2
)

const (
	// PointerIDMouse is the pointer id scrcpy reserves for mouse input.
	PointerIDMouse int64 = -1
	// PressureMax is the u16 fixed-point encoding of a pressure of 1.0.
	PressureMax uint16 = 0xffff
)

// Layout selects the byte layout of touch and scroll messages, which
// changed between server generations.
type Layout int

const (
	// LayoutV1: touch is 28 bytes with a single buttons field, scroll
	// carries i32 deltas (25 bytes).
	LayoutV1 Layout = 1
	// LayoutV2: touch adds an i32 action button before buttons (32 bytes),
	// scroll carries i16 fixed-point deltas (21 bytes).
	LayoutV2 Layout = 2
)

const scrollScaleV2 = 6000
