package webservice

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	wire "adbcast/scrcpy"
	"adbcast/sdriver"
)

// msgTypeResolution updates the client's view size; it never reaches the
// device.
const msgTypeResolution = 999

const (
	defaultSwipeUnit  = 5
	defaultSwipeDelay = 0.005
)

// controlMessage is a text frame sent by a websocket client. Which fields
// matter depends on MsgType; pointer fields distinguish absent from zero.
type controlMessage struct {
	MsgType int   `json:"msg_type"`
	Action  *byte `json:"action"`

	Keycode int32 `json:"keycode"`
	Repeat  int32 `json:"repeat"`

	Text string `json:"text"`

	// Resolution is the size of the client's view that X and Y refer to.
	Resolution []float64 `json:"resolution"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	DistanceX  int32     `json:"distance_x"`
	DistanceY  int32     `json:"distance_y"`

	CopyKey  *byte   `json:"copy_key"`
	Sequence *uint64 `json:"sequence"`
	Paste    *bool   `json:"paste"`

	ScreenPowerMode *byte `json:"screen_power_mode"`

	EndX  float64  `json:"end_x"`
	EndY  float64  `json:"end_y"`
	Unit  *int32   `json:"unit"`
	Delay *float64 `json:"delay"`
}

func parseControlMessage(data []byte) (controlMessage, error) {
	var m controlMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("control message: %w", err)
	}
	return m, nil
}

// viewScale maps client view coordinates to device pixels.
type viewScale struct {
	view   sdriver.Size
	device sdriver.Size
}

func (s viewScale) point(x, y float64) (int32, int32) {
	if s.view.Width == 0 || s.view.Height == 0 || s.device.Width == 0 || s.device.Height == 0 {
		return int32(math.Round(x)), int32(math.Round(y))
	}
	return int32(math.Round(x * float64(s.device.Width) / float64(s.view.Width))),
		int32(math.Round(y * float64(s.device.Height) / float64(s.view.Height)))
}

// view returns the resolution carried by the message, if any.
func (m controlMessage) view() (sdriver.Size, bool) {
	if len(m.Resolution) != 2 || m.Resolution[0] <= 0 || m.Resolution[1] <= 0 {
		return sdriver.Size{}, false
	}
	return sdriver.Size{Width: uint32(m.Resolution[0]), Height: uint32(m.Resolution[1])}, true
}

// events expands m into the control events to send, in order. Keycode and
// back-or-screen-on without an action become a down/up pair.
func (m controlMessage) events(scale viewScale) ([]sdriver.Event, error) {
	if m.MsgType < 0 || m.MsgType > math.MaxUint8 {
		return nil, fmt.Errorf("unsupported msg_type %d", m.MsgType)
	}
	if v, ok := m.view(); ok {
		scale.view = v
	}
	switch byte(m.MsgType) {
	case wire.TypeInjectKeycode:
		if m.Action == nil {
			return []sdriver.Event{
				sdriver.KeycodeEvent{Action: wire.ActionDown, Keycode: m.Keycode, Repeat: m.Repeat},
				sdriver.KeycodeEvent{Action: wire.ActionUp, Keycode: m.Keycode, Repeat: m.Repeat},
			}, nil
		}
		return []sdriver.Event{sdriver.KeycodeEvent{Action: *m.Action, Keycode: m.Keycode, Repeat: m.Repeat}}, nil
	case wire.TypeInjectText:
		return []sdriver.Event{sdriver.TextEvent{Text: m.Text}}, nil
	case wire.TypeInjectTouchEvent:
		action := wire.ActionDown
		if m.Action != nil {
			action = *m.Action
		}
		x, y := scale.point(m.X, m.Y)
		return []sdriver.Event{sdriver.TouchEvent{Action: action, PointerID: wire.PointerIDMouse, X: x, Y: y, Buttons: wire.ButtonPrimary}}, nil
	case wire.TypeInjectScrollEvent:
		x, y := scale.point(m.X, m.Y)
		return []sdriver.Event{sdriver.ScrollEvent{X: x, Y: y, DX: m.DistanceX, DY: m.DistanceY, Buttons: wire.ButtonPrimary}}, nil
	case wire.TypeBackOrScreenOn:
		if m.Action == nil || *m.Action == wire.ActionDown {
			return []sdriver.Event{
				sdriver.BackOrScreenOnEvent{Action: wire.ActionDown},
				sdriver.BackOrScreenOnEvent{Action: wire.ActionUp},
			}, nil
		}
		return []sdriver.Event{sdriver.BackOrScreenOnEvent{Action: *m.Action}}, nil
	case wire.TypeExpandNotificationPanel:
		return []sdriver.Event{sdriver.ExpandNotificationPanelEvent{}}, nil
	case wire.TypeExpandSettingsPanel:
		return []sdriver.Event{sdriver.ExpandSettingsPanelEvent{}}, nil
	case wire.TypeCollapsePanels:
		return []sdriver.Event{sdriver.CollapsePanelsEvent{}}, nil
	case wire.TypeGetClipboard:
		key := wire.CopyKeyCopy
		if m.CopyKey != nil {
			key = *m.CopyKey
		}
		return []sdriver.Event{sdriver.GetClipboardEvent{CopyKey: key}}, nil
	case wire.TypeSetClipboard:
		ev := sdriver.SetClipboardEvent{Text: m.Text, Sequence: 1, Paste: true}
		if m.Sequence != nil {
			ev.Sequence = *m.Sequence
		}
		if m.Paste != nil {
			ev.Paste = *m.Paste
		}
		return []sdriver.Event{ev}, nil
	case wire.TypeSetScreenPowerMode:
		mode := wire.PowerModeNormal
		if m.ScreenPowerMode != nil {
			mode = *m.ScreenPowerMode
		}
		return []sdriver.Event{sdriver.ScreenPowerModeEvent{Mode: mode}}, nil
	case wire.TypeRotateDevice:
		return []sdriver.Event{sdriver.RotateEvent{}}, nil
	case wire.TypeInjectSwipe:
		return []sdriver.Event{m.swipe(scale)}, nil
	}
	return nil, fmt.Errorf("unsupported msg_type %d", m.MsgType)
}

// swipe moves unit pixels per step; delay is the whole gesture in seconds.
func (m controlMessage) swipe(scale viewScale) sdriver.SwipeEvent {
	unit := int32(defaultSwipeUnit)
	if m.Unit != nil && *m.Unit > 0 {
		unit = *m.Unit
	}
	delay := defaultSwipeDelay
	if m.Delay != nil && *m.Delay >= 0 {
		delay = *m.Delay
	}
	x, y := scale.point(m.X, m.Y)
	endX, endY := scale.point(m.EndX, m.EndY)
	// A zero duration would select the controller's default pace.
	d := max(time.Duration(math.Round(delay*float64(time.Second))), time.Nanosecond)
	return sdriver.SwipeEvent{X: x, Y: y, EndX: endX, EndY: endY, Stride: unit, Duration: d}
}
