package sdriver

import "time"

type EventType uint8

// Event is an input or command aimed at the device.
type Event interface {
	Type() EventType
}

const (
	EventKeycode                 EventType = 0
	EventText                    EventType = 1
	EventTouch                   EventType = 2
	EventScroll                  EventType = 3
	EventBackOrScreenOn          EventType = 4
	EventExpandNotificationPanel EventType = 5
	EventExpandSettingsPanel     EventType = 6
	EventCollapsePanels          EventType = 7
	EventGetClipboard            EventType = 8
	EventSetClipboard            EventType = 9
	EventSetScreenPowerMode      EventType = 10
	EventRotateDevice            EventType = 11
	EventResetVideo              EventType = 17
	EventSwipe                   EventType = 30
)

type KeycodeEvent struct {
	Action    byte
	Keycode   int32
	Repeat    int32
	MetaState int32
}

func (KeycodeEvent) Type() EventType { return EventKeycode }

type TextEvent struct {
	Text string
}

func (TextEvent) Type() EventType { return EventText }

// TouchEvent coordinates are in device pixels; the screen size is filled
// in from the current resolution.
type TouchEvent struct {
	Action    byte
	PointerID int64
	X, Y      int32
	Buttons   uint32
}

func (TouchEvent) Type() EventType { return EventTouch }

type ScrollEvent struct {
	X, Y    int32
	DX, DY  int32
	Buttons uint32
}

func (ScrollEvent) Type() EventType { return EventScroll }

type BackOrScreenOnEvent struct {
	Action byte
}

func (BackOrScreenOnEvent) Type() EventType { return EventBackOrScreenOn }

type ExpandNotificationPanelEvent struct{}

func (ExpandNotificationPanelEvent) Type() EventType { return EventExpandNotificationPanel }

type ExpandSettingsPanelEvent struct{}

func (ExpandSettingsPanelEvent) Type() EventType { return EventExpandSettingsPanel }

type CollapsePanelsEvent struct{}

func (CollapsePanelsEvent) Type() EventType { return EventCollapsePanels }

type GetClipboardEvent struct {
	CopyKey byte
}

func (GetClipboardEvent) Type() EventType { return EventGetClipboard }

type SetClipboardEvent struct {
	Text     string
	Sequence uint64
	Paste    bool
}

func (SetClipboardEvent) Type() EventType { return EventSetClipboard }

type ScreenPowerModeEvent struct {
	Mode byte
}

func (ScreenPowerModeEvent) Type() EventType { return EventSetScreenPowerMode }

type RotateEvent struct{}

func (RotateEvent) Type() EventType { return EventRotateDevice }

// ResetVideoEvent asks the encoder for a fresh config unit and key frame.
type ResetVideoEvent struct{}

func (ResetVideoEvent) Type() EventType { return EventResetVideo }

// SwipeEvent drags from (X, Y) to (EndX, EndY), moving at most Stride
// pixels per axis per step, spread over Duration.
type SwipeEvent struct {
	X, Y       int32
	EndX, EndY int32
	Stride     int32
	Duration   time.Duration
}

func (SwipeEvent) Type() EventType { return EventSwipe }
