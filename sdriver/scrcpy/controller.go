package scrcpy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"adbcast/sdriver"
	wire "adbcast/scrcpy"
)

var ErrNoControl = errors.New("scrcpy session: control is disabled")

const (
	drainReads     = 10
	drainInterval  = 20 * time.Millisecond
	clipboardWait  = time.Second
	DefaultStride  = 5
	DefaultSwipeIn = time.Second
)

// Controller writes control messages on the session's control socket, one
// at a time. Callers queue in arrival order and may give up on ctx.
type Controller struct {
	conn         net.Conn
	layout       wire.Layout
	resolution   func() sdriver.Size
	writeTimeout time.Duration
	logger       zerolog.Logger

	sem chan struct{}
}

func newController(conn net.Conn, layout wire.Layout, resolution func() sdriver.Size, writeTimeout time.Duration, logger zerolog.Logger) *Controller {
	return &Controller{
		conn:         conn,
		layout:       layout,
		resolution:   resolution,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("component", "control").Logger(),
		sem:          make(chan struct{}, 1),
	}
}

func (c *Controller) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) unlock() { <-c.sem }

func (c *Controller) inject(ctx context.Context, m wire.ControlMsg) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	return c.write(m)
}

// write must be called with the lock held.
func (c *Controller) write(m wire.ControlMsg) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	if _, err := c.conn.Write(wire.Encode(m, c.layout)); err != nil {
		return fmt.Errorf("write control message: %w", err)
	}
	return nil
}

func (c *Controller) position(x, y int32) wire.Position {
	size := c.resolution()
	return wire.Position{X: x, Y: y, Width: uint16(size.Width), Height: uint16(size.Height)}.Clamp()
}

func (c *Controller) InjectKeycode(ctx context.Context, action byte, keycode, repeat, metaState int32) error {
	return c.inject(ctx, wire.InjectKeycode{Action: action, Keycode: keycode, Repeat: repeat, MetaState: metaState})
}

func (c *Controller) InjectText(ctx context.Context, text string) error {
	return c.inject(ctx, wire.InjectText{Text: text})
}

// InjectTouch sends a touch at device pixel (x, y). Pressure is released
// on UP.
func (c *Controller) InjectTouch(ctx context.Context, action byte, x, y int32, pointerID int64, buttons uint32) error {
	m := wire.InjectTouch{
		Action:    action,
		PointerID: pointerID,
		Position:  c.position(x, y),
		Pressure:  wire.PressureMax,
		Buttons:   buttons,
	}
	switch action {
	case wire.ActionUp:
		m.Pressure = 0
		m.ActionButton = buttons
		m.Buttons = 0
	case wire.ActionDown:
		m.ActionButton = buttons
	}
	return c.inject(ctx, m)
}

func (c *Controller) InjectScroll(ctx context.Context, x, y, dx, dy int32, buttons uint32) error {
	return c.inject(ctx, wire.InjectScroll{Position: c.position(x, y), DX: dx, DY: dy, Buttons: buttons})
}

func (c *Controller) BackOrScreenOn(ctx context.Context, action byte) error {
	return c.inject(ctx, wire.BackOrScreenOn{Action: action})
}

func (c *Controller) ExpandNotificationPanel(ctx context.Context) error {
	return c.inject(ctx, wire.ExpandNotificationPanel)
}

func (c *Controller) ExpandSettingsPanel(ctx context.Context) error {
	return c.inject(ctx, wire.ExpandSettingsPanel)
}

func (c *Controller) CollapsePanels(ctx context.Context) error {
	return c.inject(ctx, wire.CollapsePanels)
}

func (c *Controller) SetScreenPowerMode(ctx context.Context, mode byte) error {
	return c.inject(ctx, wire.SetScreenPowerMode{Mode: mode})
}

func (c *Controller) RotateDevice(ctx context.Context) error {
	return c.inject(ctx, wire.RotateDevice)
}

// ResetVideo asks the encoder to restart, which produces a new config unit
// and a key frame.
func (c *Controller) ResetVideo(ctx context.Context) error {
	return c.inject(ctx, wire.ResetVideo)
}

// drain discards device messages already buffered on the socket, such as
// clipboard change notifications, so they are not taken for a reply.
func (c *Controller) drain() {
	buf := make([]byte, 4096)
	for range drainReads {
		c.conn.SetReadDeadline(time.Now().Add(drainInterval))
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.logger.Debug().Int("bytes", n).Msg("discarded buffered device message")
		}
		if err != nil {
			break
		}
	}
	c.conn.SetReadDeadline(time.Time{})
}

// readReply reads device messages until one of type want arrives or the
// deadline passes.
func (c *Controller) readReply(want byte) (wire.DeviceMessage, error) {
	c.conn.SetReadDeadline(time.Now().Add(clipboardWait))
	defer c.conn.SetReadDeadline(time.Time{})
	for {
		msg, err := wire.ReadDeviceMessage(c.conn)
		if err != nil {
			return msg, err
		}
		if msg.Type == want {
			return msg, nil
		}
		c.logger.Debug().Uint8("type", msg.Type).Msg("skipped device message")
	}
}

// GetClipboard returns the device clipboard. No reply within a second
// yields an empty string and no error.
func (c *Controller) GetClipboard(ctx context.Context, copyKey byte) (string, error) {
	if err := c.lock(ctx); err != nil {
		return "", err
	}
	defer c.unlock()
	c.drain()
	if err := c.write(wire.GetClipboard{CopyKey: copyKey}); err != nil {
		return "", err
	}
	msg, err := c.readReply(wire.DeviceMsgClipboard)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		c.logger.Warn().Msg("no clipboard reply from device")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return msg.Text, nil
}

// SetClipboard sets the device clipboard and returns the sequence the
// device acknowledged. A zero sequence asks for no acknowledgement.
func (c *Controller) SetClipboard(ctx context.Context, text string, sequence uint64, paste bool) (uint64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.unlock()
	c.drain()
	if err := c.write(wire.SetClipboard{Sequence: sequence, Paste: paste, Text: text}); err != nil {
		return 0, err
	}
	if sequence == 0 {
		return 0, nil
	}
	msg, err := c.readReply(wire.DeviceMsgAckClipboard)
	if err != nil {
		return 0, fmt.Errorf("read clipboard ack: %w", err)
	}
	return msg.Sequence, nil
}

// Swipe drags the mouse pointer from (x, y) to (endX, endY) in steps of
// at most stride pixels per axis, spreading total over the steps. UP is
// sent even when ctx ends mid-gesture.
func (c *Controller) Swipe(ctx context.Context, x, y, endX, endY, stride int32, total time.Duration) error {
	if stride <= 0 {
		stride = DefaultStride
	}
	size := c.resolution()
	endX = min(endX, int32(size.Width))
	endY = min(endY, int32(size.Height))

	steps := max(swipeSteps(x, endX, stride), swipeSteps(y, endY, stride), 1)
	delay := total / time.Duration(steps)

	if err := c.InjectTouch(ctx, wire.ActionDown, x, y, wire.PointerIDMouse, wire.ButtonPrimary); err != nil {
		return err
	}
	// At least one move, so a swipe in place is a press and hold.
	var err error
	for {
		x = stepToward(x, endX, stride)
		y = stepToward(y, endY, stride)
		if err = c.InjectTouch(ctx, wire.ActionMove, x, y, wire.PointerIDMouse, wire.ButtonPrimary); err != nil {
			break
		}
		if err = sleepCtx(ctx, delay); err != nil {
			break
		}
		if x == endX && y == endY {
			break
		}
	}
	upErr := c.InjectTouch(context.WithoutCancel(ctx), wire.ActionUp, x, y, wire.PointerIDMouse, wire.ButtonPrimary)
	return errors.Join(err, upErr)
}

func swipeSteps(from, to, stride int32) int32 {
	d := to - from
	if d < 0 {
		d = -d
	}
	return (d + stride - 1) / stride
}

func stepToward(v, target, stride int32) int32 {
	if v < target {
		return v + min(target-v, stride)
	}
	return v - min(v-target, stride)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send dispatches a control event.
func (c *Controller) Send(ctx context.Context, ev sdriver.Event) (sdriver.Reply, error) {
	var err error
	switch e := ev.(type) {
	case sdriver.KeycodeEvent:
		err = c.InjectKeycode(ctx, e.Action, e.Keycode, e.Repeat, e.MetaState)
	case sdriver.TextEvent:
		err = c.InjectText(ctx, e.Text)
	case sdriver.TouchEvent:
		err = c.InjectTouch(ctx, e.Action, e.X, e.Y, e.PointerID, e.Buttons)
	case sdriver.ScrollEvent:
		err = c.InjectScroll(ctx, e.X, e.Y, e.DX, e.DY, e.Buttons)
	case sdriver.BackOrScreenOnEvent:
		err = c.BackOrScreenOn(ctx, e.Action)
	case sdriver.ExpandNotificationPanelEvent:
		err = c.ExpandNotificationPanel(ctx)
	case sdriver.ExpandSettingsPanelEvent:
		err = c.ExpandSettingsPanel(ctx)
	case sdriver.CollapsePanelsEvent:
		err = c.CollapsePanels(ctx)
	case sdriver.GetClipboardEvent:
		text, err := c.GetClipboard(ctx, e.CopyKey)
		return sdriver.Reply{Clipboard: text}, err
	case sdriver.SetClipboardEvent:
		seq, err := c.SetClipboard(ctx, e.Text, e.Sequence, e.Paste)
		return sdriver.Reply{Sequence: seq}, err
	case sdriver.ScreenPowerModeEvent:
		err = c.SetScreenPowerMode(ctx, e.Mode)
	case sdriver.RotateEvent:
		err = c.RotateDevice(ctx)
	case sdriver.ResetVideoEvent:
		err = c.ResetVideo(ctx)
	case sdriver.SwipeEvent:
		total := e.Duration
		if total <= 0 {
			total = DefaultSwipeIn
		}
		err = c.Swipe(ctx, e.X, e.Y, e.EndX, e.EndY, e.Stride, total)
	default:
		err = fmt.Errorf("unsupported control event %T", ev)
	}
	return sdriver.Reply{}, err
}
