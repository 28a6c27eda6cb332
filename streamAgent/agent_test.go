package sagent

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbcast/scrcpy"
	"adbcast/sdriver"
)

type fakeViewer struct {
	id      string
	frames  chan sdriver.Frame
	fail    atomic.Bool
	block   chan struct{}
	closing chan struct{}
	closed  atomic.Int32
}

func newFakeViewer(id string) *fakeViewer {
	return &fakeViewer{id: id, frames: make(chan sdriver.Frame, 1024)}
}

func (v *fakeViewer) ID() string { return v.id }

func (v *fakeViewer) Send(f sdriver.Frame) error {
	if v.block != nil {
		<-v.block
	}
	if v.fail.Load() {
		return errors.New("write: broken pipe")
	}
	v.frames <- f
	return nil
}

func (v *fakeViewer) Close() error {
	if v.closing != nil {
		<-v.closing
	}
	v.closed.Add(1)
	return nil
}

func (v *fakeViewer) next(t *testing.T) sdriver.Frame {
	t.Helper()
	select {
	case f := <-v.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("viewer %s got no frame", v.id)
		return sdriver.Frame{}
	}
}

func videoFrame(pts uint64, payload string) sdriver.Frame {
	return sdriver.Frame{Kind: sdriver.StreamVideo, Header: scrcpy.FrameHeader{Raw: pts, Size: uint32(len(payload))}, Payload: []byte(payload)}
}

func configFrame(kind sdriver.StreamKind, payload string) sdriver.Frame {
	return sdriver.Frame{Kind: kind, Header: scrcpy.FrameHeader{Raw: 1 << 63, Size: uint32(len(payload))}, Payload: []byte(payload)}
}

func newTestBroadcaster(opts ...Option) *Broadcaster {
	return NewBroadcaster(append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func TestBroadcasterLateJoinerGetsConfigFirst(t *testing.T) {
	b := newTestBroadcaster()
	b.Config(configFrame(sdriver.StreamVideo, "sps"))
	b.Config(configFrame(sdriver.StreamAudio, "opushead"))
	for i := range 10 {
		b.Frame(videoFrame(uint64(i), fmt.Sprint("frame", i)))
	}

	late := newFakeViewer("late")
	require.NoError(t, b.Attach(late))
	b.Frame(videoFrame(10, "frame10"))

	first := late.next(t)
	assert.True(t, first.IsConfig())
	assert.Equal(t, "sps", string(first.Payload))
	assert.Equal(t, "opushead", string(late.next(t).Payload))
	assert.Equal(t, "frame10", string(late.next(t).Payload))
}

func TestBroadcasterLatestConfigReplayed(t *testing.T) {
	b := newTestBroadcaster()
	b.Config(configFrame(sdriver.StreamVideo, "sps-portrait"))
	b.Config(configFrame(sdriver.StreamVideo, "sps-landscape"))

	v := newFakeViewer("v")
	require.NoError(t, b.Attach(v))
	assert.Equal(t, "sps-landscape", string(v.next(t).Payload))
}

func TestBroadcasterPreservesOrder(t *testing.T) {
	b := newTestBroadcaster()
	v1, v2 := newFakeViewer("a"), newFakeViewer("b")
	require.NoError(t, b.Attach(v1))
	require.NoError(t, b.Attach(v2))

	for i := range 100 {
		b.Frame(videoFrame(uint64(i), fmt.Sprint(i)))
	}
	for _, v := range []*fakeViewer{v1, v2} {
		for i := range 100 {
			assert.Equal(t, fmt.Sprint(i), string(v.next(t).Payload))
		}
	}
}

func TestBroadcasterFailingViewerIsEvicted(t *testing.T) {
	var emptied atomic.Int32
	b := newTestBroadcaster(OnEmpty(func() { emptied.Add(1) }))
	good, bad := newFakeViewer("good"), newFakeViewer("bad")
	bad.fail.Store(true)
	require.NoError(t, b.Attach(good))
	require.NoError(t, b.Attach(bad))

	b.Frame(videoFrame(1, "one"))
	require.Eventually(t, func() bool { return b.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), bad.closed.Load())

	b.Frame(videoFrame(2, "two"))
	assert.Equal(t, "one", string(good.next(t).Payload))
	assert.Equal(t, "two", string(good.next(t).Payload))
	assert.Zero(t, emptied.Load(), "one viewer remains")
	assert.Zero(t, good.closed.Load())
}

func TestBroadcasterSlowViewerOverflows(t *testing.T) {
	var emptied atomic.Int32
	b := newTestBroadcaster(WithQueueSize(4), OnEmpty(func() { emptied.Add(1) }))
	slow := newFakeViewer("slow")
	slow.block = make(chan struct{})
	require.NoError(t, b.Attach(slow))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 20 {
			b.Frame(videoFrame(uint64(i), "x"))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow viewer")
	}
	close(slow.block)
	require.Eventually(t, func() bool { return emptied.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, b.Len())
	assert.Equal(t, int32(1), slow.closed.Load())
}

func TestBroadcasterOverflowDoesNotWaitForClose(t *testing.T) {
	var emptied atomic.Int32
	b := newTestBroadcaster(WithQueueSize(4), OnEmpty(func() { emptied.Add(1) }))
	slow := newFakeViewer("slow")
	slow.block = make(chan struct{})
	slow.closing = make(chan struct{})
	fast := newFakeViewer("fast")
	require.NoError(t, b.Attach(slow))
	require.NoError(t, b.Attach(fast))

	start := time.Now()
	for i := range 20 {
		b.Frame(videoFrame(uint64(i), "x"))
		fast.next(t)
	}
	assert.Less(t, time.Since(start), time.Second, "eviction held up the broadcast")
	assert.Equal(t, 1, b.Len())
	assert.Zero(t, slow.closed.Load())

	close(slow.closing)
	close(slow.block)
	require.Eventually(t, func() bool { return slow.closed.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, emptied.Load(), "fast is still attached")
}

func TestBroadcasterDetach(t *testing.T) {
	var emptied atomic.Int32
	b := newTestBroadcaster(OnEmpty(func() { emptied.Add(1) }))
	v1, v2 := newFakeViewer("a"), newFakeViewer("b")
	require.NoError(t, b.Attach(v1))
	require.NoError(t, b.Attach(v2))
	assert.ErrorIs(t, b.Attach(v1), ErrDuplicate)

	assert.Equal(t, 1, b.Detach(v1))
	assert.Equal(t, 0, b.Detach(v2))
	assert.Equal(t, 0, b.Detach(v2))
	assert.Zero(t, emptied.Load(), "explicit detach is reported through the count")
	assert.Zero(t, v1.closed.Load(), "the caller owns detached viewers")
}

func TestBroadcasterClose(t *testing.T) {
	b := newTestBroadcaster()
	viewers := make([]*fakeViewer, 5)
	var wg sync.WaitGroup
	for i := range viewers {
		viewers[i] = newFakeViewer(fmt.Sprint(i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Attach(viewers[i]))
		}()
	}
	wg.Wait()
	b.Close()
	b.Close()
	for _, v := range viewers {
		assert.Equal(t, int32(1), v.closed.Load())
	}
	assert.ErrorIs(t, b.Attach(newFakeViewer("x")), ErrClosed)
	b.Frame(videoFrame(1, "after close"))
}

type countingObserver struct {
	frames, bytes, evicted atomic.Int64
}

func (o *countingObserver) FrameBroadcast(_ sdriver.StreamKind, n int) {
	o.frames.Add(1)
	o.bytes.Add(int64(n))
}

func (o *countingObserver) ViewerEvicted(error) { o.evicted.Add(1) }

func TestBroadcasterObserver(t *testing.T) {
	o := &countingObserver{}
	b := newTestBroadcaster(WithObserver(o))
	bad := newFakeViewer("bad")
	bad.fail.Store(true)
	require.NoError(t, b.Attach(bad))
	b.Frame(videoFrame(1, "abc"))
	b.Frame(videoFrame(2, "de"))
	require.Eventually(t, func() bool { return o.evicted.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), o.frames.Load())
	assert.Equal(t, int64(5), o.bytes.Load())
}

func TestFeedbackMessage(t *testing.T) {
	get := FeedbackMessage(sdriver.GetClipboardEvent{}, sdriver.Reply{Clipboard: "hi"})
	assert.Equal(t, []byte{0, 0, 0, 2, 0, 'h', 'i'}, get)

	set := FeedbackMessage(sdriver.SetClipboardEvent{}, sdriver.Reply{Sequence: 258})
	assert.Equal(t, []byte{0, 0, 0, 2, 1, 0, 0, 0, 0, 0, 0, 1, 2}, set)

	assert.Nil(t, FeedbackMessage(sdriver.TextEvent{}, sdriver.Reply{}))
}
