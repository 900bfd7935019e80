package camera

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 2 * time.Second

func spawnTest(t *testing.T, opts ...Option) (*MockDriver, *Handle, <-chan Event) {
	t.Helper()

	driver := NewMockDriver()
	driver.AddDevice(testDevice, DemoFormats()...)
	driver.AddDevice(otherDevice, DemoFormats()...)
	driver.SetCaptureDelay(time.Millisecond)

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	h, events, err := Spawn(driver, testDevice, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		h.Close()
		for range events {
		}
	})
	return driver, h, events
}

func send(t *testing.T, h *Handle, cmd Command) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, h.Send(ctx, cmd))
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// nextReply はフレームとキャプチャエラーを読み飛ばして応答を返す
func nextReply(t *testing.T, events <-chan Event) Event {
	t.Helper()

	for {
		if ev := nextEvent(t, events); ev.IsReply() {
			return ev
		}
	}
}

func requireClosed(t *testing.T, events <-chan Event) []Event {
	t.Helper()

	var rest []Event
	timeout := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return rest
			}
			rest = append(rest, ev)
		case <-timeout:
			t.Fatal("event channel was not closed")
		}
	}
}

func TestSpawn_UnknownDevice(t *testing.T) {
	driver := NewMockDriver()

	h, events, err := Spawn(driver, "/dev/video9", WithLogger(discardLogger()))

	assert.ErrorIs(t, err, ErrInterfaceNotFound)
	assert.Nil(t, h)
	assert.Nil(t, events)
}

func TestHandle_EndToEnd(t *testing.T) {
	driver, h, events := spawnTest(t, WithClock(func() time.Time { return testClock }))
	assert.Equal(t, testDevice, h.Device())

	send(t, h, DiscoverCapabilities{})
	ev := nextEvent(t, events)
	require.Equal(t, EventCapabilitiesDiscovered, ev.Type)
	require.Len(t, ev.Capabilities.Formats, 2)
	assert.Equal(t, PixelFormatMJPG, ev.Capabilities.Formats[0].Format)
	assert.Equal(t, []Resolution{{1280, 720}, {640, 480}}, ev.Capabilities.Formats[0].Resolutions)
	assert.Equal(t, PixelFormatYUYV, ev.Capabilities.Formats[1].Format)
	assert.Equal(t, []Resolution{{640, 480}}, ev.Capabilities.Formats[1].Resolutions)

	send(t, h, SetConfiguration{Width: 1280, Height: 720, FPS: 30, Format: PixelFormatMJPG})
	ev = nextEvent(t, events)
	require.Equal(t, EventConfigured, ev.Type)
	assert.Equal(t, "MJPG 1280x720@30", ev.Config.String())

	send(t, h, StartStreaming{})
	require.Equal(t, EventStreamingStarted, nextEvent(t, events).Type)

	for want := uint64(1); want <= 3; want++ {
		ev := nextEvent(t, events)
		require.Equal(t, EventFrameCaptured, ev.Type)
		assert.Equal(t, want, ev.Frame.Sequence)
		assert.Equal(t, PixelFormatMJPG, ev.Frame.Format)
		// タイムスタンプはドライバーではなくアクターの時計で付く
		assert.Equal(t, testClock, ev.Frame.Timestamp)
	}

	send(t, h, StopStreaming{})
	last := uint64(3)
	for {
		ev := nextEvent(t, events)
		if ev.Type == EventFrameCaptured {
			require.Equal(t, last+1, ev.Frame.Sequence)
			last = ev.Frame.Sequence
			continue
		}
		require.Equal(t, EventStreamingStopped, ev.Type)
		break
	}
	assert.False(t, driver.Armed())

	send(t, h, GetConfiguration{})
	ev = nextEvent(t, events)
	require.Equal(t, EventConfigurationRetrieved, ev.Type)
	assert.Equal(t, Resolution{1280, 720}, ev.Config.Resolution())

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	rest := requireClosed(t, events)
	require.Len(t, rest, 1)
	assert.Equal(t, EventShutdownComplete, rest[0].Type)
	assert.Equal(t, 1, driver.CloseCount(testDevice))
}

func TestHandle_CommandsServedWhileStreaming(t *testing.T) {
	_, h, events := spawnTest(t)

	send(t, h, DiscoverCapabilities{})
	nextEvent(t, events)
	send(t, h, SetConfiguration{Width: 640, Height: 480, FPS: 30, Format: PixelFormatYUYV})
	nextEvent(t, events)
	send(t, h, StartStreaming{})
	nextEvent(t, events)

	send(t, h, StartStreaming{})
	ev := nextReply(t, events)
	require.Equal(t, EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrAlreadyStreaming)

	send(t, h, GetConfiguration{})
	ev = nextReply(t, events)
	require.Equal(t, EventConfigurationRetrieved, ev.Type)
	assert.Equal(t, PixelFormatYUYV, ev.Config.Format())

	send(t, h, StopStreaming{})
	assert.Equal(t, EventStreamingStopped, nextReply(t, events).Type)
}

func TestHandle_ShutdownWhileStreaming(t *testing.T) {
	driver, h, events := spawnTest(t, WithEventBuffer(4))

	send(t, h, DiscoverCapabilities{})
	nextEvent(t, events)
	send(t, h, SetConfiguration{Width: 1280, Height: 720, FPS: 30, Format: PixelFormatMJPG})
	nextEvent(t, events)
	send(t, h, StartStreaming{})
	nextEvent(t, events)

	// 遅い受信側でもシャットダウンは完了する
	collected := make(chan []Event, 1)
	go func() {
		var all []Event
		for ev := range events {
			time.Sleep(time.Millisecond)
			all = append(all, ev)
		}
		collected <- all
	}()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	var all []Event
	select {
	case all = <-collected:
	case <-time.After(eventTimeout):
		t.Fatal("event channel was not closed")
	}

	shutdowns := 0
	for _, ev := range all {
		if ev.Type == EventShutdownComplete {
			shutdowns++
		}
	}
	assert.Equal(t, 1, shutdowns)
	assert.Equal(t, EventShutdownComplete, all[len(all)-1].Type)
	assert.False(t, driver.Armed())
	assert.Equal(t, 1, driver.CloseCount(testDevice))
}

func TestHandle_CloseIsImplicitShutdown(t *testing.T) {
	driver, h, events := spawnTest(t)

	h.Close()
	h.Close()

	rest := requireClosed(t, events)
	require.Len(t, rest, 1)
	assert.Equal(t, EventShutdownComplete, rest[0].Type)

	select {
	case <-h.Done():
	case <-time.After(eventTimeout):
		t.Fatal("actor did not exit")
	}
	assert.Equal(t, 1, driver.CloseCount(testDevice))
	assert.ErrorIs(t, h.Send(context.Background(), DiscoverCapabilities{}), ErrActorStopped)
}

func TestHandle_SendAfterShutdown(t *testing.T) {
	_, h, events := spawnTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	requireClosed(t, events)

	assert.ErrorIs(t, h.Send(ctx, StartStreaming{}), ErrActorStopped)
	// 二度目のシャットダウンも正常終了として扱う
	assert.NoError(t, h.Shutdown(ctx))
	assert.Error(t, h.Send(ctx, nil))
}

func TestHandle_CaptureFailureBound(t *testing.T) {
	driver, h, events := spawnTest(t, WithMaxCaptureFailures(2))

	send(t, h, DiscoverCapabilities{})
	nextEvent(t, events)
	send(t, h, SetConfiguration{Width: 640, Height: 480, FPS: 30, Format: PixelFormatMJPG})
	nextEvent(t, events)
	driver.SetCaptureError(errors.New("EIO"), 0)
	send(t, h, StartStreaming{})
	require.Equal(t, EventStreamingStarted, nextEvent(t, events).Type)

	for i := 0; i < 2; i++ {
		ev := nextEvent(t, events)
		require.Equal(t, EventError, ev.Type)
		assert.Equal(t, "capture", ev.Err.Op)
	}
	ev := nextEvent(t, events)
	require.Equal(t, EventStreamingStopped, ev.Type)
	assert.NotNil(t, ev.Err)

	// 自動停止後はコマンド待ちになる
	send(t, h, StopStreaming{})
	ev = nextEvent(t, events)
	require.Equal(t, EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, ErrNotStreaming)
}

// panicDriver はフォーマット列挙でパニックするデバイスを返す
type panicDriver struct {
	*MockDriver
}

func (d panicDriver) Open(path string) (Device, error) {
	dev, err := d.MockDriver.Open(path)
	if err != nil {
		return nil, err
	}
	return panicDevice{Device: dev}, nil
}

type panicDevice struct {
	Device
}

func (panicDevice) Formats() []RawFormat {
	panic("driver bug")
}

func TestHandle_AbnormalTermination(t *testing.T) {
	mock := NewMockDriver()
	mock.AddDevice(testDevice, DemoFormats()...)

	h, events, err := Spawn(panicDriver{mock}, testDevice, WithLogger(discardLogger()))
	require.NoError(t, err)

	send(t, h, DiscoverCapabilities{})
	rest := requireClosed(t, events)
	assert.Empty(t, rest, "no ShutdownComplete after a crash")

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	err = h.Shutdown(ctx)

	var termErr *TerminationError
	require.ErrorAs(t, err, &termErr)
	assert.Equal(t, testDevice, termErr.Device)
	assert.Equal(t, "driver bug", termErr.Value)
	assert.Equal(t, 1, mock.CloseCount(testDevice))
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	_, h, _ := spawnTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
}

func TestHandle_CloseDoesNotWaitForBlockedSend(t *testing.T) {
	_, h, _ := spawnTest(t, WithCommandBuffer(1), WithEventBuffer(1))

	// イベントを読まないので、アクターは2つ目の応答の発行で止まり、3つ目がバッファに残る
	for i := 0; i < 3; i++ {
		send(t, h, GetConfiguration{})
	}

	sendErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*eventTimeout)
		defer cancel()
		sendErr <- h.Send(ctx, GetConfiguration{})
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		h.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(eventTimeout):
		t.Fatal("Close waited for a pending Send")
	}
	select {
	case err := <-sendErr:
		assert.ErrorIs(t, err, ErrActorStopped)
	case <-time.After(eventTimeout):
		t.Fatal("pending Send was not released by Close")
	}
}
