package camera

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EventSink はアクターのイベントを外部へ転送する
type EventSink interface {
	Publish(cameraID string, ev Event)
}

// ServiceOptions は NewService の設定
type ServiceOptions struct {
	ID           string // 空なら UUID を割り当てる
	Name         string // 空ならデバイスパス
	Sink         EventSink
	Logger       *slog.Logger
	ActorOptions []Option
}

// Service はカメラアクター1台分のクライアントセッション。
// コマンドを同期的に送って応答を待ち、フレームは購読者へ配信する。
type Service struct {
	id     string
	name   string
	handle *Handle
	events <-chan Event

	// コマンドへの応答。同時に待つのは常に1件だけ
	replies  chan Event
	pumpDone chan struct{}

	frames  *Broadcaster[Frame]
	notices *Broadcaster[Event]

	// コマンドを直列化する
	reqMu sync.Mutex

	mu        sync.RWMutex
	abandoned int // 待つのをやめた応答の数
	snapshot  Camera

	sink   EventSink
	logger *slog.Logger
}

// NewService はデバイスを開いてアクターを起動し、セッションを返す
func NewService(driver Driver, device string, opts ServiceOptions) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	actorOpts := append([]Option{WithLogger(logger)}, opts.ActorOptions...)
	handle, events, err := Spawn(driver, device, actorOpts...)
	if err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	name := opts.Name
	if name == "" {
		name = device
	}

	s := &Service{
		id:       id,
		name:     name,
		handle:   handle,
		events:   events,
		replies:  make(chan Event, 1),
		pumpDone: make(chan struct{}),
		frames:   NewBroadcaster[Frame](logger),
		notices:  NewBroadcaster[Event](logger),
		snapshot: Camera{
			ID:       id,
			Name:     name,
			Device:   device,
			Attached: true,
			State:    StateIdle,
			LastSeen: time.Now(),
		},
		sink:   opts.Sink,
		logger: logger.With("camera", id),
	}

	go s.pump()
	return s, nil
}

// ID はカメラIDを返す
func (s *Service) ID() string {
	return s.id
}

// Device は現在のデバイスパスを返す
func (s *Service) Device() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Device
}

// Info は現在のスナップショットを返す
func (s *Service) Info() Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.snapshot
	c.Capabilities = s.snapshot.Capabilities.Clone()
	if s.snapshot.Config != nil {
		cfg := *s.snapshot.Config
		c.Config = &cfg
	}
	return c
}

// Done はアクターのイベントを最後まで処理し終えたらクローズされる
func (s *Service) Done() <-chan struct{} {
	return s.pumpDone
}

// Discover は能力を検出する
func (s *Service) Discover(ctx context.Context) (*Capabilities, error) {
	ev, err := s.request(ctx, DiscoverCapabilities{})
	if err != nil {
		return nil, err
	}
	return ev.Capabilities, nil
}

// Configure は設定を検証して適用する
func (s *Service) Configure(ctx context.Context, req SetConfiguration) (CaptureConfig, error) {
	ev, err := s.request(ctx, req)
	if err != nil {
		return CaptureConfig{}, err
	}
	return *ev.Config, nil
}

// Configuration は現在の設定を取得する
func (s *Service) Configuration(ctx context.Context) (CaptureConfig, error) {
	ev, err := s.request(ctx, GetConfiguration{})
	if err != nil {
		return CaptureConfig{}, err
	}
	return *ev.Config, nil
}

// StartStreaming はストリーミングを開始する
func (s *Service) StartStreaming(ctx context.Context) error {
	_, err := s.request(ctx, StartStreaming{})
	return err
}

// StopStreaming はストリーミングを停止する
func (s *Service) StopStreaming(ctx context.Context) error {
	_, err := s.request(ctx, StopStreaming{})
	return err
}

// SetInterface はデバイスを差し替える。失敗してもアクターは動き続け、
// 次の SetInterface まではデバイスを必要とする操作が InterfaceNotFound になる。
func (s *Service) SetInterface(ctx context.Context, path string) error {
	_, err := s.request(ctx, SetInterface{Path: path})

	var camErr *Error
	if err == nil || (errors.As(err, &camErr) && camErr.Op == "SetInterface") {
		s.mu.Lock()
		s.snapshot.Device = path
		s.mu.Unlock()
	}
	return err
}

// SubscribeFrames はフレームの購読を開始する
func (s *Service) SubscribeFrames(subscriberID string, bufferSize int) <-chan Frame {
	return s.frames.Subscribe(subscriberID, bufferSize)
}

// FrameSubscribers はフレーム購読者の数を返す
func (s *Service) FrameSubscribers() int {
	return s.frames.SubscriberCount()
}

// UnsubscribeFrames はフレームの購読を終了する
func (s *Service) UnsubscribeFrames(subscriberID string) {
	s.frames.Unsubscribe(subscriberID)
}

// SubscribeEvents は全イベントの購読を開始する
func (s *Service) SubscribeEvents(subscriberID string, bufferSize int) <-chan Event {
	return s.notices.Subscribe(subscriberID, bufferSize)
}

// UnsubscribeEvents はイベントの購読を終了する
func (s *Service) UnsubscribeEvents(subscriberID string) {
	s.notices.Unsubscribe(subscriberID)
}

// Close はアクターをシャットダウンし、残りのイベントを処理し終えるまで待つ
func (s *Service) Close(ctx context.Context) error {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	err := s.handle.Shutdown(ctx)

	select {
	case <-s.pumpDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// request はコマンドを送り、対応する応答イベントを待つ
func (s *Service) request(ctx context.Context, cmd Command) (Event, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	if err := s.handle.Send(ctx, cmd); err != nil {
		return Event{}, err
	}

	select {
	case ev := <-s.replies:
		return ev, replyError(ev)
	case <-s.pumpDone:
		// 終了直前に届いた応答を優先する
		select {
		case ev := <-s.replies:
			return ev, replyError(ev)
		default:
			return Event{}, ErrActorStopped
		}
	case <-ctx.Done():
		s.abandon()
		return Event{}, ctx.Err()
	}
}

func (s *Service) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.replies:
	default:
		s.abandoned++
	}
}

func replyError(ev Event) error {
	if ev.Type != EventError {
		return nil
	}
	if ev.Err == nil {
		return newError(KindDriver, "", errors.New("原因不明のエラー"))
	}
	return ev.Err
}

// pump はアクターのイベントを読み出し、応答と通知に振り分ける
func (s *Service) pump() {
	defer close(s.pumpDone)
	defer s.notices.Close()
	defer s.frames.Close()

	for ev := range s.events {
		s.observe(ev)

		if s.sink != nil {
			s.sink.Publish(s.id, ev)
		}
		if ev.Frame != nil {
			s.frames.Broadcast(*ev.Frame)
		}
		s.notices.Broadcast(ev)

		if ev.IsReply() {
			s.deliver(ev)
		}
	}

	if err := s.handle.Wait(context.Background()); err != nil {
		s.logger.Error("カメラアクターが異常終了しました", "error", err)
	}
}

func (s *Service) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abandoned > 0 {
		s.abandoned--
		return
	}

	select {
	case s.replies <- ev:
	default:
		s.logger.Warn("待機中の要求が無い応答を破棄します", "event", ev.String())
	}
}

// observe はイベントをスナップショットに反映する
func (s *Service) observe(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &s.snapshot
	c.LastSeen = time.Now()

	switch ev.Type {
	case EventInterfaceChanged:
		c.reset()
		c.Attached = true
		if ev.Err != nil {
			s.logger.Warn("差し替え前の停止に失敗しました", "error", ev.Err)
		}
	case EventCapabilitiesDiscovered:
		c.Capabilities = ev.Capabilities.Clone()
	case EventConfigured, EventConfigurationRetrieved:
		if ev.Config != nil {
			cfg := *ev.Config
			c.Config = &cfg
		}
		if ev.Type == EventConfigured {
			c.State = StateConfigured
		}
	case EventStreamingStarted:
		c.State = StateStreaming
	case EventStreamingStopped:
		c.State = StateConfigured
		if ev.Err != nil {
			s.logger.Warn("ストリーミングが自動停止しました", "error", ev.Err)
		}
	case EventFrameCaptured:
		c.LastSequence = ev.Frame.Sequence
		c.FramesCaptured++
	case EventShutdownComplete:
		c.State = StateIdle
		c.Attached = false
		if ev.Err != nil {
			s.logger.Warn("終了前の停止に失敗しました", "error", ev.Err)
		}
	case EventError:
		if ev.Err == nil {
			break
		}
		switch ev.Err.Op {
		case opCapture:
			c.CaptureErrors++
		case "SetInterface":
			c.reset()
			c.Attached = false
		}
	}
}

func (c *Camera) reset() {
	c.State = StateIdle
	c.Capabilities = nil
	c.Config = nil
	c.LastSequence = 0
}
