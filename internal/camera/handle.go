package camera

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultCommandBuffer = 8
	DefaultEventBuffer   = 32
)

// ErrActorStopped はアクター終了後にコマンドを送ろうとしたときのエラー
var ErrActorStopped = errors.New("カメラアクターは終了しています")

type options struct {
	commandBuffer      int
	eventBuffer        int
	maxCaptureFailures int
	logger             *slog.Logger
	now                func() time.Time
}

// Option は Spawn の設定を変更する
type Option func(*options)

// WithCommandBuffer はコマンドチャンネルの容量を設定する
func WithCommandBuffer(n int) Option {
	return func(o *options) { o.commandBuffer = n }
}

// WithEventBuffer はイベントチャンネルの容量を設定する
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithMaxCaptureFailures は連続キャプチャ失敗で自動停止するまでの回数を設定する。
// 0 なら自動停止しない。
func WithMaxCaptureFailures(n int) Option {
	return func(o *options) { o.maxCaptureFailures = n }
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock はフレームのタイムスタンプに使う時計を設定する
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Handle はカメラアクターへのクライアント側の窓口。
// コマンドの送信と終了要求のみを提供し、デバイスには直接触れない。
type Handle struct {
	device   string
	commands chan Command
	done     chan struct{}

	// closing は Close の開始時にクローズされ、送信待ちの Send を起こす
	closing   chan struct{}
	closeOnce sync.Once

	// commands のクローズと送信を排他にする
	mu     sync.RWMutex
	closed bool

	// done がクローズされる前に書き込まれる
	termErr error
}

// Spawn はデバイスを開いてアクターを起動し、ハンドルとイベント受信側を返す。
// デバイスを開けない場合は何も起動せず InterfaceNotFound を返す。
func Spawn(driver Driver, path string, opts ...Option) (*Handle, <-chan Event, error) {
	o := options{
		commandBuffer: DefaultCommandBuffer,
		eventBuffer:   DefaultEventBuffer,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.commandBuffer < 1 {
		o.commandBuffer = 1
	}
	if o.eventBuffer < 1 {
		o.eventBuffer = 1
	}

	dev, err := driver.Open(path)
	if err != nil {
		return nil, nil, newError(KindInterfaceNotFound, "Spawn", errors.Wrapf(err, "%s を開けません", path))
	}

	commands := make(chan Command, o.commandBuffer)
	events := make(chan Event, o.eventBuffer)

	a := &actor{
		driver:             driver,
		path:               path,
		device:             dev,
		state:              StateIdle,
		maxCaptureFailures: o.maxCaptureFailures,
		commands:           commands,
		events:             events,
		logger:             o.logger.With("actor", path),
		now:                o.now,
	}

	h := &Handle{
		device:   path,
		commands: commands,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	go h.supervise(a, events)

	o.logger.Info("カメラアクターを起動しました", "device", path)
	return h, events, nil
}

// supervise はアクターを実行し、パニックを異常終了として記録する
func (h *Handle) supervise(a *actor, events chan Event) {
	defer close(h.done)
	defer close(events)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("カメラアクターがパニックしました", "panic", r, "stack", string(debug.Stack()))
			h.termErr = &TerminationError{Device: h.device, Value: r}
			// 可能な限りハンドルを解放する
			func() {
				defer func() { _ = recover() }()
				a.release()
			}()
		}
	}()

	a.run()
}

// Device はアクター起動時のデバイスパスを返す
func (h *Handle) Device() string {
	return h.device
}

// Send はコマンドを送信する。コマンドチャンネルが満杯ならブロックする。
func (h *Handle) Send(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return errors.New("コマンドが nil です")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrActorStopped
	}

	select {
	case <-h.done:
		return ErrActorStopped
	case <-h.closing:
		return ErrActorStopped
	default:
	}

	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return ErrActorStopped
	case <-h.closing:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown は Shutdown コマンドを送り、アクターの終了を待つ。
// 正常終了なら nil、異常終了なら *TerminationError を返す。
func (h *Handle) Shutdown(ctx context.Context) error {
	if err := h.Send(ctx, Shutdown{}); err != nil && !errors.Is(err, ErrActorStopped) {
		return err
	}
	return h.Wait(ctx)
}

// Close はコマンドチャンネルをクローズする。アクターは暗黙のシャットダウンとして扱う。
// 終了は待たない。送信待ちの Send は ErrActorStopped で戻る。
func (h *Handle) Close() {
	// 送信待ちの Send に読み取りロックを手放させてから書き込みロックを取る
	h.closeOnce.Do(func() { close(h.closing) })

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.commands)
}

// Wait はアクターの終了を待つ
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.termErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done はアクター終了時にクローズされるチャンネルを返す
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
