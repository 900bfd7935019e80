package camera

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

const opCapture = "capture"

var errNoDevice = errors.New("デバイスが開かれていません")

// actor はデバイスハンドルを排他的に所有し、コマンドを逐次処理する。
// フィールドはすべて run のゴルーチンからのみ触る。
type actor struct {
	driver Driver
	path   string
	device Device

	state    State
	caps     *Capabilities
	config   *CaptureConfig
	sequence uint64

	captureFailures    int
	maxCaptureFailures int // 0 は無制限

	commands <-chan Command
	events   chan<- Event

	logger *slog.Logger
	now    func() time.Time
}

// run はアクターのメインループ。
// 1) コマンドを1つ受け取り、完了まで実行してイベントを1つ発行する
// 2) ストリーミング中ならブロッキングキャプチャを1回行う
// ストリーミング中でなければキャプチャが無いので、コマンド受信でブロックする。
func (a *actor) run() {
	for {
		cmd, received, open := a.poll()
		if received {
			if !open {
				a.logger.Debug("コマンドチャンネルがクローズされたため終了します")
				a.terminate()
				return
			}
			if a.dispatch(cmd) {
				return
			}
		}

		if a.state == StateStreaming {
			a.capture()
		}
	}
}

func (a *actor) poll() (cmd Command, received bool, open bool) {
	if a.state != StateStreaming {
		cmd, open = <-a.commands
		return cmd, true, open
	}

	select {
	case cmd, open = <-a.commands:
		return cmd, true, open
	default:
		return nil, false, true
	}
}

// dispatch はコマンドを実行する。アクターが終了すべきなら true を返す。
func (a *actor) dispatch(cmd Command) bool {
	a.logger.Debug("コマンドを受信しました", "command", cmd.commandName(), "state", a.state)

	switch c := cmd.(type) {
	case SetInterface:
		a.publish(a.setInterface(c.Path))
	case DiscoverCapabilities:
		a.publish(a.discover())
	case GetConfiguration:
		a.publish(a.getConfiguration())
	case SetConfiguration:
		a.publish(a.setConfiguration(c))
	case StartStreaming:
		a.publish(a.start())
	case StopStreaming:
		a.publish(a.stop())
	case Shutdown:
		a.terminate()
		return true
	default:
		a.logger.Warn("不明なコマンドを無視します", "command", cmd.commandName())
	}
	return false
}

func (a *actor) publish(ev Event) {
	if ev.Type == EventError {
		a.logger.Debug("エラーを通知します", "error", ev.Err)
	}
	a.events <- ev
}

func errorEvent(kind ErrorKind, op string, err error) Event {
	return Event{Type: EventError, Err: newError(kind, op, err)}
}

func (a *actor) setInterface(path string) Event {
	const op = "SetInterface"

	var stopErr *Error
	if a.state == StateStreaming {
		if err := a.device.Stop(); err != nil {
			a.logger.Warn("インターフェース変更前の停止に失敗しました", "device", a.path, "error", err)
			stopErr = newError(KindDriver, op, errors.Wrapf(err, "%s の停止に失敗しました", a.path))
		}
	}
	a.release()

	a.state = StateIdle
	a.caps = nil
	a.config = nil
	a.sequence = 0
	a.captureFailures = 0
	a.path = path

	dev, err := a.driver.Open(path)
	if err != nil {
		return errorEvent(KindInterfaceNotFound, op, errors.Wrapf(err, "%s を開けません", path))
	}
	a.device = dev

	a.logger.Info("インターフェースを変更しました", "device", path)
	// 停止の失敗は差し替えを妨げないが、応答に載せて通知する
	return Event{Type: EventInterfaceChanged, Err: stopErr}
}

func (a *actor) discover() Event {
	const op = "DiscoverCapabilities"

	if a.device == nil {
		return errorEvent(KindInterfaceNotFound, op, errNoDevice)
	}

	caps := &Capabilities{Formats: []FormatCapability{}}
	for _, raw := range a.device.Formats() {
		if raw.Err != nil {
			a.logger.Debug("フォーマットの列挙に失敗したためスキップします", "error", raw.Err)
			continue
		}

		info, err := a.device.Resolutions(raw.FourCC)
		if err != nil {
			a.logger.Debug("解像度の列挙に失敗したためフォーマットを除外します", "fourcc", raw.FourCC.String(), "error", err)
			continue
		}

		resolutions := []Resolution{}
		if !info.Stepwise {
			resolutions = append(resolutions, info.Discrete...)
		}
		caps.Formats = append(caps.Formats, FormatCapability{
			Format:      FromFourCC(raw.FourCC),
			Resolutions: resolutions,
		})
	}

	a.caps = caps
	a.logger.Info("能力を検出しました", "device", a.path, "formats", len(caps.Formats))
	return Event{Type: EventCapabilitiesDiscovered, Capabilities: caps.Clone()}
}

func (a *actor) getConfiguration() Event {
	if a.config == nil {
		return errorEvent(KindNotConfigured, "GetConfiguration", nil)
	}
	cfg := *a.config
	return Event{Type: EventConfigurationRetrieved, Config: &cfg}
}

func (a *actor) setConfiguration(req SetConfiguration) Event {
	const op = "SetConfiguration"

	if a.caps == nil {
		return errorEvent(KindCapabilitiesNotDiscovered, op, nil)
	}
	if a.state == StateStreaming {
		return errorEvent(KindAlreadyStreaming, op, errors.New("再設定の前にストリーミングを停止してください"))
	}

	formatCap, ok := a.caps.Lookup(req.Format)
	if !ok {
		return errorEvent(KindUnsupportedFormat, op, errors.Errorf("%s はこのデバイスで使えません", req.Format))
	}

	res := Resolution{Width: req.Width, Height: req.Height}
	if !formatCap.Supports(res) {
		return errorEvent(KindUnsupportedResolution, op, errors.Errorf("%s は %s で使えません", res, req.Format))
	}

	if a.device == nil {
		return errorEvent(KindInterfaceNotFound, op, errNoDevice)
	}

	cfg := CaptureConfig{format: req.Format, resolution: res, fps: req.FPS}
	if err := a.device.Apply(cfg.driverConfig()); err != nil {
		return errorEvent(KindDriver, op, errors.Wrapf(err, "%s の適用に失敗しました", cfg))
	}

	a.config = &cfg
	a.state = StateConfigured
	a.logger.Info("設定を適用しました", "device", a.path, "config", cfg.String())

	reply := cfg
	return Event{Type: EventConfigured, Config: &reply}
}

func (a *actor) start() Event {
	const op = "StartStreaming"

	if a.state == StateStreaming {
		return errorEvent(KindAlreadyStreaming, op, nil)
	}
	if a.config == nil {
		return errorEvent(KindNotConfigured, op, nil)
	}
	if a.device == nil {
		return errorEvent(KindInterfaceNotFound, op, errNoDevice)
	}

	if err := a.device.Start(a.config.driverConfig()); err != nil {
		return errorEvent(KindDriver, op, errors.Wrap(err, "ストリーミングの開始に失敗しました"))
	}

	a.state = StateStreaming
	a.captureFailures = 0
	a.logger.Info("ストリーミングを開始しました", "device", a.path, "config", a.config.String())
	return Event{Type: EventStreamingStarted}
}

func (a *actor) stop() Event {
	const op = "StopStreaming"

	if a.state != StateStreaming {
		return errorEvent(KindNotStreaming, op, nil)
	}

	// 停止に失敗した場合、デバイスはアーム状態のままかもしれないので状態は変えない
	if err := a.device.Stop(); err != nil {
		return errorEvent(KindDriver, op, errors.Wrap(err, "ストリーミングの停止に失敗しました"))
	}

	a.state = StateConfigured
	a.logger.Info("ストリーミングを停止しました", "device", a.path, "frames", a.sequence)
	return Event{Type: EventStreamingStopped}
}

// capture はブロッキングキャプチャを1回行う。
// 失敗してもストリーミングは継続する。
func (a *actor) capture() {
	raw, err := a.device.Capture()
	timestamp := a.now()
	if err != nil {
		a.captureFailures++
		a.publish(errorEvent(KindDriver, opCapture, errors.Wrap(err, "フレームの取得に失敗しました")))

		if a.maxCaptureFailures > 0 && a.captureFailures >= a.maxCaptureFailures {
			a.forceStop(err)
		}
		return
	}
	a.captureFailures = 0
	a.sequence++

	res := raw.Resolution
	if res.Width == 0 || res.Height == 0 {
		res = a.config.Resolution()
	}

	a.publish(Event{
		Type: EventFrameCaptured,
		Frame: &Frame{
			Format:    FromFourCC(raw.FourCC),
			Width:     res.Width,
			Height:    res.Height,
			Timestamp: timestamp,
			Sequence:  a.sequence,
			Data:      raw.Data,
		},
	})
}

// forceStop は連続キャプチャ失敗が上限に達したときにストリーミングを止める
func (a *actor) forceStop(cause error) {
	a.logger.Warn("連続キャプチャ失敗が上限に達したため停止します", "device", a.path, "failures", a.captureFailures)

	if err := a.device.Stop(); err != nil {
		a.logger.Error("自動停止に失敗しました", "device", a.path, "error", err)
		a.captureFailures = 0
		return
	}

	a.state = StateConfigured
	a.captureFailures = 0
	a.publish(Event{
		Type: EventStreamingStopped,
		Err:  newError(KindDriver, opCapture, errors.Wrap(cause, "連続キャプチャ失敗による自動停止")),
	})
}

// terminate は必要なら停止してからハンドルを解放し、ShutdownComplete を発行する
func (a *actor) terminate() {
	var stopErr *Error
	if a.state == StateStreaming {
		if err := a.device.Stop(); err != nil {
			a.logger.Warn("シャットダウン時の停止に失敗しました", "device", a.path, "error", err)
			stopErr = newError(KindDriver, "Shutdown", errors.Wrapf(err, "%s の停止に失敗しました", a.path))
		}
	}
	a.release()
	a.state = StateIdle

	a.logger.Info("カメラアクターを終了しました", "device", a.path)
	a.publish(Event{Type: EventShutdownComplete, Err: stopErr})
}

func (a *actor) release() {
	if a.device == nil {
		return
	}
	if err := a.device.Close(); err != nil {
		a.logger.Warn("デバイスのクローズに失敗しました", "device", a.path, "error", err)
	}
	a.device = nil
}
