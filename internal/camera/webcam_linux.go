//go:build linux

package camera

import (
	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

// frameTimeout は WaitForFrame の待ち時間（秒）
const frameTimeout = 5

// WebcamDriver はV4L2デバイスを github.com/blackjack/webcam で操作するドライバー
type WebcamDriver struct {
	bufferCount uint32
}

// NewWebcamDriver は新しいWebcamDriverを作成する
func NewWebcamDriver() *WebcamDriver {
	return &WebcamDriver{bufferCount: 4}
}

// Open はV4L2デバイスを開く
func (d *WebcamDriver) Open(path string) (Device, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "V4L2デバイス %s を開けません", path)
	}
	return &webcamDevice{cam: cam, path: path, bufferCount: d.bufferCount}, nil
}

type webcamDevice struct {
	cam         *webcam.Webcam
	path        string
	bufferCount uint32
	streaming   bool
	current     DriverConfig
}

func (w *webcamDevice) Formats() []RawFormat {
	supported := w.cam.GetSupportedFormats()
	formats := make([]RawFormat, 0, len(supported))
	for code, desc := range supported {
		formats = append(formats, RawFormat{FourCC: FourCCFromUint32(uint32(code)), Description: desc})
	}
	return formats
}

func (w *webcamDevice) Resolutions(fourcc FourCC) (ResolutionInfo, error) {
	sizes := w.cam.GetSupportedFrameSizes(webcam.PixelFormat(fourcc.Uint32()))
	if len(sizes) == 0 {
		return ResolutionInfo{}, errors.Errorf("%s: %s の解像度を取得できません", w.path, fourcc)
	}

	var info ResolutionInfo
	for _, size := range sizes {
		if size.StepWidth != 0 || size.StepHeight != 0 {
			continue
		}
		info.Discrete = append(info.Discrete, Resolution{Width: size.MaxWidth, Height: size.MaxHeight})
	}
	if len(info.Discrete) == 0 {
		info.Stepwise = true
	}
	return info, nil
}

func (w *webcamDevice) Apply(cfg DriverConfig) error {
	if cfg.Interval.Denominator == 0 || cfg.Interval.Numerator == 0 {
		return errors.Errorf("無効なフレーム間隔: %d/%d", cfg.Interval.Numerator, cfg.Interval.Denominator)
	}

	code, width, height, err := w.cam.SetImageFormat(
		webcam.PixelFormat(cfg.FourCC.Uint32()), cfg.Resolution.Width, cfg.Resolution.Height)
	if err != nil {
		return errors.Wrapf(err, "%s: フォーマット設定に失敗", w.path)
	}
	if FourCCFromUint32(uint32(code)) != cfg.FourCC || width != cfg.Resolution.Width || height != cfg.Resolution.Height {
		return errors.Errorf("%s: ドライバーが設定を変更しました (%s %dx%d)",
			w.path, FourCCFromUint32(uint32(code)), width, height)
	}

	if err := w.cam.SetFramerate(cfg.FPS()); err != nil {
		return errors.Wrapf(err, "%s: フレームレート設定に失敗", w.path)
	}

	w.current = cfg
	return nil
}

func (w *webcamDevice) Start(cfg DriverConfig) error {
	if err := w.Apply(cfg); err != nil {
		return err
	}
	if err := w.cam.SetBufferCount(w.bufferCount); err != nil {
		return errors.Wrapf(err, "%s: バッファ数の設定に失敗", w.path)
	}
	if err := w.cam.StartStreaming(); err != nil {
		return errors.Wrapf(err, "%s: ストリーミング開始に失敗", w.path)
	}
	w.streaming = true
	return nil
}

func (w *webcamDevice) Stop() error {
	if err := w.cam.StopStreaming(); err != nil {
		return errors.Wrapf(err, "%s: ストリーミング停止に失敗", w.path)
	}
	w.streaming = false
	return nil
}

func (w *webcamDevice) Capture() (RawFrame, error) {
	if err := w.cam.WaitForFrame(frameTimeout); err != nil {
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			return RawFrame{}, errors.Errorf("%s: %d秒以内にフレームが届きませんでした", w.path, frameTimeout)
		}
		return RawFrame{}, errors.Wrapf(err, "%s: フレーム待ちに失敗", w.path)
	}

	buf, err := w.cam.ReadFrame()
	if err != nil {
		return RawFrame{}, errors.Wrapf(err, "%s: フレーム読み込みに失敗", w.path)
	}

	// ReadFrame のバッファは次の読み込みで再利用されるためコピーする
	data := make([]byte, len(buf))
	copy(data, buf)

	return RawFrame{FourCC: w.current.FourCC, Resolution: w.current.Resolution, Data: data}, nil
}

func (w *webcamDevice) Close() error {
	if w.streaming {
		_ = w.cam.StopStreaming()
		w.streaming = false
	}
	return w.cam.Close()
}
