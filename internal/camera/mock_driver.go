package camera

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MockFormat はモックデバイスが報告するフォーマット
type MockFormat struct {
	FourCC      FourCC
	Resolutions []Resolution
	Stepwise    bool  // 解像度問い合わせをステップ形式で返す
	EnumErr     error // フォーマット列挙自体の失敗
	ResErr      error // 解像度列挙の失敗
}

// MockDriver はテストとデモ用のドライバー実装
type MockDriver struct {
	mu sync.Mutex

	devices map[string][]MockFormat

	// 失敗の注入
	applyErr        error
	startErr        error
	stopErr         error
	captureErr      error
	captureErrCount int // 0 なら captureErr を常に返す

	captureDelay time.Duration
	payload      func(seq int, cfg DriverConfig) []byte

	// 観測用
	opened   map[string]int
	closed   map[string]int
	captures int
	armed    bool
}

// NewMockDriver は新しいMockDriverを作成する
func NewMockDriver() *MockDriver {
	return &MockDriver{
		devices: make(map[string][]MockFormat),
		opened:  make(map[string]int),
		closed:  make(map[string]int),
	}
}

// DemoFormats はよくあるUSBカメラを模したフォーマット一覧を返す
func DemoFormats() []MockFormat {
	return []MockFormat{
		{
			FourCC:      PixelFormatMJPG.FourCC(),
			Resolutions: []Resolution{{Width: 1280, Height: 720}, {Width: 640, Height: 480}},
		},
		{
			FourCC:      PixelFormatYUYV.FourCC(),
			Resolutions: []Resolution{{Width: 640, Height: 480}},
		},
	}
}

// AddDevice はモックデバイスを登録する
func (d *MockDriver) AddDevice(path string, formats ...MockFormat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[path] = formats
}

// RemoveDevice はモックデバイスを削除する
func (d *MockDriver) RemoveDevice(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.devices, path)
}

// SetApplyError はテスト用にApply失敗を設定する
func (d *MockDriver) SetApplyError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyErr = err
}

// SetStartError はテスト用にStart失敗を設定する
func (d *MockDriver) SetStartError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startErr = err
}

// SetStopError はテスト用にStop失敗を設定する
func (d *MockDriver) SetStopError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopErr = err
}

// SetCaptureError はテスト用にCapture失敗を設定する。
// count が正ならその回数だけ失敗し、以降は成功する。
func (d *MockDriver) SetCaptureError(err error, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captureErr = err
	d.captureErrCount = count
}

// SetCaptureDelay はCaptureのブロック時間を設定する
func (d *MockDriver) SetCaptureDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captureDelay = delay
}

// SetPayload はフレームのペイロード生成関数を設定する
func (d *MockDriver) SetPayload(fn func(seq int, cfg DriverConfig) []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payload = fn
}

// OpenCount はデバイスが開かれた回数を返す
func (d *MockDriver) OpenCount(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened[path]
}

// CloseCount はデバイスが閉じられた回数を返す
func (d *MockDriver) CloseCount(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed[path]
}

// Armed はいずれかのデバイスがアーム状態かを返す
func (d *MockDriver) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Captures はCaptureが呼ばれた回数を返す
func (d *MockDriver) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// Open はモックデバイスを開く
func (d *MockDriver) Open(path string) (Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	formats, ok := d.devices[path]
	if !ok {
		return nil, errors.Errorf("%s: no such device", path)
	}
	d.opened[path]++
	return &mockDevice{driver: d, path: path, formats: formats}, nil
}

type mockDevice struct {
	driver  *MockDriver
	path    string
	formats []MockFormat
	config  DriverConfig
	armed   bool
	closed  bool
}

func (m *mockDevice) Formats() []RawFormat {
	raws := make([]RawFormat, 0, len(m.formats))
	for _, f := range m.formats {
		raws = append(raws, RawFormat{FourCC: f.FourCC, Description: f.FourCC.String(), Err: f.EnumErr})
	}
	return raws
}

func (m *mockDevice) Resolutions(fourcc FourCC) (ResolutionInfo, error) {
	for _, f := range m.formats {
		if f.FourCC != fourcc {
			continue
		}
		if f.ResErr != nil {
			return ResolutionInfo{}, f.ResErr
		}
		if f.Stepwise {
			return ResolutionInfo{Stepwise: true}, nil
		}
		return ResolutionInfo{Discrete: append([]Resolution(nil), f.Resolutions...)}, nil
	}
	return ResolutionInfo{}, errors.Errorf("%s: unknown format %s", m.path, fourcc)
}

func (m *mockDevice) Apply(cfg DriverConfig) error {
	d := m.driver
	d.mu.Lock()
	defer d.mu.Unlock()

	if m.closed {
		return errors.New("device closed")
	}
	if d.applyErr != nil {
		return d.applyErr
	}
	if cfg.Interval.Denominator == 0 {
		return errors.New("invalid frame interval")
	}
	m.config = cfg
	return nil
}

func (m *mockDevice) Start(cfg DriverConfig) error {
	d := m.driver
	d.mu.Lock()
	defer d.mu.Unlock()

	if m.closed {
		return errors.New("device closed")
	}
	if d.startErr != nil {
		return d.startErr
	}
	if m.armed {
		return errors.New("device busy")
	}
	m.config = cfg
	m.armed = true
	d.armed = true
	return nil
}

func (m *mockDevice) Stop() error {
	d := m.driver
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopErr != nil {
		return d.stopErr
	}
	m.armed = false
	d.armed = false
	return nil
}

func (m *mockDevice) Capture() (RawFrame, error) {
	d := m.driver
	d.mu.Lock()
	delay := d.captureDelay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.captures++
	if !m.armed {
		return RawFrame{}, errors.New("device not streaming")
	}
	if d.captureErr != nil {
		err := d.captureErr
		if d.captureErrCount > 0 {
			d.captureErrCount--
			if d.captureErrCount == 0 {
				d.captureErr = nil
			}
		}
		return RawFrame{}, err
	}

	var data []byte
	if d.payload != nil {
		data = d.payload(d.captures, m.config)
	} else {
		data = []byte(fmt.Sprintf("%s %s #%d", m.config.FourCC, m.config.Resolution, d.captures))
	}
	return RawFrame{FourCC: m.config.FourCC, Resolution: m.config.Resolution, Data: data}, nil
}

func (m *mockDevice) Close() error {
	d := m.driver
	d.mu.Lock()
	defer d.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.armed {
		m.armed = false
		d.armed = false
	}
	d.closed[m.path]++
	return nil
}
