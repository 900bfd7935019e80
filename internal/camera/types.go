package camera

import (
	"encoding/json"
	"fmt"
	"time"
)

// State はカメラアクターのライフサイクル状態を表す
type State int

const (
	StateIdle       State = iota // デバイスは開いているが未設定
	StateConfigured              // 設定済み、ストリーミング停止中
	StateStreaming               // ストリーミング中（ドライバーはアーム状態）
)

// String は状態名を返す
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText は状態名にエンコードする
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  uint32 `json:"width"`  // 幅
	Height uint32 `json:"height"` // 高さ
}

// String は "1280x720" 形式の文字列を返す
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// FormatCapability は1つのフォーマットとそのフォーマットで使える解像度の組
type FormatCapability struct {
	Format      PixelFormat  `json:"format"`
	Resolutions []Resolution `json:"resolutions"` // デバイスが報告した順序
}

// Supports は解像度がこのフォーマットで使えるかを返す
func (c FormatCapability) Supports(res Resolution) bool {
	for _, r := range c.Resolutions {
		if r == res {
			return true
		}
	}
	return false
}

// Capabilities はデバイス1台分の能力一覧
type Capabilities struct {
	Formats []FormatCapability `json:"formats"`
}

// Lookup は指定フォーマットの能力を探す
func (c *Capabilities) Lookup(format PixelFormat) (FormatCapability, bool) {
	if c == nil {
		return FormatCapability{}, false
	}
	for _, f := range c.Formats {
		if f.Format == format {
			return f, true
		}
	}
	return FormatCapability{}, false
}

// Clone はディープコピーを返す
func (c *Capabilities) Clone() *Capabilities {
	if c == nil {
		return nil
	}
	formats := make([]FormatCapability, len(c.Formats))
	for i, f := range c.Formats {
		formats[i] = FormatCapability{
			Format:      f.Format,
			Resolutions: append(make([]Resolution, 0, len(f.Resolutions)), f.Resolutions...),
		}
	}
	return &Capabilities{Formats: formats}
}

// CaptureConfig は検証済みのキャプチャ設定。
// 能力一覧との照合に成功した場合にのみアクターが生成する。
type CaptureConfig struct {
	format     PixelFormat
	resolution Resolution
	fps        uint32
}

// Format は画素フォーマットを返す
func (c CaptureConfig) Format() PixelFormat { return c.format }

// Resolution は解像度を返す
func (c CaptureConfig) Resolution() Resolution { return c.resolution }

// FPS はフレームレートを返す
func (c CaptureConfig) FPS() uint32 { return c.fps }

// String は "MJPG 1280x720@30" 形式の文字列を返す
func (c CaptureConfig) String() string {
	return fmt.Sprintf("%s %s@%d", c.format, c.resolution, c.fps)
}

// driverConfig はドライバーネイティブの設定形式に変換する
func (c CaptureConfig) driverConfig() DriverConfig {
	return DriverConfig{
		FourCC:     c.format.FourCC(),
		Resolution: c.resolution,
		Interval:   Interval{Numerator: 1, Denominator: c.fps},
	}
}

type captureConfigJSON struct {
	Format PixelFormat `json:"format"`
	Width  uint32      `json:"width"`
	Height uint32      `json:"height"`
	FPS    uint32      `json:"fps"`
}

// MarshalJSON は設定をJSONにエンコードする
func (c CaptureConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(captureConfigJSON{
		Format: c.format,
		Width:  c.resolution.Width,
		Height: c.resolution.Height,
		FPS:    c.fps,
	})
}

// Frame はキャプチャした1枚分の画像
type Frame struct {
	Format    PixelFormat `json:"format"`
	Width     uint32      `json:"width"`
	Height    uint32      `json:"height"`
	Timestamp time.Time   `json:"timestamp"` // アクターがキャプチャ完了時に付与
	Sequence  uint64      `json:"sequence"`  // 1から始まる連番
	Data      []byte      `json:"-"`
}

// Camera はマネージャーが管理するカメラ1台分のスナップショット。
// アクターが発行したイベントから組み立てる。
type Camera struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Device   string `json:"device"`   // デバイスパス（例: /dev/video0）
	Attached bool   `json:"attached"` // デバイスハンドルを保持しているか

	State        State          `json:"state"`
	Capabilities *Capabilities  `json:"capabilities,omitempty"`
	Config       *CaptureConfig `json:"config,omitempty"`

	LastSequence   uint64    `json:"last_sequence"`
	FramesCaptured uint64    `json:"frames_captured"`
	CaptureErrors  uint64    `json:"capture_errors"`
	LastSeen       time.Time `json:"last_seen"` // 最後にイベントを受信した時刻
}
