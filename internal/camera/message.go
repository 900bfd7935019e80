package camera

import (
	"encoding/json"
	"fmt"
)

// Command はアクターへの入力メッセージ
type Command interface {
	commandName() string
}

// SetInterface はデバイスを別のデバイスノードに差し替える
type SetInterface struct {
	Path string
}

// DiscoverCapabilities はデバイスの能力を検出する
type DiscoverCapabilities struct{}

// GetConfiguration は現在の設定を取得する
type GetConfiguration struct{}

// SetConfiguration は設定を検証して適用する
type SetConfiguration struct {
	Width  uint32
	Height uint32
	FPS    uint32
	Format PixelFormat
}

// StartStreaming はストリーミングを開始する
type StartStreaming struct{}

// StopStreaming はストリーミングを停止する
type StopStreaming struct{}

// Shutdown はアクターを終了する
type Shutdown struct{}

func (SetInterface) commandName() string         { return "SetInterface" }
func (DiscoverCapabilities) commandName() string { return "DiscoverCapabilities" }
func (GetConfiguration) commandName() string     { return "GetConfiguration" }
func (SetConfiguration) commandName() string     { return "SetConfiguration" }
func (StartStreaming) commandName() string       { return "StartStreaming" }
func (StopStreaming) commandName() string        { return "StopStreaming" }
func (Shutdown) commandName() string             { return "Shutdown" }

// EventType はイベントの種類
type EventType int

const (
	EventInterfaceChanged EventType = iota + 1
	EventCapabilitiesDiscovered
	EventConfigurationRetrieved
	EventConfigured
	EventFrameCaptured
	EventStreamingStarted
	EventStreamingStopped
	EventShutdownComplete
	EventError
)

// String はイベント名を返す
func (t EventType) String() string {
	switch t {
	case EventInterfaceChanged:
		return "InterfaceChanged"
	case EventCapabilitiesDiscovered:
		return "CapabilitiesDiscovered"
	case EventConfigurationRetrieved:
		return "ConfigurationRetrieved"
	case EventConfigured:
		return "Configured"
	case EventFrameCaptured:
		return "FrameCaptured"
	case EventStreamingStarted:
		return "StreamingStarted"
	case EventStreamingStopped:
		return "StreamingStopped"
	case EventShutdownComplete:
		return "ShutdownComplete"
	case EventError:
		return "Error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// MarshalText はイベント名にエンコードする
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event はアクターからの出力メッセージ
type Event struct {
	Type         EventType
	Capabilities *Capabilities  // CapabilitiesDiscovered
	Config       *CaptureConfig // ConfigurationRetrieved, Configured
	Frame        *Frame         // FrameCaptured
	Err          *Error         // Error。StreamingStopped, InterfaceChanged, ShutdownComplete では停止失敗の原因
}

// IsReply はコマンドへの応答イベントかを返す。
// フレームとキャプチャ中のエラーはコマンドと対応しない。
func (e Event) IsReply() bool {
	switch e.Type {
	case EventFrameCaptured:
		return false
	case EventError:
		return e.Err == nil || e.Err.Op != opCapture
	case EventStreamingStopped:
		// 連続キャプチャ失敗による自動停止はコマンドの応答ではない
		return e.Err == nil
	default:
		return true
	}
}

func (e Event) String() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s(%v)", e.Type, e.Err)
	case e.Frame != nil:
		return fmt.Sprintf("%s(#%d)", e.Type, e.Frame.Sequence)
	default:
		return e.Type.String()
	}
}

type eventJSON struct {
	Type         EventType      `json:"type"`
	Capabilities *Capabilities  `json:"capabilities,omitempty"`
	Config       *CaptureConfig `json:"config,omitempty"`
	Frame        *Frame         `json:"frame,omitempty"` // ペイロードは含まない
	Error        *Error         `json:"error,omitempty"`
}

// MarshalJSON はイベントをJSONにエンコードする
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Type:         e.Type,
		Capabilities: e.Capabilities,
		Config:       e.Config,
		Frame:        e.Frame,
		Error:        e.Err,
	})
}
