package camera

import (
	"encoding/json"
	"fmt"
)

// ErrorKind はカメラ操作エラーの種別
type ErrorKind int

const (
	KindInterfaceNotFound         ErrorKind = iota + 1 // デバイスパスが無効、または開けない
	KindCapabilitiesNotDiscovered                      // 能力検出前に設定しようとした
	KindUnsupportedFormat                              // フォーマットが能力一覧に無い
	KindUnsupportedResolution                          // そのフォーマットでは解像度が使えない
	KindNotConfigured                                  // 設定が必要な操作
	KindAlreadyStreaming
	KindNotStreaming
	KindDriver // ドライバーのI/Oエラー
)

// String は種別名を返す
func (k ErrorKind) String() string {
	switch k {
	case KindInterfaceNotFound:
		return "InterfaceNotFound"
	case KindCapabilitiesNotDiscovered:
		return "CapabilitiesNotDiscovered"
	case KindUnsupportedFormat:
		return "UnsupportedFormat"
	case KindUnsupportedResolution:
		return "UnsupportedResolution"
	case KindNotConfigured:
		return "NotConfigured"
	case KindAlreadyStreaming:
		return "AlreadyStreaming"
	case KindNotStreaming:
		return "NotStreaming"
	case KindDriver:
		return "DriverError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// MarshalText は種別名にエンコードする
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error はアクターが Error イベントで報告するエラー
type Error struct {
	Kind ErrorKind
	Op   string // 失敗したコマンド名、またはキャプチャ中なら "capture"
	Err  error  // ドライバーエラーの原因
}

// 種別比較用のセンチネル。errors.Is(err, ErrNotStreaming) のように使う。
var (
	ErrInterfaceNotFound         = &Error{Kind: KindInterfaceNotFound}
	ErrCapabilitiesNotDiscovered = &Error{Kind: KindCapabilitiesNotDiscovered}
	ErrUnsupportedFormat         = &Error{Kind: KindUnsupportedFormat}
	ErrUnsupportedResolution     = &Error{Kind: KindUnsupportedResolution}
	ErrNotConfigured             = &Error{Kind: KindNotConfigured}
	ErrAlreadyStreaming          = &Error{Kind: KindAlreadyStreaming}
	ErrNotStreaming              = &Error{Kind: KindNotStreaming}
	ErrDriver                    = &Error{Kind: KindDriver}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は種別が一致すれば等しいとみなす
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// MarshalJSON は種別・操作・メッセージをJSONにエンコードする
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    ErrorKind `json:"kind"`
		Op      string    `json:"op,omitempty"`
		Message string    `json:"message"`
	}{
		Kind:    e.Kind,
		Op:      e.Op,
		Message: e.Error(),
	})
}

// IsValidation はドライバーを呼ぶ前に検出されたエラーかを返す
func (e *Error) IsValidation() bool {
	return e.Kind != KindDriver && e.Kind != KindInterfaceNotFound
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// TerminationError はアクターのゴルーチンが異常終了したことを表す
type TerminationError struct {
	Device string
	Value  any // recover() で得た値
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("カメラアクター %s が異常終了しました: %v", e.Device, e.Value)
}
