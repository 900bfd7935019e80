package camera

// Driver はデバイスノードを開く低レベルドライバー
type Driver interface {
	// Open はデバイスを開いて排他的なハンドルを返す
	Open(path string) (Device, error)
}

// Device は開かれたデバイスハンドル。
// アクターのゴルーチンからのみ呼ばれるため、実装はスレッドセーフでなくてよい。
type Device interface {
	// Formats はデバイスが報告する全フォーマットを返す。
	// 個別に失敗したエントリは Err が設定される。
	Formats() []RawFormat

	// Resolutions は指定フォーマットでの解像度一覧を返す
	Resolutions(fourcc FourCC) (ResolutionInfo, error)

	// Apply はフォーマット・解像度・フレームレートをデバイスに設定する
	Apply(cfg DriverConfig) error

	// Start はキャプチャを開始する（アーム）
	Start(cfg DriverConfig) error

	// Stop はキャプチャを停止する（ディスアーム）
	Stop() error

	// Capture は1フレーム取得できるまでブロックする
	Capture() (RawFrame, error)

	// Close はハンドルを解放する
	Close() error
}

// RawFormat はドライバーが報告したフォーマット
type RawFormat struct {
	FourCC      FourCC
	Description string
	Err         error
}

// ResolutionInfo は解像度問い合わせの結果。
// Stepwise はステップ指定（連続値）の応答で、離散リストとしては空扱いになる。
type ResolutionInfo struct {
	Discrete []Resolution
	Stepwise bool
}

// Interval はフレーム間隔（秒）を分数で表す
type Interval struct {
	Numerator   uint32
	Denominator uint32
}

// DriverConfig はドライバーネイティブの設定形式
type DriverConfig struct {
	FourCC     FourCC
	Resolution Resolution
	Interval   Interval
}

// FPS はフレーム間隔からフレームレートを求める
func (c DriverConfig) FPS() float32 {
	if c.Interval.Numerator == 0 {
		return 0
	}
	return float32(c.Interval.Denominator) / float32(c.Interval.Numerator)
}

// RawFrame はドライバーが返したフレーム
type RawFrame struct {
	FourCC     FourCC
	Resolution Resolution
	Data       []byte
}
