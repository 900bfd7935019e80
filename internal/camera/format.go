package camera

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/vishalkuo/bimap"
)

// PixelFormat はカメラが出力する画素フォーマットを表す
type PixelFormat int

const (
	PixelFormatMJPG PixelFormat = iota // Motion JPEG
	PixelFormatYUYV                    // YUV 4:2:2 packed
	PixelFormatRGB3                    // RGB24
	PixelFormatBGR3                    // BGR24
	PixelFormatYU12                    // YUV 4:2:0 planar (I420)
	PixelFormatYV12                    // YVU 4:2:0 planar
)

// DefaultPixelFormat は未知のFourCCタグを受け取った場合のフォールバック
const DefaultPixelFormat = PixelFormatYUYV

// FourCC はドライバーとの間で画素フォーマットを識別する4バイトのASCIIタグ
type FourCC [4]byte

// fourccTable は PixelFormat と FourCC の双方向テーブル
var fourccTable = newFourCCTable()

func newFourCCTable() *bimap.BiMap[PixelFormat, FourCC] {
	table := bimap.NewBiMap[PixelFormat, FourCC]()
	table.Insert(PixelFormatMJPG, FourCC{'M', 'J', 'P', 'G'})
	table.Insert(PixelFormatYUYV, FourCC{'Y', 'U', 'Y', 'V'})
	table.Insert(PixelFormatRGB3, FourCC{'R', 'G', 'B', '3'})
	table.Insert(PixelFormatBGR3, FourCC{'B', 'G', 'R', '3'})
	table.Insert(PixelFormatYU12, FourCC{'Y', 'U', '1', '2'})
	table.Insert(PixelFormatYV12, FourCC{'Y', 'V', '1', '2'})
	table.MakeImmutable()
	return table
}

// PixelFormats はサポートする全フォーマットを定義順で返す
func PixelFormats() []PixelFormat {
	return []PixelFormat{
		PixelFormatMJPG,
		PixelFormatYUYV,
		PixelFormatRGB3,
		PixelFormatBGR3,
		PixelFormatYU12,
		PixelFormatYV12,
	}
}

// FromFourCC はFourCCタグを PixelFormat に変換する。
// テーブルに無いタグは DefaultPixelFormat になる（エラーにはしない）。
func FromFourCC(tag FourCC) PixelFormat {
	format, ok := fourccTable.GetInverse(tag)
	if !ok {
		return DefaultPixelFormat
	}
	return format
}

// FourCC は PixelFormat に対応するタグを返す
func (f PixelFormat) FourCC() FourCC {
	tag, ok := fourccTable.Get(f)
	if !ok {
		// 列挙外の値は作れないが、ゼロ値対策としてデフォルトのタグを返す
		tag, _ = fourccTable.Get(DefaultPixelFormat)
	}
	return tag
}

// String はフォーマット名（FourCC文字列）を返す
func (f PixelFormat) String() string {
	if _, ok := fourccTable.Get(f); !ok {
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
	return f.FourCC().String()
}

// MarshalText は "MJPG" のような文字列にエンコードする
func (f PixelFormat) MarshalText() ([]byte, error) {
	if _, ok := fourccTable.Get(f); !ok {
		return nil, fmt.Errorf("不明な画素フォーマット: %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText は "MJPG" のような文字列からデコードする
func (f *PixelFormat) UnmarshalText(text []byte) error {
	parsed, err := ParsePixelFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParsePixelFormat はフォーマット名を解析する。
// FromFourCC と違い、未知の名前はエラーになる。
func ParsePixelFormat(name string) (PixelFormat, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if len(name) != 4 {
		return 0, fmt.Errorf("不明な画素フォーマット: %q", name)
	}
	var tag FourCC
	copy(tag[:], name)
	format, ok := fourccTable.GetInverse(tag)
	if !ok {
		return 0, fmt.Errorf("不明な画素フォーマット: %q", name)
	}
	return format, nil
}

// String はタグをそのまま文字列として返す
func (c FourCC) String() string {
	return string(c[:])
}

// Uint32 はV4L2のピクセルフォーマットコード（リトルエンディアン）を返す
func (c FourCC) Uint32() uint32 {
	return binary.LittleEndian.Uint32(c[:])
}

// FourCCFromUint32 はV4L2のピクセルフォーマットコードをタグに変換する
func FourCCFromUint32(code uint32) FourCC {
	var tag FourCC
	binary.LittleEndian.PutUint32(tag[:], code)
	return tag
}
