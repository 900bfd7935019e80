//go:build !linux

package camera

import (
	"runtime"

	"github.com/pkg/errors"
)

// WebcamDriver はV4L2が使えない環境向けのスタブ
type WebcamDriver struct{}

// NewWebcamDriver は新しいWebcamDriverを作成する
func NewWebcamDriver() *WebcamDriver {
	return &WebcamDriver{}
}

// Open は常に失敗する
func (d *WebcamDriver) Open(path string) (Device, error) {
	return nil, errors.Errorf("%s: V4L2は %s ではサポートされていません", path, runtime.GOOS)
}
