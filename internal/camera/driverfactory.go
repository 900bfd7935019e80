package camera

import (
	"fmt"
	"sort"
	"time"
)

const (
	// DriverV4L2 はV4L2デバイスを使うドライバー名
	DriverV4L2 = "v4l2"
	// DriverMock はモックデバイスを使うドライバー名
	DriverMock = "mock"
)

// DriverOptions はドライバー作成設定
type DriverOptions struct {
	MockDevices []string // モックドライバーに登録するデバイスパス
}

// DriverCreator はドライバー作成関数の型
type DriverCreator func(opts DriverOptions) (Driver, error)

// DriverFactory はドライバー名からドライバーを作成する
type DriverFactory struct {
	creators map[string]DriverCreator
}

// NewDriverFactory は標準のドライバーを登録済みのファクトリーを作成する
func NewDriverFactory() *DriverFactory {
	factory := &DriverFactory{
		creators: make(map[string]DriverCreator),
	}

	factory.Register(DriverV4L2, func(DriverOptions) (Driver, error) {
		return NewWebcamDriver(), nil
	})
	factory.Register(DriverMock, func(opts DriverOptions) (Driver, error) {
		d := NewMockDriver()
		for _, path := range opts.MockDevices {
			d.AddDevice(path, DemoFormats()...)
		}
		d.SetCaptureDelay(33 * time.Millisecond)
		return d, nil
	})

	return factory
}

// Register はドライバー作成関数を登録する
func (f *DriverFactory) Register(name string, creator DriverCreator) {
	f.creators[name] = creator
}

// Create はドライバーを作成する
func (f *DriverFactory) Create(name string, opts DriverOptions) (Driver, error) {
	creator, exists := f.creators[name]
	if !exists {
		return nil, fmt.Errorf("サポートされていないドライバー: %s", name)
	}
	return creator(opts)
}

// Names は登録済みのドライバー名を返す
func (f *DriverFactory) Names() []string {
	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
