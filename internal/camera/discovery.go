package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// DeviceDir はV4L2デバイスノードが置かれるディレクトリ
	DeviceDir = "/dev/"
	// DevicePrefix はV4L2デバイスノード名の接頭辞
	DevicePrefix = "video"

	sysfsVideoDir = "/sys/class/video4linux"
)

// ListDevices は /dev/ 以下の video* デバイスパスを返す
func ListDevices() []string {
	return ListDevicesIn(DeviceDir, DevicePrefix)
}

// ListDevicesIn は dir 以下で prefix から始まるエントリのパスを返す。
// 順序はディレクトリの列挙順のまま。読めない場合は空を返す。
func ListDevicesIn(dir, prefix string) []string {
	devices := []string{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return devices
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			devices = append(devices, filepath.Join(dir, entry.Name()))
		}
	}
	return devices
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) []string

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// DeviceName はデバイスの表示名を返す
	DeviceName(device string) string
}

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	dir      string
	prefix   string
	sysfsDir string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return NewLinuxDiscoveryIn(DeviceDir, DevicePrefix)
}

// NewLinuxDiscoveryIn は検索ディレクトリと接頭辞を指定してLinuxDiscoveryを作成する
func NewLinuxDiscoveryIn(dir, prefix string) *LinuxDiscovery {
	return &LinuxDiscovery{dir: dir, prefix: prefix, sysfsDir: sysfsVideoDir}
}

// ScanDevices はデバイスディレクトリをスキャンする
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) []string {
	var devices []string
	for _, device := range ListDevicesIn(d.dir, d.prefix) {
		// コンテキストのキャンセルをチェック
		select {
		case <-ctx.Done():
			return devices
		default:
		}
		devices = append(devices, device)
	}
	return devices
}

// IsDeviceAvailable はデバイスファイルが存在し読み取り可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer func() {
		_ = file.Close()
	}()
	return true
}

// DeviceName はsysfsからカメラ名を取得する。取得できない場合はノード名から生成する。
func (d *LinuxDiscovery) DeviceName(device string) string {
	base := filepath.Base(device)
	raw, err := os.ReadFile(filepath.Join(d.sysfsDir, base, "name"))
	if err == nil {
		if name := strings.TrimSpace(firstLine(string(raw))); name != "" {
			return name
		}
	}
	return fmt.Sprintf("カメラ %s", strings.TrimPrefix(base, d.prefix))
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu      sync.RWMutex
	devices []string
	names   map[string]string
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	names := make(map[string]string)
	for i, device := range devices {
		names[device] = fmt.Sprintf("テストカメラ %d", i+1)
	}
	return &MockDiscovery{
		devices: append([]string(nil), devices...),
		names:   names,
	}
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.devices...)
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d == device {
			return true
		}
	}
	return false
}

// DeviceName はモックデバイス名を返す
func (m *MockDiscovery) DeviceName(device string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name, ok := m.names[device]; ok {
		return name
	}
	return device
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 重複チェック
	for _, d := range m.devices {
		if d == device {
			return
		}
	}

	m.devices = append(m.devices, device)
	m.names[device] = fmt.Sprintf("テストカメラ %d", len(m.devices))
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.names, device)
}
