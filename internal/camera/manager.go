package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vishalkuo/bimap"
)

// ErrCameraNotFound は指定IDのカメラが管理対象に無いことを表す
var ErrCameraNotFound = errors.New("カメラが見つかりません")

// ErrDeviceUnavailable はデバイスが検出されていない、または開けないことを表す
var ErrDeviceUnavailable = errors.New("デバイスが利用できません")

// ErrDeviceInUse はデバイスが既に別のカメラに割り当てられていることを表す
var ErrDeviceInUse = errors.New("デバイスは既に使用されています")

// Manager はカメラの動的管理を担うインターフェース
type Manager interface {
	// Start はカメラマネージャーを開始する
	Start(ctx context.Context) error

	// Stop は全カメラのアクターを終了する
	Stop(ctx context.Context) error

	// GetCameras は現在管理されているカメラ一覧を取得する
	GetCameras() []Camera

	// GetCamera は指定されたIDのカメラを取得する
	GetCamera(id string) (*Camera, bool)

	// GetService は指定されたIDのセッションを取得する
	GetService(id string) (*Service, bool)

	// AddCamera はデバイスのアクターを起動して管理対象に加える
	AddCamera(ctx context.Context, device string) (*Camera, error)

	// RemoveCamera はカメラのアクターを終了して管理対象から外す
	RemoveCamera(ctx context.Context, id string) error

	// StartCamera はストリーミングを開始する
	StartCamera(ctx context.Context, id string) error

	// StopCamera はストリーミングを停止する
	StopCamera(ctx context.Context, id string) error

	// SetInterface はカメラのデバイスを差し替える
	SetInterface(ctx context.Context, id, device string) error

	// DiscoverCameras はシステム内のカメラデバイスを再検出する
	DiscoverCameras(ctx context.Context) ([]string, error)
}

// ManagerOptions は DefaultCameraManager の設定
type ManagerOptions struct {
	Discovery    Discovery
	Driver       Driver
	ActorOptions []Option
	Sink         EventSink
	Logger       *slog.Logger

	// Defaults が設定されていれば、追加時に能力検出と設定まで行う
	Defaults *SetConfiguration

	// AutoAdd は検出した新しいデバイスを自動で追加する
	AutoAdd bool
	// ScanInterval はバックグラウンドスキャンの間隔。0 ならスキャンしない
	ScanInterval time.Duration
}

// DefaultCameraManager はCamera Managerのデフォルト実装。
// 1デバイスにつきアクターは1つだけ起動する。
type DefaultCameraManager struct {
	discovery Discovery
	driver    Driver
	actorOpts []Option
	sink      EventSink
	logger    *slog.Logger
	defaults  *SetConfiguration

	services map[string]*Service
	devices  *bimap.BiMap[string, string] // カメラID <-> デバイスパス
	mu       sync.RWMutex

	// 制御用
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool

	autoAdd      bool
	scanInterval time.Duration
}

// NewDefaultCameraManager は新しいDefaultCameraManagerを作成する
func NewDefaultCameraManager(opts ManagerOptions) *DefaultCameraManager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	discovery := opts.Discovery
	if discovery == nil {
		discovery = NewLinuxDiscovery()
	}

	return &DefaultCameraManager{
		discovery:    discovery,
		driver:       opts.Driver,
		actorOpts:    opts.ActorOptions,
		sink:         opts.Sink,
		logger:       logger,
		defaults:     opts.Defaults,
		services:     make(map[string]*Service),
		devices:      bimap.NewBiMap[string, string](),
		stopCh:       make(chan struct{}),
		autoAdd:      opts.AutoAdd,
		scanInterval: opts.ScanInterval,
	}
}

// Start は初期スキャンを行い、必要ならバックグラウンドスキャンを開始する
func (m *DefaultCameraManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("カメラマネージャーは既に開始されています")
	}
	if m.driver == nil {
		return fmt.Errorf("ドライバーが設定されていません")
	}

	devices := m.performDiscovery(ctx)
	m.logger.Info("初期スキャンが完了しました", "devices", len(devices), "cameras", len(m.services))

	if m.scanInterval > 0 {
		m.wg.Add(1)
		go m.backgroundScan(ctx)
	}
	m.running = true

	return nil
}

// Stop はバックグラウンドスキャンを止め、全カメラのアクターを終了する
func (m *DefaultCameraManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		close(m.stopCh)
	}
	m.mu.Unlock()

	// スキャン中のロック取得と競合しないようロック外で待つ
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	var stopErrors []error
	for id := range m.services {
		if err := m.removeCameraInternal(ctx, id); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("カメラ %s の停止に失敗: %w", id, err))
		}
	}

	m.stopCh = make(chan struct{})
	m.running = false

	if len(stopErrors) > 0 {
		return fmt.Errorf("一部のカメラ停止に失敗: %w", errors.Join(stopErrors...))
	}
	return nil
}

// GetCameras は現在管理されているカメラ一覧をデバイスパス順で取得する
func (m *DefaultCameraManager) GetCameras() []Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cameras := make([]Camera, 0, len(m.services))
	for _, service := range m.services {
		cameras = append(cameras, service.Info())
	}
	sort.Slice(cameras, func(i, j int) bool {
		if cameras[i].Device != cameras[j].Device {
			return cameras[i].Device < cameras[j].Device
		}
		return cameras[i].ID < cameras[j].ID
	})

	return cameras
}

// GetCamera は指定されたIDのカメラを取得する
func (m *DefaultCameraManager) GetCamera(id string) (*Camera, bool) {
	service, exists := m.GetService(id)
	if !exists {
		return nil, false
	}

	info := service.Info()
	return &info, true
}

// GetService は指定されたIDのセッションを取得する
func (m *DefaultCameraManager) GetService(id string) (*Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	service, exists := m.services[id]
	return service, exists
}

// AddCamera はカメラを動的に追加する
func (m *DefaultCameraManager) AddCamera(ctx context.Context, device string) (*Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.discovery.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, device)
	}

	service, err := m.addCameraInternal(ctx, device)
	if err != nil {
		return nil, err
	}

	info := service.Info()
	return &info, nil
}

// RemoveCamera はカメラを削除する
func (m *DefaultCameraManager) RemoveCamera(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.services[id]; !exists {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	return m.removeCameraInternal(ctx, id)
}

// StartCamera はカメラのストリーミングを開始する
func (m *DefaultCameraManager) StartCamera(ctx context.Context, id string) error {
	service, exists := m.GetService(id)
	if !exists {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	return service.StartStreaming(ctx)
}

// StopCamera はカメラのストリーミングを停止する
func (m *DefaultCameraManager) StopCamera(ctx context.Context, id string) error {
	service, exists := m.GetService(id)
	if !exists {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	return service.StopStreaming(ctx)
}

// SetInterface はカメラのデバイスを差し替える。
// 別のカメラが使っているデバイスには差し替えられない。
// アクターとのやり取りはロックの外で行う。
func (m *DefaultCameraManager) SetInterface(ctx context.Context, id, device string) error {
	m.mu.Lock()
	service, exists := m.services[id]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	if owner, ok := m.devices.GetInverse(device); ok && owner != id {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceInUse, device)
	}
	// 差し替え中に他のカメラが同じデバイスを取らないよう先に予約する
	m.devices.Delete(id)
	m.devices.Insert(id, device)
	m.mu.Unlock()

	err := service.SetInterface(ctx, device)

	m.mu.Lock()
	defer m.mu.Unlock()

	// 待っている間に削除されていれば対応表も既に消えている
	if current, ok := m.services[id]; !ok || current != service {
		return err
	}
	// アクターは失敗時も新しいパスを保持するので対応表はセッションに合わせる
	m.devices.Delete(id)
	m.devices.Insert(id, service.Device())

	return err
}

// DiscoverCameras はシステム内のカメラデバイスを再検出する
func (m *DefaultCameraManager) DiscoverCameras(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.performDiscovery(ctx), nil
}

// performDiscovery は検出処理を実行する（ロック済み前提）
func (m *DefaultCameraManager) performDiscovery(ctx context.Context) []string {
	devices := m.discovery.ScanDevices(ctx)

	present := make(map[string]bool, len(devices))
	for _, device := range devices {
		present[device] = true
	}

	// 新しく検出されたデバイスを自動追加
	if m.autoAdd {
		// 差し替え中のセッションは対応表と異なるデバイスをまだ持っている
		inUse := make(map[string]bool, len(m.services))
		for _, service := range m.services {
			inUse[service.Device()] = true
		}
		for _, device := range devices {
			if _, registered := m.devices.GetInverse(device); registered || inUse[device] {
				continue
			}
			if _, err := m.addCameraInternal(ctx, device); err != nil {
				m.logger.Warn("カメラの自動追加に失敗しました", "device", device, "error", err)
			}
		}
	}

	// 存在しなくなったデバイスと終了したアクターを削除
	var toRemove []string
	for id, service := range m.services {
		select {
		case <-service.Done():
			toRemove = append(toRemove, id)
			continue
		default:
		}
		if !present[service.Device()] {
			toRemove = append(toRemove, id)
		}
	}

	for _, id := range toRemove {
		m.logger.Info("カメラを管理対象から外します", "camera", id)
		if err := m.removeCameraInternal(ctx, id); err != nil {
			m.logger.Warn("カメラの削除に失敗しました", "camera", id, "error", err)
		}
	}

	return devices
}

// addCameraInternal は内部でカメラを追加する（ロック済み前提）
func (m *DefaultCameraManager) addCameraInternal(ctx context.Context, device string) (*Service, error) {
	if m.driver == nil {
		return nil, fmt.Errorf("ドライバーが設定されていません")
	}
	if _, exists := m.devices.GetInverse(device); exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceInUse, device)
	}

	service, err := NewService(m.driver, device, ServiceOptions{
		Name:         m.discovery.DeviceName(device),
		Sink:         m.sink,
		Logger:       m.logger,
		ActorOptions: m.actorOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("カメラ %s の起動に失敗: %w", device, err)
	}

	m.services[service.ID()] = service
	m.devices.Insert(service.ID(), device)
	m.logger.Info("カメラを追加しました", "camera", service.ID(), "device", device)

	if m.defaults != nil {
		m.applyDefaults(ctx, service)
	}

	return service, nil
}

// applyDefaults は能力検出と既定設定の適用を試みる。失敗してもカメラは残す。
func (m *DefaultCameraManager) applyDefaults(ctx context.Context, service *Service) {
	if _, err := service.Discover(ctx); err != nil {
		m.logger.Warn("能力検出に失敗しました", "camera", service.ID(), "error", err)
		return
	}
	if _, err := service.Configure(ctx, *m.defaults); err != nil {
		m.logger.Warn("既定設定を適用できません", "camera", service.ID(), "error", err)
	}
}

// removeCameraInternal は内部でカメラを削除する（ロック済み前提）
func (m *DefaultCameraManager) removeCameraInternal(ctx context.Context, id string) error {
	service, exists := m.services[id]
	if !exists {
		return nil
	}

	delete(m.services, id)
	m.devices.Delete(id)

	if err := service.Close(ctx); err != nil && !errors.Is(err, ErrActorStopped) {
		return fmt.Errorf("カメラ %s の終了に失敗: %w", id, err)
	}
	return nil
}

// backgroundScan は定期的なデバイススキャンを実行する
func (m *DefaultCameraManager) backgroundScan(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	m.mu.RLock()
	stopCh := m.stopCh
	m.mu.RUnlock()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			m.performDiscovery(ctx)
			m.mu.Unlock()
		}
	}
}
