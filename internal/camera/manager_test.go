package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, devices []string, opts ManagerOptions) (*DefaultCameraManager, *MockDiscovery, *MockDriver) {
	t.Helper()

	driver := NewMockDriver()
	for _, device := range []string{"/dev/video0", "/dev/video1", "/dev/video2"} {
		driver.AddDevice(device, DemoFormats()...)
	}
	driver.SetCaptureDelay(time.Millisecond)

	discovery := NewMockDiscovery(devices)
	opts.Discovery = discovery
	opts.Driver = driver
	opts.Logger = discardLogger()

	manager := NewDefaultCameraManager(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		_ = manager.Stop(ctx)
	})
	return manager, discovery, driver
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestDefaultCameraManager_Basic(t *testing.T) {
	ctx := context.Background()
	manager, _, driver := newTestManager(t, []string{"/dev/video0", "/dev/video1"}, ManagerOptions{AutoAdd: true})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 自動検出されたカメラを確認
	cameras := manager.GetCameras()
	if len(cameras) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(cameras))
	}
	if cameras[0].Device != "/dev/video0" || cameras[1].Device != "/dev/video1" {
		t.Errorf("Expected cameras ordered by device, got %s, %s", cameras[0].Device, cameras[1].Device)
	}

	for _, cam := range cameras {
		if cam.State != StateIdle {
			t.Errorf("Expected camera %s to be idle, got %s", cam.ID, cam.State)
		}
		if !cam.Attached {
			t.Errorf("Expected camera %s to be attached", cam.ID)
		}
		if cam.Name == "" || cam.Name == cam.Device {
			t.Errorf("Expected discovery name for %s, got %q", cam.Device, cam.Name)
		}
	}

	if err := manager.Start(ctx); err == nil {
		t.Error("Expected second Start to fail")
	}

	if err := manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(manager.GetCameras()) != 0 {
		t.Error("Expected no cameras after Stop")
	}
	if driver.CloseCount("/dev/video0") != 1 || driver.CloseCount("/dev/video1") != 1 {
		t.Error("Expected every device to be released")
	}
}

func TestDefaultCameraManager_AddRemoveCamera(t *testing.T) {
	ctx := context.Background()
	manager, discovery, driver := newTestManager(t, nil, ManagerOptions{})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// 初期状態では0台
	if cameras := manager.GetCameras(); len(cameras) != 0 {
		t.Fatalf("Expected 0 cameras initially, got %d", len(cameras))
	}

	// 検出されていないデバイスは追加できない
	if _, err := manager.AddCamera(ctx, "/dev/video0"); err == nil {
		t.Fatal("Expected AddCamera to fail for unavailable device")
	}

	discovery.AddDevice("/dev/video0")
	camera, err := manager.AddCamera(ctx, "/dev/video0")
	if err != nil {
		t.Fatalf("AddCamera failed: %v", err)
	}
	if camera.ID == "" {
		t.Error("Expected camera ID to be set")
	}
	if camera.Device != "/dev/video0" {
		t.Errorf("Expected device /dev/video0, got %s", camera.Device)
	}

	// 同じデバイスは二重に追加できない
	if _, err := manager.AddCamera(ctx, "/dev/video0"); !errors.Is(err, ErrDeviceInUse) {
		t.Errorf("Expected ErrDeviceInUse, got %v", err)
	}

	got, exists := manager.GetCamera(camera.ID)
	if !exists {
		t.Fatal("Expected camera to exist")
	}
	if got.ID != camera.ID {
		t.Errorf("Expected camera ID %s, got %s", camera.ID, got.ID)
	}

	if err := manager.RemoveCamera(ctx, camera.ID); err != nil {
		t.Fatalf("RemoveCamera failed: %v", err)
	}
	if _, exists := manager.GetCamera(camera.ID); exists {
		t.Error("Expected camera to be removed")
	}
	if driver.CloseCount("/dev/video0") != 1 {
		t.Error("Expected device to be released")
	}

	if err := manager.RemoveCamera(ctx, camera.ID); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Expected ErrCameraNotFound, got %v", err)
	}
}

func TestDefaultCameraManager_Defaults(t *testing.T) {
	ctx := context.Background()
	defaults := &SetConfiguration{Width: 1280, Height: 720, FPS: 30, Format: PixelFormatMJPG}
	manager, _, _ := newTestManager(t, []string{"/dev/video0"}, ManagerOptions{AutoAdd: true, Defaults: defaults})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cameras := manager.GetCameras()
	if len(cameras) != 1 {
		t.Fatalf("Expected 1 camera, got %d", len(cameras))
	}
	cam := cameras[0]
	if cam.State != StateConfigured {
		t.Fatalf("Expected configured camera, got %s", cam.State)
	}
	if cam.Config == nil || cam.Config.String() != "MJPG 1280x720@30" {
		t.Errorf("Expected default config, got %v", cam.Config)
	}
	if cam.Capabilities == nil || len(cam.Capabilities.Formats) != 2 {
		t.Errorf("Expected discovered capabilities, got %v", cam.Capabilities)
	}
}

func TestDefaultCameraManager_UnsupportedDefaultsKeepCamera(t *testing.T) {
	ctx := context.Background()
	defaults := &SetConfiguration{Width: 1920, Height: 1080, FPS: 30, Format: PixelFormatMJPG}
	manager, _, _ := newTestManager(t, []string{"/dev/video0"}, ManagerOptions{AutoAdd: true, Defaults: defaults})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cameras := manager.GetCameras()
	if len(cameras) != 1 {
		t.Fatalf("Expected 1 camera, got %d", len(cameras))
	}
	if cameras[0].State != StateIdle {
		t.Errorf("Expected idle camera, got %s", cameras[0].State)
	}
}

func TestDefaultCameraManager_StartStopCamera(t *testing.T) {
	ctx := context.Background()
	defaults := &SetConfiguration{Width: 640, Height: 480, FPS: 30, Format: PixelFormatYUYV}
	manager, _, driver := newTestManager(t, []string{"/dev/video0"}, ManagerOptions{AutoAdd: true, Defaults: defaults})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := manager.GetCameras()[0].ID

	if err := manager.StartCamera(ctx, id); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	if err := manager.StartCamera(ctx, id); !errors.Is(err, ErrAlreadyStreaming) {
		t.Errorf("Expected ErrAlreadyStreaming, got %v", err)
	}

	waitFor(t, func() bool {
		cam, _ := manager.GetCamera(id)
		return cam.LastSequence >= 3
	}, "frames were not captured")

	if err := manager.StopCamera(ctx, id); err != nil {
		t.Fatalf("StopCamera failed: %v", err)
	}
	if driver.Armed() {
		t.Error("Expected driver to be disarmed")
	}

	if err := manager.StartCamera(ctx, "missing"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Expected ErrCameraNotFound, got %v", err)
	}
	if err := manager.StopCamera(ctx, "missing"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Expected ErrCameraNotFound, got %v", err)
	}
}

func TestDefaultCameraManager_SetInterface(t *testing.T) {
	ctx := context.Background()
	manager, discovery, _ := newTestManager(t, []string{"/dev/video0", "/dev/video1"}, ManagerOptions{AutoAdd: true})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cameras := manager.GetCameras()
	first, second := cameras[0].ID, cameras[1].ID

	// 他のカメラが使っているデバイスには切り替えられない
	if err := manager.SetInterface(ctx, first, "/dev/video1"); !errors.Is(err, ErrDeviceInUse) {
		t.Fatalf("Expected ErrDeviceInUse, got %v", err)
	}

	discovery.AddDevice("/dev/video2")
	if err := manager.SetInterface(ctx, first, "/dev/video2"); err != nil {
		t.Fatalf("SetInterface failed: %v", err)
	}
	cam, _ := manager.GetCamera(first)
	if cam.Device != "/dev/video2" {
		t.Errorf("Expected /dev/video2, got %s", cam.Device)
	}

	// 空いたデバイスは別のカメラが使える
	if err := manager.SetInterface(ctx, second, "/dev/video0"); err != nil {
		t.Fatalf("SetInterface to released device failed: %v", err)
	}

	if err := manager.SetInterface(ctx, "missing", "/dev/video1"); !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Expected ErrCameraNotFound, got %v", err)
	}
}

func TestDefaultCameraManager_SetInterfaceDoesNotBlockReaders(t *testing.T) {
	ctx := context.Background()
	manager, discovery, driver := newTestManager(t, []string{"/dev/video0", "/dev/video1"}, ManagerOptions{AutoAdd: true})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cameras := manager.GetCameras()
	first, second := cameras[0].ID, cameras[1].ID

	service, _ := manager.GetService(first)
	if _, err := service.Discover(ctx); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if _, err := service.Configure(ctx, SetConfiguration{Width: 640, Height: 480, FPS: 30, Format: PixelFormatMJPG}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	// キャプチャが終わるまでアクターは次のコマンドを処理しない
	driver.SetCaptureDelay(time.Second)
	if err := manager.StartCamera(ctx, first); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}

	discovery.AddDevice("/dev/video2")
	done := make(chan error, 1)
	go func() {
		done <- manager.SetInterface(ctx, first, "/dev/video2")
	}()
	time.Sleep(50 * time.Millisecond)

	listed := make(chan int, 1)
	go func() {
		listed <- len(manager.GetCameras())
	}()
	select {
	case n := <-listed:
		if n != 2 {
			t.Errorf("Expected 2 cameras, got %d", n)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("GetCameras blocked while SetInterface was in flight")
	}

	// 差し替え中のデバイスは予約済み
	if err := manager.SetInterface(ctx, second, "/dev/video2"); !errors.Is(err, ErrDeviceInUse) {
		t.Errorf("Expected ErrDeviceInUse for reserved device, got %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SetInterface failed: %v", err)
		}
	case <-time.After(eventTimeout):
		t.Fatal("SetInterface did not complete")
	}
	cam, _ := manager.GetCamera(first)
	if cam.Device != "/dev/video2" {
		t.Errorf("Expected /dev/video2, got %s", cam.Device)
	}
}

func TestDefaultCameraManager_DiscoverCameras(t *testing.T) {
	ctx := context.Background()
	manager, discovery, driver := newTestManager(t, []string{"/dev/video0", "/dev/video1"}, ManagerOptions{AutoAdd: true})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// デバイスを削除すると管理対象から外れる
	discovery.RemoveDevice("/dev/video1")
	devices, err := manager.DiscoverCameras(ctx)
	if err != nil {
		t.Fatalf("DiscoverCameras failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	if cameras := manager.GetCameras(); len(cameras) != 1 || cameras[0].Device != "/dev/video0" {
		t.Fatalf("Expected only /dev/video0, got %v", cameras)
	}
	if driver.CloseCount("/dev/video1") != 1 {
		t.Error("Expected vanished device to be released")
	}

	// 新しいデバイスは自動で追加される
	discovery.AddDevice("/dev/video2")
	if _, err := manager.DiscoverCameras(ctx); err != nil {
		t.Fatalf("DiscoverCameras failed: %v", err)
	}
	if cameras := manager.GetCameras(); len(cameras) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(cameras))
	}
}

func TestDefaultCameraManager_BackgroundScan(t *testing.T) {
	ctx := context.Background()
	manager, discovery, _ := newTestManager(t, []string{"/dev/video0"}, ManagerOptions{
		AutoAdd:      true,
		ScanInterval: 10 * time.Millisecond,
	})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	discovery.AddDevice("/dev/video1")
	waitFor(t, func() bool { return len(manager.GetCameras()) == 2 }, "new device was not added")

	discovery.RemoveDevice("/dev/video0")
	waitFor(t, func() bool { return len(manager.GetCameras()) == 1 }, "vanished device was not removed")

	if err := manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
