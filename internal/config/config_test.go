package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"camstream/internal/camera"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Camera: CameraConfig{
			Driver:        camera.DriverMock,
			DefaultFormat: "MJPG",
			DefaultWidth:  1280,
			DefaultHeight: 720,
			DefaultFPS:    30,
			CommandBuffer: 8,
			EventBuffer:   32,
		},
	}
}

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	// 設定を読み込む
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// カメラ設定の検証
	if cfg.Camera.Driver != camera.DriverV4L2 {
		t.Errorf("デフォルトドライバーが v4l2 ではありません: %s", cfg.Camera.Driver)
	}
	if cfg.Camera.DeviceDir != camera.DeviceDir || cfg.Camera.DevicePrefix != camera.DevicePrefix {
		t.Errorf("デバイス検出の設定が不正です: %s %s", cfg.Camera.DeviceDir, cfg.Camera.DevicePrefix)
	}
	if cfg.Camera.ScanInterval != 30*time.Second {
		t.Errorf("スキャン間隔が不正です: %s", cfg.Camera.ScanInterval)
	}

	// デフォルト値の検証
	defaults, err := cfg.Camera.Defaults()
	if err != nil {
		t.Fatalf("デフォルト設定の取得に失敗しました: %v", err)
	}
	if defaults == nil || defaults.Format != camera.PixelFormatMJPG || defaults.FPS != 15 {
		t.Errorf("デフォルト設定が不正です: %+v", defaults)
	}
	if cfg.MQTT.Broker != "" {
		t.Error("MQTTはデフォルトで無効のはずです")
	}
}

// TestConfigLoadFile は設定ファイルの読み込みをテストする
func TestConfigLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camstream.yaml")
	content := `
server:
  port: 9000
camera:
  driver: mock
  mock_devices: [/dev/video0, /dev/video1]
  default_format: yuyv
  default_width: 640
  default_height: 480
  default_fps: 30
  scan_interval: 5s
  max_capture_failures: 10
mqtt:
  broker: tcp://localhost:1883
  qos: 1
  password: secret
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("ポートが反映されていません: %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("未指定の値はデフォルトのはずです: %s", cfg.Server.Host)
	}
	if cfg.Camera.Driver != camera.DriverMock {
		t.Errorf("ドライバーが反映されていません: %s", cfg.Camera.Driver)
	}
	if len(cfg.Camera.MockDevices) != 2 {
		t.Errorf("モックデバイスが反映されていません: %v", cfg.Camera.MockDevices)
	}
	if cfg.Camera.ScanInterval != 5*time.Second {
		t.Errorf("スキャン間隔が反映されていません: %s", cfg.Camera.ScanInterval)
	}
	if cfg.Camera.MaxCaptureFailures != 10 {
		t.Errorf("連続キャプチャ失敗数が反映されていません: %d", cfg.Camera.MaxCaptureFailures)
	}
	if cfg.MQTT.QoS != 1 || cfg.MQTT.TopicPrefix != "camstream" {
		t.Errorf("MQTT設定が不正です: %+v", cfg.MQTT)
	}

	defaults, err := cfg.Camera.Defaults()
	if err != nil {
		t.Fatalf("デフォルト設定の取得に失敗しました: %v", err)
	}
	if defaults.Format != camera.PixelFormatYUYV || defaults.Width != 640 {
		t.Errorf("デフォルト設定が不正です: %+v", defaults)
	}

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAMLの生成に失敗しました: %v", err)
	}
	if strings.Contains(string(out), "secret") {
		t.Error("パスワードが伏せられていません")
	}
	if !strings.Contains(string(out), "driver: mock") {
		t.Errorf("YAMLにドライバーが含まれていません:\n%s", out)
	}
}

// TestConfigLoadMissingFile は指定した設定ファイルが無い場合をテストする
func TestConfigLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("エラーが期待されましたが、エラーが発生しませんでした")
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "不明なドライバー",
			modify:    func(c *Config) { c.Camera.Driver = "ffmpeg" },
			expectErr: true,
		},
		{
			name:      "不明なデフォルトフォーマット",
			modify:    func(c *Config) { c.Camera.DefaultFormat = "H264" },
			expectErr: true,
		},
		{
			name:      "デフォルトFPSなし",
			modify:    func(c *Config) { c.Camera.DefaultFPS = 0 },
			expectErr: true,
		},
		{
			name: "デフォルト設定を使わない",
			modify: func(c *Config) {
				c.Camera.DefaultFormat = ""
				c.Camera.DefaultFPS = 0
			},
			expectErr: false,
		},
		{
			name:      "コマンドバッファなし",
			modify:    func(c *Config) { c.Camera.CommandBuffer = 0 },
			expectErr: true,
		},
		{
			name:      "負の連続キャプチャ失敗数",
			modify:    func(c *Config) { c.Camera.MaxCaptureFailures = -1 },
			expectErr: true,
		},
		{
			name: "無効なQoS",
			modify: func(c *Config) {
				c.MQTT.Broker = "tcp://localhost:1883"
				c.MQTT.TopicPrefix = "camstream"
				c.MQTT.QoS = 3
			},
			expectErr: true,
		},
		{
			name:      "MQTT無効ならQoSは見ない",
			modify:    func(c *Config) { c.MQTT.QoS = 3 },
			expectErr: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("CAMSTREAM_CAMERA_DRIVER", "mock")
	t.Setenv("CAMSTREAM_MQTT_BROKER", "tcp://broker:1883")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Camera.Driver != camera.DriverMock {
		t.Errorf("環境変数のドライバーが反映されていません: got %s", cfg.Camera.Driver)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("環境変数のブローカーが反映されていません: got %s", cfg.MQTT.Broker)
	}
}

func TestActorOptions(t *testing.T) {
	cfg := validConfig()
	if got := len(cfg.Camera.ActorOptions()); got != 3 {
		t.Errorf("アクターオプション数が不正です: %d", got)
	}
}
