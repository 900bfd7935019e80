package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"camstream/internal/camera"
)

// EnvPrefix は環境変数の接頭辞（例: CAMSTREAM_CAMERA_DRIVER）
const EnvPrefix = "CAMSTREAM"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Camera CameraConfig `mapstructure:"camera" yaml:"camera"`
	MQTT   MQTTConfig   `mapstructure:"mqtt" yaml:"mqtt"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"` // リッスンするホスト
	Port int    `mapstructure:"port" yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"` // ストリーミングのため 0 (無効)
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // v4l2 または mock

	// デバイス検出
	DeviceDir    string        `mapstructure:"device_dir" yaml:"device_dir"`
	DevicePrefix string        `mapstructure:"device_prefix" yaml:"device_prefix"`
	Devices      []string      `mapstructure:"devices" yaml:"devices"` // 起動時に追加するデバイス
	MockDevices  []string      `mapstructure:"mock_devices" yaml:"mock_devices"`
	AutoAdd      bool          `mapstructure:"auto_add" yaml:"auto_add"`
	ScanInterval time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"` // 0 ならスキャンしない

	// 追加時に適用する設定。DefaultFormat が空なら設定しない
	DefaultFormat string `mapstructure:"default_format" yaml:"default_format"`
	DefaultWidth  uint32 `mapstructure:"default_width" yaml:"default_width"`
	DefaultHeight uint32 `mapstructure:"default_height" yaml:"default_height"`
	DefaultFPS    uint32 `mapstructure:"default_fps" yaml:"default_fps"`

	// アクター設定
	CommandBuffer      int `mapstructure:"command_buffer" yaml:"command_buffer"`
	EventBuffer        int `mapstructure:"event_buffer" yaml:"event_buffer"`
	MaxCaptureFailures int `mapstructure:"max_capture_failures" yaml:"max_capture_failures"` // 0 は無制限
}

// MQTTConfig はイベント配信用のMQTT設定。Broker が空なら無効。
type MQTTConfig struct {
	Broker         string        `mapstructure:"broker" yaml:"broker"` // 例: tcp://localhost:1883
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS            byte          `mapstructure:"qos" yaml:"qos"`
	PublishFrames  bool          `mapstructure:"publish_frames" yaml:"publish_frames"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn, error
}

// setDefaults はデフォルト値を設定する
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("camera.driver", camera.DriverV4L2)
	v.SetDefault("camera.device_dir", camera.DeviceDir)
	v.SetDefault("camera.device_prefix", camera.DevicePrefix)
	v.SetDefault("camera.devices", []string{})
	v.SetDefault("camera.mock_devices", []string{"/dev/video0"})
	v.SetDefault("camera.auto_add", true)
	v.SetDefault("camera.scan_interval", 30*time.Second)
	v.SetDefault("camera.default_format", "MJPG")
	v.SetDefault("camera.default_width", 1280)
	v.SetDefault("camera.default_height", 720)
	v.SetDefault("camera.default_fps", 15)
	v.SetDefault("camera.command_buffer", camera.DefaultCommandBuffer)
	v.SetDefault("camera.event_buffer", camera.DefaultEventBuffer)
	v.SetDefault("camera.max_capture_failures", 0)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "camstream")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "camstream")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.publish_frames", false)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
}

// Load は設定を読み込む。
// 優先順位は 環境変数 > 設定ファイル > デフォルト値。
// path が空なら ./camstream.yaml, $HOME/.camstream/camstream.yaml, /etc/camstream/camstream.yaml を探し、
// 見つからなければデフォルト値を使う。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 環境変数
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.host", "SERVER_HOST", EnvPrefix+"_SERVER_HOST")
	_ = v.BindEnv("server.port", "PORT", EnvPrefix+"_SERVER_PORT")

	// 設定ファイル
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	} else {
		v.SetConfigName("camstream")
		v.SetConfigType("yaml")
		for _, dir := range []string{".", "$HOME/.camstream", "/etc/camstream"} {
			v.AddConfigPath(os.ExpandEnv(dir))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	switch c.Camera.Driver {
	case camera.DriverV4L2, camera.DriverMock:
	default:
		return fmt.Errorf("無効なドライバー: %q", c.Camera.Driver)
	}
	if c.Camera.CommandBuffer < 1 {
		return fmt.Errorf("無効なコマンドバッファ数: %d", c.Camera.CommandBuffer)
	}
	if c.Camera.EventBuffer < 1 {
		return fmt.Errorf("無効なイベントバッファ数: %d", c.Camera.EventBuffer)
	}
	if c.Camera.MaxCaptureFailures < 0 {
		return fmt.Errorf("無効な連続キャプチャ失敗数: %d", c.Camera.MaxCaptureFailures)
	}
	if c.Camera.ScanInterval < 0 {
		return fmt.Errorf("無効なスキャン間隔: %s", c.Camera.ScanInterval)
	}
	if _, err := c.Camera.Defaults(); err != nil {
		return err
	}

	// MQTT設定の検証
	if c.MQTT.Broker != "" {
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("無効なQoS: %d", c.MQTT.QoS)
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("MQTTのトピック接頭辞が空です")
		}
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// YAML は有効な設定をYAMLで返す。パスワードは伏せる。
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.MQTT.Password != "" {
		masked.MQTT.Password = "********"
	}
	return yaml.Marshal(&masked)
}

// Defaults はカメラ追加時に適用する設定を返す。DefaultFormat が空なら nil。
func (c CameraConfig) Defaults() (*camera.SetConfiguration, error) {
	if c.DefaultFormat == "" {
		return nil, nil
	}

	format, err := camera.ParsePixelFormat(c.DefaultFormat)
	if err != nil {
		return nil, fmt.Errorf("無効なデフォルトフォーマット: %w", err)
	}
	if c.DefaultWidth == 0 || c.DefaultHeight == 0 {
		return nil, fmt.Errorf("無効なデフォルト解像度: %dx%d", c.DefaultWidth, c.DefaultHeight)
	}
	if c.DefaultFPS == 0 {
		return nil, fmt.Errorf("無効なデフォルトFPS: %d", c.DefaultFPS)
	}

	return &camera.SetConfiguration{
		Width:  c.DefaultWidth,
		Height: c.DefaultHeight,
		FPS:    c.DefaultFPS,
		Format: format,
	}, nil
}

// ActorOptions はカメラアクターの起動オプションを返す
func (c CameraConfig) ActorOptions() []camera.Option {
	return []camera.Option{
		camera.WithCommandBuffer(c.CommandBuffer),
		camera.WithEventBuffer(c.EventBuffer),
		camera.WithMaxCaptureFailures(c.MaxCaptureFailures),
	}
}
