// Package cmd は camstream のコマンドライン実装
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"camstream/internal/camera"
	"camstream/internal/config"
	"camstream/internal/logging"
)

var (
	configPath     string
	verbose        bool
	driverOverride string

	rootCmd = &cobra.Command{
		Use:   "camstream",
		Short: "V4L2カメラ制御サーバー",
		Long: `camstream はカメラ1台ごとにアクターを起動し、能力検出・設定・ストリーミングを
HTTP API、MJPEG、WebSocket、MQTT で提供する。`,
		SilenceUsage: true,
	}
)

// Execute はルートコマンドを実行する
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "設定ファイルのパス")
	flags.BoolVarP(&verbose, "verbose", "v", false, "デバッグログを出力する")
	drivers := camera.NewDriverFactory().Names()
	flags.StringVar(&driverOverride, "driver", "", fmt.Sprintf("使用するドライバー (%s)", strings.Join(drivers, ", ")))
	rootCmd.RegisterFlagCompletionFunc("driver", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return drivers, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(NewServerCommand())
	rootCmd.AddCommand(NewDevicesCommand())
	rootCmd.AddCommand(NewProbeCommand())
	rootCmd.AddCommand(NewCaptureCommand())
	rootCmd.AddCommand(NewConfigCommand())
}

// setup は設定を読み込み、ロガーを初期化する
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if driverOverride != "" {
		cfg.Camera.Driver = driverOverride
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	// 標準出力はコマンドの結果に使う
	logger := logging.Init(os.Stderr, level)
	return cfg, logger, nil
}

// newDriver は設定に応じたドライバーを作成する
func newDriver(cfg *config.Config) (camera.Driver, error) {
	driver, err := camera.NewDriverFactory().Create(cfg.Camera.Driver, camera.DriverOptions{
		MockDevices: cfg.Camera.MockDevices,
	})
	if err != nil {
		return nil, fmt.Errorf("ドライバーの作成に失敗: %w", err)
	}
	return driver, nil
}

// newDiscovery は設定に応じたデバイス検出を作成する
func newDiscovery(cfg *config.Config) camera.Discovery {
	if cfg.Camera.Driver == camera.DriverMock {
		return camera.NewMockDiscovery(cfg.Camera.MockDevices)
	}
	return camera.NewLinuxDiscoveryIn(cfg.Camera.DeviceDir, cfg.Camera.DevicePrefix)
}

// firstDevice は引数のデバイス、無ければ最初に検出したデバイスを返す
func firstDevice(cmd *cobra.Command, args []string, discovery camera.Discovery) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	devices := discovery.ScanDevices(cmd.Context())
	if len(devices) == 0 {
		return "", fmt.Errorf("カメラデバイスが見つかりません")
	}
	return devices[0], nil
}
