package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"camstream/internal/camera"
	"camstream/internal/publish"
	"camstream/internal/server"
)

// NewServerCommand はHTTPサーバーを起動するコマンドを作成する
func NewServerCommand() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "カメラ制御サーバーを起動する",
		Long:  `カメラマネージャーとHTTP APIを起動し、SIGINT/SIGTERM で全カメラを停止して終了する。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), host, port)
		},
		Example: `  # 設定ファイルを指定して起動
  camstream server --config camstream.yaml

  # モックドライバーで起動
  camstream server --driver mock -p 9000`,
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	flags.IntVarP(&port, "port", "p", 0, "サーバーのポート (デフォルト: 8080)")

	return cmd
}

func runServer(ctx context.Context, host string, port int) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	// コマンドラインオプションで設定を上書き
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	driver, err := newDriver(cfg)
	if err != nil {
		return err
	}
	discovery := newDiscovery(cfg)

	defaults, err := cfg.Camera.Defaults()
	if err != nil {
		return err
	}

	// MQTTは最後に閉じる（停止時のイベントも送るため）
	var sink camera.EventSink
	if cfg.MQTT.Broker != "" {
		publisher, err := publish.Connect(cfg.MQTT, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sink = publisher
	}

	manager := camera.NewDefaultCameraManager(camera.ManagerOptions{
		Discovery:    discovery,
		Driver:       driver,
		ActorOptions: cfg.Camera.ActorOptions(),
		Sink:         sink,
		Logger:       logger,
		Defaults:     defaults,
		AutoAdd:      cfg.Camera.AutoAdd,
		ScanInterval: cfg.Camera.ScanInterval,
	})
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := manager.Stop(stopCtx); err != nil {
			logger.Error("カメラの停止に失敗しました", "error", err)
		}
	}()

	// 設定ファイルで指定されたデバイスを追加
	for _, device := range cfg.Camera.Devices {
		if _, err := manager.AddCamera(ctx, device); err != nil && !errors.Is(err, camera.ErrDeviceInUse) {
			logger.Warn("カメラを追加できません", "device", device, "error", err)
		}
	}

	logger.Info("camstream サーバーを起動します",
		"address", cfg.ServerAddress(),
		"driver", cfg.Camera.Driver,
		"cameras", len(manager.GetCameras()),
	)
	return server.New(cfg, manager, discovery).Start(ctx)
}
