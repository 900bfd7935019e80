package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"camstream/internal/camera"
)

// commandTimeout はCLIからの1コマンドあたりの待ち時間
const commandTimeout = 10 * time.Second

// NewProbeCommand はデバイスの能力を表示するコマンドを作成する
func NewProbeCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "probe [device]",
		Short: "カメラの対応フォーマットと解像度を表示する",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args, outputFormat)
		},
		Example: `  # 最初に見つかったカメラを調べる
  camstream probe

  # デバイスを指定
  camstream probe /dev/video2 --format json`,
	}

	cmd.Flags().StringVar(&outputFormat, "format", "text", "出力形式 (text, json)")
	return cmd
}

func runProbe(cmd *cobra.Command, args []string, outputFormat string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	driver, err := newDriver(cfg)
	if err != nil {
		return err
	}
	device, err := firstDevice(cmd, args, newDiscovery(cfg))
	if err != nil {
		return err
	}

	service, err := camera.NewService(driver, device, camera.ServiceOptions{
		Logger:       logger,
		ActorOptions: cfg.Camera.ActorOptions(),
	})
	if err != nil {
		return err
	}
	defer closeService(service)

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	caps, err := service.Discover(ctx)
	if err != nil {
		return fmt.Errorf("能力検出に失敗: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(caps)
	}

	fmt.Printf("%s\n", color.CyanString(device))
	if len(caps.Formats) == 0 {
		color.New(color.Faint).Println("  対応フォーマットがありません")
	}
	for _, format := range caps.Formats {
		fmt.Printf("  %s\n", color.New(color.FgGreen, color.Bold).Sprint(format.Format))
		for _, res := range format.Resolutions {
			fmt.Printf("    %s\n", res)
		}
	}
	return nil
}

// closeService はアクターを終了させる
func closeService(service *camera.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	_ = service.Close(ctx)
}
