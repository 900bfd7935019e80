package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"camstream/internal/camera"
)

type captureOptions struct {
	Format string
	Width  uint32
	Height uint32
	FPS    uint32
	Frames int
	Output string // 空ならファイルに保存しない
}

// NewCaptureCommand は指定枚数のフレームを取得するコマンドを作成する
func NewCaptureCommand() *cobra.Command {
	opts := &captureOptions{}

	cmd := &cobra.Command{
		Use:   "capture [device]",
		Short: "能力検出・設定・ストリーミングを行いフレームを取得する",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd, args, opts)
		},
		Example: `  # MJPG 1280x720@30 で10枚取得して保存
  camstream capture /dev/video0 --pixel-format MJPG --width 1280 --height 720 --fps 30 -n 10 -o ./frames`,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Format, "pixel-format", "MJPG", "画素フォーマット (MJPG, YUYV, ...)")
	flags.Uint32Var(&opts.Width, "width", 1280, "幅")
	flags.Uint32Var(&opts.Height, "height", 720, "高さ")
	flags.Uint32Var(&opts.FPS, "fps", 30, "フレームレート")
	flags.IntVarP(&opts.Frames, "frames", "n", 5, "取得するフレーム数")
	flags.StringVarP(&opts.Output, "output", "o", "", "フレームを保存するディレクトリ")

	return cmd
}

func runCapture(cmd *cobra.Command, args []string, opts *captureOptions) error {
	format, err := camera.ParsePixelFormat(opts.Format)
	if err != nil {
		return err
	}
	if opts.Frames < 1 {
		return fmt.Errorf("フレーム数は1以上を指定してください: %d", opts.Frames)
	}

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
	if opts.Output != "" {
		if err := os.MkdirAll(opts.Output, 0o755); err != nil {
			return fmt.Errorf("出力ディレクトリを作成できません: %w", err)
		}
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

	if _, err := service.Discover(ctx); err != nil {
		return fmt.Errorf("能力検出に失敗: %w", err)
	}
	applied, err := service.Configure(ctx, camera.SetConfiguration{
		Width:  opts.Width,
		Height: opts.Height,
		FPS:    opts.FPS,
		Format: format,
	})
	if err != nil {
		return fmt.Errorf("設定に失敗: %w", err)
	}
	fmt.Printf("%s を %s で取得します\n", color.CyanString(device), color.New(color.Bold).Sprint(applied))

	subscriberID := "capture-" + uuid.New().String()
	frames := service.SubscribeFrames(subscriberID, opts.Frames)
	defer service.UnsubscribeFrames(subscriberID)

	if err := service.StartStreaming(ctx); err != nil {
		return fmt.Errorf("ストリーミングを開始できません: %w", err)
	}

	// 全フレーム分の間隔に余裕を足して待つ
	wait := time.Duration(opts.Frames)*time.Second/time.Duration(applied.FPS()) + commandTimeout
	timeout := time.NewTimer(wait)
	defer timeout.Stop()

	received := 0
	for received < opts.Frames {
		select {
		case frame, ok := <-frames:
			if !ok {
				return fmt.Errorf("ストリーミングが終了しました (%d/%d)", received, opts.Frames)
			}
			received++
			path, err := saveFrame(opts.Output, frame)
			if err != nil {
				return err
			}
			fmt.Printf("  #%d %s %d bytes %s\n", frame.Sequence, frame.Timestamp.Format("15:04:05.000"), len(frame.Data), path)
		case <-timeout.C:
			return fmt.Errorf("フレームの受信がタイムアウトしました (%d/%d)", received, opts.Frames)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), commandTimeout)
	defer stopCancel()
	if err := service.StopStreaming(stopCtx); err != nil {
		return fmt.Errorf("ストリーミングを停止できません: %w", err)
	}

	info := service.Info()
	color.New(color.FgGreen).Printf("%d フレームを取得しました (キャプチャ失敗 %d)\n", received, info.CaptureErrors)
	return nil
}

// saveFrame はフレームをファイルに保存し、そのパスを返す
func saveFrame(dir string, frame camera.Frame) (string, error) {
	if dir == "" {
		return "", nil
	}

	ext := "raw"
	if frame.Format == camera.PixelFormatMJPG {
		ext = "jpg"
	}
	path := filepath.Join(dir, fmt.Sprintf("frame-%06d.%s", frame.Sequence, ext))
	if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
		return "", fmt.Errorf("フレームを保存できません: %w", err)
	}
	return path, nil
}
