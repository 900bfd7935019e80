package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type deviceListOptions struct {
	OutputFormat string
}

type deviceEntry struct {
	Device    string `json:"device"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// NewDevicesCommand はカメラデバイス一覧を表示するコマンドを作成する
func NewDevicesCommand() *cobra.Command {
	opts := &deviceListOptions{}

	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "システム上のカメラデバイスを一覧表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevices(cmd, opts)
		},
		Example: `  # デバイス一覧を表示
  camstream devices

  # JSON形式で表示
  camstream devices --format json`,
	}

	cmd.Flags().StringVar(&opts.OutputFormat, "format", "text", "出力形式 (text, json)")
	cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runDevices(cmd *cobra.Command, opts *deviceListOptions) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	discovery := newDiscovery(cfg)

	ctx := cmd.Context()
	devices := discovery.ScanDevices(ctx)
	entries := make([]deviceEntry, 0, len(devices))
	for _, device := range devices {
		entries = append(entries, deviceEntry{
			Device:    device,
			Name:      discovery.DeviceName(device),
			Available: discovery.IsDeviceAvailable(ctx, device),
		})
	}

	if opts.OutputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}

	if len(entries) == 0 {
		color.New(color.Faint).Println("カメラデバイスが見つかりません。videoグループに参加しているか確認してください。")
		return nil
	}

	for i, entry := range entries {
		status := color.New(color.FgGreen).Sprint("利用可能")
		if !entry.Available {
			status = color.New(color.Faint).Sprint("利用不可")
		}
		fmt.Printf("%d. %s  %s  [%s]\n", i+1, color.CyanString(entry.Device), entry.Name, status)
	}
	return nil
}
