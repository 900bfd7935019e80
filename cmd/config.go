package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// NewConfigCommand は設定関連のコマンドを作成する
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "設定を扱う",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "デフォルト値・設定ファイル・環境変数を反映した設定を表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	})

	return cmd
}
