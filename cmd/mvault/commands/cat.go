package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	catOffset int64
	catLength int64
)

var catCmd = &cobra.Command{
	Use:   "cat [asset-hash]",
	Short: "Stream asset content to stdout",
	Long: `Reconstruct the asset payload from its chunks, verify each chunk hash,
and write the bytes to stdout. Supports short hashes and byte ranges.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return fmt.Errorf("app not initialized")
		}

		ctx := cmd.Context()
		assetHash, err := resolveHash(ctx, args[0])
		if err != nil {
			return fmt.Errorf("invalid asset '%s': %w", args[0], err)
		}

		// 【关键点】writer 是 os.Stdout
		// 文本文件直接显示；二进制可以通过 > file.bin 重定向
		if catOffset > 0 || catLength >= 0 {
			err = MV.Engine.MaterializeRange(ctx, assetHash, catOffset, catLength, os.Stdout)
		} else {
			err = MV.Engine.Materialize(ctx, assetHash, os.Stdout)
		}
		if err != nil {
			return fmt.Errorf("cat failed: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().Int64Var(&catOffset, "offset", 0, "byte offset to start from")
	catCmd.Flags().Int64Var(&catLength, "length", -1, "number of bytes to read (-1 = to the end)")
}
