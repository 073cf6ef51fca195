package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout [manifest-hash] [target-dir]",
	Short: "Materialize a snapshot into a directory",
	Long: `Rebuild every file recorded in the manifest under the target directory.
Files are written atomically: a failed reconstruction never leaves a
partially written file behind.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return fmt.Errorf("app not initialized")
		}

		ctx := cmd.Context()
		start := time.Now()

		// 1. 解析目标 Manifest Hash (支持短哈希)
		manifestHash, err := resolveHash(ctx, args[0])
		if err != nil {
			return fmt.Errorf("invalid manifest '%s': %w", args[0], err)
		}

		m, err := MV.Engine.LoadManifest(ctx, manifestHash)
		if err != nil {
			return fmt.Errorf("failed to load manifest: %w", err)
		}

		fmt.Printf("🔄 Checking out %s (%d files)...\n", manifestHash.Short(), len(m.Entries))

		// 2. 执行还原 (The Heavy Lifting)
		if err := MV.Engine.CheckoutManifest(ctx, manifestHash, args[1]); err != nil {
			return fmt.Errorf("checkout failed: %w", err)
		}

		fmt.Printf("✅ Restored %d files to %s in %s\n", len(m.Entries), args[1], time.Since(start))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkoutCmd)
}
