package commands

import (
	"fmt"

	"mediavault/pkg/types"

	"github.com/spf13/cobra"
)

var tierCmd = &cobra.Command{
	Use:   "tier [chunk-hash] [standard|infrequent|archived]",
	Short: "Move a chunk between storage tiers",
	Long: `Record the storage tier of a chunk. Tiering is a storage attribute and
never changes the chunk's content hash.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return fmt.Errorf("app not initialized")
		}

		ctx := cmd.Context()
		hash, err := resolveHash(ctx, args[0])
		if err != nil {
			return fmt.Errorf("invalid chunk '%s': %w", args[0], err)
		}

		tier := types.StorageTier(args[1])
		if err := MV.Engine.SetTier(ctx, hash, tier); err != nil {
			return fmt.Errorf("failed to set tier: %w", err)
		}

		fmt.Printf("✅ %s -> %s\n", hash.Short(), tier)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tierCmd)
}
