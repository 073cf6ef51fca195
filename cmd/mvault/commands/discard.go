package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var discardCmd = &cobra.Command{
	Use:   "discard [asset-hash]",
	Short: "Release an added asset that was never committed",
	Long: `Drop the chunk references held by a previously added asset. Use this to
undo an 'mvault add' whose asset will not be part of any manifest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return fmt.Errorf("app not initialized")
		}

		ctx := cmd.Context()
		hash, err := resolveHash(ctx, args[0])
		if err != nil {
			return fmt.Errorf("invalid asset '%s': %w", args[0], err)
		}

		if err := MV.Engine.DiscardAsset(ctx, hash); err != nil {
			return fmt.Errorf("failed to discard: %w", err)
		}

		fmt.Printf("✅ Discarded %s\n", hash.Short())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discardCmd)
}
