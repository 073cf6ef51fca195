package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm [manifest-hash...]",
	Short: "Delete manifests and release their chunk references",
	Long: `Remove one or more manifests from the index and decrement the reference
count of every chunk they point at. Chunks whose count reaches zero become
garbage collection candidates after the grace period, so deletion does not
immediately reclaim space.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return fmt.Errorf("app not initialized")
		}

		ctx := cmd.Context()
		for _, arg := range args {
			hash, err := resolveHash(ctx, arg)
			if err != nil {
				return fmt.Errorf("invalid manifest '%s': %w", arg, err)
			}
			if err := MV.Engine.DeleteManifest(ctx, hash); err != nil {
				return fmt.Errorf("failed to delete %s: %w", hash.Short(), err)
			}
			fmt.Printf("Deleted: %s\n", hash.Short())
		}

		fmt.Printf("✅ Removed %d manifests. Run 'mvault gc' after the grace period to reclaim space.\n", len(args))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
