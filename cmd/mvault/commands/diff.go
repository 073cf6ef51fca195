package commands

import (
	"fmt"

	"mediavault/pkg/diff"

	"github.com/spf13/cobra"
)

var diffVerbose bool

var diffCmd = &cobra.Command{
	Use:   "diff [old-asset] [new-asset]",
	Short: "Compare two asset versions chunk by chunk",
	Long: `Walk the chunk sequences of two assets and report which chunks were kept,
inserted, deleted or replaced, plus a similarity ratio. Useful for judging
how much new storage a version will actually cost.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return fmt.Errorf("app not initialized")
		}

		ctx := cmd.Context()
		oldHash, err := resolveHash(ctx, args[0])
		if err != nil {
			return fmt.Errorf("invalid asset '%s': %w", args[0], err)
		}
		newHash, err := resolveHash(ctx, args[1])
		if err != nil {
			return fmt.Errorf("invalid asset '%s': %w", args[1], err)
		}

		result, err := MV.Engine.DiffAssets(ctx, oldHash, newHash)
		if err != nil {
			return fmt.Errorf("diff failed: %w", err)
		}

		// 逐条输出 (只在 -v 时，大文件的 op 列表可能非常长)
		if diffVerbose {
			for _, op := range result.Ops {
				switch op.Kind {
				case diff.OpKeep:
					fmt.Printf("  = %s (%d bytes)\n", op.New.Cid.Hash.Short(), op.New.Size)
				case diff.OpInsert:
					fmt.Printf("  + %s (%d bytes)\n", op.New.Cid.Hash.Short(), op.New.Size)
				case diff.OpDelete:
					fmt.Printf("  - %s (%d bytes)\n", op.Old.Cid.Hash.Short(), op.Old.Size)
				case diff.OpReplace:
					fmt.Printf("  ~ %s -> %s\n", op.Old.Cid.Hash.Short(), op.New.Cid.Hash.Short())
				}
			}
			fmt.Println()
		}

		s := result.Stats
		fmt.Printf("Kept: %d | Added: %d | Removed: %d\n", s.Kept, s.Added, s.Removed)
		fmt.Printf("Bytes added: %d | Bytes removed: %d\n", s.BytesAdded, s.BytesRemoved)
		fmt.Printf("Similarity: %.1f%%\n", s.Similarity*100)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().BoolVarP(&diffVerbose, "verbose", "v", false, "print every chunk operation")
}
