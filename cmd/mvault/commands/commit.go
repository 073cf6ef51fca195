package commands

import (
	"fmt"
	"time"

	"mediavault/pkg/engine"

	"github.com/spf13/cobra"
)

var commitLabel string

var commitCmd = &cobra.Command{
	Use:   "commit [dir]",
	Short: "Snapshot a directory into an immutable manifest",
	Long: `Ingest every file under the given directory (honoring .mvignore) and
freeze the result into a manifest. The manifest hash identifies the snapshot
and every chunk it references gains a reference count.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// 0. 防御检查
		if MV == nil {
			return fmt.Errorf("application not initialized")
		}
		if commitLabel == "" {
			return fmt.Errorf("commit label cannot be empty (use -l)")
		}

		ctx := cmd.Context()
		start := time.Now()

		// ---------------------------------------------------------
		// Phase 1: 摄取目录树 (The Heavy Lifting)
		// ---------------------------------------------------------
		fmt.Print("🔨 Ingesting... ")
		entries, err := MV.Engine.AddDir(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", args[0], err)
		}
		if len(entries) == 0 {
			fmt.Println("\n⚠️  Nothing to commit, directory is empty (or fully ignored).")
			return nil
		}

		var totalSize int64
		inputs := make([]engine.ManifestInput, 0, len(entries))
		for _, e := range entries {
			inputs = append(inputs, engine.ManifestInput{Path: e.Path, Asset: e.Asset.ID()})
			totalSize += e.Asset.TotalSize
		}
		fmt.Printf("Done (%d files, %d bytes)\n", len(entries), totalSize)

		// ---------------------------------------------------------
		// Phase 2: 固化 Manifest
		// ---------------------------------------------------------
		m, err := MV.Engine.CommitManifest(ctx, commitLabel, inputs, nil)
		if err != nil {
			return fmt.Errorf("failed to commit manifest: %w", err)
		}

		fmt.Printf("✅ [%s] %s\n", m.ID().Short(), commitLabel)
		fmt.Printf("   Time: %s | Files: %d\n", time.Since(start), len(m.Entries))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commitCmd)

	// 绑定 Flags
	commitCmd.Flags().StringVarP(&commitLabel, "label", "l", "", "snapshot label")
}
