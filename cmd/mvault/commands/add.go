package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var addMetaFile string

var addCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Ingest a file or directory into the chunk store",
	Long: `Chunk the given file (or every file under the given directory, honoring
.mvignore) and store the deduplicated chunks. Prints the resulting asset hash.

An added asset holds a reference on its chunks until it is either committed
into a manifest or released with 'mvault discard'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return fmt.Errorf("app not initialized")
		}
		targetPath := args[0]
		ctx := cmd.Context()
		start := time.Now()

		info, err := os.Stat(targetPath)
		if err != nil {
			return err
		}

		// 目录模式：并行摄取整棵树
		if info.IsDir() {
			entries, err := MV.Engine.AddDir(ctx, targetPath)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %w", targetPath, err)
			}
			var totalSize int64
			for _, e := range entries {
				fmt.Printf("%s  %s (%d bytes)\n", e.Asset.ID().Short(), e.Path, e.Asset.TotalSize)
				totalSize += e.Asset.TotalSize
			}
			fmt.Printf("✅ Added %d files (%d bytes) in %s\n", len(entries), totalSize, time.Since(start))
			return nil
		}

		// 单文件模式：可以附带一个 metadata 边车文件
		var metadata []byte
		if addMetaFile != "" {
			metadata, err = os.ReadFile(addMetaFile)
			if err != nil {
				return fmt.Errorf("failed to read metadata file: %w", err)
			}
		}

		asset, err := MV.Engine.AddFile(ctx, targetPath, metadata, nil)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", targetPath, err)
		}

		fmt.Printf("✅ Added %s in %s\n", targetPath, time.Since(start))
		fmt.Printf("   Asset: %s (%d chunks, %d bytes)\n", asset.ID(), len(asset.Chunks), asset.TotalSize)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVar(&addMetaFile, "meta", "", "sidecar file whose bytes become the asset metadata")
}
