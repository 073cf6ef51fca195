package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List recorded manifests",
	Long:  `Display the indexed manifests, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return fmt.Errorf("app not initialized")
		}

		manifests, err := MV.Repo.ListManifests(cmd.Context(), logLimit)
		if err != nil {
			return fmt.Errorf("failed to list manifests: %w", err)
		}
		if len(manifests) == 0 {
			fmt.Println("No manifests yet.")
			return nil
		}

		// 颜色代码 (ANSI Escape Codes) - 可选，为了好看
		const (
			colorYellow = "\033[33m"
			colorReset  = "\033[0m"
		)

		for _, m := range manifests {
			fmt.Printf("%smanifest %s%s\n", colorYellow, m.Hash, colorReset)
			fmt.Printf("Label:  %s\n", m.Label)
			fmt.Printf("Date:   %s\n", m.CreatedAt.Format(time.RFC1123))
			fmt.Printf("Files:  %d (%d bytes)\n\n", m.EntryCount, m.TotalSize)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "maximum number of manifests to show")
}
