package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show repository statistics",
	Long:  `Print chunk, asset and manifest counts plus logical vs physical byte usage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MV == nil {
			return fmt.Errorf("app not initialized")
		}

		stats, err := MV.Engine.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to collect stats: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Chunks:\t%d\n", stats.ChunkCount)
		fmt.Fprintf(w, "Assets:\t%d\n", stats.AssetCount)
		fmt.Fprintf(w, "Manifests:\t%d\n", stats.ManifestCount)
		fmt.Fprintf(w, "Logical bytes:\t%d\n", stats.LogicalBytes)
		fmt.Fprintf(w, "Physical bytes:\t%d\n", stats.PhysicalBytes)
		if stats.LogicalBytes > 0 {
			ratio := float64(stats.PhysicalBytes) / float64(stats.LogicalBytes)
			fmt.Fprintf(w, "Storage ratio:\t%.2f\n", ratio)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
