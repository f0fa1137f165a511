package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/khoj/internal/identify"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index and refresh its cache",
	Long: `Build the configured vector index from the persisted gallery.

With INDEX_KIND=hnsw and INDEX_CACHE_PATH set, the graph is written to the
cache so the next start loads it instead of rebuilding.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	log := newLogger(cfg)
	ctx := context.Background()

	opts, err := serviceOptions(cfg, log)
	if err != nil {
		return err
	}
	svc, err := identify.Open(ctx, opts)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := svc.RebuildIndex(ctx); err != nil {
		return err
	}
	stats := svc.Stats()
	fmt.Printf("Rebuilt %s index (%s) with %d vectors in %s\n",
		stats.IndexKind, stats.Metric, stats.IndexLen, time.Since(start).Round(time.Millisecond))
	return svc.Close(ctx)
}
