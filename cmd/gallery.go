package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/khoj/internal/builder"
	"github.com/kozaktomas/khoj/internal/gallery"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Build and manage the face gallery",
}

var galleryBuildCmd = &cobra.Command{
	Use:   "build <photos-dir>",
	Short: "Enroll a folder of reference photos",
	Long: `Enroll reference photos laid out as <photos-dir>/<person>/<image>.

Each image contributes the embedding of its most prominent face. Identity ids
are <person-slug>/<image-stem>, so rebuilding from the same folder is
idempotent with --append. Display names and info come from the identities
file (IDENTITIES_FILE) when present.

Examples:
  # Build a fresh gallery
  khoj gallery build ./photos

  # Add new photos to the existing gallery
  khoj gallery build ./photos --append

  # Throttle detection requests
  khoj gallery build ./photos --concurrency 2 --rate 5`,
	Args: cobra.ExactArgs(1),
	RunE: runGalleryBuild,
}

var galleryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the persisted gallery",
	RunE:  runGalleryStats,
}

var galleryImportCmd = &cobra.Command{
	Use:   "import <embeddings.npy> <metadata.json>",
	Short: "Import a NumPy embedding matrix with its metadata file",
	Args:  cobra.ExactArgs(2),
	RunE:  runGalleryImport,
}

var galleryPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Copy the gallery to PostgreSQL",
	Long: `Replace the gallery_faces table with the persisted gallery.

Requires DATABASE_URL to be set.`,
	RunE: runGalleryPush,
}

var galleryPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Restore the gallery from PostgreSQL",
	Long: `Write the rows of the gallery_faces table as a new gallery generation.

Requires DATABASE_URL to be set.`,
	RunE: runGalleryPull,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryBuildCmd, galleryStatsCmd, galleryImportCmd, galleryPushCmd, galleryPullCmd)

	galleryBuildCmd.Flags().Bool("append", false, "Add to the existing gallery instead of replacing it")
	galleryBuildCmd.Flags().Int("concurrency", 0, "Parallel detection requests (overrides BUILDER_CONCURRENCY)")
	galleryBuildCmd.Flags().Float64("rate", -1, "Detection requests per second, 0 for unlimited (overrides BUILDER_RATE)")
	galleryBuildCmd.Flags().String("identities", "", "Identities YAML file (overrides IDENTITIES_FILE)")
	galleryBuildCmd.Flags().Bool("json", false, "Output the report as JSON")

	galleryStatsCmd.Flags().Bool("json", false, "Output as JSON")
	galleryImportCmd.Flags().Bool("force", false, "Overwrite an existing gallery")
	galleryPullCmd.Flags().Bool("force", false, "Overwrite an existing gallery")
}

// BuildResult is the JSON output of gallery build.
type BuildResult struct {
	builder.Report
	Records       int    `json:"records"`
	Generation    int64  `json:"generation"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

func runGalleryBuild(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	log := newLogger(cfg)
	jsonOutput := mustGetBool(cmd, "json")
	ctx := context.Background()
	startTime := time.Now()

	if v := mustGetInt(cmd, "concurrency"); v > 0 {
		cfg.Builder.Concurrency = v
	}
	if v := mustGetFloat64(cmd, "rate"); v >= 0 {
		cfg.Builder.Rate = v
	}
	if v := mustGetString(cmd, "identities"); v != "" {
		cfg.Builder.IdentitiesFile = v
	}

	identities := map[string]builder.IdentityInfo{}
	if cfg.Builder.IdentitiesFile != "" {
		var err error
		if identities, err = builder.LoadIdentities(cfg.Builder.IdentitiesFile); err != nil {
			return err
		}
	}

	var (
		store *gallery.Store
		err   error
	)
	if mustGetBool(cmd, "append") {
		store, err = gallery.Open(cfg.Gallery.Dir, cfg.Gallery.Dim, gallery.WithNormalize(cfg.Gallery.Normalize))
	} else {
		store, err = gallery.New(cfg.Gallery.Dim, gallery.WithNormalize(cfg.Gallery.Normalize))
	}
	if err != nil {
		return err
	}

	det := newDetector(cfg)
	if err := det.Ping(ctx); err != nil {
		return fmt.Errorf("detector service not available at %s: %w", cfg.Detector.URL, err)
	}

	opts := builder.Options{
		Root:          args[0],
		Concurrency:   cfg.Builder.Concurrency,
		RatePerSecond: cfg.Builder.Rate,
		Identities:    identities,
		Logger:        log,
	}
	b := builder.New(det, opts)

	if !jsonOutput {
		sources, err := b.Scan()
		if err != nil {
			return err
		}
		fmt.Printf("Found %d reference images in %s\n\n", len(sources), args[0])

		bar := progressbar.NewOptions(len(sources),
			progressbar.OptionSetDescription("Detecting faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		opts.Progress = func(done, total int) { bar.Set(done) }
		b = builder.New(det, opts)
	}

	report, err := b.Build(ctx, store)
	if err != nil {
		return err
	}

	m, err := store.Persist(cfg.Gallery.Dir)
	if err != nil {
		return fmt.Errorf("persisting gallery: %w", err)
	}

	duration := time.Since(startTime)
	if jsonOutput {
		return outputJSON(BuildResult{
			Report:        report,
			Records:       m.Count,
			Generation:    m.Generation,
			DurationMs:    duration.Milliseconds(),
			DurationHuman: duration.Round(time.Second).String(),
		})
	}

	fmt.Printf("\n\nGallery build complete\n")
	fmt.Printf("  Images:     %d\n", report.Images)
	fmt.Printf("  Enrolled:   %d\n", report.Enrolled)
	fmt.Printf("  No face:    %d\n", report.NoFace)
	fmt.Printf("  Duplicates: %d\n", report.Duplicates)
	fmt.Printf("  Failed:     %d\n", report.Failed)
	fmt.Printf("  Records:    %d (generation %d in %s)\n", m.Count, m.Generation, cfg.Gallery.Dir)
	fmt.Printf("  Duration:   %s\n", duration.Round(time.Second))
	return nil
}

// GalleryStats is the JSON output of gallery stats.
type GalleryStats struct {
	Dir        string    `json:"dir"`
	Records    int       `json:"records"`
	Dim        int       `json:"dim"`
	Normalized bool      `json:"normalized"`
	Generation int64     `json:"generation"`
	SavedAt    time.Time `json:"saved_at"`
	People     int       `json:"people"`
}

func runGalleryStats(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)

	m, err := gallery.ReadManifest(cfg.Gallery.Dir)
	if errors.Is(err, gallery.ErrStoreNotFound) {
		return fmt.Errorf("no gallery in %s, run 'khoj gallery build' first", cfg.Gallery.Dir)
	}
	if err != nil {
		return err
	}
	store, err := gallery.Load(cfg.Gallery.Dir)
	if err != nil {
		return err
	}

	people := make(map[string]struct{})
	for _, rec := range store.Records() {
		people[rec.DisplayName] = struct{}{}
	}

	stats := GalleryStats{
		Dir:        cfg.Gallery.Dir,
		Records:    store.Size(),
		Dim:        store.Dim(),
		Normalized: store.Normalized(),
		Generation: m.Generation,
		SavedAt:    m.SavedAt,
		People:     len(people),
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(stats)
	}

	fmt.Printf("Gallery %s\n", stats.Dir)
	fmt.Printf("  Records:    %d\n", stats.Records)
	fmt.Printf("  People:     %d\n", stats.People)
	fmt.Printf("  Dimension:  %d\n", stats.Dim)
	fmt.Printf("  Normalized: %t\n", stats.Normalized)
	fmt.Printf("  Generation: %d (saved %s)\n", stats.Generation, stats.SavedAt.Format(time.RFC3339))
	return nil
}

// ensureWritable refuses to overwrite an existing gallery unless forced.
func ensureWritable(dir string, force bool) error {
	if force {
		return nil
	}
	if _, err := gallery.ReadManifest(dir); err == nil {
		return fmt.Errorf("gallery already exists in %s, use --force to overwrite", dir)
	} else if !errors.Is(err, gallery.ErrStoreNotFound) {
		return err
	}
	return nil
}

func runGalleryImport(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if err := ensureWritable(cfg.Gallery.Dir, mustGetBool(cmd, "force")); err != nil {
		return err
	}

	store, err := gallery.ImportLegacy(args[0], args[1], gallery.WithNormalize(cfg.Gallery.Normalize))
	if err != nil {
		return err
	}
	if store.Dim() != cfg.Gallery.Dim {
		fmt.Fprintf(os.Stderr, "Warning: imported embeddings have %d dimensions, EMBEDDING_DIM is %d\n", store.Dim(), cfg.Gallery.Dim)
	}

	m, err := store.Persist(cfg.Gallery.Dir)
	if err != nil {
		return fmt.Errorf("persisting gallery: %w", err)
	}
	fmt.Printf("Imported %d records (%d dimensions) into %s\n", m.Count, m.Dim, cfg.Gallery.Dir)
	return nil
}

func runGalleryPush(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if err := requireDatabase(cfg); err != nil {
		return err
	}
	ctx := context.Background()

	store, err := gallery.Load(cfg.Gallery.Dir)
	if err != nil {
		return err
	}

	fmt.Println("Connecting to PostgreSQL database...")
	pool, repo, err := connectMirror(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repo.ReplaceAll(ctx, store.Records()); err != nil {
		return err
	}
	fmt.Printf("Pushed %d records to PostgreSQL\n", store.Size())
	return nil
}

func runGalleryPull(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if err := requireDatabase(cfg); err != nil {
		return err
	}
	if err := ensureWritable(cfg.Gallery.Dir, mustGetBool(cmd, "force")); err != nil {
		return err
	}
	ctx := context.Background()

	fmt.Println("Connecting to PostgreSQL database...")
	pool, repo, err := connectMirror(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	records, err := repo.LoadRecords(ctx, cfg.Gallery.Dim)
	if err != nil {
		return err
	}
	store, err := gallery.FromRecords(cfg.Gallery.Dim, records, gallery.WithNormalize(cfg.Gallery.Normalize))
	if err != nil {
		return err
	}
	m, err := store.Persist(cfg.Gallery.Dir)
	if err != nil {
		return fmt.Errorf("persisting gallery: %w", err)
	}
	fmt.Printf("Pulled %d records into %s (generation %d)\n", m.Count, cfg.Gallery.Dir, m.Generation)
	return nil
}
