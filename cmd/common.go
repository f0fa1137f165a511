package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/khoj/internal/config"
	"github.com/kozaktomas/khoj/internal/detector"
	"github.com/kozaktomas/khoj/internal/gallery/postgres"
	"github.com/kozaktomas/khoj/internal/identify"
	"github.com/kozaktomas/khoj/internal/liveness"
	"github.com/kozaktomas/khoj/internal/logger"
	"github.com/kozaktomas/khoj/internal/vectorindex"
)

// loadConfig reads the environment and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Load()
	flags := cmd.Root().PersistentFlags()
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v, _ := flags.GetString("gallery"); v != "" {
		cfg.Gallery.Dir = v
	}
	return cfg
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logger.New(
		logger.WithLevel(cfg.Log.Level),
		logger.WithFormat(cfg.Log.Format),
		logger.WithWriter(os.Stderr),
	)
}

func indexConfig(cfg *config.Config) (vectorindex.Config, error) {
	kind, err := vectorindex.ParseKind(cfg.Index.Kind)
	if err != nil {
		return vectorindex.Config{}, fmt.Errorf("INDEX_KIND: %w", err)
	}
	metric, err := vectorindex.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return vectorindex.Config{}, fmt.Errorf("INDEX_METRIC: %w", err)
	}
	ic := vectorindex.DefaultConfig(cfg.Gallery.Dim)
	ic.Kind = kind
	ic.Metric = metric
	ic.HNSWM = cfg.Index.HNSWM
	ic.HNSWEfSearch = cfg.Index.HNSWEfSearch
	ic.IVFLists = cfg.Index.IVFLists
	ic.IVFProbes = cfg.Index.IVFProbes
	return ic, nil
}

func livenessConfig(cfg *config.Config) (liveness.Config, error) {
	layout, err := liveness.LayoutByName(cfg.Liveness.Layout)
	if err != nil {
		return liveness.Config{}, fmt.Errorf("LIVENESS_LAYOUT: %w", err)
	}
	return liveness.Config{
		Threshold:    cfg.Liveness.EARThreshold,
		MinLandmarks: cfg.Liveness.MinLandmarks,
		Layout:       layout,
	}, nil
}

func newDetector(cfg *config.Config) *detector.Client {
	return detector.New(cfg.Detector.URL, cfg.Detector.Timeout, detector.WithDim(cfg.Gallery.Dim))
}

// serviceOptions assembles identify options from configuration. The
// detector and mirror are left for the caller.
func serviceOptions(cfg *config.Config, log *slog.Logger) (identify.Options, error) {
	ic, err := indexConfig(cfg)
	if err != nil {
		return identify.Options{}, err
	}
	lc, err := livenessConfig(cfg)
	if err != nil {
		return identify.Options{}, err
	}
	return identify.Options{
		Dir:             cfg.Gallery.Dir,
		Dim:             cfg.Gallery.Dim,
		Normalize:       cfg.Gallery.Normalize,
		PersistOnEnroll: cfg.Gallery.PersistOnEnroll,
		Index:           ic,
		IndexCachePath:  cfg.Index.CachePath,
		Liveness:        lc,
		DefaultTopK:     cfg.Match.DefaultTopK,
		MinConfidence:   cfg.Match.MinConfidence,
		Logger:          log,
	}, nil
}

// connectMirror opens the PostgreSQL mirror when DATABASE_URL is set.
// The returned pool is nil otherwise.
func connectMirror(ctx context.Context, cfg *config.Config) (*postgres.Pool, *postgres.Repository, error) {
	if cfg.Database.URL == "" {
		return nil, nil, nil
	}
	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return pool, postgres.NewRepository(pool), nil
}

func requireDatabase(cfg *config.Config) error {
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	return nil
}

// outputJSON prints data as indented JSON to stdout.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
