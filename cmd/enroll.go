package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/khoj/internal/identify"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image>",
	Short: "Enroll the main face of an image",
	Long: `Detect the most prominent face of an image and add it to the gallery.

Examples:
  khoj enroll ada.jpg --name "Ada Lovelace" --info "Analyst"
  khoj enroll ada-2.jpg --id ada-lovelace/2 --name "Ada Lovelace"`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("id", "", "Identity id (default <name-slug>/<random>)")
	enrollCmd.Flags().String("name", "", "Display name")
	enrollCmd.Flags().String("info", "", "Auxiliary info shown with matches")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	log := newLogger(cfg)
	ctx := context.Background()

	req := identify.EnrollRequest{
		IdentityID:    mustGetString(cmd, "id"),
		DisplayName:   mustGetString(cmd, "name"),
		AuxiliaryInfo: mustGetString(cmd, "info"),
	}
	if req.IdentityID == "" && req.DisplayName == "" {
		return fmt.Errorf("--id or --name is required")
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	opts, err := serviceOptions(cfg, log)
	if err != nil {
		return err
	}
	opts.Detector = newDetector(cfg)
	opts.PersistOnEnroll = true

	pool, repo, err := connectMirror(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		opts.Mirror = repo
	}

	svc, err := identify.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	idx, err := svc.EnrollImage(ctx, image, req)
	if err != nil {
		return err
	}
	rec, _ := svc.Record(idx)
	fmt.Printf("Enrolled %s (%s) at index %d\n", rec.IdentityID, rec.DisplayName, idx)
	return nil
}
