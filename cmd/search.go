package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/identify"
	"github.com/kozaktomas/khoj/internal/match"
)

var searchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "Identify the faces in an image",
	Long: `Detect the faces in an image and rank gallery identities for them.

A single face returns the top-k candidates. Several faces return the best
candidate of each face.

Examples:
  khoj search group.jpg
  khoj search frame.jpg --source live_capture --top-k 1 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("top-k", 0, "Number of candidates (overrides MATCH_DEFAULT_TOP_K)")
	searchCmd.Flags().Float64("min-confidence", 0, "Drop candidates below this confidence (0-1)")
	searchCmd.Flags().String("source", "upload", "Image source: upload or live_capture")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	log := newLogger(cfg)
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")

	source, err := facematch.ParseSourceKind(mustGetString(cmd, "source"))
	if err != nil {
		return err
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

	svc, err := identify.Open(ctx, opts)
	if err != nil {
		return err
	}

	outcome, err := svc.Identify(ctx, image, source, identify.SearchOptions{
		TopK:          mustGetInt(cmd, "top-k"),
		MinConfidence: mustGetFloat64(cmd, "min-confidence"),
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(outcome)
	}

	switch outcome.Status {
	case match.StatusNoFaceDetected:
		return errors.New("no face detected in the image")
	case match.StatusEmptyGallery:
		return errors.New("gallery is empty, enroll someone first")
	}
	if len(outcome.Matches) == 0 {
		fmt.Println("No candidates above the confidence threshold.")
		return nil
	}

	fmt.Printf("%-4s %-6s %-30s %-10s %s\n", "FACE", "INDEX", "IDENTITY", "CONF", "NAME")
	for _, m := range outcome.Matches {
		fmt.Printf("%-4d %-6d %-30s %-10s %s", m.FaceIndex, m.EmbeddingIndex, m.IdentityID,
			fmt.Sprintf("%.2f%%", match.Percent(m.Confidence)), m.DisplayName)
		if m.Liveness != nil {
			fmt.Printf("  [blink=%t ear=%.3f]", m.Liveness.IsBlink, m.Liveness.EARScore)
		}
		fmt.Println()
	}
	return nil
}
