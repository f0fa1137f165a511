package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "khoj",
	Short: "Face identification against a gallery of enrolled people",
	Long: `Khoj matches faces in query images against a gallery of enrolled
identities. It builds the gallery from a folder of reference photos, keeps
it on disk (optionally mirrored to PostgreSQL with pgvector) and answers
searches from the CLI or over HTTP.

Face detection and embedding run in a separate detector service
(DETECTOR_URL).`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text, json, pretty (overrides LOG_FORMAT)")
	rootCmd.PersistentFlags().String("gallery", "", "Gallery directory (overrides GALLERY_DIR)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
