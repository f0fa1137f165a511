package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/khoj/internal/identify"
	"github.com/kozaktomas/khoj/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Khoj HTTP API.

The server loads the gallery, builds the vector index and answers face
searches and enrollments until interrupted. Unsaved enrollments are written
on shutdown. When DATABASE_URL is set, every enrollment is mirrored to
PostgreSQL.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("skip-detector-check", false, "Start even if the detector service is unreachable")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	det := newDetector(cfg)
	if err := det.Ping(ctx); err != nil {
		if !mustGetBool(cmd, "skip-detector-check") {
			return fmt.Errorf("detector service not available at %s: %w", cfg.Detector.URL, err)
		}
		log.Warn("detector service not available", "url", cfg.Detector.URL, "error", err)
	}

	opts, err := serviceOptions(cfg, log)
	if err != nil {
		return err
	}
	opts.Detector = det

	pool, repo, err := connectMirror(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		opts.Mirror = repo
		log.Info("mirroring enrollments to PostgreSQL")
	}

	svc, err := identify.Open(ctx, opts)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, svc, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Khoj on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := svc.Close(closeCtx); err != nil {
		return fmt.Errorf("closing gallery: %w", err)
	}
	return nil
}
