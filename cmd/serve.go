package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/detect"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/store"
	"github.com/kozaktomas/face-finder/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Finder web server.
The server exposes the corpus over a JSON API: upload a probe image to
/api/v1/match, inspect the corpus with /api/v1/stats and /api/v1/verify,
and pick up new batch files with POST /api/v1/reload.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger()
	ctx := context.Background()

	fmt.Printf("Connecting to face analysis service at %s...\n", cfg.Detector.URL)
	detector, err := detect.NewClient(ctx, cfg.Detector.URL, cfg.Detector.DetectionThreshold)
	if err != nil {
		return err
	}

	recordStore, err := store.Open(cfg.Paths.DatabaseFolder, logger)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer recordStore.Close()

	matcher := facematch.New(recordStore, facematch.Config{
		SimilarityThreshold:    cfg.Matching.SimilarityThreshold,
		TopMatches:             cfg.Matching.TopMatches,
		MaxPoseDifference:      cfg.Matching.MaxPoseDifference,
		ForwardFacingThreshold: cfg.Matching.ForwardFacingThreshold,
	}, logger)

	fmt.Println("Loading face corpus...")
	if err := matcher.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}
	fmt.Printf("Corpus loaded: %d faces\n", matcher.CorpusSize())

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(matcher, recordStore, detector, host, port, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Finder API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
