package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/detect"
	"github.com/kozaktomas/face-finder/internal/ingest"
	"github.com/kozaktomas/face-finder/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <folder>",
	Short: "Detect faces in an image folder and commit them to the corpus",
	Long: `Detect faces in every image under the given folder, crop them, and
commit the face records to the corpus as JSON batch files.

The run can be stopped with Ctrl+C and resumed later; with --skip-existing
already committed source images are skipped.

Examples:
  # Process a folder with default settings
  face-finder ingest ./downloads

  # Re-runnable ingestion that parks processed images
  face-finder ingest ./downloads --skip-existing --move-processed

  # More detection workers, drop tiny faces
  face-finder ingest ./downloads --workers 8 --min-face-size 40`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Int("batch-size", 0, "Images per processing batch (default from config)")
	ingestCmd.Flags().Int("workers", 0, "Number of parallel detection workers (default from config)")
	ingestCmd.Flags().Int("flush-faces", 0, "Flush the face buffer once this many faces accumulate")
	ingestCmd.Flags().Int("min-face-size", 0, "Skip faces smaller than this in either bbox dimension")
	ingestCmd.Flags().Bool("skip-existing", false, "Skip source images already present in the corpus")
	ingestCmd.Flags().Bool("move-processed", false, "Move processed images into faces/ and no_faces/ siblings")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger()

	opts := ingest.Options{
		BatchSize:     cfg.Ingest.BatchSize,
		Workers:       cfg.Ingest.Workers,
		FlushFaces:    cfg.Ingest.FlushFaces,
		EmbeddingDim:  cfg.Detector.EmbeddingDim,
		SkipExisting:  mustGetBool(cmd, "skip-existing"),
		MoveProcessed: mustGetBool(cmd, "move-processed"),
		MinFaceSize:   mustGetInt(cmd, "min-face-size"),
	}
	if n := mustGetInt(cmd, "batch-size"); n > 0 {
		opts.BatchSize = n
	}
	if n := mustGetInt(cmd, "workers"); n > 0 {
		opts.Workers = n
	}
	if n := mustGetInt(cmd, "flush-faces"); n > 0 {
		opts.FlushFaces = n
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nStopping after in-flight images...")
		cancel()
	}()

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

	pipeline := ingest.New(detector, recordStore, cfg.Paths.CroppedFaceFolder, opts, logger)

	var bar *progressbar.ProgressBar
	pipeline.OnProgress(func(s ingest.Stats) {
		if bar == nil {
			bar = progressbar.NewOptions(s.TotalImages,
				progressbar.OptionSetDescription("Processing images"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("images"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		bar.Set(s.Processed + s.Skipped + s.Errors)
	})

	stats, runErr := pipeline.ProcessFolder(ctx, args[0])
	fmt.Println()

	fmt.Printf("\nImages found:    %d\n", stats.TotalImages)
	fmt.Printf("Processed:       %d\n", stats.Processed)
	fmt.Printf("Skipped:         %d\n", stats.Skipped)
	fmt.Printf("Errors:          %d\n", stats.Errors)
	fmt.Printf("Without faces:   %d\n", stats.NoFaces)
	fmt.Printf("Faces found:     %d\n", stats.FacesFound)
	fmt.Printf("Faces committed: %d\n", stats.FacesAdded)

	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	return nil
}
