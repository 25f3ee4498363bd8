package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print corpus statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger()
	ctx := context.Background()

	recordStore, err := store.Open(cfg.Paths.DatabaseFolder, logger)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer recordStore.Close()

	vs, err := recordStore.Verify(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Corpus directory: %s\n", recordStore.Dir())
	fmt.Printf("Batch files:      %d (%d corrupted)\n", vs.TotalFiles, vs.CorruptedFiles)
	fmt.Printf("Face records:     %d\n", vs.TotalFaces)
	fmt.Printf("Crop directory:   %s\n", cfg.Paths.CroppedFaceFolder)
	return nil
}
