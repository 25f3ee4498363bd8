package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/detect"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/store"
)

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Match a probe image against the face corpus",
	Long: `Detect the largest face in the given image and rank the corpus by
cosine similarity against it.

Filters are mutually exclusive: --filter pose keeps only records with a
similar head pose, --filter forward keeps only forward-facing records.

Examples:
  # Top 10 matches, no filter
  face-finder match ./probe.jpg

  # Only forward-facing candidates, top 5
  face-finder match ./probe.jpg --filter forward --top 5

  # Pose-similar candidates within 20 degrees
  face-finder match ./probe.jpg --filter pose --max-pose-diff 20`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("filter", "none", "Filter mode: none, pose or forward")
	matchCmd.Flags().Int("top", 0, "Number of matches to return (default from config)")
	matchCmd.Flags().Float64("max-pose-diff", 0, "Maximum pose distance for --filter pose")
	matchCmd.Flags().Float64("threshold", 0, "Maximum |yaw| in degrees for --filter forward")
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger()
	ctx := context.Background()

	mode, err := facematch.ParseFilterMode(mustGetString(cmd, "filter"))
	if err != nil {
		return err
	}

	imageData, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read probe image: %w", err)
	}

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
	if err := matcher.Reload(ctx); err != nil {
		return err
	}
	fmt.Printf("Corpus loaded: %d faces\n", matcher.CorpusSize())

	faces, err := detector.DetectFaces(ctx, imageData)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}
	probe := detect.LargestFace(faces)
	if probe == nil {
		return fmt.Errorf("no face detected in %s", args[0])
	}
	if len(faces) > 1 {
		fmt.Printf("Image contains %d faces, using the largest one\n", len(faces))
	}

	set, err := matcher.Match(facematch.Query{
		Probe: facematch.Probe{
			Embedding: probe.Embedding,
			Pose:      probe.Pose,
			Age:       probe.Age,
			Gender:    probe.GenderLabel(),
		},
		Mode:             mode,
		TopMatches:       mustGetInt(cmd, "top"),
		MaxPoseDiff:      mustGetFloat64(cmd, "max-pose-diff"),
		ForwardThreshold: mustGetFloat64(cmd, "threshold"),
	})
	if err != nil {
		return err
	}

	if len(set.Matches) == 0 {
		fmt.Println("No matches found.")
		printMatchFooter(set)
		return nil
	}

	threshold := matcher.Config().SimilarityThreshold
	fmt.Printf("\n%-4s %-8s %-8s %-6s %s\n", "#", "Score", "Gender", "Age", "Crop")
	cursor := facematch.NewCursor(set)
	for {
		m, ok := cursor.Current()
		if !ok {
			break
		}
		marker := ""
		if m.Score < threshold {
			marker = "  (below similarity threshold)"
		}
		fmt.Printf("%-4d %-8.4f %-8s %-6.0f %s%s\n",
			cursor.Index()+1, m.Score, m.Record.Gender, m.Record.Age, m.Record.CroppedImagePath, marker)
		if !cursor.Next() {
			break
		}
	}
	printMatchFooter(set)
	return nil
}

func printMatchFooter(set *facematch.MatchSet) {
	fmt.Printf("\nScored %d records", set.Scored)
	if set.FilteredOut > 0 {
		fmt.Printf(", %d excluded by filter", set.FilteredOut)
	}
	if set.SkippedNoEmbedding > 0 {
		fmt.Printf(", %d without embedding", set.SkippedNoEmbedding)
	}
	if set.SkippedDimension > 0 {
		fmt.Printf(", %d with mismatched dimensions", set.SkippedDimension)
	}
	fmt.Println()
}
