package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Paths.DatabaseFolder == "" || cfg.Paths.CroppedFaceFolder == "" {
		t.Errorf("path defaults missing: %+v", cfg.Paths)
	}
	if cfg.Detector.URL != "http://localhost:8000" {
		t.Errorf("Detector.URL = %q", cfg.Detector.URL)
	}
	if cfg.Detector.EmbeddingDim != 512 {
		t.Errorf("Detector.EmbeddingDim = %d, want 512", cfg.Detector.EmbeddingDim)
	}
	if cfg.Matching.SimilarityThreshold != 0.6 {
		t.Errorf("Matching.SimilarityThreshold = %v, want 0.6", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Matching.TopMatches != 10 {
		t.Errorf("Matching.TopMatches = %d, want 10", cfg.Matching.TopMatches)
	}
	if cfg.Matching.MaxPoseDifference != 30.0 {
		t.Errorf("Matching.MaxPoseDifference = %v, want 30", cfg.Matching.MaxPoseDifference)
	}
	if cfg.Matching.ForwardFacingThreshold != 20.0 {
		t.Errorf("Matching.ForwardFacingThreshold = %v, want 20", cfg.Matching.ForwardFacingThreshold)
	}
	if cfg.Ingest.BatchSize != 50 || cfg.Ingest.Workers != 4 || cfg.Ingest.FlushFaces != 500 {
		t.Errorf("ingest defaults = %+v", cfg.Ingest)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FACE_DB_FOLDER", "/tmp/db")
	t.Setenv("DETECTOR_URL", "http://detector:9000")
	t.Setenv("TOP_MATCHES", "25")
	t.Setenv("SIMILARITY_THRESHOLD", "0.75")
	t.Setenv("INGEST_WORKERS", "8")

	cfg := Load()

	if cfg.Paths.DatabaseFolder != "/tmp/db" {
		t.Errorf("DatabaseFolder = %q, want /tmp/db", cfg.Paths.DatabaseFolder)
	}
	if cfg.Detector.URL != "http://detector:9000" {
		t.Errorf("Detector.URL = %q", cfg.Detector.URL)
	}
	if cfg.Matching.TopMatches != 25 {
		t.Errorf("TopMatches = %d, want 25", cfg.Matching.TopMatches)
	}
	if cfg.Matching.SimilarityThreshold != 0.75 {
		t.Errorf("SimilarityThreshold = %v, want 0.75", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Ingest.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Ingest.Workers)
	}
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("TOP_MATCHES", "not-a-number")
	t.Setenv("MAX_POSE_DIFFERENCE", "-5")
	t.Setenv("INGEST_BATCH_SIZE", "0")

	cfg := Load()

	if cfg.Matching.TopMatches != 10 {
		t.Errorf("TopMatches = %d, want fallback 10", cfg.Matching.TopMatches)
	}
	if cfg.Matching.MaxPoseDifference != 30.0 {
		t.Errorf("MaxPoseDifference = %v, want fallback 30", cfg.Matching.MaxPoseDifference)
	}
	if cfg.Ingest.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want fallback 50", cfg.Ingest.BatchSize)
	}
}
