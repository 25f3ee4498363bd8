package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Detector DetectorConfig `yaml:"detector"`
	Matching MatchingConfig `yaml:"matching"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

type PathsConfig struct {
	DatabaseFolder    string `yaml:"database_folder"`    // directory holding face_data_batch_*.json files
	CroppedFaceFolder string `yaml:"cropped_face_folder"` // directory where face crops are written
}

type DetectorConfig struct {
	URL                string  `yaml:"url"`                 // face analysis service, defaults to http://localhost:8000
	EmbeddingDim       int     `yaml:"embedding_dim"`       // 512 for buffalo_l/ResNet100
	DetectionThreshold float64 `yaml:"detection_threshold"` // minimum detection score
}

type MatchingConfig struct {
	SimilarityThreshold    float64 `yaml:"similarity_threshold"`
	TopMatches             int     `yaml:"top_matches"`
	MaxPoseDifference      float64 `yaml:"max_pose_difference"`
	ForwardFacingThreshold float64 `yaml:"forward_facing_threshold"` // max |yaw| in degrees
}

type IngestConfig struct {
	BatchSize  int `yaml:"batch_size"`  // images per processing batch
	Workers    int `yaml:"workers"`     // parallel detection workers
	FlushFaces int `yaml:"flush_faces"` // flush buffer once this many faces accumulate
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Load builds the configuration from embedded defaults overridden by
// environment variables. The result is passed down explicitly; there is no
// global configuration state.
func Load() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// Embedded file, cannot happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	cfg.Paths.DatabaseFolder = envString("FACE_DB_FOLDER", cfg.Paths.DatabaseFolder)
	cfg.Paths.CroppedFaceFolder = envString("CROPPED_FACE_FOLDER", cfg.Paths.CroppedFaceFolder)

	cfg.Detector.URL = envString("DETECTOR_URL", cfg.Detector.URL)
	cfg.Detector.EmbeddingDim = envInt("EMBEDDING_DIM", cfg.Detector.EmbeddingDim)
	cfg.Detector.DetectionThreshold = envFloat("DETECTION_THRESHOLD", cfg.Detector.DetectionThreshold)

	cfg.Matching.SimilarityThreshold = envFloat("SIMILARITY_THRESHOLD", cfg.Matching.SimilarityThreshold)
	cfg.Matching.TopMatches = envInt("TOP_MATCHES", cfg.Matching.TopMatches)
	cfg.Matching.MaxPoseDifference = envFloat("MAX_POSE_DIFFERENCE", cfg.Matching.MaxPoseDifference)
	cfg.Matching.ForwardFacingThreshold = envFloat("FORWARD_FACING_THRESHOLD", cfg.Matching.ForwardFacingThreshold)

	cfg.Ingest.BatchSize = envInt("INGEST_BATCH_SIZE", cfg.Ingest.BatchSize)
	cfg.Ingest.Workers = envInt("INGEST_WORKERS", cfg.Ingest.Workers)
	cfg.Ingest.FlushFaces = envInt("INGEST_FLUSH_FACES", cfg.Ingest.FlushFaces)

	return &cfg
}
