package facematch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/kozaktomas/face-finder/internal/store"
)

// Probe validation errors. Both describe the query input, not the corpus,
// so API surfaces map them to client errors.
var (
	ErrNoProbeEmbedding = errors.New("probe has no embedding")
	ErrNoProbePose      = errors.New("pose filter requires a probe pose")
)

// FilterMode selects which record filter a query applies. The pose filter
// and the forward-facing filter are mutually exclusive by construction.
type FilterMode int

const (
	FilterNone FilterMode = iota
	FilterPose
	FilterForwardFacing
)

func (m FilterMode) String() string {
	switch m {
	case FilterNone:
		return "none"
	case FilterPose:
		return "pose"
	case FilterForwardFacing:
		return "forward"
	default:
		return fmt.Sprintf("FilterMode(%d)", int(m))
	}
}

// ParseFilterMode maps the CLI/API spelling of a filter mode.
func ParseFilterMode(s string) (FilterMode, error) {
	switch s {
	case "", "none":
		return FilterNone, nil
	case "pose":
		return FilterPose, nil
	case "forward", "forward-facing":
		return FilterForwardFacing, nil
	default:
		return FilterNone, fmt.Errorf("unknown filter mode %q", s)
	}
}

// Config carries the matcher defaults. Queries may override the per-query
// parameters; zero values fall back to these.
type Config struct {
	SimilarityThreshold    float64
	TopMatches             int
	MaxPoseDifference      float64
	ForwardFacingThreshold float64
}

// DefaultConfig mirrors the historical configuration fallbacks.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:    0.6,
		TopMatches:             10,
		MaxPoseDifference:      30.0,
		ForwardFacingThreshold: DefaultForwardFacingThreshold,
	}
}

// Probe is the transient face a query runs against the corpus. It is never
// persisted.
type Probe struct {
	Embedding      []float32
	Pose           []float64
	Age            float64
	Gender         string
	Landmarks2D106 [][]float64
	Landmarks3D68  [][]float64
}

// Match pairs a similarity score with the matched record.
type Match struct {
	Score  float64
	Record *store.FaceRecord
}

// MatchSet is the ordered result of one query, best match first. An empty
// Matches slice is a legal outcome, distinct from a failed query. The skip
// counters report records excluded for reasons other than ranking.
type MatchSet struct {
	Matches            []Match
	Scored             int // records actually scored
	FilteredOut        int // records excluded by the active filter
	SkippedNoEmbedding int // records lacking an embedding
	SkippedDimension   int // records whose embedding length differs from the probe
}

// Query bundles a probe with its filter mode and optional parameter
// overrides (zero means "use the matcher config").
type Query struct {
	Probe            Probe
	Mode             FilterMode
	TopMatches       int
	MaxPoseDiff      float64
	ForwardThreshold float64
}

// Corpus is an immutable snapshot of the loaded record store. Queries
// against a snapshot are read-only; concurrent queries need no locking.
type Corpus struct {
	records []store.FaceRecord
}

// NewCorpus wraps loaded records as a snapshot.
func NewCorpus(records []store.FaceRecord) *Corpus {
	return &Corpus{records: records}
}

// Size returns the number of records in the snapshot.
func (c *Corpus) Size() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// Loader yields the full record corpus; satisfied by *store.Store.
type Loader interface {
	LoadAll(ctx context.Context) ([]store.FaceRecord, error)
}

// Matcher owns the loaded corpus and answers probe queries against it.
// Reload swaps the snapshot atomically: in-flight queries keep the snapshot
// they started with, new queries see the new one.
type Matcher struct {
	loader Loader
	cfg    Config
	logger *slog.Logger
	corpus atomic.Pointer[Corpus]
}

// New creates a matcher with an empty corpus. Call Reload to populate it.
func New(loader Loader, cfg Config, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopMatches <= 0 {
		cfg.TopMatches = DefaultConfig().TopMatches
	}
	if cfg.MaxPoseDifference <= 0 {
		cfg.MaxPoseDifference = DefaultConfig().MaxPoseDifference
	}
	if cfg.ForwardFacingThreshold <= 0 {
		cfg.ForwardFacingThreshold = DefaultForwardFacingThreshold
	}

	m := &Matcher{loader: loader, cfg: cfg, logger: logger}
	m.corpus.Store(NewCorpus(nil))
	return m
}

// Config returns the matcher defaults.
func (m *Matcher) Config() Config {
	return m.cfg
}

// CorpusSize returns the size of the current snapshot.
func (m *Matcher) CorpusSize() int {
	return m.corpus.Load().Size()
}

// Reload loads the full corpus from the record store and swaps it in. New
// commits to the store are only observed through an explicit reload.
func (m *Matcher) Reload(ctx context.Context) error {
	records, err := m.loader.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload corpus: %w", err)
	}
	m.corpus.Store(NewCorpus(records))
	m.logger.Info("corpus snapshot swapped", "faces", len(records))
	return nil
}

// MatchPlain ranks the whole corpus against the probe.
func (m *Matcher) MatchPlain(probe Probe) (*MatchSet, error) {
	return m.Match(Query{Probe: probe, Mode: FilterNone})
}

// MatchByPose ranks only records whose pose is within maxPoseDiff of the
// probe's pose. maxPoseDiff <= 0 uses the configured default.
func (m *Matcher) MatchByPose(probe Probe, maxPoseDiff float64) (*MatchSet, error) {
	return m.Match(Query{Probe: probe, Mode: FilterPose, MaxPoseDiff: maxPoseDiff})
}

// MatchForwardFacing ranks only records whose yaw is within threshold
// degrees of facing the camera. threshold <= 0 uses the configured default.
func (m *Matcher) MatchForwardFacing(probe Probe, threshold float64) (*MatchSet, error) {
	return m.Match(Query{Probe: probe, Mode: FilterForwardFacing, ForwardThreshold: threshold})
}

// Match runs one query against the current corpus snapshot. Records lacking
// an embedding are skipped; a record whose embedding length differs from the
// probe's is counted and skipped rather than scored. Equal scores keep their
// corpus insertion order.
func (m *Matcher) Match(q Query) (*MatchSet, error) {
	if len(q.Probe.Embedding) == 0 {
		return nil, ErrNoProbeEmbedding
	}
	if q.Mode == FilterPose && len(q.Probe.Pose) != 3 {
		return nil, ErrNoProbePose
	}

	top := q.TopMatches
	if top <= 0 {
		top = m.cfg.TopMatches
	}
	maxPoseDiff := q.MaxPoseDiff
	if maxPoseDiff <= 0 {
		maxPoseDiff = m.cfg.MaxPoseDifference
	}
	forwardThreshold := q.ForwardThreshold
	if forwardThreshold <= 0 {
		forwardThreshold = m.cfg.ForwardFacingThreshold
	}

	snapshot := m.corpus.Load()
	set := &MatchSet{}

	for i := range snapshot.records {
		record := &snapshot.records[i]

		switch q.Mode {
		case FilterPose:
			if !record.HasPose() || PoseDistance(q.Probe.Pose, record.Pose) > maxPoseDiff {
				set.FilteredOut++
				continue
			}
		case FilterForwardFacing:
			if !record.HasPose() || !IsForwardFacing(record.Pose, forwardThreshold) {
				set.FilteredOut++
				continue
			}
		}

		if !record.HasEmbedding() {
			set.SkippedNoEmbedding++
			continue
		}

		score, err := CosineSimilarity(q.Probe.Embedding, record.Embedding)
		if err != nil {
			var dimErr *DimensionError
			if errors.As(err, &dimErr) {
				set.SkippedDimension++
				continue
			}
			return nil, fmt.Errorf("failed to score record %s: %w", record.CroppedImagePath, err)
		}

		set.Scored++
		set.Matches = append(set.Matches, Match{Score: score, Record: record})
	}

	sort.SliceStable(set.Matches, func(i, j int) bool {
		return set.Matches[i].Score > set.Matches[j].Score
	})
	if len(set.Matches) > top {
		set.Matches = set.Matches[:top]
	}

	if set.SkippedDimension > 0 {
		m.logger.Warn("records skipped due to embedding dimension mismatch",
			"count", set.SkippedDimension, "probe_dim", len(q.Probe.Embedding))
	}
	return set, nil
}
