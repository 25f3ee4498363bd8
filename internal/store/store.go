package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// MaxFacesPerFile caps the number of records written into a single batch
// file. Larger appends are split across several files.
const MaxFacesPerFile = 1000

const indexFileName = "source_index.db"

// Store is a durable, append-friendly face record store backed by a
// directory of JSON batch files.
type Store struct {
	dir    string
	index  *pathIndex
	logger *slog.Logger
}

// VerifyStats describes the outcome of a store verification pass. Sampled
// distinguishes a statistical estimate from an exact full scan; callers must
// not compare sampled face counts against exact expectations.
type VerifyStats struct {
	TotalFiles     int     // batch files present in the corpus directory
	ScannedFiles   int     // files actually parsed during this pass
	ValidFiles     int     // scanned files that parsed as a record array
	CorruptedFiles int     // scanned files that failed to parse
	TotalFaces     int     // records counted across valid scanned files
	Sampled        bool    // true when only a subset of files was scanned
	SampleRatio    float64 // fraction of files scanned (1.0 for exact)
}

// Open prepares the corpus directory and its source path index. The index is
// reconciled against the current set of batch files, so externally added or
// removed files are picked up here rather than poisoning later lookups.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create corpus directory: %w", err)
	}

	index, err := openPathIndex(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open source path index: %w", err)
	}

	s := &Store{dir: dir, index: index, logger: logger}
	if err := s.reconcileIndex(context.Background()); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to reconcile source path index: %w", err)
	}
	return s, nil
}

// Close releases the path index.
func (s *Store) Close() error {
	return s.index.Close()
}

// Dir returns the corpus directory.
func (s *Store) Dir() string {
	return s.dir
}

// CanonicalSourcePath normalizes a source image path for existence checks:
// absolute, cleaned, forward slashes, NFC. Separator and relative/absolute
// differences between ingestion runs must not cause false negatives.
func CanonicalSourcePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return norm.NFC.String(filepath.ToSlash(abs))
}

// batchFiles lists the batch files in the corpus directory, sorted by name.
// Any .json file is accepted; there is no enforced naming contract beyond
// the extension.
func (s *Store) batchFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// readBatchFile parses one batch file as a JSON array of face records.
func (s *Store) readBatchFile(name string) ([]FaceRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file %s: %w", name, err)
	}

	var records []FaceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", name, err)
	}
	return records, nil
}

// LoadAll concatenates the records from every batch file. A file that fails
// to parse is skipped with a warning; a partial corpus load is a reportable
// degradation, not a failure.
func (s *Store) LoadAll(ctx context.Context) ([]FaceRecord, error) {
	start := time.Now()

	files, err := s.batchFiles()
	if err != nil {
		return nil, err
	}

	var all []FaceRecord
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := s.readBatchFile(name)
		if err != nil {
			s.logger.Warn("skipping unreadable batch file", "file", name, "error", err)
			continue
		}
		all = append(all, records...)
	}

	s.logger.Info("corpus loaded",
		"files", len(files),
		"faces", len(all),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return all, nil
}

// AppendBatch writes the records as one or more new batch files, splitting
// at MaxFacesPerFile. Each file is written atomically: temp file in the same
// directory, sync, then rename. A reader can never observe a partially
// written batch file. Returns the names of the files written; on error the
// files already written stay in place and the caller must not credit the
// unwritten remainder.
func (s *Store) AppendBatch(ctx context.Context, records []FaceRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	var written []string
	for start := 0; start < len(records); start += MaxFacesPerFile {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := min(start+MaxFacesPerFile, len(records))
		chunk := records[start:end]

		name, err := s.writeBatchFile(chunk)
		if err != nil {
			return written, err
		}
		written = append(written, name)

		paths := make([]string, 0, len(chunk))
		for i := range chunk {
			paths = append(paths, CanonicalSourcePath(chunk[i].SourceImagePath))
		}
		if err := s.index.addFile(ctx, name, paths); err != nil {
			// The batch file itself is durable; the next Open reconciles
			// the index from it.
			s.logger.Warn("failed to index batch file sources", "file", name, "error", err)
		}

		s.logger.Info("saved face batch", "file", name, "faces", len(chunk))
	}
	return written, nil
}

// writeBatchFile persists one chunk with the atomic write discipline and a
// collision-free filename, so concurrent appenders never target the same
// file.
func (s *Store) writeBatchFile(records []FaceRecord) (string, error) {
	name := fmt.Sprintf("face_data_batch_%d_%s.json", time.Now().Unix(), uuid.NewString()[:8])

	tmp, err := os.CreateTemp(s.dir, ".face_data_batch_*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp batch file: %w", err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to encode batch: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to sync batch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close batch file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize batch file %s: %w", name, err)
	}
	return name, nil
}

// Verify scans every batch file and returns exact statistics.
func (s *Store) Verify(ctx context.Context) (VerifyStats, error) {
	return s.verify(ctx, 1.0)
}

// VerifySample scans a random subset of batch files and returns estimate
// statistics flagged as sampled. The ratio is clamped to (0, 1]; at least
// one file is scanned when any exist.
func (s *Store) VerifySample(ctx context.Context, ratio float64) (VerifyStats, error) {
	if ratio <= 0 || ratio > 1 {
		ratio = 1.0
	}
	return s.verify(ctx, ratio)
}

func (s *Store) verify(ctx context.Context, ratio float64) (VerifyStats, error) {
	files, err := s.batchFiles()
	if err != nil {
		return VerifyStats{}, err
	}

	stats := VerifyStats{
		TotalFiles:  len(files),
		Sampled:     ratio < 1.0,
		SampleRatio: ratio,
	}

	scan := files
	if stats.Sampled && len(files) > 0 {
		n := max(int(float64(len(files))*ratio), 1)
		perm := rand.Perm(len(files))[:n]
		sort.Ints(perm)
		scan = make([]string, 0, n)
		for _, i := range perm {
			scan = append(scan, files[i])
		}
	}

	for _, name := range scan {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.ScannedFiles++
		records, err := s.readBatchFile(name)
		if err != nil {
			stats.CorruptedFiles++
			s.logger.Warn("corrupted batch file", "file", name, "error", err)
			continue
		}
		stats.ValidFiles++
		stats.TotalFaces += len(records)
	}
	return stats, nil
}

// ContainsSource reports whether any persisted record references the given
// source image. Used by the ingestion pipeline to skip already processed
// images.
func (s *Store) ContainsSource(ctx context.Context, imagePath string) (bool, error) {
	return s.index.contains(ctx, CanonicalSourcePath(imagePath))
}

// reconcileIndex brings the path index in line with the batch files actually
// present: rows for vanished files are dropped and unseen files are parsed
// and indexed.
func (s *Store) reconcileIndex(ctx context.Context) error {
	files, err := s.batchFiles()
	if err != nil {
		return err
	}

	known, err := s.index.knownFiles(ctx)
	if err != nil {
		return err
	}

	current := make(map[string]bool, len(files))
	for _, name := range files {
		current[name] = true
	}

	var stale []string
	for name := range known {
		if !current[name] {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		if err := s.index.removeFiles(ctx, stale); err != nil {
			return err
		}
		s.logger.Info("dropped vanished batch files from index", "files", len(stale))
	}

	for _, name := range files {
		if known[name] {
			continue
		}
		records, err := s.readBatchFile(name)
		if err != nil {
			s.logger.Warn("skipping unreadable batch file during index build", "file", name, "error", err)
			continue
		}
		paths := make([]string, 0, len(records))
		for i := range records {
			paths = append(paths, CanonicalSourcePath(records[i].SourceImagePath))
		}
		if err := s.index.addFile(ctx, name, paths); err != nil {
			return err
		}
	}
	return nil
}
