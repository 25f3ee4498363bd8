// Package ingest turns directories of arbitrary images into committed face
// records: detection, cropping, batching and durable commits to the record
// store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kozaktomas/face-finder/internal/detect"
	"github.com/kozaktomas/face-finder/internal/store"
)

// Detector is the detection capability the pipeline runs images through.
type Detector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]detect.Face, error)
}

// RecordStore is the slice of the record store the pipeline needs.
type RecordStore interface {
	AppendBatch(ctx context.Context, records []store.FaceRecord) ([]string, error)
	ContainsSource(ctx context.Context, imagePath string) (bool, error)
	Verify(ctx context.Context) (store.VerifyStats, error)
}

// Options controls one processing run.
type Options struct {
	BatchSize     int     // images per worker-pool batch; buffer is flushed at each batch boundary
	Workers       int     // parallel detection workers
	SkipExisting  bool    // consult the store and skip already committed source images
	MoveProcessed bool    // relocate sources into faces/ and no_faces/ siblings
	MinFaceSize   int     // drop faces whose bbox is smaller than this in either dimension, 0 = keep all
	FlushFaces    int     // flush the buffer early once this many faces accumulate
	CropMargin    float64 // margin around the face bbox as a fraction of its size
	EmbeddingDim  int     // expected embedding length from the detector, 0 = accept any
}

// Stats is a snapshot of run counters. Every image ends up in exactly one
// of Processed, Skipped or Errors; nothing is dropped silently.
type Stats struct {
	TotalImages int // images discovered
	Processed   int // images run through detection
	FacesFound  int // faces detected and cropped
	FacesAdded  int // faces durably committed to the store
	Skipped     int // images skipped by the idempotence guard
	NoFaces     int // processed images with zero detected faces
	Errors      int // unreadable or failed images
}

// Pipeline processes image folders into the record store.
type Pipeline struct {
	detector Detector
	store    RecordStore
	cropDir  string
	opts     Options
	logger   *slog.Logger

	onProgress func(Stats)

	mu    sync.Mutex
	stats Stats
}

// New creates a pipeline. Zero option values fall back to the historical
// defaults (batch 50, 4 workers, flush at 500 faces, 10% crop margin).
func New(detector Detector, recordStore RecordStore, cropDir string, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.FlushFaces <= 0 {
		opts.FlushFaces = 500
	}
	if opts.CropMargin <= 0 {
		opts.CropMargin = 0.1
	}
	return &Pipeline{
		detector: detector,
		store:    recordStore,
		cropDir:  cropDir,
		opts:     opts,
		logger:   logger,
	}
}

// OnProgress registers a callback invoked with a statistics snapshot after
// every image. Long runs happen off the caller's thread; this plus Stats
// lets a UI poll without blocking on completion.
func (p *Pipeline) OnProgress(fn func(Stats)) {
	p.onProgress = fn
}

// Stats returns a snapshot of the current run counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// imageResult is the fan-in unit workers hand to the collector. The
// collector is the single accumulation point for the face buffer.
type imageResult struct {
	path    string
	records []store.FaceRecord
	skipped bool
	err     error
}

// ProcessFolder processes every image under folder. Per-image failures are
// isolated: an unreadable file is counted and the run continues. On context
// cancellation the already accumulated buffer is flushed before returning,
// so committed work is never lost. The returned statistics are valid even
// when an error is returned.
func (p *Pipeline) ProcessFolder(ctx context.Context, folder string) (Stats, error) {
	if err := os.MkdirAll(p.cropDir, 0o755); err != nil {
		return p.Stats(), fmt.Errorf("failed to create crop directory: %w", err)
	}

	images, err := listImages(folder, p.cropDir)
	if err != nil {
		return p.Stats(), err
	}

	p.mu.Lock()
	p.stats = Stats{TotalImages: len(images)}
	p.mu.Unlock()

	if len(images) == 0 {
		p.logger.Warn("no images found", "folder", folder)
		return p.Stats(), nil
	}
	p.logger.Info("processing folder", "folder", folder, "images", len(images))

	var buffer []store.FaceRecord
	var runErr error

	for start := 0; start < len(images) && runErr == nil; start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, len(images))
		batch := images[start:end]

		results := make(chan imageResult, len(batch))
		sem := make(chan struct{}, p.opts.Workers)
		var wg sync.WaitGroup

		for _, path := range batch {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results <- p.processImage(ctx, path)
			}(path)
		}

		go func() {
			wg.Wait()
			close(results)
		}()

		for res := range results {
			p.collect(res)
			if len(res.records) > 0 {
				buffer = append(buffer, res.records...)
			}
			if len(buffer) >= p.opts.FlushFaces {
				buffer = p.flush(ctx, buffer)
			}
		}

		// Batch boundary is the second flush trigger.
		if len(buffer) > 0 {
			buffer = p.flush(ctx, buffer)
		}
	}

	if runErr == nil {
		runErr = ctx.Err()
	}
	if len(buffer) > 0 {
		p.flush(ctx, buffer)
	}

	stats := p.Stats()
	p.verifyRun(context.WithoutCancel(ctx), stats)

	p.logger.Info("processing complete",
		"images", stats.TotalImages,
		"processed", stats.Processed,
		"faces_found", stats.FacesFound,
		"faces_added", stats.FacesAdded,
		"skipped", stats.Skipped,
		"errors", stats.Errors)
	return stats, runErr
}

// collect folds one image result into the run counters and reports
// progress.
func (p *Pipeline) collect(res imageResult) {
	p.mu.Lock()
	switch {
	case errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded):
		// Cancelled before processing; not an image failure.
	case res.err != nil:
		p.stats.Errors++
		p.logger.Warn("failed to process image", "image", res.path, "error", res.err)
	case res.skipped:
		p.stats.Skipped++
	default:
		p.stats.Processed++
		if len(res.records) == 0 {
			p.stats.NoFaces++
		} else {
			p.stats.FacesFound += len(res.records)
		}
	}
	snapshot := p.stats
	p.mu.Unlock()

	if p.onProgress != nil {
		p.onProgress(snapshot)
	}
}

// flush commits the buffer to the record store. The commit is shielded from
// cancellation so a stopped run still persists the faces it already
// collected. On failure the records are dropped from the run: FacesAdded is
// only credited for durable commits and the run continues with the remaining
// images.
func (p *Pipeline) flush(ctx context.Context, buffer []store.FaceRecord) []store.FaceRecord {
	if _, err := p.store.AppendBatch(context.WithoutCancel(ctx), buffer); err != nil {
		p.logger.Error("failed to commit face batch", "faces", len(buffer), "error", err)
		return nil
	}

	p.mu.Lock()
	p.stats.FacesAdded += len(buffer)
	p.mu.Unlock()
	return nil
}

// verifyRun cross-checks the store after a run. A mismatch between the
// committed count and what verification sees is a soft invariant; it is
// logged, never fatal.
func (p *Pipeline) verifyRun(ctx context.Context, stats Stats) {
	vs, err := p.store.Verify(ctx)
	if err != nil {
		p.logger.Warn("post-run verification failed", "error", err)
		return
	}
	if vs.CorruptedFiles > 0 {
		p.logger.Warn("store contains corrupted batch files",
			"corrupted", vs.CorruptedFiles, "total", vs.TotalFiles)
	}
	if vs.TotalFaces < stats.FacesAdded {
		p.logger.Warn("store verification discrepancy",
			"committed_this_run", stats.FacesAdded, "faces_in_store", vs.TotalFaces)
	}
}

// processImage handles a single image end to end: idempotence check,
// decode, detection, per-face crop + record building, and source
// relocation. Any failure is returned in the result; it never aborts the
// surrounding batch.
func (p *Pipeline) processImage(ctx context.Context, path string) imageResult {
	if ctx.Err() != nil {
		return imageResult{path: path, err: ctx.Err()}
	}

	if p.opts.SkipExisting {
		exists, err := p.store.ContainsSource(ctx, path)
		if err != nil {
			p.logger.Warn("existence check failed, processing anyway", "image", path, "error", err)
		} else if exists {
			return imageResult{path: path, skipped: true}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return imageResult{path: path, err: fmt.Errorf("failed to read image: %w", err)}
	}
	img, err := decodeImage(data)
	if err != nil {
		return imageResult{path: path, err: err}
	}

	faces, err := p.detector.DetectFaces(ctx, data)
	if err != nil {
		return imageResult{path: path, err: fmt.Errorf("detection failed: %w", err)}
	}

	if len(faces) == 0 {
		if p.opts.MoveProcessed {
			dir := filepath.Join(filepath.Dir(path), noFacesDirName)
			if err := moveFile(path, dir); err != nil {
				p.logger.Warn("could not move image to no_faces", "image", path, "error", err)
			}
		}
		return imageResult{path: path}
	}

	records := make([]store.FaceRecord, 0, len(faces))
	for i := range faces {
		record, err := p.buildRecord(path, img, &faces[i])
		if err != nil {
			p.logger.Warn("failed to process face", "image", path, "face", i, "error", err)
			continue
		}
		if record != nil {
			records = append(records, *record)
		}
	}

	if len(records) > 0 && p.opts.MoveProcessed {
		dir := filepath.Join(filepath.Dir(path), facesDirName)
		if err := moveFile(path, dir); err != nil {
			p.logger.Warn("could not move image to faces", "image", path, "error", err)
		}
	}
	return imageResult{path: path, records: records}
}

// buildRecord crops one detected face, persists the crop and assembles the
// record. Returns (nil, nil) for faces filtered out by the size threshold.
func (p *Pipeline) buildRecord(path string, img image.Image, face *detect.Face) (*store.FaceRecord, error) {
	if len(face.BBox) != 4 {
		return nil, fmt.Errorf("detector returned bbox with %d values", len(face.BBox))
	}
	if p.opts.EmbeddingDim > 0 && len(face.Embedding) != p.opts.EmbeddingDim {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(face.Embedding), p.opts.EmbeddingDim)
	}

	if p.opts.MinFaceSize > 0 {
		w := face.BBox[2] - face.BBox[0]
		h := face.BBox[3] - face.BBox[1]
		if w < float64(p.opts.MinFaceSize) || h < float64(p.opts.MinFaceSize) {
			return nil, nil
		}
	}

	crop, bbox, err := cropFace(img, face.BBox, p.opts.CropMargin)
	if err != nil {
		return nil, err
	}
	cropPath, err := saveCrop(crop, p.cropDir, path, face.FaceIndex)
	if err != nil {
		return nil, err
	}

	bounds := crop.Bounds()
	record := store.FaceRecord{
		Embedding:        face.Embedding,
		BBox:             bbox,
		Age:              face.Age,
		Gender:           face.GenderLabel(),
		Pose:             face.Pose,
		Landmarks2D106:   face.Landmarks2D106,
		Landmarks3D68:    face.Landmarks3D68,
		SourceImagePath:  path,
		CroppedImagePath: cropPath,
		Resolution:       fmt.Sprintf("%dx%d Pixels", bounds.Dx(), bounds.Dy()),
		FolderName:       filepath.Base(filepath.Dir(path)),
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return &record, nil
}
