package receipt

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrNoPairs is returned when a directory holds fewer than two receipt photos
var ErrNoPairs = errors.New("no image pairs to process")

// errInterrupted marks a pair abandoned before its provider call started
var errInterrupted = errors.New("run interrupted")

// IDGenerator generates unique IDs for runs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ImageExtractor is the extraction API the service drives. The service caches
// what ExtractRecord returns and validates it on every use.
type ImageExtractor interface {
	ExtractRecord(ctx context.Context, front Image, back *Image) (Record, error)
	ValidateRecord(source string, record Record) *Result
}

// ProcessOptions tunes a batch run
type ProcessOptions struct {
	// Limiter spaces out provider calls; nil means no limit
	Limiter *rate.Limiter
	// Refresh ignores cached results and asks the model again
	Refresh bool
	// Progress is called after every pair with the number done so far
	Progress func(done, total int)
}

// Service runs extraction over whole directories and keeps the history
type Service struct {
	extractor   ImageExtractor
	db          DB
	storage     Storage
	logger      *slog.Logger
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(extractor ImageExtractor, db DB, storage Storage, logger *slog.Logger) *Service {
	return NewServiceWithDeps(extractor, db, storage, logger, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(extractor ImageExtractor, db DB, storage Storage, logger *slog.Logger, idGen IDGenerator, timeSrc TimeSource) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor:   extractor,
		db:          db,
		storage:     storage,
		logger:      logger,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Process pairs the photos in dir, extracts every pair and exports the
// records to a timestamped CSV. A failed pair is logged and skipped.
// Cancelling ctx stops the run between pairs; the pair in flight finishes
// first and whatever was collected is still exported.
func (s *Service) Process(ctx context.Context, dir string, opts ProcessOptions) (*Run, error) {
	pairs := PairImagesFromDirectory(dir)
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoPairs)
	}

	run := &Run{
		ID:        s.idGenerator.Generate(),
		Dir:       dir,
		Total:     len(pairs),
		Records:   make([]Record, 0, len(pairs)),
		StartedAt: s.timeSource.Now(),
	}

	s.logger.Info("Processing image pairs", "run", run.ID, "dir", dir, "total", len(pairs))

	for i, pair := range pairs {
		if ctx.Err() != nil {
			run.Cancelled = true
			s.logger.Warn("Run cancelled", "run", run.ID, "done", i, "total", len(pairs))
			break
		}

		result, cached, err := s.processPair(ctx, pair, opts)
		switch {
		case errors.Is(err, errInterrupted):
			run.Cancelled = true
			s.logger.Warn("Run cancelled", "run", run.ID, "done", i, "total", len(pairs))
		case err != nil:
			run.Failed++
			run.Failures = append(run.Failures, PairFailure{Front: pair.Front, Back: pair.Back, Error: err.Error()})
			s.logger.Error("✗ Failed", "front", filepath.Base(pair.Front), "back", filepath.Base(pair.Back), "error", err)
		default:
			run.Succeeded++
			if cached {
				run.Cached++
			}
			run.Records = append(run.Records, result.Record)
			s.logger.Info("✓ Parsed",
				"front", filepath.Base(pair.Front),
				"back", filepath.Base(pair.Back),
				"record", fmt.Sprint(map[string]any(result.Record)),
				"cached", cached,
			)
		}
		if run.Cancelled {
			break
		}

		if opts.Progress != nil {
			opts.Progress(i+1, len(pairs))
		}
	}

	if err := s.export(run); err != nil {
		return run, err
	}

	run.FinishedAt = s.timeSource.Now()
	if err := s.db.SaveRun(run); err != nil {
		return run, fmt.Errorf("saving run: %w", err)
	}

	s.logger.Info("Run finished",
		"run", run.ID,
		"succeeded", run.Succeeded,
		"failed", run.Failed,
		"cached", run.Cached,
		"export", s.storage.Path(run.Export),
	)
	return run, nil
}

func (s *Service) processPair(ctx context.Context, pair Pair, opts ProcessOptions) (*Result, bool, error) {
	front, err := LoadImage(pair.Front)
	if err != nil {
		return nil, false, &ExtractionError{Side: SideFront, Path: pair.Front, Err: err}
	}
	back, err := LoadImage(pair.Back)
	if err != nil {
		return nil, false, &ExtractionError{Side: SideBack, Path: pair.Back, Err: err}
	}

	if !opts.Refresh {
		if record, ok := s.cached(front, &back); ok {
			return s.extractor.ValidateRecord(front.Path, record), true, nil
		}
	}

	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			return nil, false, fmt.Errorf("waiting for rate limiter: %w: %w", errInterrupted, err)
		}
	}

	// Cancellation is honoured between pairs only
	result, err := s.extract(context.WithoutCancel(ctx), front, &back)
	return result, false, err
}

// Extract runs one upload through the extractor, reusing the cached provider
// answer for identical photos.
func (s *Service) Extract(ctx context.Context, front Image, back *Image) (*Result, error) {
	if record, ok := s.cached(front, back); ok {
		return s.extractor.ValidateRecord(front.Path, record), nil
	}
	return s.extract(ctx, front, back)
}

func (s *Service) extract(ctx context.Context, front Image, back *Image) (*Result, error) {
	record, err := s.extractor.ExtractRecord(ctx, front, back)
	if err != nil {
		return nil, err
	}

	entry := &CachedExtraction{
		Digest:    pairDigest(front, back),
		Record:    record.Clone(),
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveExtraction(entry); err != nil {
		s.logger.Warn("Failed to cache extraction", "front", front.Path, "error", err)
	}
	return s.extractor.ValidateRecord(front.Path, record), nil
}

func (s *Service) cached(front Image, back *Image) (Record, bool) {
	entry, err := s.db.GetExtraction(pairDigest(front, back))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Failed to read extraction cache", "front", front.Path, "error", err)
		}
		return nil, false
	}
	// Entries without a record predate the current cache layout
	if len(entry.Record) == 0 {
		return nil, false
	}
	return entry.Record, true
}

func (s *Service) export(run *Run) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, run.Records); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}

	// The run ID keeps two runs started in the same minute apart
	name := fmt.Sprintf("receipts_%s_%s.csv", run.StartedAt.Format("20060102_1504"), run.ID)
	saved, err := s.storage.Save(name, buf.Bytes())
	if err != nil {
		return fmt.Errorf("saving export: %w", err)
	}
	run.Export = saved
	return nil
}

// GetRun retrieves a run by ID
func (s *Service) GetRun(id string) (*Run, error) {
	run, err := s.db.GetRun(id)
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs, newest first
func (s *Service) ListRuns() ([]*Run, error) {
	runs, err := s.db.ListRuns()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// GetRunExport returns the CSV written by a run
func (s *Service) GetRunExport(id string) ([]byte, string, error) {
	run, err := s.GetRun(id)
	if err != nil {
		return nil, "", err
	}
	if run.Export == "" {
		return nil, "", fmt.Errorf("run %s has no export: %w", id, ErrNotFound)
	}
	data, err := s.storage.Get(run.Export)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("run %s export %s: %w", id, run.Export, ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting run export: %w", err)
	}
	return data, run.Export, nil
}

// DeleteRun removes a run from the history together with its export
func (s *Service) DeleteRun(id string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if run.Export != "" {
		if err := s.storage.Delete(run.Export); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("deleting run export: %w", err)
		}
	}
	if err := s.db.DeleteRun(id); err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	return nil
}

// pairDigest identifies a pair by the bytes of its photos
func pairDigest(front Image, back *Image) string {
	h := sha256.New()
	h.Write(front.Data)
	h.Write([]byte{0})
	if back != nil {
		h.Write(back.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
