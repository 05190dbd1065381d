package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/taxi-receipts/internal/scanning"
)

// Side names the face of a receipt a call was made for
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// ExtractionError means no data was obtained for one side of a pair: the
// image could not be read, the provider failed, or its answer did not fit the
// schema. It is distinct from validation warnings, which accompany data that
// was obtained but looks suspicious.
type ExtractionError struct {
	Side Side
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s-page extraction failed: %v", e.Side, e.Err)
	}
	return fmt.Sprintf("%s-page extraction failed for %s: %v", e.Side, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Image is one receipt photo held in memory
type Image struct {
	Path        string
	Data        []byte
	ContentType string
}

// LoadImage reads a photo from disk and infers its content type from the extension
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("reading image: %w", err)
	}
	return Image{
		Path:        path,
		Data:        data,
		ContentType: scanning.ContentTypeFromFilename(path),
	}, nil
}

// Extractor is the single entry point for turning receipt photos into
// validated records. CLI, HTTP server and batch runs all go through it.
type Extractor struct {
	scanner     scanning.Scanner
	validator   *Validator
	logger      *slog.Logger
	frontSchema scanning.Schema
	backSchema  scanning.Schema
}

// NewExtractor creates an Extractor. A nil logger means slog.Default().
func NewExtractor(scanner scanning.Scanner, validator *Validator, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		scanner:     scanner,
		validator:   validator,
		logger:      logger,
		frontSchema: scanning.FrontSchema,
		backSchema:  scanning.NewBackSchema(validator.Roster),
	}
}

// ExtractFromImages reads the photos at the given paths and extracts one
// record. An empty backPath means the receipt has no back photo.
func (e *Extractor) ExtractFromImages(ctx context.Context, frontPath, backPath string) (*Result, error) {
	front, err := LoadImage(frontPath)
	if err != nil {
		return nil, &ExtractionError{Side: SideFront, Path: frontPath, Err: err}
	}

	var back *Image
	if backPath != "" {
		img, err := LoadImage(backPath)
		if err != nil {
			return nil, &ExtractionError{Side: SideBack, Path: backPath, Err: err}
		}
		back = &img
	}

	return e.ExtractFromImageData(ctx, front, back)
}

// ExtractFromImageData extracts one validated record from photos already in
// memory.
func (e *Extractor) ExtractFromImageData(ctx context.Context, front Image, back *Image) (*Result, error) {
	record, err := e.ExtractRecord(ctx, front, back)
	if err != nil {
		return nil, err
	}
	return e.ValidateRecord(front.Path, record), nil
}

// ExtractRecord asks the scanner for both sides and returns the merged record
// before any business rule is applied. Both sides are requested concurrently;
// the first failure cancels the other call and is returned as an
// *ExtractionError.
func (e *Extractor) ExtractRecord(ctx context.Context, front Image, back *Image) (Record, error) {
	var frontFields scanning.Fields
	backFields := defaultBackFields()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fields, err := e.scanner.ExtractFields(gctx, front.Data, front.ContentType, e.frontSchema)
		if err != nil {
			return &ExtractionError{Side: SideFront, Path: front.Path, Err: err}
		}
		frontFields = fields
		return nil
	})
	if back != nil {
		g.Go(func() error {
			fields, err := e.scanner.ExtractFields(gctx, back.Data, back.ContentType, e.backSchema)
			if err != nil {
				return &ExtractionError{Side: SideBack, Path: back.Path, Err: err}
			}
			backFields = fields
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Merge(frontFields, backFields), nil
}

// ValidateRecord applies the business rules to a merged record and logs every
// warning against source.
func (e *Extractor) ValidateRecord(source string, record Record) *Result {
	validated, warnings := e.validator.Validate(record)
	for _, w := range warnings {
		e.logger.Warn(w.Message(), "kind", w.Kind, "field", w.Field, "value", w.Value, "front", source)
	}
	return &Result{Record: validated, Warnings: warnings}
}
