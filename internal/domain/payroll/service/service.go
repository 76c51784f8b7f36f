// Package service orchestrates the payroll pipeline: preview (parse or extract,
// then reconcile) and the confirmed, atomic save.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/common"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/extraction"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/reconcile"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/repository"
	"github.com/FACorreiaa/payroll-ingest/pkg/blobstore"
)

var (
	ErrNoFiles          = fmt.Errorf("%w: batch contains no files", common.ErrBadRequest)
	ErrTooManyFiles     = fmt.Errorf("%w: batch exceeds the maximum number of files", common.ErrBadRequest)
	ErrUpstreamDown     = fmt.Errorf("%w: extraction service unavailable for every file in the batch", common.ErrUnavailable)
	ErrPersistence      = errors.New("persistence failure")
	ErrInvalidDocument  = fmt.Errorf("%w: document cannot be saved", common.ErrBadRequest)
	ErrSessionNotFound  = fmt.Errorf("preview session: %w", common.ErrNotFound)
	ErrSessionExpired   = fmt.Errorf("preview session expired: %w", common.ErrGone)
	ErrContentMismatch  = fmt.Errorf("%w: edited document does not match the previewed file", common.ErrConflict)
	ErrInvalidScope     = fmt.Errorf("%w: invalid institution or period", common.ErrBadRequest)
	ErrPartialSuccess   = errors.New("saved to the database but the source document was not stored")
	ErrNothingConfirmed = fmt.Errorf("%w: no files left to save", common.ErrBadRequest)
)

var tracer = otel.Tracer("PayrollService")

// Extractor turns documents, or OCR text of documents, into extraction results.
type Extractor interface {
	Extract(ctx context.Context, doc []byte, fileName string, opts extraction.Options) (model.ExtractionResult, error)
	ExtractText(ctx context.Context, text, fileName string, opts extraction.Options) (model.ExtractionResult, error)
}

// Config tunes the pipeline.
type Config struct {
	// MaxConcurrent bounds parallel extraction calls within one batch.
	MaxConcurrent int
	MaxFiles      int
	MaxFileSize   int64
	// SaveTimeout bounds one file's transaction. It runs detached from the
	// caller's cancellation so a started transaction always finishes.
	SaveTimeout   time.Duration
	BlobTimeout   time.Duration
	TabularLocale normalizer.Locale
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 4
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 30 * time.Second
	}
	if c.BlobTimeout <= 0 {
		c.BlobTimeout = 30 * time.Second
	}
	return c
}

// Deps are the collaborators of PayrollService. OCR may be nil.
type Deps struct {
	Store      repository.Store
	Blobs      blobstore.Store
	Extractor  Extractor
	OCR        extraction.OCR
	Reconciler *reconcile.Reconciler
	Sessions   *SessionCache
}

// PayrollService runs previews and confirmed saves.
type PayrollService struct {
	store      repository.Store
	blobs      blobstore.Store
	extractor  Extractor
	ocr        extraction.OCR
	reconciler *reconcile.Reconciler
	sessions   *SessionCache
	cfg        Config
	logger     *slog.Logger
}

func NewPayrollService(deps Deps, cfg Config, logger *slog.Logger) *PayrollService {
	if logger == nil {
		logger = slog.Default()
	}
	reconciler := deps.Reconciler
	if reconciler == nil {
		reconciler = reconcile.New(deps.Store, reconcile.DefaultTolerance(), logger)
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionCache(30 * time.Minute)
	}
	return &PayrollService{
		store:      deps.Store,
		blobs:      deps.Blobs,
		extractor:  deps.Extractor,
		ocr:        deps.OCR,
		reconciler: reconciler,
		sessions:   sessions,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// ListFiles returns the documents already saved for an institution and period.
func (s *PayrollService) ListFiles(ctx context.Context, institutionID uuid.UUID, period model.Period) ([]repository.PdfFile, error) {
	if institutionID == uuid.Nil || period.Validate() != nil {
		return nil, ErrInvalidScope
	}
	return s.store.ListFiles(ctx, institutionID, period)
}

// Discard drops a preview session without saving.
func (s *PayrollService) Discard(token string) bool {
	return s.sessions.Delete(token)
}
