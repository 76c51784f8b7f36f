package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/extraction"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/reconcile"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/sniffer"
	"github.com/FACorreiaa/payroll-ingest/pkg/observability"
)

// UploadedFile is one file of a preview batch. Class optionally forces the
// extraction prompt.
type UploadedFile struct {
	Name  string
	Data  []byte
	Class model.Classification
}

// PreviewRequest is an upload batch for one institution and period.
type PreviewRequest struct {
	InstitutionID uuid.UUID
	Period        model.Period
	AllowOCR      bool
	Files         []UploadedFile
}

// FailureKind is the file-level error family of a rejected file.
type FailureKind string

const (
	FailureParse      FailureKind = "PARSE_ERROR"
	FailureExtraction FailureKind = "EXTRACTION_FAILURE"
)

// FileFailure reports a file that produced no preview.
type FileFailure struct {
	FileName    string      `json:"fileName"`
	ContentHash string      `json:"contentHash"`
	Kind        FailureKind `json:"kind"`
	Reason      string      `json:"reason"`
	Message     string      `json:"message"`
}

// BatchPreviewResult is the outcome of a preview. Session and Token are empty
// when no file could be previewed.
type BatchPreviewResult struct {
	Token       string             `json:"token,omitempty"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
	Session     *reconcile.Session `json:"session,omitempty"`
	Confirmable bool               `json:"confirmable"`
	Failures    []FileFailure      `json:"failures"`
}

type fileOutcome struct {
	file     UploadedFile
	hash     string
	mimeType string
	result   model.ExtractionResult
	tabular  *model.Listing
	failure  *FileFailure
	// paired marks a tabular listing consumed as another file's cross-check.
	paired bool
}

// Preview parses or extracts every file, reconciles the results and caches the
// session for confirmation. Per-file problems are reported in Failures; an error
// is returned only for invalid requests and infrastructure failures.
func (s *PayrollService) Preview(ctx context.Context, req PreviewRequest) (*BatchPreviewResult, error) {
	ctx, span := tracer.Start(ctx, "payroll.Preview", trace.WithAttributes(
		attribute.String("institution.id", req.InstitutionID.String()),
		attribute.String("period", req.Period.String()),
		attribute.Int("files", len(req.Files)),
	))
	defer span.End()

	if err := s.validateRequest(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}

	outcomes := make([]*fileOutcome, len(req.Files))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrent)
	for i, f := range req.Files {
		g.Go(func() error {
			outcomes[i] = s.processFile(ctx, f, req.AllowOCR)
			return nil
		})
	}
	_ = g.Wait()

	pairTabular(outcomes)

	var (
		inputs   []reconcile.Input
		staged   []StagedFile
		failures = []FileFailure{}
	)
	for _, o := range outcomes {
		if o.failure != nil {
			failures = append(failures, *o.failure)
			observability.FilesPreviewed.WithLabelValues("UNKNOWN", string(o.failure.Kind)).Inc()
			continue
		}
		if o.paired {
			continue
		}
		inputs = append(inputs, reconcile.Input{
			FileName:    o.file.Name,
			ContentHash: o.hash,
			Result:      o.result,
			Tabular:     o.tabular,
		})
		staged = append(staged, StagedFile{
			FileName:    o.file.Name,
			ContentHash: o.hash,
			MIMEType:    o.mimeType,
			Data:        o.file.Data,
		})
	}

	if len(inputs) == 0 && allUpstream(failures) {
		span.SetStatus(codes.Error, "extraction unavailable")
		return nil, ErrUpstreamDown
	}

	result := &BatchPreviewResult{Failures: failures}
	if len(inputs) == 0 {
		s.logger.WarnContext(ctx, "no file in batch could be previewed",
			"institution_id", req.InstitutionID, "period", req.Period.String(), "failures", len(failures))
		return result, nil
	}

	scope := reconcile.Scope{InstitutionID: req.InstitutionID, Period: req.Period}
	session, err := s.reconciler.Reconcile(ctx, scope, inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return nil, fmt.Errorf("failed to reconcile preview: %w", err)
	}

	for _, f := range session.Files {
		observability.FilesPreviewed.WithLabelValues(string(f.Classification), "PREVIEWED").Inc()
		for _, d := range f.Discrepancies {
			observability.Discrepancies.WithLabelValues(string(d.Kind), string(d.Severity)).Inc()
		}
	}

	token, expiresAt := s.sessions.Put(session, staged)
	result.Token = token
	result.ExpiresAt = &expiresAt
	result.Session = session
	result.Confirmable = session.Confirmable()

	s.logger.InfoContext(ctx, "preview ready",
		"session_id", session.ID,
		"institution_id", req.InstitutionID,
		"period", req.Period.String(),
		"previewed", len(session.Files),
		"failed", len(failures),
	)
	return result, nil
}

func (s *PayrollService) validateRequest(req PreviewRequest) error {
	if req.InstitutionID == uuid.Nil {
		return fmt.Errorf("%w: institution id is required", ErrInvalidScope)
	}
	if err := req.Period.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScope, err)
	}
	if len(req.Files) == 0 {
		return ErrNoFiles
	}
	if s.cfg.MaxFiles > 0 && len(req.Files) > s.cfg.MaxFiles {
		return fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(req.Files), s.cfg.MaxFiles)
	}
	return nil
}

func (s *PayrollService) processFile(ctx context.Context, f UploadedFile, allowOCR bool) *fileOutcome {
	o := &fileOutcome{
		file:     f,
		hash:     extraction.Fingerprint(f.Data),
		mimeType: extraction.DetectMIME(f.Name, f.Data),
	}

	if s.cfg.MaxFileSize > 0 && int64(len(f.Data)) > s.cfg.MaxFileSize {
		o.failure = o.fail(FailureParse, "FILE_TOO_LARGE",
			fmt.Sprintf("file is %d bytes, limit is %d", len(f.Data), s.cfg.MaxFileSize))
		return o
	}

	switch {
	case sniffer.IsTabular(f.Name):
		listing, err := sniffer.Parse(f.Data, sniffer.Options{
			Format: sniffer.FormatFromFilename(f.Name),
			Locale: s.cfg.TabularLocale,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "tabular file rejected", "file_name", f.Name, "error", err)
			o.failure = o.fail(FailureParse, parseReason(err), err.Error())
			return o
		}
		s.logger.DebugContext(ctx, "tabular file parsed",
			"file_name", f.Name, "entries", len(listing.Entries), "header_fingerprint", listing.HeaderFingerprint)
		o.tabular = listing

	case extraction.IsDocument(f.Name, f.Data):
		result, err := s.extract(ctx, f, allowOCR)
		if err != nil {
			reason := string(extraction.FailureUpstream)
			if fail, ok := extraction.AsFailure(err); ok {
				reason = string(fail.Kind)
			}
			o.failure = o.fail(FailureExtraction, reason, err.Error())
			return o
		}
		o.result = result

	default:
		o.failure = o.fail(FailureParse, "UNSUPPORTED_FORMAT",
			fmt.Sprintf("%s is neither a spreadsheet nor a PDF or image", o.mimeType))
	}
	return o
}

func (o *fileOutcome) fail(kind FailureKind, reason, msg string) *FileFailure {
	return &FileFailure{
		FileName:    o.file.Name,
		ContentHash: o.hash,
		Kind:        kind,
		Reason:      reason,
		Message:     msg,
	}
}

// extract calls the vision model and, when allowed, retries a structurally
// unusable response through OCR text.
func (s *PayrollService) extract(ctx context.Context, f UploadedFile, allowOCR bool) (model.ExtractionResult, error) {
	ctx, span := tracer.Start(ctx, "payroll.Extract", trace.WithAttributes(
		attribute.String("file.name", f.Name),
		attribute.Int("file.size", len(f.Data)),
	))
	defer span.End()

	if s.extractor == nil {
		err := &extraction.Failure{Kind: extraction.FailureUpstream, FileName: f.Name, Err: extraction.ErrClientNotConfigured}
		span.RecordError(err)
		span.SetStatus(codes.Error, "no extractor")
		return nil, err
	}

	start := time.Now()
	opts := extraction.Options{Class: f.Class}
	result, err := s.extractor.Extract(ctx, f.Data, f.Name, opts)

	if fail, ok := extraction.AsFailure(err); ok && allowOCR && s.ocr != nil && fail.Kind == extraction.FailureMalformedResponse {
		s.logger.InfoContext(ctx, "falling back to OCR", "file_name", f.Name, "reason", fail.Err)
		if fallback, ocrErr := s.extractViaOCR(ctx, f, opts); ocrErr == nil {
			result, err = fallback, nil
		} else {
			s.logger.WarnContext(ctx, "OCR fallback failed", "file_name", f.Name, "error", ocrErr)
		}
	}

	outcome := "ok"
	if err != nil {
		outcome = string(extraction.FailureUpstream)
		if fail, ok := extraction.AsFailure(err); ok {
			outcome = string(fail.Kind)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(attribute.String("document.kind", string(result.Kind())))
	}
	observability.ExtractionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, err
}

func (s *PayrollService) extractViaOCR(ctx context.Context, f UploadedFile, opts extraction.Options) (model.ExtractionResult, error) {
	text, err := s.ocr.Recognize(ctx, f.Data, extraction.DetectMIME(f.Name, f.Data))
	if err != nil {
		return nil, err
	}
	if text == nil || strings.TrimSpace(text.Text) == "" {
		return nil, errors.New("OCR recognized no text")
	}
	s.logger.DebugContext(ctx, "OCR text recognized", "file_name", f.Name, "language", text.Language, "chars", len(text.Text))
	return s.extractor.ExtractText(ctx, text.Text, f.Name, opts)
}

// pairTabular attaches a spreadsheet to the extracted listing with the same
// base name, making it that listing's cross-validation source.
func pairTabular(outcomes []*fileOutcome) {
	listings := make(map[string]*fileOutcome)
	for _, o := range outcomes {
		if o.failure != nil || o.result == nil {
			continue
		}
		if _, ok := o.result.(*model.AportesListing); !ok {
			continue
		}
		key := baseKey(o.file.Name)
		if _, taken := listings[key]; !taken {
			listings[key] = o
		}
	}

	for _, o := range outcomes {
		if o.failure != nil || o.tabular == nil || o.result != nil {
			continue
		}
		doc, ok := listings[baseKey(o.file.Name)]
		if !ok || doc.tabular != nil {
			continue
		}
		doc.tabular = o.tabular
		o.paired = true
	}
}

func baseKey(name string) string {
	base := filepath.Base(name)
	return normalizer.FoldText(strings.TrimSuffix(base, filepath.Ext(base)))
}

func parseReason(err error) string {
	switch {
	case errors.Is(err, sniffer.ErrUnsupportedFormat):
		return "UNSUPPORTED_FORMAT"
	case errors.Is(err, sniffer.ErrEmptyData):
		return "EMPTY_DATA"
	case errors.Is(err, sniffer.ErrMissingColumns):
		return "MISSING_COLUMNS"
	case errors.Is(err, normalizer.ErrInvalidAmount):
		return "INVALID_AMOUNT"
	}
	return "PARSE_ERROR"
}

// allUpstream reports whether every failure is the extraction service being
// unreachable, which makes the whole batch an infrastructure failure.
func allUpstream(failures []FileFailure) bool {
	if len(failures) == 0 {
		return false
	}
	for _, f := range failures {
		if f.Kind != FailureExtraction || f.Reason != string(extraction.FailureUpstream) {
			return false
		}
	}
	return true
}
