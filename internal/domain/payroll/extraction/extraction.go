// Package extraction turns payroll PDFs and images into structured documents
// using an AI vision model, and fingerprints raw bytes for duplicate detection.
package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
)

// DefaultModelName is used when neither the adapter nor the call names a model.
const DefaultModelName = "gemini-2.5-flash"

// VisionRequest is one inference call. Either Document or Text carries the content.
type VisionRequest struct {
	Model    string
	Prompt   string
	Document []byte
	MIMEType string
	Text     string
}

// VisionClient runs the vision model and returns its raw text response.
type VisionClient interface {
	Generate(ctx context.Context, req VisionRequest) (string, error)
}

// OCRText is the text recognized from a document and its detected language.
type OCRText struct {
	Text     string
	Language string
}

// OCR recognizes text from a rasterized document. A nil result with a nil error
// means nothing was recognized.
type OCR interface {
	Recognize(ctx context.Context, doc []byte, mimeType string) (*OCRText, error)
}

// Options select the model and the prompt for one call.
type Options struct {
	Model string
	Class model.Classification
}

// AdapterConfig configures the extraction adapter.
type AdapterConfig struct {
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Locale            normalizer.Locale
	Location          *time.Location
}

// Adapter calls the vision client under a per-call timeout and a shared rate limit,
// then validates the response into an ExtractionResult.
type Adapter struct {
	client  VisionClient
	cfg     AdapterConfig
	limiter *rate.Limiter
	decoder decoder
	logger  *slog.Logger
}

func NewAdapter(client VisionClient, cfg AdapterConfig, logger *slog.Logger) *Adapter {
	if cfg.Model == "" {
		cfg.Model = DefaultModelName
	}
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Adapter{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		decoder: decoder{locale: cfg.Locale, location: cfg.Location},
		logger:  logger,
	}
}

// Extract sends the document to the vision model and maps the response. Every error
// it returns is a *Failure.
func (a *Adapter) Extract(ctx context.Context, doc []byte, fileName string, opts Options) (model.ExtractionResult, error) {
	return a.run(ctx, fileName, VisionRequest{
		Model:    a.model(opts),
		Prompt:   promptFor(opts.Class),
		Document: doc,
		MIMEType: DetectMIME(fileName, doc),
	})
}

// ExtractText maps text recognized by OCR through the same prompt and validation.
func (a *Adapter) ExtractText(ctx context.Context, text, fileName string, opts Options) (model.ExtractionResult, error) {
	return a.run(ctx, fileName, VisionRequest{
		Model:  a.model(opts),
		Prompt: textPreamble + promptFor(opts.Class),
		Text:   text,
	})
}

func (a *Adapter) model(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return a.cfg.Model
}

func (a *Adapter) run(ctx context.Context, fileName string, req VisionRequest) (model.ExtractionResult, error) {
	if a.client == nil {
		return nil, &Failure{Kind: FailureUpstream, FileName: fileName, Err: ErrClientNotConfigured}
	}

	callCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	if err := a.limiter.Wait(callCtx); err != nil {
		return nil, &Failure{Kind: FailureTimeout, FileName: fileName, Err: err}
	}

	start := time.Now()
	raw, err := a.client.Generate(callCtx, req)
	if err != nil {
		kind := FailureUpstream
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			kind = FailureTimeout
		}
		a.logger.Warn("vision call failed",
			"file_name", fileName, "model", req.Model, "kind", kind,
			"duration", time.Since(start), "error", err)
		return nil, &Failure{Kind: kind, FileName: fileName, Err: err}
	}

	result, err := a.decoder.decode(raw)
	if err != nil {
		a.logger.Warn("vision response rejected", "file_name", fileName, "model", req.Model, "error", err)
		return nil, &Failure{Kind: FailureMalformedResponse, FileName: fileName, Err: err}
	}

	a.logger.Debug("document extracted",
		"file_name", fileName, "kind", result.Kind(), "duration", time.Since(start))
	return result, nil
}

// Fingerprint returns the hex SHA-256 of the raw bytes. File names play no part.
func Fingerprint(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}

// DetectMIME sniffs the content type of a document, falling back to the extension.
func DetectMIME(fileName string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/") {
		return sniffed
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); byExt != "" {
		if i := strings.Index(byExt, ";"); i >= 0 {
			byExt = byExt[:i]
		}
		return byExt
	}
	return sniffed
}

// IsDocument reports whether a file is something the vision model can read.
func IsDocument(fileName string, data []byte) bool {
	switch DetectMIME(fileName, data) {
	case "application/pdf", "image/png", "image/jpeg", "image/webp", "image/gif":
		return true
	}
	return false
}
