// Package handler exposes the payroll pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/common"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/repository"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/service"
	"github.com/FACorreiaa/payroll-ingest/pkg/logging"
)

const (
	defaultMaxUploadBytes = 64 << 20
	maxConfirmBodyBytes   = 8 << 20
)

// PayrollService is the subset of the pipeline the handler drives.
type PayrollService interface {
	Preview(ctx context.Context, req service.PreviewRequest) (*service.BatchPreviewResult, error)
	Confirm(ctx context.Context, req service.ConfirmRequest) (*service.BatchSaveResult, error)
	Discard(token string) bool
	ListFiles(ctx context.Context, institutionID uuid.UUID, period model.Period) ([]repository.PdfFile, error)
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// PayrollHandler serves previews, confirmations and saved-file listings.
type PayrollHandler struct {
	service        PayrollService
	maxUploadBytes int64
}

// NewPayrollHandler constructs a new handler. maxUploadBytes caps a whole
// multipart request; zero selects 64 MiB.
func NewPayrollHandler(svc PayrollService, maxUploadBytes int64) *PayrollHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &PayrollHandler{service: svc, maxUploadBytes: maxUploadBytes}
}

// Routes mounts the handler under /api/v1.
func (h *PayrollHandler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/institutions/{institutionID}/periods/{period}", func(r chi.Router) {
			r.Post("/previews", h.CreatePreview)
			r.Get("/files", h.ListFiles)
		})
		r.Post("/previews/{token}/confirm", h.ConfirmPreview)
		r.Delete("/previews/{token}", h.DiscardPreview)
	})
}

// CreatePreview accepts a multipart batch in the "files" field. "allow_ocr"
// enables the OCR fallback and "class" forces the document class of every file.
func (h *PayrollHandler) CreatePreview(w http.ResponseWriter, r *http.Request) {
	institutionID, period, err := scope(r)
	if err != nil {
		h.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: %v", errBadUpload, err), http.StatusBadRequest)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	allowOCR := false
	if v := r.FormValue("allow_ocr"); v != "" {
		allowOCR, err = strconv.ParseBool(v)
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: allow_ocr must be a boolean", errBadUpload), http.StatusBadRequest)
			return
		}
	}

	var class model.Classification
	switch c := model.Classification(r.FormValue("class")); c {
	case "":
	case model.ClassificationAportes, model.ClassificationTransferencia:
		class = c
	default:
		h.respondError(w, r, fmt.Errorf("%w: unknown class %q", errBadUpload, c), http.StatusBadRequest)
		return
	}

	req := service.PreviewRequest{
		InstitutionID: institutionID,
		Period:        period,
		AllowOCR:      allowOCR,
	}
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: %v", errBadUpload, err), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: %v", errBadUpload, err), http.StatusBadRequest)
			return
		}
		req.Files = append(req.Files, service.UploadedFile{Name: fh.Filename, Data: data, Class: class})
	}

	result, err := h.service.Preview(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err, statusFor(err))
		return
	}

	status := http.StatusCreated
	if result.Token == "" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// ConfirmPreview saves a preview session with the reviewer's edits.
func (h *PayrollHandler) ConfirmPreview(w http.ResponseWriter, r *http.Request) {
	var req service.ConfirmRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfirmBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.respondError(w, r, fmt.Errorf("%w: %v", errBadBody, err), http.StatusBadRequest)
			return
		}
	}
	req.Token = chi.URLParam(r, "token")

	result, err := h.service.Confirm(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err, statusFor(err))
		return
	}

	status := http.StatusOK
	switch result.Status {
	case service.StatusPartial, service.StatusSavedWithDuplicates:
		status = http.StatusMultiStatus
	case service.StatusFailed:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// DiscardPreview drops a preview session.
func (h *PayrollHandler) DiscardPreview(w http.ResponseWriter, r *http.Request) {
	if !h.service.Discard(chi.URLParam(r, "token")) {
		h.respondError(w, r, service.ErrSessionNotFound, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FileResponse describes a saved source document.
type FileResponse struct {
	ID             uuid.UUID `json:"id"`
	FileName       string    `json:"fileName"`
	ContentHash    string    `json:"contentHash"`
	Classification string    `json:"classification"`
	Kind           string    `json:"kind"`
	MimeType       string    `json:"mimeType"`
	SizeBytes      int64     `json:"sizeBytes"`
	StoragePath    string    `json:"storagePath"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ListFiles returns the documents saved for an institution and period.
func (h *PayrollHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	institutionID, period, err := scope(r)
	if err != nil {
		h.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	files, err := h.service.ListFiles(r.Context(), institutionID, period)
	if err != nil {
		h.respondError(w, r, err, statusFor(err))
		return
	}

	resp := make([]FileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, FileResponse{
			ID:             f.ID,
			FileName:       f.FileName,
			ContentHash:    f.ContentHash,
			Classification: f.Classification,
			Kind:           f.Kind,
			MimeType:       f.MimeType,
			SizeBytes:      f.SizeBytes,
			StoragePath:    f.StoragePath,
			CreatedAt:      f.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": resp})
}

var (
	errBadUpload = fmt.Errorf("%w: invalid upload", common.ErrBadRequest)
	errBadBody   = fmt.Errorf("%w: invalid request body", common.ErrBadRequest)
)

func scope(r *http.Request) (uuid.UUID, model.Period, error) {
	institutionID, err := uuid.Parse(chi.URLParam(r, "institutionID"))
	if err != nil {
		return uuid.Nil, model.Period{}, fmt.Errorf("%w: institution id: %v", service.ErrInvalidScope, err)
	}
	period, err := model.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		return uuid.Nil, model.Period{}, fmt.Errorf("%w: %v", service.ErrInvalidScope, err)
	}
	return institutionID, period, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrGone):
		return http.StatusGone
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type userMessage struct {
	code, message, action string
}

func mapError(err error) userMessage {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return userMessage{"SESSION_NOT_FOUND", "The preview session does not exist or was already confirmed.", "Upload the files again to start a new preview."}
	case errors.Is(err, service.ErrSessionExpired):
		return userMessage{"SESSION_EXPIRED", "The preview session has expired.", "Upload the files again to start a new preview."}
	case errors.Is(err, service.ErrContentMismatch):
		return userMessage{"CONTENT_MISMATCH", "An edit does not match a previewed file.", "Edit only files of the preview and keep their document kind."}
	case errors.Is(err, service.ErrUpstreamDown):
		return userMessage{"BATCH_FAILED", "The extraction service is unavailable.", "Try again in a few minutes."}
	case errors.Is(err, service.ErrInvalidDocument):
		return userMessage{"INVALID_DOCUMENT", err.Error(), "Correct the edited document and confirm again."}
	case errors.Is(err, common.ErrBadRequest):
		return userMessage{code: "INVALID_REQUEST", message: err.Error()}
	}
	return userMessage{"INTERNAL", "Something went wrong.", "Try again; contact support if it persists."}
}

// respondError logs the technical error and writes a client-safe JSON reply.
func (h *PayrollHandler) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := mapError(err)
	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.code,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeJSON(w, status, ErrorResponse{
		Error:   msg.message,
		Message: msg.message,
		Action:  msg.action,
		Code:    msg.code,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(context.Background()).Error("json encode error", "error", err)
	}
}
