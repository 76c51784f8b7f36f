package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/reconcile"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/repository"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/taxid"
	"github.com/FACorreiaa/payroll-ingest/pkg/blobstore"
	"github.com/FACorreiaa/payroll-ingest/pkg/observability"
)

// Outcome is the result of saving one file.
type Outcome string

const (
	OutcomeSaved          Outcome = "SAVED"
	OutcomeDuplicate      Outcome = "DUPLICATE"
	OutcomePartialSuccess Outcome = "PARTIAL_SUCCESS"
	OutcomeFailed         Outcome = "FAILED"
	OutcomeCancelled      Outcome = "CANCELLED"
)

// BatchStatus summarizes a batch save.
type BatchStatus string

const (
	StatusAllSaved            BatchStatus = "ALL_SAVED"
	StatusSavedWithDuplicates BatchStatus = "SAVED_WITH_DUPLICATES"
	StatusPartial             BatchStatus = "PARTIAL"
	StatusFailed              BatchStatus = "FAILED"
)

// ConfirmedFile is a reviewed document ready to be persisted.
type ConfirmedFile struct {
	FileName    string
	ContentHash string
	MIMEType    string
	Data        []byte
	Result      model.ExtractionResult
}

// ConfirmedBatch is the input of SaveBatch.
type ConfirmedBatch struct {
	Scope reconcile.Scope
	Files []ConfirmedFile
}

// FileSaveResult is the per-file outcome of a save.
type FileSaveResult struct {
	FileName    string     `json:"fileName"`
	ContentHash string     `json:"contentHash"`
	Outcome     Outcome    `json:"outcome"`
	PdfFileID   *uuid.UUID `json:"pdfFileId,omitempty"`
	StoragePath string     `json:"storagePath,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BatchSaveResult lists per-file outcomes in batch order.
type BatchSaveResult struct {
	Status BatchStatus      `json:"status"`
	Files  []FileSaveResult `json:"files"`
}

// Succeeded is true only when every file was saved cleanly.
func (r *BatchSaveResult) Succeeded() bool {
	return r.Status == StatusAllSaved
}

func batchStatus(files []FileSaveResult) BatchStatus {
	counts := make(map[Outcome]int)
	for _, f := range files {
		counts[f.Outcome]++
	}
	switch {
	case len(files) > 0 && counts[OutcomeSaved] == len(files):
		return StatusAllSaved
	case counts[OutcomeSaved]+counts[OutcomePartialSuccess] == 0:
		if counts[OutcomeDuplicate] == len(files) && len(files) > 0 {
			return StatusSavedWithDuplicates
		}
		return StatusFailed
	case counts[OutcomeSaved]+counts[OutcomeDuplicate] == len(files):
		return StatusSavedWithDuplicates
	}
	return StatusPartial
}

// SaveBatch persists each file in its own transaction, in order. Files not yet
// started when ctx is cancelled are reported CANCELLED; a started transaction
// always completes or rolls back.
func (s *PayrollService) SaveBatch(ctx context.Context, batch ConfirmedBatch) (*BatchSaveResult, error) {
	if len(batch.Files) == 0 {
		return nil, ErrNoFiles
	}
	if batch.Scope.InstitutionID == uuid.Nil || batch.Scope.Period.Validate() != nil {
		return nil, ErrInvalidScope
	}

	ctx, span := tracer.Start(ctx, "payroll.SaveBatch", trace.WithAttributes(
		attribute.String("institution.id", batch.Scope.InstitutionID.String()),
		attribute.String("period", batch.Scope.Period.String()),
		attribute.Int("files", len(batch.Files)),
	))
	defer span.End()

	result := &BatchSaveResult{Files: make([]FileSaveResult, 0, len(batch.Files))}
	for _, f := range batch.Files {
		var fr FileSaveResult
		if err := ctx.Err(); err != nil {
			fr = FileSaveResult{
				FileName:    f.FileName,
				ContentHash: f.ContentHash,
				Outcome:     OutcomeCancelled,
				Error:       err.Error(),
			}
		} else {
			fr = s.saveFile(ctx, batch.Scope, f)
		}
		observability.FilesSaved.WithLabelValues(string(fr.Outcome)).Inc()
		result.Files = append(result.Files, fr)
	}
	result.Status = batchStatus(result.Files)

	span.SetAttributes(attribute.String("batch.status", string(result.Status)))
	if result.Status != StatusAllSaved && result.Status != StatusSavedWithDuplicates {
		span.SetStatus(codes.Error, string(result.Status))
	}

	s.logger.InfoContext(ctx, "batch saved",
		"institution_id", batch.Scope.InstitutionID,
		"period", batch.Scope.Period.String(),
		"files", len(result.Files),
		"status", result.Status,
	)
	return result, nil
}

func (s *PayrollService) saveFile(ctx context.Context, scope reconcile.Scope, f ConfirmedFile) FileSaveResult {
	ctx, span := tracer.Start(ctx, "payroll.SaveFile", trace.WithAttributes(
		attribute.String("file.name", f.FileName),
		attribute.String("file.hash", f.ContentHash),
	))
	defer span.End()

	res := FileSaveResult{FileName: f.FileName, ContentHash: f.ContentHash}
	logger := s.logger.With("file_name", f.FileName, "content_hash", f.ContentHash)

	if err := validateForSave(f.Result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid document")
		logger.WarnContext(ctx, "document rejected before save", "error", err)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		return res
	}

	storagePath := blobstore.ObjectKey(scope.InstitutionID.String(), scope.Period.String(), f.ContentHash, f.FileName)

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SaveTimeout)
	defer cancel()

	var fileID uuid.UUID
	err := s.store.WithTx(txCtx, func(tx repository.Tx) error {
		id, err := writeDocument(txCtx, tx, scope, f, storagePath)
		fileID = id
		return err
	})
	switch {
	case errors.Is(err, repository.ErrDuplicateUpload):
		logger.InfoContext(ctx, "duplicate rejected by the database")
		res.Outcome = OutcomeDuplicate
		res.Error = err.Error()
		return res
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
		logger.ErrorContext(ctx, "save transaction rolled back", "error", err)
		res.Outcome = OutcomeFailed
		res.Error = fmt.Errorf("%w: %w", ErrPersistence, err).Error()
		return res
	}

	res.PdfFileID = &fileID
	res.StoragePath = storagePath

	if err := s.writeBlob(ctx, storagePath, f); err != nil {
		observability.BlobWriteFailures.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "blob write failed")
		logger.ErrorContext(ctx, "source document not stored after commit; manual remediation required",
			"pdf_file_id", fileID, "storage_path", storagePath, "error", err)
		res.Outcome = OutcomePartialSuccess
		res.Error = fmt.Errorf("%w: %w", ErrPartialSuccess, err).Error()
		return res
	}

	logger.InfoContext(ctx, "file saved", "pdf_file_id", fileID, "storage_path", storagePath)
	res.Outcome = OutcomeSaved
	return res
}

// writeBlob stores the raw bytes once the rows are committed. An object already
// present under the content-addressed key is the same document.
func (s *PayrollService) writeBlob(ctx context.Context, key string, f ConfirmedFile) error {
	if s.blobs == nil {
		return errors.New("blob store not configured")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BlobTimeout)
	defer cancel()

	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = s.blobs.Put(ctx, key, f.Data, f.MIMEType)
	if errors.Is(err, blobstore.ErrAlreadyExists) {
		return nil
	}
	return err
}

func writeDocument(ctx context.Context, tx repository.Tx, scope reconcile.Scope, f ConfirmedFile, storagePath string) (uuid.UUID, error) {
	periodID, err := tx.EnsurePeriod(ctx, scope.InstitutionID, scope.Period)
	if err != nil {
		return uuid.Nil, err
	}

	file := &repository.PdfFile{
		InstitutionID:  scope.InstitutionID,
		PeriodID:       periodID,
		FileName:       f.FileName,
		ContentHash:    f.ContentHash,
		Classification: string(f.Result.Classification()),
		Kind:           string(f.Result.Kind()),
		MimeType:       f.MIMEType,
		SizeBytes:      int64(len(f.Data)),
		StoragePath:    storagePath,
	}
	if err := tx.InsertPdfFile(ctx, file); err != nil {
		return uuid.Nil, err
	}

	switch v := f.Result.(type) {
	case *model.AportesListing:
		for i, e := range v.Entries {
			id, _ := taxid.Normalize(e.TaxID)
			memberID, err := tx.ResolveMember(ctx, scope.InstitutionID, id, normalizer.CleanText(e.Name))
			if err != nil {
				return uuid.Nil, err
			}
			if err := tx.InsertContributionLine(ctx, &repository.ContributionLine{
				PdfFileID:         file.ID,
				MemberID:          memberID,
				Position:          i + 1,
				TotalRemunerative: e.TotalRemunerative,
				LegajoCount:       e.LegajoCount,
				ConceptAmount:     e.ConceptAmount,
			}); err != nil {
				return uuid.Nil, err
			}
		}
	case *model.TransferReceipt:
		if err := tx.InsertBankTransfer(ctx, bankTransfer(file.ID, 1, *v)); err != nil {
			return uuid.Nil, err
		}
	case *model.MultiTransferReceipt:
		for i, r := range v.Transfers {
			if err := tx.InsertBankTransfer(ctx, bankTransfer(file.ID, i+1, r)); err != nil {
				return uuid.Nil, err
			}
		}
	}
	return file.ID, nil
}

func bankTransfer(fileID uuid.UUID, position int, r model.TransferReceipt) *repository.BankTransfer {
	beneficiaryID, _ := taxid.Normalize(r.Beneficiary.TaxID)
	payerID, _ := taxid.Normalize(r.Payer.TaxID)
	return &repository.BankTransfer{
		PdfFileID:        fileID,
		Position:         position,
		OperationNumber:  r.Transfer.OperationNumber,
		PerformedAt:      r.Transfer.PerformedAt,
		Amount:           r.Transfer.Amount.Decimal,
		Holder:           r.Transfer.Holder,
		SourceAccount:    r.Transfer.SourceAccount,
		Bank:             r.Transfer.Bank,
		Reference:        r.Transfer.Reference,
		BeneficiaryName:  normalizer.CleanText(r.Beneficiary.Name),
		BeneficiaryTaxID: beneficiaryID,
		PayerName:        normalizer.CleanText(r.Payer.Name),
		PayerTaxID:       payerID,
	}
}

// validateForSave enforces what the schema needs: non-negative amounts, member
// identifiers and readable transfer amounts.
func validateForSave(result model.ExtractionResult) error {
	switch v := result.(type) {
	case *model.AportesListing:
		if len(v.Entries) == 0 {
			return fmt.Errorf("%w: listing has no entries", ErrInvalidDocument)
		}
		for i, e := range v.Entries {
			if _, ok := taxid.Normalize(e.TaxID); !ok {
				return fmt.Errorf("%w: entry %d has no identifier", ErrInvalidDocument, i+1)
			}
			if e.ConceptAmount.IsNegative() || e.TotalRemunerative.IsNegative() {
				return fmt.Errorf("%w: entry %d has a negative amount", ErrInvalidDocument, i+1)
			}
			if e.LegajoCount < 0 {
				return fmt.Errorf("%w: entry %d has a negative legajo count", ErrInvalidDocument, i+1)
			}
		}
	case *model.TransferReceipt:
		return validateTransfer(*v, "")
	case *model.MultiTransferReceipt:
		if len(v.Transfers) == 0 {
			return fmt.Errorf("%w: receipt lists no transfers", ErrInvalidDocument)
		}
		for i, r := range v.Transfers {
			if err := validateTransfer(r, fmt.Sprintf("transfer %d: ", i+1)); err != nil {
				return err
			}
		}
	case nil:
		return fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}
	return nil
}

func validateTransfer(r model.TransferReceipt, prefix string) error {
	if !r.Transfer.Amount.Valid {
		return fmt.Errorf("%w: %samount is missing or unreadable", ErrInvalidDocument, prefix)
	}
	if r.Transfer.Amount.Decimal.IsNegative() {
		return fmt.Errorf("%w: %samount is negative", ErrInvalidDocument, prefix)
	}
	return nil
}
