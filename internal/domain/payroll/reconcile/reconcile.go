// Package reconcile builds preview sessions: it cross-checks extracted documents,
// tabular listings and previously stored uploads without writing anything.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
)

var ErrNoResult = errors.New("input has neither an extraction result nor a tabular listing")

// Scope is the institution and period a batch is uploaded for.
type Scope struct {
	InstitutionID uuid.UUID    `json:"institutionId"`
	Period        model.Period `json:"period"`
}

// HashLookup reports which content hashes are already stored for a scope.
type HashLookup interface {
	ExistingHashes(ctx context.Context, institutionID uuid.UUID, period model.Period, hashes []string) (map[string]bool, error)
}

// Input is one successfully extracted or parsed file. Tabular, when set alongside
// Result, is the independently parsed listing for the same document.
type Input struct {
	FileName    string
	ContentHash string
	Result      model.ExtractionResult
	Tabular     *model.Listing
}

// FilePreview is the reviewable state of one file.
type FilePreview struct {
	FileName       string               `json:"fileName"`
	ContentHash    string               `json:"contentHash"`
	Classification model.Classification `json:"classification"`
	Document       model.Document       `json:"document"`
	Discrepancies  []Discrepancy        `json:"discrepancies"`
}

// Blocked reports whether the file may not be saved.
func (f FilePreview) Blocked() bool {
	for _, d := range f.Discrepancies {
		if d.Blocking() {
			return true
		}
	}
	return false
}

func (f FilePreview) HasErrors() bool {
	for _, d := range f.Discrepancies {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Session is an ephemeral preview awaiting confirmation.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	Scope     Scope         `json:"scope"`
	Files     []FilePreview `json:"files"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Confirmable is true when no file is blocked by a duplicate. Other errors are left
// to the reviewer.
func (s *Session) Confirmable() bool {
	for _, f := range s.Files {
		if f.Blocked() {
			return false
		}
	}
	return true
}

// File returns the preview with the given content hash.
func (s *Session) File(contentHash string) (FilePreview, bool) {
	for _, f := range s.Files {
		if f.ContentHash == contentHash {
			return f, true
		}
	}
	return FilePreview{}, false
}

type Reconciler struct {
	hashes    HashLookup
	tolerance Tolerance
	logger    *slog.Logger
	now       func() time.Time
}

func New(hashes HashLookup, tolerance Tolerance, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{hashes: hashes, tolerance: tolerance, logger: logger, now: time.Now}
}

// Reconcile produces a preview session for the inputs, in order. Business findings
// become discrepancies; only a failing hash lookup is returned as an error.
func (r *Reconciler) Reconcile(ctx context.Context, scope Scope, inputs []Input) (*Session, error) {
	existing, err := r.existingHashes(ctx, scope, inputs)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        uuid.New(),
		Scope:     scope,
		Files:     make([]FilePreview, 0, len(inputs)),
		CreatedAt: r.now(),
	}

	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		preview, err := r.previewFile(scope, in)
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", in.FileName, err)
		}

		if existing[in.ContentHash] {
			preview.Discrepancies = append(preview.Discrepancies, failure(KindDuplicateUpload, "file",
				"an identical file was already saved for %s", scope.Period))
		}
		if first, dup := seen[in.ContentHash]; dup {
			preview.Discrepancies = append(preview.Discrepancies, failure(KindDuplicateInBatch, "file",
				"identical to %s in the same batch", first))
		} else {
			seen[in.ContentHash] = in.FileName
		}

		session.Files = append(session.Files, preview)
	}

	r.logger.Info("preview reconciled",
		"session_id", session.ID,
		"institution_id", scope.InstitutionID,
		"period", scope.Period.String(),
		"files", len(session.Files),
		"confirmable", session.Confirmable(),
	)
	return session, nil
}

func (r *Reconciler) existingHashes(ctx context.Context, scope Scope, inputs []Input) (map[string]bool, error) {
	if r.hashes == nil || len(inputs) == 0 {
		return map[string]bool{}, nil
	}
	hashes := make([]string, 0, len(inputs))
	for _, in := range inputs {
		hashes = append(hashes, in.ContentHash)
	}
	existing, err := r.hashes.ExistingHashes(ctx, scope.InstitutionID, scope.Period, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing uploads: %w", err)
	}
	return existing, nil
}

func (r *Reconciler) previewFile(scope Scope, in Input) (FilePreview, error) {
	result := in.Result
	if result == nil {
		if in.Tabular == nil {
			return FilePreview{}, ErrNoResult
		}
		result = in.Tabular.AsAportes()
	}

	preview := FilePreview{
		FileName:       in.FileName,
		ContentHash:    in.ContentHash,
		Classification: result.Classification(),
		Document:       model.Wrap(result),
		Discrepancies:  []Discrepancy{},
	}
	preview.Discrepancies = append(preview.Discrepancies, r.Check(scope, result)...)

	if listing, ok := result.(*model.AportesListing); ok && in.Result != nil && in.Tabular != nil {
		preview.Discrepancies = append(preview.Discrepancies, CrossValidate(listing, in.Tabular, r.tolerance)...)
	}
	return preview, nil
}

// Check runs the standalone validations for a result. It is reused when a
// reviewer submits edited documents.
func (r *Reconciler) Check(scope Scope, result model.ExtractionResult) []Discrepancy {
	switch v := result.(type) {
	case *model.AportesListing:
		out := CheckAportes(v, r.tolerance)
		return append(out, CheckPeriod(v.Period, scope.Period)...)
	case *model.TransferReceipt:
		return CheckTransfer(*v, "")
	case *model.MultiTransferReceipt:
		if len(v.Transfers) == 0 {
			return []Discrepancy{failure(KindMissingField, "transfers", "receipt lists no transfers")}
		}
		var out []Discrepancy
		for i, t := range v.Transfers {
			out = append(out, CheckTransfer(t, fmt.Sprintf("transfers[%d].", i))...)
		}
		return out
	}
	return nil
}
