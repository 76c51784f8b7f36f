// Package repository provides data access for payroll periods, members and saved documents.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
)

var (
	// ErrDuplicateUpload is returned when the content hash is already stored for
	// the institution and period. The unique constraint is the final arbiter.
	ErrDuplicateUpload    = errors.New("duplicate upload")
	ErrUnknownInstitution = errors.New("unknown institution")
)

// PayrollPeriod is a (institution, year, month, category) bucket.
type PayrollPeriod struct {
	ID            uuid.UUID `db:"id"`
	InstitutionID uuid.UUID `db:"institution_id"`
	Year          int       `db:"year"`
	Month         int       `db:"month"`
	Category      string    `db:"category"`
}

// PdfFile is one saved source document.
type PdfFile struct {
	ID             uuid.UUID `db:"id"`
	InstitutionID  uuid.UUID `db:"institution_id"`
	PeriodID       uuid.UUID `db:"period_id"`
	FileName       string    `db:"file_name"`
	ContentHash    string    `db:"content_hash"`
	Classification string    `db:"classification"`
	Kind           string    `db:"kind"`
	MimeType       string    `db:"mime_type"`
	SizeBytes      int64     `db:"size_bytes"`
	StoragePath    string    `db:"storage_path"`
	CreatedAt      time.Time `db:"created_at"`
}

// Member is a person identified by CUIL within an institution.
type Member struct {
	ID            uuid.UUID `db:"id"`
	InstitutionID uuid.UUID `db:"institution_id"`
	TaxID         string    `db:"tax_id"`
	Name          string    `db:"name"`
}

// ContributionLine is one entry of a saved contribution listing.
type ContributionLine struct {
	ID                uuid.UUID       `db:"id"`
	PdfFileID         uuid.UUID       `db:"pdf_file_id"`
	MemberID          uuid.UUID       `db:"member_id"`
	Position          int             `db:"position"`
	TotalRemunerative decimal.Decimal `db:"total_remunerative"`
	LegajoCount       int             `db:"legajo_count"`
	ConceptAmount     decimal.Decimal `db:"concept_amount"`
}

// BankTransfer is one saved transfer. Multi-transfer receipts store one row per
// transfer, in page order.
type BankTransfer struct {
	ID               uuid.UUID       `db:"id"`
	PdfFileID        uuid.UUID       `db:"pdf_file_id"`
	Position         int             `db:"position"`
	OperationNumber  string          `db:"operation_number"`
	PerformedAt      *time.Time      `db:"performed_at"`
	Amount           decimal.Decimal `db:"amount"`
	Holder           string          `db:"holder"`
	SourceAccount    string          `db:"source_account"`
	Bank             string          `db:"bank"`
	Reference        string          `db:"reference"`
	BeneficiaryName  string          `db:"beneficiary_name"`
	BeneficiaryTaxID string          `db:"beneficiary_tax_id"`
	PayerName        string          `db:"payer_name"`
	PayerTaxID       string          `db:"payer_tax_id"`
}

// Store is the durable payroll store.
type Store interface {
	// ExistingHashes returns the subset of hashes already saved for the scope.
	ExistingHashes(ctx context.Context, institutionID uuid.UUID, period model.Period, hashes []string) (map[string]bool, error)
	// WithTx runs fn in one transaction, committing only when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	ListFiles(ctx context.Context, institutionID uuid.UUID, period model.Period) ([]PdfFile, error)
}

// Tx is the set of writes performed while saving one file.
type Tx interface {
	EnsurePeriod(ctx context.Context, institutionID uuid.UUID, period model.Period) (uuid.UUID, error)
	ResolveMember(ctx context.Context, institutionID uuid.UUID, taxID, name string) (uuid.UUID, error)
	InsertPdfFile(ctx context.Context, file *PdfFile) error
	InsertContributionLine(ctx context.Context, line *ContributionLine) error
	InsertBankTransfer(ctx context.Context, transfer *BankTransfer) error
}
