package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	pdfFileHashConstraint = "pdf_files_institution_period_hash_key"
)

const existingHashesQuery = `
		SELECT f.content_hash
		FROM pdf_files f
		JOIN payroll_periods p ON p.id = f.period_id
		WHERE f.institution_id = $1 AND p.year = $2 AND p.month = $3 AND p.category = $4
		  AND f.content_hash = ANY($5)
	`

const listFilesQuery = `
		SELECT f.id, f.institution_id, f.period_id, f.file_name, f.content_hash, f.classification,
		       f.kind, f.mime_type, f.size_bytes, f.storage_path, f.created_at
		FROM pdf_files f
		JOIN payroll_periods p ON p.id = f.period_id
		WHERE f.institution_id = $1 AND p.year = $2 AND p.month = $3 AND p.category = $4
		ORDER BY f.created_at, f.file_name
	`

const ensurePeriodQuery = `
		INSERT INTO payroll_periods (id, institution_id, year, month, category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (institution_id, year, month, category) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`

const resolveMemberQuery = `
		INSERT INTO members (id, institution_id, tax_id, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (institution_id, tax_id) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), members.name), updated_at = NOW()
		RETURNING id
	`

const insertPdfFileQuery = `
		INSERT INTO pdf_files (id, institution_id, period_id, file_name, content_hash, classification,
		                       kind, mime_type, size_bytes, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

const insertContributionLineQuery = `
		INSERT INTO contribution_lines (id, pdf_file_id, member_id, position, total_remunerative,
		                                legajo_count, concept_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

const insertBankTransferQuery = `
		INSERT INTO bank_transfers (id, pdf_file_id, position, operation_number, performed_at, amount,
		                            holder, source_account, bank, reference, beneficiary_name,
		                            beneficiary_tax_id, payer_name, payer_tax_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ PgxPool = (*pgxpool.Pool)(nil)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	pgpool PgxPool
	logger *slog.Logger
}

func NewPostgresStore(pgpool PgxPool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pgpool: pgpool, logger: logger}
}

func startSpan(ctx context.Context, name, operation, table string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	)
	return otel.Tracer("PayrollRepo").Start(ctx, name, trace.WithAttributes(attrs...))
}

// ExistingHashes returns which of the given content hashes are already saved
func (s *PostgresStore) ExistingHashes(ctx context.Context, institutionID uuid.UUID, period model.Period, hashes []string) (map[string]bool, error) {
	ctx, span := startSpan(ctx, "ExistingHashes", "SELECT", "pdf_files",
		attribute.String("institution.id", institutionID.String()),
		attribute.Int("hashes", len(hashes)))
	defer span.End()

	existing := make(map[string]bool)
	if len(hashes) == 0 {
		return existing, nil
	}

	rows, err := s.pgpool.Query(ctx, existingHashesQuery,
		institutionID, period.Year, period.Month, string(period.Category), hashes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("failed to query existing hashes: %w", err)
	}

	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB scan failed")
		return nil, fmt.Errorf("failed to scan existing hashes: %w", err)
	}
	for _, h := range found {
		existing[h] = true
	}
	return existing, nil
}

// ListFiles returns the documents saved for an institution and period
func (s *PostgresStore) ListFiles(ctx context.Context, institutionID uuid.UUID, period model.Period) ([]PdfFile, error) {
	ctx, span := startSpan(ctx, "ListFiles", "SELECT", "pdf_files",
		attribute.String("institution.id", institutionID.String()))
	defer span.End()

	rows, err := s.pgpool.Query(ctx, listFilesQuery,
		institutionID, period.Year, period.Month, string(period.Category))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	files, err := pgx.CollectRows(rows, pgx.RowToStructByName[PdfFile])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB scan failed")
		return nil, fmt.Errorf("failed to scan files: %w", err)
	}
	return files, nil
}

// WithTx begins a transaction, runs fn and commits. Any error from fn or the
// commit rolls everything back.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	ctx, span := startSpan(ctx, "WithTx", "TRANSACTION", "pdf_files")
	defer span.End()

	tx, err := s.pgpool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB transaction failed")
		return fmt.Errorf("database error beginning transaction: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.logger.ErrorContext(ctx, "Failed to rollback transaction", slog.Any("error", rollbackErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction rolled back")
	}()

	if err = fn(&postgresTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("database error committing transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) EnsurePeriod(ctx context.Context, institutionID uuid.UUID, period model.Period) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, ensurePeriodQuery,
		uuid.New(), institutionID, period.Year, period.Month, string(period.Category)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to ensure payroll period: %w", classify(err))
	}
	return id, nil
}

func (t *postgresTx) ResolveMember(ctx context.Context, institutionID uuid.UUID, taxID, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, resolveMemberQuery, uuid.New(), institutionID, taxID, name).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve member %s: %w", taxID, classify(err))
	}
	return id, nil
}

func (t *postgresTx) InsertPdfFile(ctx context.Context, file *PdfFile) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, insertPdfFileQuery,
		file.ID, file.InstitutionID, file.PeriodID, file.FileName, file.ContentHash,
		file.Classification, file.Kind, file.MimeType, file.SizeBytes, file.StoragePath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pdf file: %w", classify(err))
	}
	return nil
}

func (t *postgresTx) InsertContributionLine(ctx context.Context, line *ContributionLine) error {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, insertContributionLineQuery,
		line.ID, line.PdfFileID, line.MemberID, line.Position,
		line.TotalRemunerative, line.LegajoCount, line.ConceptAmount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contribution line %d: %w", line.Position, classify(err))
	}
	return nil
}

func (t *postgresTx) InsertBankTransfer(ctx context.Context, transfer *BankTransfer) error {
	if transfer.ID == uuid.Nil {
		transfer.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, insertBankTransferQuery,
		transfer.ID, transfer.PdfFileID, transfer.Position, transfer.OperationNumber,
		transfer.PerformedAt, transfer.Amount, transfer.Holder, transfer.SourceAccount,
		transfer.Bank, transfer.Reference, transfer.BeneficiaryName, transfer.BeneficiaryTaxID,
		transfer.PayerName, transfer.PayerTaxID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bank transfer %d: %w", transfer.Position, classify(err))
	}
	return nil
}

// classify maps constraint violations to repository sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == pdfFileHashConstraint:
		return fmt.Errorf("%w: %s", ErrDuplicateUpload, pgErr.Detail)
	case pgErr.Code == pgForeignKeyViolation && isInstitutionFK(pgErr.ConstraintName):
		return fmt.Errorf("%w: %s", ErrUnknownInstitution, pgErr.Detail)
	}
	return err
}

func isInstitutionFK(constraint string) bool {
	switch constraint {
	case "payroll_periods_institution_id_fkey", "members_institution_id_fkey", "pdf_files_institution_id_fkey":
		return true
	}
	return false
}
