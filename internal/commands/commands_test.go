package commands

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/reconcile"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/repository"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/service"
)

type fakePipeline struct {
	preview   *service.BatchPreviewResult
	saved     *service.BatchSaveResult
	files     []repository.PdfFile
	err       error
	previewed []service.PreviewRequest
	confirmed []service.ConfirmRequest
}

func (f *fakePipeline) Preview(_ context.Context, req service.PreviewRequest) (*service.BatchPreviewResult, error) {
	f.previewed = append(f.previewed, req)
	return f.preview, f.err
}

func (f *fakePipeline) Confirm(_ context.Context, req service.ConfirmRequest) (*service.BatchSaveResult, error) {
	f.confirmed = append(f.confirmed, req)
	return f.saved, f.err
}

func (f *fakePipeline) ListFiles(context.Context, uuid.UUID, model.Period) ([]repository.PdfFile, error) {
	return f.files, f.err
}

type harness struct {
	pipeline *fakePipeline
	migrated int
	closed   int
	out      bytes.Buffer
	errOut   bytes.Buffer
}

func (h *harness) run(t *testing.T, stdin string, args ...string) error {
	t.Helper()
	factory := func(context.Context, *slog.Logger) (*App, error) {
		return &App{
			Pipeline: h.pipeline,
			Migrate: func(context.Context) error {
				h.migrated++
				return nil
			},
			Close: func() { h.closed++ },
		}, nil
	}
	cmd := newRootCommand(&globalOptions{}, factory)
	cmd.SetArgs(args)
	cmd.SetOut(&h.out)
	cmd.SetErr(&h.errOut)
	cmd.SetIn(strings.NewReader(stdin))
	return cmd.ExecuteContext(context.Background())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

var (
	testInstitution = uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f")
	testScope       = []string{"--institution", testInstitution.String(), "--period", "2024-03"}
)

func confirmablePreview() *service.BatchPreviewResult {
	return &service.BatchPreviewResult{
		Token:       "tok-1",
		Confirmable: true,
		Session: &reconcile.Session{
			Files: []reconcile.FilePreview{
				{
					FileName:       "aportes.pdf",
					Classification: model.ClassificationAportes,
					Document: model.Wrap(&model.AportesListing{
						Totals: model.Totals{PersonCount: 1, TotalAmount: decimal.RequireFromString("22852.54")},
					}),
				},
				{
					FileName:       "listado.csv",
					Classification: model.ClassificationAportes,
					Discrepancies: []reconcile.Discrepancy{{
						Kind:     reconcile.KindTotalsMismatch,
						Severity: reconcile.SeverityWarning,
						Message:  "totals differ by 1.00",
					}},
				},
			},
		},
	}
}

func TestPreviewCommand(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{preview: confirmablePreview()}}
	path := writeFile(t, "aportes.pdf", "%PDF-1.4")

	err := h.run(t, "", append([]string{"preview", path, "--class", "aportes", "--allow-ocr"}, testScope...)...)
	require.NoError(t, err)

	require.Len(t, h.pipeline.previewed, 1)
	req := h.pipeline.previewed[0]
	assert.Equal(t, testInstitution, req.InstitutionID)
	assert.Equal(t, 2024, req.Period.Year)
	assert.Equal(t, 3, req.Period.Month)
	assert.True(t, req.AllowOCR)
	require.Len(t, req.Files, 1)
	assert.Equal(t, "aportes.pdf", req.Files[0].Name)
	assert.Equal(t, model.ClassificationAportes, req.Files[0].Class)
	assert.Equal(t, []byte("%PDF-1.4"), req.Files[0].Data)

	out := h.out.String()
	assert.Contains(t, out, "22.852,54")
	assert.Contains(t, out, "TOTALS_MISMATCH: totals differ by 1.00")
	assert.Contains(t, out, "confirmable: true")
	assert.Equal(t, 1, h.closed)
}

func TestPreviewCommand_JSON(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{preview: confirmablePreview()}}
	path := writeFile(t, "aportes.pdf", "%PDF-1.4")

	err := h.run(t, "", append([]string{"preview", path, "--json"}, testScope...)...)
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), `"token": "tok-1"`)
}

func TestPreviewCommand_Failures(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{preview: &service.BatchPreviewResult{
		Failures: []service.FileFailure{{FileName: "scan.pdf", Kind: "EXTRACTION", Reason: "MALFORMED", Message: "unreadable"}},
	}}}
	path := writeFile(t, "scan.pdf", "%PDF-1.4")

	require.NoError(t, h.run(t, "", append([]string{"preview", path}, testScope...)...))
	assert.Contains(t, h.out.String(), "EXTRACTION/MALFORMED: unreadable")
	assert.Contains(t, h.out.String(), "nothing could be previewed")
}

func TestPreviewCommand_BadInput(t *testing.T) {
	path := writeFile(t, "aportes.pdf", "%PDF-1.4")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing scope",
			args:    []string{"preview", path},
			wantErr: "required flag",
		},
		{
			name:    "bad institution",
			args:    []string{"preview", path, "--institution", "nope", "--period", "2024-03"},
			wantErr: "invalid --institution",
		},
		{
			name:    "bad period",
			args:    []string{"preview", path, "--institution", testInstitution.String(), "--period", "someday"},
			wantErr: "invalid --period",
		},
		{
			name:    "bad class",
			args:    append([]string{"preview", path, "--class", "recibo"}, testScope...),
			wantErr: "invalid --class",
		},
		{
			name:    "missing file",
			args:    append([]string{"preview", filepath.Join(t.TempDir(), "gone.pdf")}, testScope...),
			wantErr: "reading",
		},
		{
			name:    "no files",
			args:    append([]string{"preview"}, testScope...),
			wantErr: "requires at least 1 arg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &harness{pipeline: &fakePipeline{}}
			err := h.run(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, h.pipeline.previewed)
		})
	}
}

func TestSaveCommand_WithYes(t *testing.T) {
	id := uuid.New()
	h := &harness{pipeline: &fakePipeline{
		preview: confirmablePreview(),
		saved: &service.BatchSaveResult{
			Status: service.StatusAllSaved,
			Files: []service.FileSaveResult{
				{FileName: "aportes.pdf", Outcome: service.OutcomeSaved, PdfFileID: &id, StoragePath: "inst/2024-03/aportes.pdf"},
			},
		},
	}}
	path := writeFile(t, "aportes.pdf", "%PDF-1.4")

	err := h.run(t, "", append([]string{"save", path, "--yes", "--exclude", "abc"}, testScope...)...)
	require.NoError(t, err)

	require.Len(t, h.pipeline.confirmed, 1)
	assert.Equal(t, "tok-1", h.pipeline.confirmed[0].Token)
	assert.Equal(t, []string{"abc"}, h.pipeline.confirmed[0].Exclude)
	assert.Contains(t, h.out.String(), "inst/2024-03/aportes.pdf")
	assert.Contains(t, h.out.String(), "status: ALL_SAVED")
	assert.NotContains(t, h.out.String(), "[y/N]")
}

func TestSaveCommand_Prompt(t *testing.T) {
	tests := []struct {
		name      string
		answer    string
		confirmed int
		wantErr   error
	}{
		{name: "yes", answer: "y\n", confirmed: 1},
		{name: "yes without newline", answer: "YES", confirmed: 1},
		{name: "no", answer: "n\n", wantErr: errAborted},
		{name: "empty", answer: "", wantErr: errAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &harness{pipeline: &fakePipeline{
				preview: confirmablePreview(),
				saved:   &service.BatchSaveResult{Status: service.StatusAllSaved},
			}}
			path := writeFile(t, "aportes.pdf", "%PDF-1.4")

			err := h.run(t, tt.answer, append([]string{"save", path}, testScope...)...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, h.pipeline.confirmed, tt.confirmed)
			assert.Contains(t, h.out.String(), "Save these files? [y/N]")
		})
	}
}

// previewWithDuplicate marks the second file as already stored for the period.
func previewWithDuplicate() *service.BatchPreviewResult {
	preview := confirmablePreview()
	preview.Confirmable = false
	dup := &preview.Session.Files[1]
	dup.ContentHash = "dup-hash"
	dup.Discrepancies = append(dup.Discrepancies, reconcile.Discrepancy{
		Kind:     reconcile.KindDuplicateUpload,
		Severity: reconcile.SeverityError,
		Message:  "already uploaded",
	})
	return preview
}

func TestSaveCommand_NotConfirmable(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{preview: previewWithDuplicate()}}
	path := writeFile(t, "aportes.pdf", "%PDF-1.4")

	err := h.run(t, "y\n", append([]string{"save", path}, testScope...)...)
	assert.ErrorIs(t, err, errNotConfirmable)
	assert.Contains(t, err.Error(), "--exclude dup-hash")
	assert.Empty(t, h.pipeline.confirmed)
}

func TestSaveCommand_ExcludingBlockedFileSavesTheRest(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{
		preview: previewWithDuplicate(),
		saved: &service.BatchSaveResult{
			Status: service.StatusAllSaved,
			Files:  []service.FileSaveResult{{FileName: "aportes.pdf", Outcome: service.OutcomeSaved}},
		},
	}}
	path := writeFile(t, "aportes.pdf", "%PDF-1.4")

	err := h.run(t, "", append([]string{"save", path, "-y", "--exclude", "dup-hash"}, testScope...)...)
	require.NoError(t, err)
	require.Len(t, h.pipeline.confirmed, 1)
	assert.Equal(t, []string{"dup-hash"}, h.pipeline.confirmed[0].Exclude)
	assert.Contains(t, h.out.String(), "status: ALL_SAVED")
}

func TestSaveCommand_PartialBatchFails(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{
		preview: confirmablePreview(),
		saved: &service.BatchSaveResult{
			Status: service.StatusPartial,
			Files: []service.FileSaveResult{
				{FileName: "aportes.pdf", Outcome: service.OutcomeSaved},
				{FileName: "listado.csv", Outcome: service.OutcomeFailed, Error: "unknown institution"},
			},
		},
	}}
	path := writeFile(t, "aportes.pdf", "%PDF-1.4")

	err := h.run(t, "", append([]string{"save", path, "-y"}, testScope...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PARTIAL")
	assert.Contains(t, h.out.String(), "unknown institution")
}

func TestSaveCommand_DuplicatesSucceed(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{
		preview: confirmablePreview(),
		saved:   &service.BatchSaveResult{Status: service.StatusSavedWithDuplicates},
	}}
	path := writeFile(t, "aportes.pdf", "%PDF-1.4")

	require.NoError(t, h.run(t, "", append([]string{"save", path, "-y"}, testScope...)...))
}

func TestFilesCommand(t *testing.T) {
	created := time.Date(2024, 4, 2, 10, 30, 0, 0, time.UTC)
	h := &harness{pipeline: &fakePipeline{files: []repository.PdfFile{
		{
			FileName:       "aportes.pdf",
			Classification: string(model.ClassificationAportes),
			SizeBytes:      2048,
			ContentHash:    "0123456789abcdef0123",
			CreatedAt:      created,
		},
	}}}

	require.NoError(t, h.run(t, "", append([]string{"files"}, testScope...)...))
	out := h.out.String()
	assert.Contains(t, out, "aportes.pdf")
	assert.Contains(t, out, "2048")
	assert.Contains(t, out, "2024-04-02 10:30:00")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abc")
}

func TestFilesCommand_Empty(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{}}

	require.NoError(t, h.run(t, "", append([]string{"files"}, testScope...)...))
	assert.Contains(t, h.out.String(), "no files saved for")
}

func TestFilesCommand_Error(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{err: errors.New("db down")}}

	err := h.run(t, "", append([]string{"files"}, testScope...)...)
	require.EqualError(t, err, "db down")
	assert.Equal(t, 1, h.closed)
}

func TestMigrateCommand(t *testing.T) {
	h := &harness{pipeline: &fakePipeline{}}

	require.NoError(t, h.run(t, "", "migrate"))
	assert.Equal(t, 1, h.migrated)
	assert.Contains(t, h.out.String(), "migrations applied")
}

func TestFactoryError(t *testing.T) {
	factory := func(context.Context, *slog.Logger) (*App, error) {
		return nil, errors.New("no database")
	}
	cmd := newRootCommand(&globalOptions{}, factory)
	cmd.SetArgs([]string{"migrate"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.EqualError(t, cmd.Execute(), "no database")
}
