package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/extraction"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/repository"
	"github.com/FACorreiaa/payroll-ingest/pkg/blobstore"
)

// scriptedVision answers by document body (or OCR text) so concurrent calls stay deterministic.
type scriptedVision struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	block     map[string]bool
	calls     int
}

func newScriptedVision() *scriptedVision {
	return &scriptedVision{
		responses: map[string]string{},
		errs:      map[string]error{},
		block:     map[string]bool{},
	}
}

func (v *scriptedVision) Generate(ctx context.Context, req extraction.VisionRequest) (string, error) {
	key := string(req.Document)
	if req.Text != "" {
		key = req.Text
	}

	v.mu.Lock()
	v.calls++
	resp, err, blocking := v.responses[key], v.errs[key], v.block[key]
	v.mu.Unlock()

	if blocking {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return resp, err
}

type fakeOCR struct {
	text  *extraction.OCRText
	err   error
	calls int
}

func (o *fakeOCR) Recognize(_ context.Context, _ []byte, _ string) (*extraction.OCRText, error) {
	o.calls++
	return o.text, o.err
}

func pdf(name string) []byte {
	return []byte("%PDF-1.7\n" + name)
}

// aportesJSON builds a model response with one entry per concept amount.
func aportesJSON(total string, concepts ...string) string {
	entries := make([]string, 0, len(concepts))
	for i, c := range concepts {
		entries = append(entries, fmt.Sprintf(
			`{"tax_id": "%s", "name": "PERSONA %d", "total_remunerative": 1000, "legajo_count": 1, "concept_amount": %s}`,
			taxID(i), i+1, c))
	}
	return fmt.Sprintf(`{"document_type": "APORTES", "entity": {"name": "HOSPITAL CENTRAL"}, "period": "03/2024",
  "entries": [%s], "totals": {"person_count": %d, "total_amount": %s}}`,
		strings.Join(entries, ","), len(concepts), total)
}

func taxID(i int) string {
	return fmt.Sprintf("20%08d9", i+1)
}

const transferJSON = `{"document_type": "TRANSFERENCIA",
  "transfer": {"operation_number": "987654", "timestamp": "05/03/2024 10:22", "amount": "22.852,54", "bank": "Banco Nación"},
  "beneficiary": {"name": "MUTUAL SALUD", "tax_id": "30-70000000-1"},
  "payer": {"name": "HOSPITAL CENTRAL", "tax_id": "30-71234567-8"}}`

// memStore is an in-memory repository.Store whose transactions stage writes and
// merge them only on commit.
type memStore struct {
	mu sync.Mutex

	periods   map[string]uuid.UUID
	members   map[string]uuid.UUID
	files     []repository.PdfFile
	lines     []repository.ContributionLine
	transfers []repository.BankTransfer

	// failLine fails the InsertContributionLine at that position for failFile.
	failFile string
	failLine int

	hashesErr error
	txCount   int
}

func newMemStore() *memStore {
	return &memStore{periods: map[string]uuid.UUID{}, members: map[string]uuid.UUID{}}
}

func periodKey(inst uuid.UUID, p model.Period) string {
	return inst.String() + "|" + p.String()
}

func (m *memStore) ExistingHashes(_ context.Context, inst uuid.UUID, period model.Period, hashes []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashesErr != nil {
		return nil, m.hashesErr
	}
	out := map[string]bool{}
	periodID, ok := m.periods[periodKey(inst, period)]
	if !ok {
		return out, nil
	}
	for _, h := range hashes {
		for _, f := range m.files {
			if f.InstitutionID == inst && f.PeriodID == periodID && f.ContentHash == h {
				out[h] = true
			}
		}
	}
	return out, nil
}

func (m *memStore) ListFiles(_ context.Context, inst uuid.UUID, period model.Period) ([]repository.PdfFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	periodID := m.periods[periodKey(inst, period)]
	var out []repository.PdfFile
	for _, f := range m.files {
		if f.InstitutionID == inst && f.PeriodID == periodID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	tx := &memTx{store: m, periods: map[string]uuid.UUID{}, members: map[string]uuid.UUID{}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for k, v := range tx.periods {
		m.periods[k] = v
	}
	for k, v := range tx.members {
		m.members[k] = v
	}
	m.files = append(m.files, tx.files...)
	m.lines = append(m.lines, tx.lines...)
	m.transfers = append(m.transfers, tx.transfers...)
	return nil
}

func (m *memStore) counts() (files, lines, members, transfers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files), len(m.lines), len(m.members), len(m.transfers)
}

func (m *memStore) hasMember(inst uuid.UUID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.members[inst.String()+"|"+id]
	return ok
}

type memTx struct {
	store       *memStore
	currentFile string

	periods   map[string]uuid.UUID
	members   map[string]uuid.UUID
	files     []repository.PdfFile
	lines     []repository.ContributionLine
	transfers []repository.BankTransfer
}

func (t *memTx) EnsurePeriod(_ context.Context, inst uuid.UUID, period model.Period) (uuid.UUID, error) {
	key := periodKey(inst, period)
	if id, ok := t.store.periods[key]; ok {
		return id, nil
	}
	if id, ok := t.periods[key]; ok {
		return id, nil
	}
	id := uuid.New()
	t.periods[key] = id
	return id, nil
}

func (t *memTx) ResolveMember(_ context.Context, inst uuid.UUID, taxID, _ string) (uuid.UUID, error) {
	key := inst.String() + "|" + taxID
	if id, ok := t.store.members[key]; ok {
		return id, nil
	}
	if id, ok := t.members[key]; ok {
		return id, nil
	}
	id := uuid.New()
	t.members[key] = id
	return id, nil
}

func (t *memTx) InsertPdfFile(_ context.Context, file *repository.PdfFile) error {
	for _, f := range append(append([]repository.PdfFile(nil), t.store.files...), t.files...) {
		if f.InstitutionID == file.InstitutionID && f.PeriodID == file.PeriodID && f.ContentHash == file.ContentHash {
			return fmt.Errorf("failed to insert pdf file: %w", repository.ErrDuplicateUpload)
		}
	}
	file.ID = uuid.New()
	t.currentFile = file.FileName
	t.files = append(t.files, *file)
	return nil
}

func (t *memTx) InsertContributionLine(_ context.Context, line *repository.ContributionLine) error {
	if t.currentFile == t.store.failFile && line.Position == t.store.failLine {
		return fmt.Errorf("failed to insert contribution line %d: %w", line.Position, errors.New("connection reset"))
	}
	line.ID = uuid.New()
	t.lines = append(t.lines, *line)
	return nil
}

func (t *memTx) InsertBankTransfer(_ context.Context, transfer *repository.BankTransfer) error {
	transfer.ID = uuid.New()
	t.transfers = append(t.transfers, *transfer)
	return nil
}

// memBlobs is a blobstore.Store with failure injection.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	puts    int
	onPut   func()
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.onPut != nil {
		b.onPut()
	}
	if b.putErr != nil {
		return b.putErr
	}
	if _, ok := b.objects[key]; ok {
		return blobstore.ErrAlreadyExists
	}
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return data, nil
}

func (b *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}
