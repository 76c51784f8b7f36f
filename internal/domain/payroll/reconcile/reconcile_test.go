package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
)

type fakeHashes struct {
	existing map[string]bool
	err      error
	calls    int
}

func (f *fakeHashes) ExistingHashes(_ context.Context, _ uuid.UUID, _ model.Period, hashes []string) (map[string]bool, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool)
	for _, h := range hashes {
		if f.existing[h] {
			out[h] = true
		}
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testScope = Scope{
	InstitutionID: uuid.MustParse("6f1c2a4e-8d0b-4c9a-9e57-3b2f1d0c7a11"),
	Period:        model.Period{Year: 2024, Month: 3, Category: model.CategoryRegular},
}

func entry(id, name, concept string) model.PersonEntry {
	return model.PersonEntry{TaxID: id, Name: name, TotalRemunerative: dec("1000"), LegajoCount: 1, ConceptAmount: dec(concept)}
}

func listing(total string, entries ...model.PersonEntry) *model.AportesListing {
	return &model.AportesListing{
		Period:  "03/2024",
		Entries: entries,
		Totals:  model.Totals{PersonCount: len(entries), TotalAmount: dec(total)},
	}
}

func kinds(ds []Discrepancy) []DiscrepancyKind {
	out := make([]DiscrepancyKind, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Kind)
	}
	return out
}

func TestReconcile_TotalsMismatchIsSingleWarning(t *testing.T) {
	r := New(&fakeHashes{}, Tolerance{Absolute: dec("0.01")}, nil)
	doc := listing("100.00",
		entry("20123456789", "CABRERA SILVIO VICTOR", "60.01"),
		entry("27987654321", "PEREZ ANA", "40.01"),
	)

	session, err := r.Reconcile(context.Background(), testScope, []Input{
		{FileName: "aportes.pdf", ContentHash: "h1", Result: doc},
	})
	require.NoError(t, err)
	require.Len(t, session.Files, 1)

	ds := session.Files[0].Discrepancies
	require.Len(t, ds, 1)
	assert.Equal(t, KindTotalsMismatch, ds[0].Kind)
	assert.Equal(t, SeverityWarning, ds[0].Severity)
	require.NotNil(t, ds[0].Difference)
	assert.True(t, ds[0].Difference.Equal(dec("0.02")), "difference = %s", ds[0].Difference)
	assert.True(t, session.Confirmable())
	assert.Equal(t, model.ClassificationAportes, session.Files[0].Classification)
}

func TestReconcile_DefaultToleranceAbsorbsRounding(t *testing.T) {
	r := New(nil, DefaultTolerance(), nil)
	doc := listing("100.00",
		entry("20123456789", "A", "50.01"),
		entry("27987654321", "B", "50.01"),
	)

	session, err := r.Reconcile(context.Background(), testScope, []Input{{FileName: "a.pdf", ContentHash: "h", Result: doc}})
	require.NoError(t, err)
	assert.Empty(t, session.Files[0].Discrepancies)
}

func TestReconcile_SignedDifference(t *testing.T) {
	ds := CheckAportes(listing("100.00", entry("20123456789", "A", "99.50")), Tolerance{})
	require.Len(t, ds, 1)
	assert.True(t, ds[0].Difference.Equal(dec("-0.50")))
}

func TestCheckAportes_EntryFindings(t *testing.T) {
	doc := listing("0",
		entry("", "SIN CUIL", "10"),
		entry("12345", "CORTO", "10"),
		entry("20123456789", "NEGATIVO", "-20"),
	)
	doc.Totals.PersonCount = 4

	ds := CheckAportes(doc, DefaultTolerance())

	assert.ElementsMatch(t, []DiscrepancyKind{
		KindPersonCountMismatch,
		KindMissingField,
		KindUnformattableIdentifier,
		KindNegativeAmount,
	}, kinds(ds))

	for _, d := range ds {
		switch d.Kind {
		case KindMissingField, KindNegativeAmount:
			assert.Equal(t, SeverityError, d.Severity, d.Kind)
		default:
			assert.Equal(t, SeverityWarning, d.Severity, d.Kind)
		}
	}
}

func TestCrossValidate(t *testing.T) {
	extracted := listing("0",
		entry("20-12345678-9", "CABRERA SILVIO VICTOR", "100.00"),
		entry("", "Muñoz José", "50.00"),
		entry("20111111112", "SOLO EN PDF", "10.00"),
	)
	tabular := &model.Listing{Entries: []model.PersonEntry{
		entry("20123456789", "CABRERA S. V.", "100.50"),
		entry("", "MUNOZ  JOSE", "50.00"),
		entry("27999999991", "SOLO EN PLANILLA", "5.00"),
	}}

	ds := CrossValidate(extracted, tabular, DefaultTolerance())

	assert.ElementsMatch(t, []DiscrepancyKind{
		KindAmountMismatch,
		KindMissingInTabular,
		KindMissingInExtraction,
	}, kinds(ds))

	for _, d := range ds {
		assert.Equal(t, SeverityWarning, d.Severity)
		if d.Kind == KindAmountMismatch {
			assert.Equal(t, "entry 1.conceptAmount", d.Subject)
			assert.True(t, d.Difference.Equal(dec("-0.50")))
		}
	}
}

func TestReconcile_CrossValidationOnlyWithTabular(t *testing.T) {
	doc := listing("100.00", entry("20123456789", "A", "100.00"))
	tab := &model.Listing{
		Entries: []model.PersonEntry{entry("20123456789", "A", "90.00")},
		Totals:  model.Totals{PersonCount: 1, TotalAmount: dec("90.00")},
	}

	r := New(nil, DefaultTolerance(), nil)
	session, err := r.Reconcile(context.Background(), testScope, []Input{
		{FileName: "a.pdf", ContentHash: "h1", Result: doc, Tabular: tab},
		{FileName: "b.csv", ContentHash: "h2", Tabular: tab},
	})
	require.NoError(t, err)

	assert.Equal(t, []DiscrepancyKind{KindAmountMismatch}, kinds(session.Files[0].Discrepancies))
	assert.Empty(t, session.Files[1].Discrepancies)
	assert.Equal(t, model.KindAportesListing, session.Files[1].Document.Kind)
}

func TestCheckTransfer(t *testing.T) {
	valid := model.TransferReceipt{
		Transfer:    model.Transfer{OperationNumber: "987", Amount: decimal.NewNullDecimal(dec("22852.54"))},
		Beneficiary: model.Beneficiary{Name: "MUTUAL", TaxID: "30700000001"},
	}
	assert.Empty(t, CheckTransfer(valid, ""))

	unreadable := valid
	unreadable.Transfer.Amount = decimal.NullDecimal{}
	unreadable.Transfer.AmountRaw = "ilegible"
	assert.Equal(t, []DiscrepancyKind{KindInvalidAmount}, kinds(CheckTransfer(unreadable, "")))

	missing := model.TransferReceipt{}
	ds := CheckTransfer(missing, "transfers[1].")
	assert.Len(t, ds, 3)
	for _, d := range ds {
		assert.Equal(t, KindMissingField, d.Kind)
		assert.Equal(t, SeverityError, d.Severity)
		assert.Contains(t, d.Subject, "transfers[1].")
	}

	short := valid
	short.Beneficiary.TaxID = "3070"
	assert.Equal(t, []DiscrepancyKind{KindUnformattableIdentifier}, kinds(CheckTransfer(short, "")))
}

func TestCheckPeriod(t *testing.T) {
	target := testScope.Period

	assert.Empty(t, CheckPeriod("03/2024", target))
	assert.Empty(t, CheckPeriod("MARZO 2024", target))
	assert.Empty(t, CheckPeriod("", target))
	assert.Empty(t, CheckPeriod("not a period", target))
	assert.Equal(t, []DiscrepancyKind{KindPeriodMismatch}, kinds(CheckPeriod("04/2024", target)))
	assert.Equal(t, []DiscrepancyKind{KindPeriodMismatch}, kinds(CheckPeriod("FOPID", target)))

	fopid := model.Period{Year: 2024, Month: 3, Category: model.CategoryFOPID}
	assert.Empty(t, CheckPeriod("FOPID", fopid))
}

func TestReconcile_DuplicatesBlockConfirmation(t *testing.T) {
	hashes := &fakeHashes{existing: map[string]bool{"stored": true}}
	r := New(hashes, DefaultTolerance(), nil)
	doc := listing("10", entry("20123456789", "A", "10"))

	session, err := r.Reconcile(context.Background(), testScope, []Input{
		{FileName: "a.pdf", ContentHash: "stored", Result: doc},
		{FileName: "b.pdf", ContentHash: "fresh", Result: doc},
		{FileName: "b-copy.pdf", ContentHash: "fresh", Result: doc},
	})
	require.NoError(t, err)
	require.Len(t, session.Files, 3)
	assert.Equal(t, 1, hashes.calls)

	assert.Equal(t, []DiscrepancyKind{KindDuplicateUpload}, kinds(session.Files[0].Discrepancies))
	assert.True(t, session.Files[0].Blocked())
	assert.False(t, session.Files[1].Blocked())
	assert.Equal(t, []DiscrepancyKind{KindDuplicateInBatch}, kinds(session.Files[2].Discrepancies))
	assert.True(t, session.Files[2].Blocked())
	assert.False(t, session.Confirmable())

	f, ok := session.File("fresh")
	require.True(t, ok)
	assert.Equal(t, "b.pdf", f.FileName)
}

func TestReconcile_HashLookupFailure(t *testing.T) {
	lookupErr := errors.New("connection refused")
	r := New(&fakeHashes{err: lookupErr}, DefaultTolerance(), nil)

	_, err := r.Reconcile(context.Background(), testScope, []Input{
		{FileName: "a.pdf", ContentHash: "h", Result: listing("0")},
	})
	assert.ErrorIs(t, err, lookupErr)
}

func TestReconcile_MultiTransfer(t *testing.T) {
	multi := &model.MultiTransferReceipt{Transfers: []model.TransferReceipt{
		{Transfer: model.Transfer{OperationNumber: "1", Amount: decimal.NewNullDecimal(dec("10"))}, Beneficiary: model.Beneficiary{TaxID: "30700000001"}},
		{Transfer: model.Transfer{OperationNumber: "2"}, Beneficiary: model.Beneficiary{TaxID: "30700000001"}},
	}}

	r := New(nil, DefaultTolerance(), nil)
	session, err := r.Reconcile(context.Background(), testScope, []Input{{FileName: "m.pdf", ContentHash: "h", Result: multi}})
	require.NoError(t, err)

	ds := session.Files[0].Discrepancies
	require.Len(t, ds, 1)
	assert.Equal(t, "transfers[1].transfer.amount", ds[0].Subject)
	assert.True(t, session.Files[0].HasErrors())
	assert.True(t, session.Confirmable())
}

func TestReconcile_RejectsEmptyInput(t *testing.T) {
	r := New(nil, DefaultTolerance(), nil)
	_, err := r.Reconcile(context.Background(), testScope, []Input{{FileName: "x", ContentHash: "h"}})
	assert.ErrorIs(t, err, ErrNoResult)
}
