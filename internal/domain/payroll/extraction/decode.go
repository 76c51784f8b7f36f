package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/taxid"
)

// Raw document_type values returned by the model.
const (
	rawTypeAportes       = "APORTES"
	rawTypeTransfer      = "TRANSFERENCIA"
	rawTypeMultiTransfer = "MULTI_TRANSFERENCIA"
)

// rawValue holds a JSON scalar that may arrive as a number, a string or null.
type rawValue struct {
	text    string
	number  bool
	present bool
}

func (v *rawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = rawValue{}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		*v = rawValue{text: s, present: s != ""}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected number or string, got %s", data)
		}
		*v = rawValue{text: n.String(), number: true, present: true}
	}
	return nil
}

func (v rawValue) amount(locale normalizer.Locale) (decimal.Decimal, error) {
	if !v.present {
		return decimal.Zero, errors.New("missing")
	}
	if v.number {
		return decimal.NewFromString(v.text)
	}
	return normalizer.ParseAmount(v.text, locale)
}

func (v rawValue) count() (int, error) {
	if !v.present {
		return 0, errors.New("missing")
	}
	d, err := v.amount(normalizer.LocaleAuto)
	if err != nil || !d.IsInteger() || d.IsNegative() {
		return 0, fmt.Errorf("invalid count %q", v.text)
	}
	return int(d.IntPart()), nil
}

type rawEnvelope struct {
	DocumentType string          `json:"document_type"`
	Entity       *rawEntity      `json:"entity"`
	Period       rawValue        `json:"period"`
	Concept      string          `json:"concept"`
	Entries      []rawEntry      `json:"entries"`
	Totals       *rawTotals      `json:"totals"`
	Transfer     *rawTransfer    `json:"transfer"`
	Beneficiary  *rawBeneficiary `json:"beneficiary"`
	Payer        *rawPayer       `json:"payer"`
	Transfers    []rawReceipt    `json:"transfers"`
}

type rawEntity struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	TaxID   string `json:"tax_id"`
}

type rawEntry struct {
	TaxID             rawValue `json:"tax_id"`
	Name              string   `json:"name"`
	TotalRemunerative rawValue `json:"total_remunerative"`
	LegajoCount       rawValue `json:"legajo_count"`
	ConceptAmount     rawValue `json:"concept_amount"`
}

type rawTotals struct {
	PersonCount rawValue `json:"person_count"`
	TotalAmount rawValue `json:"total_amount"`
}

type rawTransfer struct {
	Holder          string   `json:"holder"`
	AccountID       rawValue `json:"account_id"`
	OperationNumber rawValue `json:"operation_number"`
	Timestamp       string   `json:"timestamp"`
	Amount          rawValue `json:"amount"`
	SourceAccount   rawValue `json:"source_account"`
	Bank            string   `json:"bank"`
	OperationType   string   `json:"operation_type"`
	Reference       string   `json:"reference"`
}

type rawBeneficiary struct {
	Name         string   `json:"name"`
	TaxID        rawValue `json:"tax_id"`
	Address      string   `json:"address"`
	VATCondition string   `json:"vat_condition"`
}

type rawPayer struct {
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	TaxID            rawValue `json:"tax_id"`
	GrossIncomeTaxID rawValue `json:"gross_income_tax_id"`
}

type rawReceipt struct {
	Transfer    *rawTransfer    `json:"transfer"`
	Beneficiary *rawBeneficiary `json:"beneficiary"`
	Payer       *rawPayer       `json:"payer"`
}

// decoder maps raw model output to the canonical result variants.
type decoder struct {
	locale   normalizer.Locale
	location *time.Location
}

func (d decoder) decode(raw string) (model.ExtractionResult, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, ErrEmptyResponse
	}

	var env rawEnvelope
	if err := json.Unmarshal([]byte(clean), &env); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}

	switch inferType(env) {
	case rawTypeAportes:
		return d.aportes(env)
	case rawTypeTransfer:
		if env.Transfer == nil {
			return nil, errors.New("transfer: missing transfer section")
		}
		receipt := d.receipt(rawReceipt{Transfer: env.Transfer, Beneficiary: env.Beneficiary, Payer: env.Payer})
		return &receipt, nil
	case rawTypeMultiTransfer:
		return d.multiTransfer(env)
	}
	return nil, fmt.Errorf("unrecognized document_type %q", env.DocumentType)
}

// inferType trusts document_type and falls back to the shape of the payload.
func inferType(env rawEnvelope) string {
	if t := strings.ToUpper(strings.TrimSpace(env.DocumentType)); t != "" {
		return t
	}
	switch {
	case len(env.Entries) > 0:
		return rawTypeAportes
	case len(env.Transfers) > 0:
		return rawTypeMultiTransfer
	case env.Transfer != nil:
		return rawTypeTransfer
	}
	return ""
}

func (d decoder) aportes(env rawEnvelope) (*model.AportesListing, error) {
	if len(env.Entries) == 0 {
		return nil, errors.New("aportes: no entries")
	}
	if env.Totals == nil {
		return nil, errors.New("aportes: missing totals")
	}

	listing := &model.AportesListing{
		Period:  env.Period.text,
		Concept: normalizer.CleanText(env.Concept),
		Entries: make([]model.PersonEntry, 0, len(env.Entries)),
	}
	if env.Entity != nil {
		listing.Entity = model.Entity{
			Name:    normalizer.CleanText(env.Entity.Name),
			Address: normalizer.CleanText(env.Entity.Address),
			TaxID:   digitsOrEmpty(env.Entity.TaxID),
		}
	}

	for i, e := range env.Entries {
		entry := model.PersonEntry{
			TaxID: digitsOrEmpty(e.TaxID.text),
			Name:  normalizer.CleanText(e.Name),
		}
		if entry.Name == "" {
			return nil, fmt.Errorf("aportes: entry %d: missing name", i+1)
		}

		var err error
		if entry.ConceptAmount, err = e.ConceptAmount.amount(d.locale); err != nil {
			return nil, fmt.Errorf("aportes: entry %d: concept_amount: %w", i+1, err)
		}
		if entry.TotalRemunerative, err = e.TotalRemunerative.amount(d.locale); err != nil {
			return nil, fmt.Errorf("aportes: entry %d: total_remunerative: %w", i+1, err)
		}
		if e.LegajoCount.present {
			if entry.LegajoCount, err = e.LegajoCount.count(); err != nil {
				return nil, fmt.Errorf("aportes: entry %d: legajo_count: %w", i+1, err)
			}
		}
		listing.Entries = append(listing.Entries, entry)
	}

	total, err := env.Totals.TotalAmount.amount(d.locale)
	if err != nil {
		return nil, fmt.Errorf("aportes: totals.total_amount: %w", err)
	}
	count, err := env.Totals.PersonCount.count()
	if err != nil {
		return nil, fmt.Errorf("aportes: totals.person_count: %w", err)
	}
	listing.Totals = model.Totals{PersonCount: count, TotalAmount: total}

	return listing, nil
}

func (d decoder) multiTransfer(env rawEnvelope) (*model.MultiTransferReceipt, error) {
	if len(env.Transfers) == 0 {
		return nil, errors.New("multi transfer: no transfers")
	}
	multi := &model.MultiTransferReceipt{Transfers: make([]model.TransferReceipt, 0, len(env.Transfers))}
	for i, r := range env.Transfers {
		if r.Transfer == nil {
			return nil, fmt.Errorf("multi transfer: item %d: missing transfer section", i+1)
		}
		multi.Transfers = append(multi.Transfers, d.receipt(r))
	}
	return multi, nil
}

// receipt maps one transfer. Field presence is left to the reconciler; an amount
// that does not parse stays invalid with its raw text kept.
func (d decoder) receipt(r rawReceipt) model.TransferReceipt {
	t := r.Transfer
	receipt := model.TransferReceipt{
		Transfer: model.Transfer{
			Holder:          normalizer.CleanText(t.Holder),
			AccountID:       t.AccountID.text,
			OperationNumber: t.OperationNumber.text,
			Timestamp:       strings.TrimSpace(t.Timestamp),
			AmountRaw:       t.Amount.text,
			SourceAccount:   t.SourceAccount.text,
			Bank:            normalizer.CleanText(t.Bank),
			OperationType:   normalizer.CleanText(t.OperationType),
			Reference:       normalizer.CleanText(t.Reference),
		},
	}

	if amount, err := t.Amount.amount(d.locale); err == nil {
		receipt.Transfer.Amount = decimal.NewNullDecimal(amount)
	}
	if ts, err := normalizer.ParseFlexibleDate(t.Timestamp, "", d.location); err == nil {
		receipt.Transfer.PerformedAt = &ts
	}

	if b := r.Beneficiary; b != nil {
		receipt.Beneficiary = model.Beneficiary{
			Name:         normalizer.CleanText(b.Name),
			TaxID:        digitsOrEmpty(b.TaxID.text),
			Address:      normalizer.CleanText(b.Address),
			VATCondition: normalizer.CleanText(b.VATCondition),
		}
	}
	if p := r.Payer; p != nil {
		receipt.Payer = model.Payer{
			Name:             normalizer.CleanText(p.Name),
			Address:          normalizer.CleanText(p.Address),
			TaxID:            digitsOrEmpty(p.TaxID.text),
			GrossIncomeTaxID: p.GrossIncomeTaxID.text,
		}
	}
	return receipt
}

func digitsOrEmpty(id string) string {
	digits, _ := taxid.Normalize(id)
	return digits
}

// cleanModelJSON strips Markdown fences and any text around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
