package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/taxid"
)

// CheckAportes validates a contribution listing on its own: declared totals against
// the entries, and each entry's identifier and amounts.
func CheckAportes(listing *model.AportesListing, tol Tolerance) []Discrepancy {
	var out []Discrepancy

	amounts := make([]decimal.Decimal, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		amounts = append(amounts, e.ConceptAmount)
	}
	sum := normalizer.Sum(amounts...)
	abs, pct := tol.For(len(listing.Entries))
	if !normalizer.WithinTolerance(sum, listing.Totals.TotalAmount, abs, pct) {
		diff := normalizer.Difference(sum, listing.Totals.TotalAmount)
		pctOff := normalizer.Round(normalizer.PercentOf(diff.Abs(), listing.Totals.TotalAmount), 4)
		out = append(out, warning(KindTotalsMismatch, "totals.totalAmount",
			"entries sum to %s but the listing declares %s (difference %s, %s%%)",
			normalizer.FormatAmount(sum), normalizer.FormatAmount(listing.Totals.TotalAmount),
			normalizer.FormatAmount(diff), pctOff.String()).withDifference(diff))
	}

	if listing.Totals.PersonCount != len(listing.Entries) {
		out = append(out, warning(KindPersonCountMismatch, "totals.personCount",
			"listing declares %d people but has %d entries", listing.Totals.PersonCount, len(listing.Entries)))
	}

	for i, e := range listing.Entries {
		subject := entrySubject(i)
		if e.ConceptAmount.IsNegative() {
			out = append(out, failure(KindNegativeAmount, subject,
				"concept amount %s is negative", normalizer.FormatAmount(e.ConceptAmount)))
		}
		if e.TotalRemunerative.IsNegative() {
			out = append(out, failure(KindNegativeAmount, subject,
				"total remunerative %s is negative", normalizer.FormatAmount(e.TotalRemunerative)))
		}
		if _, ok := taxid.Normalize(e.TaxID); !ok {
			out = append(out, failure(KindMissingField, subject, "entry has no CUIL/CUIT"))
		} else if _, ok := taxid.Format(e.TaxID); !ok {
			out = append(out, warning(KindUnformattableIdentifier, subject,
				"identifier %q does not have 11 digits", e.TaxID))
		}
	}
	return out
}

// CrossValidate compares an extracted listing with an independently parsed one,
// matching people by identifier first and by folded name second.
func CrossValidate(extracted *model.AportesListing, tabular *model.Listing, tol Tolerance) []Discrepancy {
	var out []Discrepancy

	used := make([]bool, len(tabular.Entries))
	byID := make(map[string][]int)
	byName := make(map[string][]int)
	for j, e := range tabular.Entries {
		if id, ok := taxid.Normalize(e.TaxID); ok {
			byID[id] = append(byID[id], j)
		}
		if name := taxid.NormalizeName(e.Name); name != "" {
			byName[name] = append(byName[name], j)
		}
	}

	take := func(candidates []int) int {
		for _, j := range candidates {
			if !used[j] {
				used[j] = true
				return j
			}
		}
		return -1
	}

	matches := make([]int, len(extracted.Entries))
	for i, e := range extracted.Entries {
		matches[i] = -1
		if id, ok := taxid.Normalize(e.TaxID); ok {
			matches[i] = take(byID[id])
		}
	}
	for i, e := range extracted.Entries {
		if matches[i] < 0 {
			if name := taxid.NormalizeName(e.Name); name != "" {
				matches[i] = take(byName[name])
			}
		}
	}

	abs, pct := tol.For(1)
	for i, e := range extracted.Entries {
		subject := entrySubject(i)
		j := matches[i]
		if j < 0 {
			out = append(out, warning(KindMissingInTabular, subject,
				"%s appears in the document but not in the tabular file", describe(e)))
			continue
		}
		t := tabular.Entries[j]
		if !normalizer.WithinTolerance(e.ConceptAmount, t.ConceptAmount, abs, pct) {
			diff := normalizer.Difference(e.ConceptAmount, t.ConceptAmount)
			out = append(out, warning(KindAmountMismatch, subject+".conceptAmount",
				"concept amount %s differs from tabular %s", normalizer.FormatAmount(e.ConceptAmount),
				normalizer.FormatAmount(t.ConceptAmount)).withDifference(diff))
		}
		if !normalizer.WithinTolerance(e.TotalRemunerative, t.TotalRemunerative, abs, pct) {
			diff := normalizer.Difference(e.TotalRemunerative, t.TotalRemunerative)
			out = append(out, warning(KindAmountMismatch, subject+".totalRemunerative",
				"total remunerative %s differs from tabular %s", normalizer.FormatAmount(e.TotalRemunerative),
				normalizer.FormatAmount(t.TotalRemunerative)).withDifference(diff))
		}
	}

	for j, t := range tabular.Entries {
		if !used[j] {
			out = append(out, warning(KindMissingInExtraction, fmt.Sprintf("tabular entry %d", j+1),
				"%s appears in the tabular file but not in the document", describe(t)))
		}
	}
	return out
}

// CheckTransfer validates the required monetary and identifier fields of a receipt.
// prefix distinguishes transfers on a multi-transfer page.
func CheckTransfer(r model.TransferReceipt, prefix string) []Discrepancy {
	var out []Discrepancy
	t := r.Transfer

	switch {
	case t.Amount.Valid && t.Amount.Decimal.IsNegative():
		out = append(out, failure(KindNegativeAmount, prefix+"transfer.amount",
			"transfer amount %s is negative", normalizer.FormatAmount(t.Amount.Decimal)))
	case t.Amount.Valid:
	case t.AmountRaw != "":
		out = append(out, failure(KindInvalidAmount, prefix+"transfer.amount",
			"transfer amount %q could not be read", t.AmountRaw))
	default:
		out = append(out, failure(KindMissingField, prefix+"transfer.amount", "transfer amount is missing"))
	}

	if t.OperationNumber == "" {
		out = append(out, failure(KindMissingField, prefix+"transfer.operationNumber", "operation number is missing"))
	}

	if _, ok := taxid.Normalize(r.Beneficiary.TaxID); !ok {
		out = append(out, failure(KindMissingField, prefix+"beneficiary.taxId", "beneficiary CUIT is missing"))
	} else if _, ok := taxid.Format(r.Beneficiary.TaxID); !ok {
		out = append(out, warning(KindUnformattableIdentifier, prefix+"beneficiary.taxId",
			"beneficiary identifier %q does not have 11 digits", r.Beneficiary.TaxID))
	}
	return out
}

// CheckPeriod compares the period printed on a listing with the target period.
// Tokens that cannot be read are not reported.
func CheckPeriod(token string, target model.Period) []Discrepancy {
	if token == "" {
		return nil
	}
	printed, err := model.ParsePeriod(token)
	if err != nil {
		return nil
	}
	mismatch := printed.Category != target.Category
	if printed.Year != 0 && (printed.Year != target.Year || printed.Month != target.Month) {
		mismatch = true
	}
	if !mismatch {
		return nil
	}
	return []Discrepancy{warning(KindPeriodMismatch, "period",
		"document period %s does not match target period %s", printed, target)}
}

func entrySubject(i int) string {
	return fmt.Sprintf("entry %d", i+1)
}

func describe(e model.PersonEntry) string {
	if formatted, ok := taxid.Format(e.TaxID); ok {
		return fmt.Sprintf("%s (%s)", e.Name, formatted)
	}
	if e.Name != "" {
		return e.Name
	}
	return e.TaxID
}
