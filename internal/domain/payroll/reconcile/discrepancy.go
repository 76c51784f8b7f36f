package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Severity of a finding. Errors are surfaced to the reviewer; only duplicates block
// confirmation.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type DiscrepancyKind string

const (
	KindTotalsMismatch          DiscrepancyKind = "TOTALS_MISMATCH"
	KindPersonCountMismatch     DiscrepancyKind = "PERSON_COUNT_MISMATCH"
	KindMissingInTabular        DiscrepancyKind = "MISSING_IN_TABULAR"
	KindMissingInExtraction     DiscrepancyKind = "MISSING_IN_EXTRACTION"
	KindAmountMismatch          DiscrepancyKind = "AMOUNT_MISMATCH"
	KindMissingField            DiscrepancyKind = "MISSING_FIELD"
	KindInvalidAmount           DiscrepancyKind = "INVALID_AMOUNT"
	KindNegativeAmount          DiscrepancyKind = "NEGATIVE_AMOUNT"
	KindUnformattableIdentifier DiscrepancyKind = "UNFORMATTABLE_IDENTIFIER"
	KindPeriodMismatch          DiscrepancyKind = "PERIOD_MISMATCH"
	KindDuplicateUpload         DiscrepancyKind = "DUPLICATE_UPLOAD"
	KindDuplicateInBatch        DiscrepancyKind = "DUPLICATE_IN_BATCH"
)

// Discrepancy is a structured finding attached to a file preview.
type Discrepancy struct {
	Kind     DiscrepancyKind `json:"kind"`
	Severity Severity        `json:"severity"`
	Message  string          `json:"message"`
	// Subject names the entry or field the finding is about, e.g. "entry 3" or "transfer.amount".
	Subject    string           `json:"subject,omitempty"`
	Difference *decimal.Decimal `json:"difference,omitempty"`
}

// Blocking reports whether the finding prevents the file from being saved.
func (d Discrepancy) Blocking() bool {
	return d.Kind == KindDuplicateUpload || d.Kind == KindDuplicateInBatch
}

func warning(kind DiscrepancyKind, subject, format string, args ...any) Discrepancy {
	return Discrepancy{Kind: kind, Severity: SeverityWarning, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

func failure(kind DiscrepancyKind, subject, format string, args ...any) Discrepancy {
	return Discrepancy{Kind: kind, Severity: SeverityError, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

func (d Discrepancy) withDifference(diff decimal.Decimal) Discrepancy {
	d.Difference = &diff
	return d
}

// Tolerance is the combined absolute and relative threshold for treating two
// amounts as equal. Absolute tolerance for n entries is PerEntry*n + Absolute.
type Tolerance struct {
	PerEntry decimal.Decimal
	Absolute decimal.Decimal
	// Percent is a percentage of the larger amount, e.g. 0.01 for one basis point.
	Percent decimal.Decimal
}

// DefaultTolerance allows one cent per entry plus 0.0001% of the amount.
func DefaultTolerance() Tolerance {
	return Tolerance{
		PerEntry: decimal.New(1, -2),
		Percent:  decimal.New(1, -4),
	}
}

// For returns the absolute and percent tolerance for a figure made of n entries.
func (t Tolerance) For(n int) (abs, pct decimal.Decimal) {
	return t.PerEntry.Mul(decimal.NewFromInt(int64(n))).Add(t.Absolute), t.Percent
}
