// Package model holds the canonical payroll document types shared by the parsing,
// extraction, reconciliation and persistence layers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Classification is the document class a file is filed under.
type Classification string

const (
	ClassificationAportes       Classification = "APORTES"
	ClassificationTransferencia Classification = "TRANSFERENCIA"
)

// Kind identifies the concrete ExtractionResult variant.
type Kind string

const (
	KindAportesListing       Kind = "APORTES_LISTING"
	KindTransferReceipt      Kind = "TRANSFER_RECEIPT"
	KindMultiTransferReceipt Kind = "MULTI_TRANSFER_RECEIPT"
)

// ExtractionResult is the closed set of document shapes an extraction can produce:
// *AportesListing, *TransferReceipt or *MultiTransferReceipt.
type ExtractionResult interface {
	Kind() Kind
	Classification() Classification
	isExtractionResult()
}

// Entity is the employer or institution named on a listing.
type Entity struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"taxId,omitempty"`
}

// PersonEntry is one row of a contribution listing.
type PersonEntry struct {
	TaxID             string          `json:"taxId,omitempty"`
	Name              string          `json:"name"`
	TotalRemunerative decimal.Decimal `json:"totalRemunerative"`
	LegajoCount       int             `json:"legajoCount"`
	ConceptAmount     decimal.Decimal `json:"conceptAmount"`
}

// Totals are the footer figures declared by a listing.
type Totals struct {
	PersonCount int             `json:"personCount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// AportesListing is a contribution listing for one period.
type AportesListing struct {
	Entity  Entity        `json:"entity"`
	Period  string        `json:"period"`
	Concept string        `json:"concept"`
	Entries []PersonEntry `json:"entries"`
	Totals  Totals        `json:"totals"`
}

func (*AportesListing) Kind() Kind                     { return KindAportesListing }
func (*AportesListing) Classification() Classification { return ClassificationAportes }
func (*AportesListing) isExtractionResult()            {}

// Transfer is the movement section of a bank receipt. Amount stays invalid when the
// declared figure could not be read; AmountRaw keeps what the document said.
type Transfer struct {
	Holder          string              `json:"holder,omitempty"`
	AccountID       string              `json:"accountId,omitempty"`
	OperationNumber string              `json:"operationNumber"`
	Timestamp       string              `json:"timestamp,omitempty"`
	PerformedAt     *time.Time          `json:"performedAt,omitempty"`
	Amount          decimal.NullDecimal `json:"amount"`
	AmountRaw       string              `json:"amountRaw,omitempty"`
	SourceAccount   string              `json:"sourceAccount,omitempty"`
	Bank            string              `json:"bank,omitempty"`
	OperationType   string              `json:"operationType,omitempty"`
	Reference       string              `json:"reference,omitempty"`
}

type Beneficiary struct {
	Name         string `json:"name"`
	TaxID        string `json:"taxId"`
	Address      string `json:"address,omitempty"`
	VATCondition string `json:"vatCondition,omitempty"`
}

type Payer struct {
	Name             string `json:"name"`
	Address          string `json:"address,omitempty"`
	TaxID            string `json:"taxId,omitempty"`
	GrossIncomeTaxID string `json:"grossIncomeTaxId,omitempty"`
}

// TransferReceipt is a single bank transfer receipt.
type TransferReceipt struct {
	Transfer    Transfer    `json:"transfer"`
	Beneficiary Beneficiary `json:"beneficiary"`
	Payer       Payer       `json:"payer"`
}

func (*TransferReceipt) Kind() Kind                     { return KindTransferReceipt }
func (*TransferReceipt) Classification() Classification { return ClassificationTransferencia }
func (*TransferReceipt) isExtractionResult()            {}

// MultiTransferReceipt is one receipt page listing several transfers, in page order.
type MultiTransferReceipt struct {
	Transfers []TransferReceipt `json:"transfers"`
}

func (*MultiTransferReceipt) Kind() Kind                     { return KindMultiTransferReceipt }
func (*MultiTransferReceipt) Classification() Classification { return ClassificationTransferencia }
func (*MultiTransferReceipt) isExtractionResult()            {}

// Listing is the output of the tabular parser: the entries of an aportes listing
// without entity or period metadata.
type Listing struct {
	Entries           []PersonEntry `json:"entries"`
	Totals            Totals        `json:"totals"`
	HeaderFingerprint string        `json:"headerFingerprint,omitempty"`
}

// AsAportes wraps the listing as an AportesListing with empty metadata.
func (l *Listing) AsAportes() *AportesListing {
	entries := make([]PersonEntry, len(l.Entries))
	copy(entries, l.Entries)
	return &AportesListing{
		Entries: entries,
		Totals:  l.Totals,
	}
}
