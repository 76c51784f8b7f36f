package model

import (
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("unknown document kind")

// Document is the wire envelope for an ExtractionResult: Kind plus the one populated variant.
type Document struct {
	Kind          Kind                  `json:"kind"`
	Aportes       *AportesListing       `json:"aportes,omitempty"`
	Transfer      *TransferReceipt      `json:"transfer,omitempty"`
	MultiTransfer *MultiTransferReceipt `json:"multiTransfer,omitempty"`
}

// Wrap places a result in its envelope.
func Wrap(r ExtractionResult) Document {
	switch v := r.(type) {
	case *AportesListing:
		return Document{Kind: KindAportesListing, Aportes: v}
	case *TransferReceipt:
		return Document{Kind: KindTransferReceipt, Transfer: v}
	case *MultiTransferReceipt:
		return Document{Kind: KindMultiTransferReceipt, MultiTransfer: v}
	}
	return Document{}
}

// Result returns the variant named by Kind.
func (d Document) Result() (ExtractionResult, error) {
	switch d.Kind {
	case KindAportesListing:
		if d.Aportes != nil {
			return d.Aportes, nil
		}
	case KindTransferReceipt:
		if d.Transfer != nil {
			return d.Transfer, nil
		}
	case KindMultiTransferReceipt:
		if d.MultiTransfer != nil {
			return d.MultiTransfer, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}
	return nil, fmt.Errorf("document of kind %s has no body", d.Kind)
}
