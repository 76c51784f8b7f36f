package service

import (
	"context"
	"fmt"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/reconcile"
)

// ConfirmRequest carries the reviewer's decision for a preview session. Edits
// replace previewed documents by content hash; Exclude drops files from the save.
type ConfirmRequest struct {
	Token   string                    `json:"-"`
	Edits   map[string]model.Document `json:"edits,omitempty"`
	Exclude []string                  `json:"exclude,omitempty"`
}

// Confirm saves a cached preview session. The token is consumed, so a session
// can be confirmed once. Files blocked as duplicates are reported without a
// save attempt.
func (s *PayrollService) Confirm(ctx context.Context, req ConfirmRequest) (*BatchSaveResult, error) {
	session, err := s.sessions.Get(req.Token)
	if err != nil {
		return nil, err
	}

	edited, err := applyEdits(session, req.Edits)
	if err != nil {
		return nil, err
	}

	session, staged, err := s.sessions.Take(req.Token)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(req.Exclude))
	for _, h := range req.Exclude {
		excluded[h] = true
	}

	var (
		batch   = ConfirmedBatch{Scope: session.Scope}
		blocked []FileSaveResult
		order   []string
	)
	for _, preview := range session.Files {
		if excluded[preview.ContentHash] {
			continue
		}
		order = append(order, preview.ContentHash+"\x00"+preview.FileName)
		if preview.Blocked() {
			blocked = append(blocked, FileSaveResult{
				FileName:    preview.FileName,
				ContentHash: preview.ContentHash,
				Outcome:     OutcomeDuplicate,
				Error:       "blocked at preview as a duplicate",
			})
			continue
		}

		result, ok := edited[preview.ContentHash]
		if !ok {
			if result, err = preview.Document.Result(); err != nil {
				return nil, fmt.Errorf("session file %s: %w", preview.FileName, err)
			}
		} else {
			for _, d := range s.reconciler.Check(session.Scope, result) {
				s.logger.DebugContext(ctx, "edited document finding",
					"file_name", preview.FileName, "kind", d.Kind, "severity", d.Severity, "message", d.Message)
			}
		}

		file := staged[preview.ContentHash]
		batch.Files = append(batch.Files, ConfirmedFile{
			FileName:    preview.FileName,
			ContentHash: preview.ContentHash,
			MIMEType:    file.MIMEType,
			Data:        file.Data,
			Result:      result,
		})
	}

	if len(order) == 0 {
		return nil, ErrNothingConfirmed
	}

	var saved *BatchSaveResult
	if len(batch.Files) > 0 {
		saved, err = s.SaveBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
	} else {
		saved = &BatchSaveResult{}
	}

	// Report in session order with blocked files in place.
	byKey := make(map[string]FileSaveResult, len(order))
	for _, f := range append(saved.Files, blocked...) {
		byKey[f.ContentHash+"\x00"+f.FileName] = f
	}
	merged := make([]FileSaveResult, 0, len(order))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}
	return &BatchSaveResult{Status: batchStatus(merged), Files: merged}, nil
}

// applyEdits decodes edited documents and checks they belong to the session and
// keep the previewed classification.
func applyEdits(session *reconcile.Session, edits map[string]model.Document) (map[string]model.ExtractionResult, error) {
	out := make(map[string]model.ExtractionResult, len(edits))
	for hash, doc := range edits {
		preview, ok := session.File(hash)
		if !ok {
			return nil, fmt.Errorf("%w: no file with hash %s", ErrContentMismatch, hash)
		}
		result, err := doc.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, preview.FileName, err)
		}
		if result.Classification() != preview.Classification {
			return nil, fmt.Errorf("%w: %s was previewed as %s, edit is %s",
				ErrContentMismatch, preview.FileName, preview.Classification, result.Classification())
		}
		out[hash] = result
	}
	return out, nil
}
