package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrExtraction matches every *Failure through errors.Is.
	ErrExtraction = errors.New("extraction failed")
	// ErrClientNotConfigured is returned when no vision client was wired.
	ErrClientNotConfigured = errors.New("vision client not configured")
	ErrEmptyResponse       = errors.New("empty response from model")
)

// FailureKind classifies why an extraction did not produce a result.
type FailureKind string

const (
	FailureTimeout           FailureKind = "TIMEOUT"
	FailureMalformedResponse FailureKind = "MALFORMED_RESPONSE"
	FailureUpstream          FailureKind = "UPSTREAM_ERROR"
)

// Failure is a file-level extraction error. The batch continues without the file.
type Failure struct {
	Kind     FailureKind
	FileName string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("extraction of %s failed (%s): %v", f.FileName, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool { return target == ErrExtraction }

// AsFailure unwraps err into a *Failure when it is one.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
