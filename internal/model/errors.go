package model

import (
	"context"
	"errors"
	"fmt"
)

// FailReason classifies the terminal failure of a per-source pipeline run.
type FailReason string

const (
	FailNetwork         FailReason = "network"
	FailExtraction      FailReason = "extraction"
	FailUnsupportedKind FailReason = "unsupported-kind"
	FailParsing         FailReason = "parsing"
	FailStorage         FailReason = "storage"
	FailInterrupted     FailReason = "interrupted"
)

// StageError carries the failure classification for one pipeline stage.
// Retryable errors (network timeouts, provider 5xx, rate limits) may be
// retried within the same attempt; the rest fail immediately.
type StageError struct {
	Reason    FailReason
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewNetworkError(err error) *StageError {
	return &StageError{Reason: FailNetwork, Retryable: true, Err: err}
}

func NewExtractionError(err error) *StageError {
	return &StageError{Reason: FailExtraction, Retryable: false, Err: err}
}

func NewUnsupportedKindError(kind ContentKind) *StageError {
	return &StageError{
		Reason: FailUnsupportedKind,
		Err:    fmt.Errorf("no extractor registered for content kind %q", kind),
	}
}

func NewParsingError(retryable bool, err error) *StageError {
	return &StageError{Reason: FailParsing, Retryable: retryable, Err: err}
}

func NewStorageError(err error) *StageError {
	return &StageError{Reason: FailStorage, Retryable: false, Err: err}
}

// ReasonOf extracts the failure classification from an error chain.
// Unclassified errors are reported as network failures since the fetch
// path is the only place raw errors can escape from.
func ReasonOf(err error) FailReason {
	var se *StageError
	if errors.As(err, &se) {
		return se.Reason
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailInterrupted
	}
	return FailNetwork
}

// IsRetryable reports whether the error may be retried within the same
// pipeline attempt.
func IsRetryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
