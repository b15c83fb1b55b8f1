package errors

import (
	"errors"
	"fmt"
)

// Reason codes attached to a ResolutionFailure.
const (
	// ReasonInvalidIP means the address failed syntactic validation and was
	// never sent to the resolver service.
	ReasonInvalidIP = "INVALID_IP"
	// ReasonClientError means the resolver service rejected the address
	// with a non-retryable client error.
	ReasonClientError = "CLIENT_ERROR"
	// ReasonBadResponse means the resolver service answered with a body
	// that could not be decoded.
	ReasonBadResponse = "BAD_RESPONSE"
	// ReasonExhausted means every retry attempt failed transiently.
	ReasonExhausted = "RETRIES_EXHAUSTED"
)

// ResolutionFailure records why one IP address could not be resolved.
// It is an expected outcome, not a fatal condition: the affected orders
// simply remain unenriched and the failure is reported in the run summary.
type ResolutionFailure struct {
	IP     string
	Reason string
	Err    error
}

// Error implements the error interface.
func (f *ResolutionFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("resolution failed for %s (%s): %v", f.IP, f.Reason, f.Err)
	}
	return fmt.Sprintf("resolution failed for %s (%s)", f.IP, f.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (f *ResolutionFailure) Unwrap() error {
	return f.Err
}

// NewResolutionFailure builds a ResolutionFailure for the given address.
func NewResolutionFailure(ip, reason string, err error) *ResolutionFailure {
	return &ResolutionFailure{IP: ip, Reason: reason, Err: err}
}

// AsResolutionFailure extracts a ResolutionFailure from an error chain.
// Returns nil if the error is not a resolution failure.
func AsResolutionFailure(err error) *ResolutionFailure {
	var f *ResolutionFailure
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// LoadError reports a batch-level bulk load failure. Batches before Batch
// are durably committed; Batch and everything after it are unapplied.
// The loader never retries on its own: re-running the same load is safe
// because inserts skip natural-key conflicts.
type LoadError struct {
	Table string
	Batch int
	Err   error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("bulk load into %s failed at batch %d: %v", e.Table, e.Batch, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError builds a LoadError for the given table and batch index.
func NewLoadError(table string, batch int, err error) *LoadError {
	return &LoadError{Table: table, Batch: batch, Err: err}
}
