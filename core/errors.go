package core

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Category classifies every error the core returns.
type Category uint8

const (
	// CategoryMalformed covers decoding failure, hash mismatch, bad
	// signature, and out-of-range amounts. Rejected immediately, never
	// retried.
	CategoryMalformed Category = iota
	// CategoryReplay covers a nonce already used for this sender.
	// Rejected and logged but not counted as peer misbehavior, since
	// client clock skew is common.
	CategoryReplay
	// CategoryInsufficient covers balance or fee below requirement.
	CategoryInsufficient
	// CategoryStaleFuture covers a timestamp outside the acceptance
	// window.
	CategoryStaleFuture
	// CategoryConflict covers a competing block at the same height.
	CategoryConflict
	// CategoryTransientIO covers a Store or Network error. Nothing in the
	// core retries it.
	CategoryTransientIO
	// CategoryFatal covers an invariant violation. The driver logs it like
	// any other error and keeps running.
	CategoryFatal
)

func (c Category) String() string {
	switch c {
	case CategoryMalformed:
		return "malformed"
	case CategoryReplay:
		return "replay"
	case CategoryInsufficient:
		return "insufficient"
	case CategoryStaleFuture:
		return "stale_future"
	case CategoryConflict:
		return "conflict"
	case CategoryTransientIO:
		return "transient_io"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CoreError is the typed error every core operation returns, carrying a
// Category so callers can branch on handling policy (retry, score peer,
// surface to client) without string matching.
type CoreError struct {
	Category Category
	Reason   string
	Err      error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Reason)
}

func (e *CoreError) Unwrap() error { return e.Err }

// NewError constructs a CoreError in the given category.
func NewError(cat Category, reason string) *CoreError {
	return &CoreError{Category: cat, Reason: reason}
}

// WrapError constructs a CoreError wrapping an underlying error.
func WrapError(cat Category, reason string, err error) *CoreError {
	return &CoreError{Category: cat, Reason: reason, Err: err}
}

// AsCoreError extracts a *CoreError from err, if any is present in its chain.
func AsCoreError(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CategoryOf returns the Category of err if it (or something it wraps) is a
// *CoreError, and CategoryFatal otherwise — an unclassified error is treated
// as the most conservative case.
func CategoryOf(err error) Category {
	if ce, ok := AsCoreError(err); ok {
		return ce.Category
	}
	return CategoryFatal
}

// RejectReason enumerates the specific reasons the Mempool can refuse to
// admit a transaction.
type RejectReason uint8

const (
	ReasonMalformedHash RejectReason = iota
	ReasonBadSignature
	ReasonReplayedNonce
	ReasonStaleTimestamp
	ReasonFutureTimestamp
	ReasonInsufficientBalance
	ReasonInsufficientFee
	ReasonDuplicateInMempool
	ReasonSenderPendingCap
)

func (r RejectReason) String() string {
	switch r {
	case ReasonMalformedHash:
		return "MalformedHash"
	case ReasonBadSignature:
		return "BadSignature"
	case ReasonReplayedNonce:
		return "ReplayedNonce"
	case ReasonStaleTimestamp:
		return "StaleTimestamp"
	case ReasonFutureTimestamp:
		return "FutureTimestamp"
	case ReasonInsufficientBalance:
		return "InsufficientBalance"
	case ReasonInsufficientFee:
		return "InsufficientFee"
	case ReasonDuplicateInMempool:
		return "DuplicateInMempool"
	case ReasonSenderPendingCap:
		return "SenderPendingCap"
	default:
		return "Unknown"
	}
}

// AdmissionError is returned by Mempool.Admit on rejection, pairing the
// reason code with a human-readable description for the client-facing
// response.
type AdmissionError struct {
	Reason      RejectReason
	Description string
}

func (e *AdmissionError) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Description) }

func rejectf(reason RejectReason, format string, args ...interface{}) *AdmissionError {
	return &AdmissionError{Reason: reason, Description: fmt.Sprintf(format, args...)}
}

// CombineErrors aggregates multiple validation failures into one error via
// multierr, so a block with several structural violations reports all of
// them rather than only the first.
func CombineErrors(errs ...error) error {
	return multierr.Combine(errs...)
}

var (
	// ErrNotFound is the not-found sentinel returned by Store and State
	// Machine lookups over unknown keys/hashes.
	ErrNotFound = errors.New("core: not found")
	// ErrShuttingDown names the shutting-down condition; no function in
	// this package returns it.
	ErrShuttingDown = errors.New("core: shutting down")
)
