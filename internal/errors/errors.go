// Package errors implements the pipeline's error taxonomy: every failure a
// worker observes is classified into one of a small set of Kinds so callers
// can decide retry vs. skip vs. fail-fast without parsing error strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry/propagation policy purposes.
type Kind int

const (
	// KindUnknown is the zero value; treated like Permanent by callers that
	// switch on Kind without a default case of their own.
	KindUnknown Kind = iota

	// KindTransientRemote covers HTTP 429/5xx, connection reset, timeout:
	// retry with exponential backoff and jitter, bounded by MaxRetries.
	KindTransientRemote

	// KindAuthConfig covers a missing API key or invalid credentials: fail
	// fast, exit 1, no retry.
	KindAuthConfig

	// KindPermanentRemote covers a non-429 4xx or a malformed response: no
	// retry, the affected unit (batch/chunk/article) is marked failed.
	KindPermanentRemote

	// KindParse covers unparseable HTML/JSON: the affected unit yields no
	// output, is counted, and the pipeline continues.
	KindParse

	// KindValidation covers a data invariant that can be degraded instead
	// of dropped (out-of-bbox coordinates, out-of-enum value): null the
	// offending field, lower precision, keep the record.
	KindValidation

	// KindConcurrency covers lock contention (another live instance holds
	// the lock): exit 1 immediately.
	KindConcurrency

	// KindDisk covers a failed cache/manifest write: surface the error; for
	// caches, flush synchronously before propagating.
	KindDisk
)

func (k Kind) String() string {
	switch k {
	case KindTransientRemote:
		return "transient_remote"
	case KindAuthConfig:
		return "auth_config"
	case KindPermanentRemote:
		return "permanent_remote"
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	case KindConcurrency:
		return "concurrency"
	case KindDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and an operation label describing the unit of
// work that failed (e.g. "scrape:presseportal", "enrich:batch").
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap is New with an fmt.Errorf-style formatted message.
func Wrap(kind Kind, op, format string, args ...any) error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// KindOf extracts the Kind from err, walking the unwrap chain. Returns
// KindUnknown if err is nil or carries no Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err's Kind warrants a retry with backoff.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientRemote
}

// IsFatal reports whether err should abort the whole process rather than
// just the affected unit of work.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindAuthConfig, KindConcurrency:
		return true
	default:
		return false
	}
}
