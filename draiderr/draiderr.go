// Package draiderr defines the error taxonomy dRAID's components
// return (spec.md §7). Callers compare with errors.Is against the
// exported Err* sentinels; the New/Wrap constructors attach a formatted
// message, and Wrap keeps the cause reachable through Unwrap.
package draiderr

import (
	"errors"
	"fmt"
)

// Kind is one of the eight error kinds enumerated in spec.md §7.
type Kind int

const (
	// KindNotFound: no permutation-table entry for a given child count.
	KindNotFound Kind = iota
	// KindInvalidInput: bad geometry or a malformed spare name.
	KindInvalidInput
	// KindChecksumMismatch: a permutation map's checksum didn't match.
	KindChecksumMismatch
	// KindNoReplicas: too many children failed to open.
	KindNoReplicas
	// KindIoError: a child I/O failed, or a label-range I/O was rejected.
	KindIoError
	// KindStale: the DTL says the range is not current on this child.
	KindStale
	// KindNoEntry: the child is not readable at all for this offset.
	KindNoEntry
	// KindNotSupported: an ioctl or trim the child doesn't support.
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvalidInput:
		return "InvalidInput"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindNoReplicas:
		return "NoReplicas"
	case KindIoError:
		return "IoError"
	case KindStale:
		return "Stale"
	case KindNoEntry:
		return "NoEntry"
	case KindNotSupported:
		return "NotSupported"
	default:
		return "Unknown"
	}
}

// DraidError carries a Kind alongside the usual wrapped error chain.
type DraidError struct {
	Kind Kind
	msg  string
	err  error
}

func (e *DraidError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *DraidError) Unwrap() error { return e.err }

// Is lets errors.Is(err, ErrNotFound) match any DraidError of the same
// Kind regardless of message/wrapped cause.
func (e *DraidError) Is(target error) bool {
	var other *DraidError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds a DraidError of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *DraidError {
	return &DraidError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a DraidError of the given kind, chaining cause so that
// errors.Is/errors.As reach it through Unwrap.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *DraidError {
	return &DraidError{Kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

// Sentinels usable with errors.Is(err, draiderr.ErrNotFound) etc. Only
// the Kind field is compared (see DraidError.Is), so these need no
// message.
var (
	ErrNotFound         = &DraidError{Kind: KindNotFound}
	ErrInvalidInput     = &DraidError{Kind: KindInvalidInput}
	ErrChecksumMismatch = &DraidError{Kind: KindChecksumMismatch}
	ErrNoReplicas       = &DraidError{Kind: KindNoReplicas}
	ErrIoError          = &DraidError{Kind: KindIoError}
	ErrStale            = &DraidError{Kind: KindStale}
	ErrNoEntry          = &DraidError{Kind: KindNoEntry}
	ErrNotSupported     = &DraidError{Kind: KindNotSupported}
)
