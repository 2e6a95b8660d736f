package probe

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a scan-all attempt failed.
type ErrorKind int

const (
	// KindConnectionFailed: no transaction could be opened.
	KindConnectionFailed ErrorKind = iota + 1
	// KindScanFailed: a batch request failed, or the scan was cancelled.
	KindScanFailed
	// KindRollbackFailed: cleanup after a failed scan failed. Only ever
	// attached to another error, never returned on its own.
	KindRollbackFailed
	// KindCommitFailed: every batch was read but the transaction did not
	// commit.
	KindCommitFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection_failed"
	case KindScanFailed:
		return "scan_failed"
	case KindRollbackFailed:
		return "rollback_failed"
	case KindCommitFailed:
		return "commit_failed"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. A *ScanError matches the sentinel of its Kind;
// it also matches ErrRollbackFailed when a rollback error is attached.
var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrScanFailed       = errors.New("scan failed")
	ErrRollbackFailed   = errors.New("rollback failed")
	ErrCommitFailed     = errors.New("commit failed")

	// ErrScannerSpent is returned when ScanAll is called more than once.
	ErrScannerSpent = errors.New("scanner already used")
	// ErrOutOfOrder is the cause when a store returns keys that are not
	// strictly ascending across the whole scan.
	ErrOutOfOrder = errors.New("store returned keys out of order")
	// ErrBatchOverflow is the cause when a store returns more pairs than
	// the requested limit.
	ErrBatchOverflow = errors.New("store returned more pairs than requested")
)

var kindSentinels = map[ErrorKind]error{
	KindConnectionFailed: ErrConnectionFailed,
	KindScanFailed:       ErrScanFailed,
	KindRollbackFailed:   ErrRollbackFailed,
	KindCommitFailed:     ErrCommitFailed,
}

// ScanError is the error returned by Scanner.ScanAll.
type ScanError struct {
	Kind  ErrorKind
	Batch int   // zero-based batch index for scan failures
	Err   error // underlying store error

	// Rollback is set when the rollback that followed a scan failure failed
	// as well. It never replaces Err.
	Rollback *ScanError
}

func (e *ScanError) Error() string {
	var msg string
	switch e.Kind {
	case KindConnectionFailed:
		msg = fmt.Sprintf("failed to start optimistic transaction: %v", e.Err)
	case KindScanFailed:
		msg = fmt.Sprintf("failed to scan keys (batch %d): %v", e.Batch, e.Err)
	case KindRollbackFailed:
		msg = fmt.Sprintf("failed to rollback transaction: %v", e.Err)
	case KindCommitFailed:
		msg = fmt.Sprintf("failed to commit transaction: %v", e.Err)
	default:
		msg = e.Err.Error()
	}
	if e.Rollback != nil {
		msg += " (" + e.Rollback.Error() + ")"
	}
	return msg
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

func (e *ScanError) Is(target error) bool {
	if target == kindSentinels[e.Kind] {
		return true
	}
	return e.Rollback != nil && target == ErrRollbackFailed
}
