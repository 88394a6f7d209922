package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind        = errors.New("unknown entity kind")
	ErrUnknownField       = errors.New("unknown field")
	ErrFieldType          = errors.New("field type mismatch")
	ErrEmptyFile          = errors.New("empty file")
	ErrInvalidWorkbook    = errors.New("invalid workbook")
	ErrFileTooLarge       = errors.New("file too large")
	ErrSheetNotFound      = errors.New("sheet not found")
	ErrNoStore            = errors.New("no store configured")
	ErrNoHeaderRow        = errors.New("no header row found")
	ErrUnresolvedDeferred = errors.New("unresolved deferred parent identifier")
)

// Diagnostic codes carried by ValidationIssue.Code.
const (
	CodeNoHeader          = "STR001"
	CodeRowLimit          = "STR002"
	CodeRegionNarrowed    = "STR003"
	CodeUnmappedColumn    = "MAP001"
	CodeNoMappedColumns   = "MAP002"
	CodeFuzzyMapping      = "MAP003"
	CodeCoercion          = "COE001"
	CodeStatusInTimestamp = "COE002"
	CodeRequired          = "VAL003"
	CodeEnumDefault       = "VAL006"
	CodeRange             = "VAL007"
	CodeDateOrder         = "VAL008"
	CodeDuplicateKey      = "VAL009"
	CodeKeyFormat         = "VAL010"
	CodeBlockReason       = "VAL011"
)

// ConflictError aborts a reconciliation batch. Retryable conflicts come from
// the store (serialization failures, deadlocks, version mismatches) and the
// whole ingestion may be repeated; the rest need the input fixed.
type ConflictError struct {
	Key       string
	Reason    string
	Retryable bool
	Err       error
}

func (e *ConflictError) Error() string {
	msg := "reconciliation conflict"
	if e.Key != "" {
		msg += fmt.Sprintf(" on %q", e.Key)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a conflict that may succeed if the
// ingestion is repeated.
func IsRetryable(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Retryable
}

// PersistenceError wraps a store failure. The batch was rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// storeErr wraps err for op unless the store already classified it as a conflict.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
