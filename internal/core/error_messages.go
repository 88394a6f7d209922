package core

// error_messages.go maps technical errors to user-facing messages with
// codes for support reference.
//
// Known sentinels and typed errors are matched first with errors.Is and
// errors.As. Anything else is matched case-insensitively against a catalog
// of substrings, first match wins. ERR000 means nothing matched and the
// original error is only in the logs.
//
//	STR001        no header row
//	VAL001-VAL011 validation (VAL003 and VAL006-VAL011 also tag row issues)
//	REC001-REC003 reconciliation conflicts
//	DB001-DB009   database errors
//	FILE001-FILE006 file errors
//	ING001-ING003 ingestion busy, cancelled, timed out
//	RATE001       request throttling

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorMatch struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func isConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

var typedErrors = []errorMatch{
	{
		match: IsRetryable,
		msg:   UserMessage{"The data changed while the import was running", "Run the import again; nothing was saved", "REC002"},
	},
	{
		match: isConflict,
		msg:   UserMessage{"Rows in the file conflict with each other", "Remove duplicate identifiers and upload again", "REC001"},
	},
	{match: is(ErrUnresolvedDeferred), msg: UserMessage{"Parent applications could not be created", "Upload the application sheet first, then the subtasks", "REC003"}},
	{match: is(ErrTooManyIngestions), msg: UserMessage{"The system is busy with other imports", "Please wait a moment and try again", "ING001"}},
	{match: is(context.Canceled), msg: UserMessage{"The import was cancelled", "Please try again", "ING002"}},
	{match: is(context.DeadlineExceeded), msg: UserMessage{"The import timed out", "Try a smaller file or try again later", "ING003"}},
	{match: is(ErrFileTooLarge), msg: UserMessage{"The file exceeds the maximum upload size", "Split the file into smaller workbooks", "FILE001"}},
	{match: is(ErrInvalidWorkbook), msg: UserMessage{"The file is not a readable workbook", "Save the file as .xlsx or UTF-8 .csv", "FILE002"}},
	{match: is(ErrEmptyFile), msg: UserMessage{"The uploaded file is empty", "Upload a workbook with a header row and data", "FILE005"}},
	{match: is(ErrSheetNotFound), msg: UserMessage{"The requested sheet does not exist", "Check the sheet name or leave it empty", "FILE006"}},
	{match: is(ErrNoHeaderRow), msg: UserMessage{"No header row was found", "Download a template and compare the header row", "STR001"}},
	{match: is(ErrUnknownKind), msg: UserMessage{"Unknown import type", "Use one of the types listed by the kinds endpoint", "VAL005"}},
	{match: is(ErrNoStore), msg: UserMessage{"Imports are disabled because no database is configured", "Use validate-only mode or contact support", "DB008"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is ordered specific before general.
var errorPatterns = []errorPattern{
	// Database constraints
	{"duplicate key", UserMessage{"A record with this identifier already exists", "Review duplicate identifiers in your file", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check for duplicate entries in your file", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Review your data for duplicate key values", "DB002"}},
	{"foreign key constraint", UserMessage{"Referenced application does not exist", "Upload the application sheet first", "DB003"}},
	{"violates foreign key", UserMessage{"Referenced application does not exist", "Upload the application sheet first", "DB003"}},

	// Database connectivity
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"database is locked", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	// Validation
	{"invalid date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD or a spreadsheet date cell", "VAL001"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Use plain digits without units", "VAL002"}},
	{"required field", UserMessage{"Required field is empty", "Ensure all required columns have values", "VAL003"}},
	{"missing required column", UserMessage{"Required column is missing", "Check that all required columns are present in your file", "VAL004"}},

	// Files
	{"invalid csv", UserMessage{"File is not a valid CSV", "Ensure the file is comma-separated", "FILE002"}},
	{"zip: not a valid zip file", UserMessage{"The file is not a readable workbook", "Save the file as .xlsx or UTF-8 .csv", "FILE002"}},
	{"encoding error", UserMessage{"File contains invalid characters", "Save the file with UTF-8 encoding", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a workbook to upload", "FILE004"}},

	// Throttling
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// persistenceFallback is used for store failures no pattern recognizes.
var persistenceFallback = UserMessage{"Saving the import failed; nothing was changed", "Please try again or contact support", "DB009"}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, tm := range typedErrors {
		if tm.match(err) {
			return tm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	var pe *PersistenceError
	if errors.As(err, &pe) {
		return persistenceFallback
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
