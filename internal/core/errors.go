package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when a submission is attempted without
	// an operator identity in context.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoValidRows is returned when submission starts with zero error-free rows.
	ErrNoValidRows = errors.New("no valid rows to submit")

	// ErrSubmissionInProgress is returned for operations that cannot run while
	// batches are being sent.
	ErrSubmissionInProgress = errors.New("submission in progress")

	// ErrAlreadySubmitted is returned when starting a new submission on a
	// session that already submitted. Use retry, or start a new import.
	ErrAlreadySubmitted = errors.New("this import was already submitted")

	// ErrNotSubmitting is returned when cancelling a session that is not submitting.
	ErrNotSubmitting = errors.New("no submission in progress")

	// ErrNothingToRetry is returned when retry finds no failed rows that are
	// currently valid.
	ErrNothingToRetry = errors.New("no failed rows to retry")

	// ErrRetryNotAllowed is returned when retry is requested before a
	// submission has completed.
	ErrRetryNotAllowed = errors.New("retry is only available after a completed submission")

	ErrSessionNotFound = errors.New("import session not found")
	ErrSessionNotReady = errors.New("import session is still parsing")
	ErrUnknownField    = errors.New("unknown field")
	ErrRowOutOfRange   = errors.New("row out of range")
	ErrUnknownFix      = errors.New("unknown correction")
	ErrImportNotFound  = errors.New("import not found")
	ErrCaseNotFound    = errors.New("case not found")
	ErrBatchTooLarge   = errors.New("batch exceeds maximum size")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// FileRejectedError is returned when a file fails the type or size check.
// No parsing is attempted.
type FileRejectedError struct {
	FileName string
	Reason   string
}

func (e *FileRejectedError) Error() string {
	return fmt.Sprintf("file %q rejected: %s", e.FileName, e.Reason)
}

// ParseFailedError wraps the underlying parser error. No rows are committed
// when parsing fails.
type ParseFailedError struct {
	FileName string
	Err      error
}

func (e *ParseFailedError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.FileName, e.Err)
}

func (e *ParseFailedError) Unwrap() error { return e.Err }
