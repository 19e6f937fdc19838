package core

// error_messages.go maps technical errors to messages operators can act on.
//
// Each message carries a code operators can quote to support:
//
//	FILE001 - File type or size rejected before parsing
//	PARSE001 - CSV could not be parsed; no rows were loaded
//	PARSE002 - File is still being parsed
//	VAL001  - Unknown column in a cell edit
//	VAL002  - Row number out of range in a cell edit
//	VAL003  - Unknown bulk correction
//	SUB001  - No valid rows to submit
//	SUB002  - A submission is already running
//	SUB003  - Nothing to retry
//	SUB004  - Retry requested before the submission completed
//	SUB005  - Import already submitted
//	SUB006  - Cancel requested with no submission running
//	SUB007  - Batch larger than the endpoint accepts
//	AUTH001 - Not signed in
//	AUTH002 - Token sign-in not configured (web layer)
//	SES001  - Import session not found or expired
//	UPL001  - Too many files being processed
//	RATE001 - Too many requests from one client
//	REQ001  - Malformed request body (web layer)
//	DB001   - Case ID already exists
//	DB002   - Database unreachable
//	DB003   - Operation timed out
//	DB004   - Import or case not found
//	ERR000  - Anything else
//
// Known sentinel and typed errors are matched first with errors.Is/As; driver
// and transport errors are then matched by substring.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage is an operator-facing description of an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrNotAuthenticated, UserMessage{"You must be signed in to submit cases", "Sign in and try again", "AUTH001"}},
	{ErrSessionNotFound, UserMessage{"This import session no longer exists", "Upload the file again", "SES001"}},
	{ErrSessionNotReady, UserMessage{"The file is still being processed", "Wait for parsing to finish", "PARSE002"}},
	{ErrUnknownField, UserMessage{"That column does not exist in this file", "Check the column name", "VAL001"}},
	{ErrRowOutOfRange, UserMessage{"That row does not exist in this file", "Check the row number", "VAL002"}},
	{ErrUnknownFix, UserMessage{"Unknown correction", "Use trim, titlecase, phones, priority or all", "VAL003"}},
	{ErrNoValidRows, UserMessage{"There are no valid rows to submit", "Fix the highlighted errors first", "SUB001"}},
	{ErrSubmissionInProgress, UserMessage{"A submission is already running", "Wait for it to finish or cancel it", "SUB002"}},
	{ErrNothingToRetry, UserMessage{"There are no failed rows to retry", "Fix any invalid failed rows first", "SUB003"}},
	{ErrRetryNotAllowed, UserMessage{"Retry is available once a submission completes", "Wait for the submission to finish", "SUB004"}},
	{ErrAlreadySubmitted, UserMessage{"This import was already submitted", "Retry failed rows or start a new import", "SUB005"}},
	{ErrNotSubmitting, UserMessage{"No submission is running", "", "SUB006"}},
	{ErrBatchTooLarge, UserMessage{"Too many cases in one request", "Send at most 100 cases per batch", "SUB007"}},
	{ErrTooManyParses, UserMessage{"The server is busy processing other files", "Please try again in a few moments", "UPL001"}},
	{ErrRateLimited, UserMessage{"Too many requests", "Wait a minute and try again", "RATE001"}},
	{ErrImportNotFound, UserMessage{"Import record not found", "Check the import ID", "DB004"}},
	{ErrCaseNotFound, UserMessage{"Case not found", "Check the case ID", "DB004"}},
	{context.DeadlineExceeded, UserMessage{"The operation timed out", "Please try again", "DB003"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{"A case with this ID already exists", "Remove or rename the duplicate case ID", "DB001"}},
	{"unique constraint", UserMessage{"A case with this ID already exists", "Remove or rename the duplicate case ID", "DB001"}},
	{"connection refused", UserMessage{"Unable to reach the case database", "Please try again in a few moments", "DB002"}},
	{"connection reset", UserMessage{"The connection to the case database was interrupted", "Please try again", "DB002"}},
	{"no such host", UserMessage{"Unable to reach the case service", "Please try again in a few moments", "DB002"}},
	{"timeout", UserMessage{"The operation timed out", "Please try again", "DB003"}},
	{"request body too large", UserMessage{"The file is too large", "Upload a file under 50MB", "FILE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError returns the operator-facing message for err.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var rejected *FileRejectedError
	if errors.As(err, &rejected) {
		return UserMessage{
			Message: "File rejected: " + rejected.Reason,
			Action:  "Choose a .csv file under the size limit",
			Code:    "FILE001",
		}
	}
	var parseErr *ParseFailedError
	if errors.As(err, &parseErr) {
		return UserMessage{
			Message: "The file could not be read: " + parseErr.Err.Error(),
			Action:  "Check the file is a valid CSV and upload it again",
			Code:    "PARSE001",
		}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	if msg.Action == "" {
		return fmt.Sprintf("%s (Code: %s)", msg.Message, msg.Code)
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
