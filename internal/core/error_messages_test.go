package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error", nil, ""},
		{"file rejected", &FileRejectedError{FileName: "a.xlsx", Reason: "only .csv files are accepted"}, "FILE001"},
		{"parse failed", &ParseFailedError{FileName: "a.csv", Err: errors.New("no data rows")}, "PARSE001"},
		{"wrapped sentinel", fmt.Errorf("submit: %w", ErrNoValidRows), "SUB001"},
		{"submission running", ErrSubmissionInProgress, "SUB002"},
		{"retry not allowed", ErrRetryNotAllowed, "SUB004"},
		{"session not found", ErrSessionNotFound, "SES001"},
		{"limiter busy", ErrTooManyParses, "UPL001"},
		{"unknown fix", fmt.Errorf("%w: shout", ErrUnknownFix), "VAL003"},
		{"deadline", fmt.Errorf("create cases: %w", context.DeadlineExceeded), "DB003"},
		{"postgres unique violation", errors.New(`ERROR: duplicate key value violates unique constraint "cases_case_id_key"`), "DB001"},
		{"sqlite unique violation", errors.New("UNIQUE constraint failed: cases.case_id"), "DB001"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), "DB002"},
		{"i/o timeout", errors.New("read tcp: i/o timeout"), "DB003"},
		{"body too large", errors.New("http: request body too large"), "FILE001"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestMapError_TypedMessagesCarryDetail(t *testing.T) {
	msg := MapError(&FileRejectedError{FileName: "a.xlsx", Reason: "only .csv files are accepted"})
	if !strings.Contains(msg.Message, "only .csv files are accepted") {
		t.Errorf("message %q should include the reason", msg.Message)
	}

	msg = MapError(&ParseFailedError{FileName: "a.csv", Err: errors.New("no data rows")})
	if !strings.Contains(msg.Message, "no data rows") {
		t.Errorf("message %q should include the cause", msg.Message)
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"with action", ErrNoValidRows, "There are no valid rows to submit (Code: SUB001). Fix the highlighted errors first"},
		{"without action", ErrNotSubmitting, "No submission is running (Code: SUB006)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatUserError(tt.err); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrCaseNotFound, true},
		{errors.New("connection refused"), true},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsUserFacing(tt.err); got != tt.want {
			t.Errorf("IsUserFacing(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
