package core

// gateway.go holds what every CaseGateway backend shares: the import record
// as stored, the batch size limit, and the per-row checks a case must pass
// before it is written. The rows reaching a backend have usually been
// validated by a Session already; these checks guard the endpoint against
// other callers.

import (
	"context"
	"strings"
	"time"
)

// DuplicateCaseMessage is the per-row error for a case ID that already exists.
const DuplicateCaseMessage = "Case ID already exists"

// ActionCreated is the history action written when a case is created.
const ActionCreated = "CREATED"

// Import is an import record as stored by a gateway.
type Import struct {
	ID           string       `json:"id"`
	FileName     string       `json:"file_name"`
	TotalRows    int          `json:"total_rows"`
	Status       ImportStatus `json:"status"`
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
	CreatedBy    string       `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CheckImportRecord validates an import record before it is stored.
func CheckImportRecord(rec ImportRecord) error {
	if strings.TrimSpace(rec.FileName) == "" {
		return &FileRejectedError{Reason: "file name is required"}
	}
	if rec.TotalRows <= 0 {
		return ErrNoValidRows
	}
	return nil
}

// CheckBatch enforces the batch size limit.
func CheckBatch(cases []CasePayload) error {
	if len(cases) > BatchSize {
		return ErrBatchTooLarge
	}
	return nil
}

// CheckPayload returns the reason a case cannot be created, or "" if it can.
// Payloads are expected in submitted form: trimmed, ISO dates, upper-case
// enums.
func CheckPayload(p CasePayload) string {
	switch {
	case p.CaseID == "" || !caseIDPattern.MatchString(p.CaseID):
		return "Invalid case ID"
	case p.ApplicantName == "":
		return "Applicant name is required"
	case len([]rune(p.ApplicantName)) > MaxApplicantNameLength:
		return "Applicant name is too long"
	case !isISODate(p.DOB):
		return "Date of birth must be YYYY-MM-DD"
	case p.Email != "" && !emailPattern.MatchString(p.Email):
		return "Invalid email address"
	case !oneOf(p.Category, Categories):
		return "Category must be one of: " + strings.Join(Categories, ", ")
	case !oneOf(p.Priority, Priorities):
		return "Priority must be one of: " + strings.Join(Priorities, ", ")
	}
	return ""
}

func isISODate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// CreatedBy returns the operator to attribute a write to: the operator in
// ctx if there is one, otherwise fallback.
func CreatedBy(ctx context.Context, fallback string) string {
	if op, ok := OperatorFromContext(ctx); ok {
		return op.ID
	}
	return fallback
}
