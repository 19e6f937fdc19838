package core

// validation.go checks applicant rows before submission.
//
// Validation happens at two levels:
//  1. Field rules, applied to each row independently
//  2. One cross-row pass flagging repeated case_id values
//
// The error list is a pure function of the row set and today's date: rows
// ascending by index, then fields in declaration order, at most one error
// per (row, field). Surrounding whitespace is ignored by every rule.

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxApplicantNameLength is the longest accepted applicant name, in characters.
const MaxApplicantNameLength = 255

// DefaultPriority is applied to the payload when priority is empty.
const DefaultPriority = "LOW"

var (
	Categories = []string{"TAX", "LICENSE", "PERMIT"}
	Priorities = []string{"LOW", "MEDIUM", "HIGH"}

	caseIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	minDOB = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Validator applies the applicant schema to a row set.
type Validator struct {
	now func() time.Time
}

// NewValidator returns a validator that judges dates against the wall clock.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// NewValidatorAt returns a validator with a fixed notion of today.
func NewValidatorAt(today time.Time) *Validator {
	return &Validator{now: func() time.Time { return today }}
}

func (v *Validator) today() time.Time {
	y, m, d := v.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Validate returns every validation error for rows.
func (v *Validator) Validate(rows []Row) []ValidationError {
	firstSeen := make(map[string]int, len(rows))
	for _, row := range rows {
		id := strings.TrimSpace(row.CaseID)
		if id == "" {
			continue
		}
		if _, ok := firstSeen[id]; !ok {
			firstSeen[id] = row.Index
		}
	}

	today := v.today()
	var errs []ValidationError
	for _, row := range rows {
		errs = v.validateRow(errs, row, today, firstSeen)
	}
	return errs
}

// ValidateRow checks a single row's field rules. Duplicates are not detected.
func (v *Validator) ValidateRow(row Row) []ValidationError {
	return v.validateRow(nil, row, v.today(), nil)
}

func (v *Validator) validateRow(errs []ValidationError, row Row, today time.Time, firstSeen map[string]int) []ValidationError {
	add := func(f Field, value, msg string) {
		errs = append(errs, ValidationError{Row: row.Index, Field: f, Value: value, Message: msg})
	}

	// case_id
	id := strings.TrimSpace(row.CaseID)
	switch {
	case id == "":
		add(FieldCaseID, row.CaseID, "Case ID is required")
	case !caseIDPattern.MatchString(id):
		add(FieldCaseID, row.CaseID, "Case ID may only contain letters, numbers and hyphens")
	default:
		if first, ok := firstSeen[id]; ok && first != row.Index {
			add(FieldCaseID, row.CaseID, fmt.Sprintf("Duplicate case ID; first used in row %d", first+1))
		}
	}

	// applicant_name
	name := strings.TrimSpace(row.ApplicantName)
	switch {
	case name == "":
		add(FieldApplicantName, row.ApplicantName, "Applicant name is required")
	case utf8.RuneCountInString(name) > MaxApplicantNameLength:
		add(FieldApplicantName, row.ApplicantName, fmt.Sprintf("Applicant name must be at most %d characters", MaxApplicantNameLength))
	}

	// dob
	if strings.TrimSpace(row.DOB) == "" {
		add(FieldDOB, row.DOB, "Date of birth is required")
	} else if dob, ok := ParseDate(row.DOB); !ok {
		add(FieldDOB, row.DOB, "Date of birth is not a valid date")
	} else if dob.Before(minDOB) {
		add(FieldDOB, row.DOB, "Date of birth cannot be before 1900-01-01")
	} else if dob.After(today) {
		add(FieldDOB, row.DOB, "Date of birth cannot be in the future")
	}

	// email
	if email := strings.TrimSpace(row.Email); email != "" && !emailPattern.MatchString(email) {
		add(FieldEmail, row.Email, "Invalid email address")
	}

	// phone
	if strings.TrimSpace(row.Phone) != "" {
		if _, ok := NormalizePhone(row.Phone); !ok {
			add(FieldPhone, row.Phone, "Invalid phone number")
		}
	}

	// category
	cat := strings.TrimSpace(row.Category)
	switch {
	case cat == "":
		add(FieldCategory, row.Category, "Category is required")
	case !oneOf(cat, Categories):
		add(FieldCategory, row.Category, "Category must be one of: "+strings.Join(Categories, ", "))
	}

	// priority
	if p := strings.TrimSpace(row.Priority); p != "" && !oneOf(p, Priorities) {
		add(FieldPriority, row.Priority, "Priority must be one of: "+strings.Join(Priorities, ", "))
	}

	return errs
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Payload builds the normalized case payload for a row. It returns the
// row's first validation error if the row is not valid on its own.
func (v *Validator) Payload(row Row) (CasePayload, error) {
	if errs := v.ValidateRow(row); len(errs) > 0 {
		return CasePayload{}, errs[0]
	}

	dob, _ := ParseDate(row.DOB)
	p := CasePayload{
		CaseID:        strings.TrimSpace(row.CaseID),
		ApplicantName: strings.TrimSpace(row.ApplicantName),
		DOB:           dob.Format("2006-01-02"),
		Email:         strings.TrimSpace(row.Email),
		Category:      strings.TrimSpace(row.Category),
		Priority:      strings.TrimSpace(row.Priority),
	}
	if phone, ok := NormalizePhone(row.Phone); ok {
		p.Phone = phone
	}
	if p.Priority == "" {
		p.Priority = DefaultPriority
	}
	return p, nil
}

// ErrorIndex groups validation errors by row and field for cell lookups.
type ErrorIndex map[int]map[Field]ValidationError

// IndexErrors builds an ErrorIndex from a flat error list.
func IndexErrors(errs []ValidationError) ErrorIndex {
	idx := make(ErrorIndex)
	for _, e := range errs {
		byField, ok := idx[e.Row]
		if !ok {
			byField = make(map[Field]ValidationError)
			idx[e.Row] = byField
		}
		if _, dup := byField[e.Field]; !dup {
			byField[e.Field] = e
		}
	}
	return idx
}

// Lookup returns the error recorded for a cell, if any.
func (idx ErrorIndex) Lookup(row int, field Field) (ValidationError, bool) {
	e, ok := idx[row][field]
	return e, ok
}

// HasErrors reports whether row has any validation error.
func (idx ErrorIndex) HasErrors(row int) bool {
	return len(idx[row]) > 0
}
