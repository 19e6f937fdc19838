package core

// correction.go holds the bulk fixes offered in the review grid.
//
// Every correction is a pure function from the current rows to the edits it
// would make. Committing the edits and re-validating is the caller's job
// (see Session.Correct).

import (
	"fmt"
	"strings"
)

// Correction names a bulk fix.
type Correction string

const (
	CorrectTrim      Correction = "trim"
	CorrectTitleCase Correction = "titlecase"
	CorrectPhones    Correction = "phones"
	CorrectPriority  Correction = "priority"
	CorrectAll       Correction = "all"
)

// CorrectionFunc proposes edits for a row set.
type CorrectionFunc func(rows []Row) []CellEdit

// FixAllOrder is the sequence applied by CorrectAll. Each step sees the
// edits committed by the steps before it.
var FixAllOrder = []Correction{CorrectTrim, CorrectTitleCase, CorrectPhones, CorrectPriority}

var corrections = map[Correction]CorrectionFunc{
	CorrectTrim:      TrimWhitespace,
	CorrectTitleCase: TitleCaseNames,
	CorrectPhones:    NormalizePhones,
	CorrectPriority:  DefaultPriorities,
}

// LookupCorrection returns the function for a single correction.
// CorrectAll has no function of its own; use FixAll.
func LookupCorrection(name Correction) (CorrectionFunc, error) {
	fn, ok := corrections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFix, name)
	}
	return fn, nil
}

// TrimmedFields are the textual fields TrimWhitespace cleans.
var TrimmedFields = Fields

// TrimWhitespace strips leading and trailing whitespace from TrimmedFields.
func TrimWhitespace(rows []Row) []CellEdit {
	var edits []CellEdit
	for _, row := range rows {
		for _, f := range TrimmedFields {
			v, _ := row.Get(string(f))
			if t := strings.TrimSpace(v); t != v {
				edits = append(edits, CellEdit{Row: row.Index, Field: string(f), Value: t})
			}
		}
	}
	return edits
}

// TitleCaseNames normalizes applicant_name with TitleCase.
func TitleCaseNames(rows []Row) []CellEdit {
	var edits []CellEdit
	for _, row := range rows {
		if t := TitleCase(row.ApplicantName); t != row.ApplicantName {
			edits = append(edits, CellEdit{Row: row.Index, Field: string(FieldApplicantName), Value: t})
		}
	}
	return edits
}

// NormalizePhones rewrites phone numbers to E.164. Numbers that cannot be
// normalized are left for the operator to fix.
func NormalizePhones(rows []Row) []CellEdit {
	var edits []CellEdit
	for _, row := range rows {
		e164, ok := NormalizePhone(row.Phone)
		if ok && e164 != row.Phone {
			edits = append(edits, CellEdit{Row: row.Index, Field: string(FieldPhone), Value: e164})
		}
	}
	return edits
}

// DefaultPriorities sets empty priorities to DefaultPriority.
func DefaultPriorities(rows []Row) []CellEdit {
	var edits []CellEdit
	for _, row := range rows {
		if strings.TrimSpace(row.Priority) == "" {
			edits = append(edits, CellEdit{Row: row.Index, Field: string(FieldPriority), Value: DefaultPriority})
		}
	}
	return edits
}

// Editor is the grid surface corrections are committed to.
type Editor interface {
	Rows() []Row
	Apply(edits []CellEdit) error
}

// FixAll runs FixAllOrder against e, committing after each step, and returns
// the total number of cells changed.
func FixAll(e Editor) (int, error) {
	total := 0
	for _, name := range FixAllOrder {
		n, err := ApplyCorrection(e, name)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ApplyCorrection runs one correction against e and commits its edits.
func ApplyCorrection(e Editor, name Correction) (int, error) {
	if name == CorrectAll {
		return FixAll(e)
	}
	fn, err := LookupCorrection(name)
	if err != nil {
		return 0, err
	}
	edits := fn(e.Rows())
	if len(edits) == 0 {
		return 0, nil
	}
	if err := e.Apply(edits); err != nil {
		return 0, fmt.Errorf("apply %s: %w", name, err)
	}
	return len(edits), nil
}
