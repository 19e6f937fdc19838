package core

import (
	"errors"
	"strings"
	"testing"
)

func TestTrimWhitespace(t *testing.T) {
	rows := []Row{
		{Index: 0, CaseID: " C-1", ApplicantName: "Asha  ", DOB: "1990-03-14", Category: "TAX\t"},
		{Index: 1, CaseID: "C-2", ApplicantName: "Ravi", DOB: "1990-03-14", Category: "TAX"},
	}

	edits := TrimWhitespace(rows)
	if len(edits) != 3 {
		t.Fatalf("got %d edits, want 3: %v", len(edits), edits)
	}

	g := NewGrid("f.csv", nil, rows)
	if err := g.Apply(edits); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, r := range g.Rows() {
		for _, f := range TrimmedFields {
			v, _ := r.Get(string(f))
			if v != strings.TrimSpace(v) {
				t.Errorf("row %d field %s still has surrounding whitespace: %q", r.Index, f, v)
			}
		}
	}

	if again := TrimWhitespace(g.Rows()); len(again) != 0 {
		t.Errorf("second trim proposed %d edits, want 0", len(again))
	}
}

func TestTitleCaseNames(t *testing.T) {
	rows := []Row{
		{Index: 0, ApplicantName: "JOHN DOE"},
		{Index: 1, ApplicantName: "Jane Roe"},
		{Index: 2, ApplicantName: ""},
	}

	edits := TitleCaseNames(rows)
	if len(edits) != 1 {
		t.Fatalf("got %d edits, want 1: %v", len(edits), edits)
	}
	want := CellEdit{Row: 0, Field: "applicant_name", Value: "John Doe"}
	if edits[0] != want {
		t.Errorf("got %+v, want %+v", edits[0], want)
	}
}

func TestNormalizePhones(t *testing.T) {
	rows := []Row{
		{Index: 0, Phone: "9876543210"},
		{Index: 1, Phone: "+919876543210"},
		{Index: 2, Phone: "12345"},
		{Index: 3, Phone: ""},
	}

	edits := NormalizePhones(rows)
	if len(edits) != 1 {
		t.Fatalf("got %d edits, want 1: %v", len(edits), edits)
	}
	if edits[0].Row != 0 || edits[0].Value != "+919876543210" {
		t.Errorf("got %+v", edits[0])
	}
}

func TestDefaultPriorities(t *testing.T) {
	rows := []Row{
		{Index: 0, Priority: ""},
		{Index: 1, Priority: "  "},
		{Index: 2, Priority: "HIGH"},
	}

	edits := DefaultPriorities(rows)
	if len(edits) != 2 {
		t.Fatalf("got %d edits, want 2: %v", len(edits), edits)
	}
	for _, e := range edits {
		if e.Value != "LOW" || e.Field != "priority" {
			t.Errorf("unexpected edit %+v", e)
		}
	}
}

func TestFixAll_StepsSeeEarlierEdits(t *testing.T) {
	rows := []Row{
		{Index: 0, CaseID: "C-1 ", ApplicantName: "  jane   ROE ", Phone: " 9876543210 ", Priority: ""},
		{Index: 1, CaseID: "C-2", ApplicantName: "Done Already", Phone: "+919876543210", Priority: "LOW"},
	}
	g := NewGrid("f.csv", nil, rows)

	n, err := FixAll(g)
	if err != nil {
		t.Fatalf("FixAll: %v", err)
	}

	// trim: case_id, applicant_name, phone; titlecase: name; phones: phone; priority: 1
	if n != 6 {
		t.Errorf("changed = %d, want 6", n)
	}

	got, _ := g.Row(0)
	if got.CaseID != "C-1" || got.ApplicantName != "Jane Roe" || got.Phone != "+919876543210" || got.Priority != "LOW" {
		t.Errorf("row 0 after FixAll = %+v", got)
	}

	n, err = FixAll(g)
	if err != nil || n != 0 {
		t.Errorf("second FixAll = %d, %v; want 0, nil", n, err)
	}
}

func TestApplyCorrection_Unknown(t *testing.T) {
	g := NewGrid("f.csv", nil, []Row{{Index: 0}})
	if _, err := ApplyCorrection(g, "shout"); !errors.Is(err, ErrUnknownFix) {
		t.Errorf("got %v, want ErrUnknownFix", err)
	}
}
