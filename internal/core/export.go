package core

// export.go writes the failed rows of a submission back out so operators can
// fix them offline and re-upload. Both formats use FailureColumns.

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// FailureColumns is the column order of failure exports.
var FailureColumns = []string{
	"case_id", "applicant_name", "dob", "email", "phone", "category", "priority", "error",
}

func failureRecord(fr FailedRow) []string {
	r := fr.Row
	return []string{r.CaseID, r.ApplicantName, r.DOB, r.Email, r.Phone, r.Category, r.Priority, fr.Error}
}

// WriteFailuresCSV writes rows as CSV. The header is plain; every value is
// double-quoted with embedded quotes doubled, so values survive spreadsheet
// round trips unchanged.
func WriteFailuresCSV(w io.Writer, rows []FailedRow) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(FailureColumns, ","))
	bw.WriteString("\r\n")
	for _, fr := range rows {
		for i, v := range failureRecord(fr) {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.WriteString(quoteCSV(v))
		}
		bw.WriteString("\r\n")
	}
	return bw.Flush()
}

func quoteCSV(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

// FailuresSheet is the worksheet name used by WriteFailuresXLSX.
const FailuresSheet = "Failed Rows"

// WriteFailuresXLSX writes rows as a single-sheet workbook with a styled
// header row.
func WriteFailuresXLSX(w io.Writer, rows []FailedRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", FailuresSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#B91C1C"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "#000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for i, h := range FailureColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(FailuresSheet, cell, h)
		f.SetCellStyle(FailuresSheet, cell, cell, headerStyle)
	}

	for r, fr := range rows {
		for c, v := range failureRecord(fr) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			// Strings only: keep case IDs and phone numbers from turning into numbers.
			if err := f.SetCellStr(FailuresSheet, cell, v); err != nil {
				return fmt.Errorf("write %s: %w", cell, err)
			}
		}
	}

	f.SetColWidth(FailuresSheet, "A", "A", 16)
	f.SetColWidth(FailuresSheet, "B", "B", 28)
	f.SetColWidth(FailuresSheet, "C", "G", 16)
	f.SetColWidth(FailuresSheet, "H", "H", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
