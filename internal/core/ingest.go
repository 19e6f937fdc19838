package core

// ingest.go turns an uploaded CSV into applicant rows.
//
// The file is checked before any byte is read (extension and size), then
// streamed record by record through the BOM/UTF-8/progress reader chain.
// The header row is the first row among the leading MaxHeaderSearchRows that
// names at least MinHeaderMatches canonical columns; if none does, row 0 is
// the header. Header names are matched through headerAliases so that
// "caseId", "Case ID" and "case_id" all land in the same field.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// DefaultMaxFileSize is the largest accepted upload.
	DefaultMaxFileSize int64 = 50 << 20

	// DefaultMaxRows is the largest accepted row count.
	DefaultMaxRows = 50000

	// DefaultProgressEvery is how many rows are parsed between progress reports.
	DefaultProgressEvery = 1000
)

// MaxHeaderSearchRows is the maximum number of rows to scan for the header.
var MaxHeaderSearchRows = 20

// MinHeaderMatches is how many canonical columns a row must name to be taken
// as the header.
var MinHeaderMatches = 2

// ContextCheckInterval is how often (in records) the parser checks for cancellation.
var ContextCheckInterval = 100

// AcceptedExtensions lists the file extensions the ingestor accepts.
var AcceptedExtensions = []string{".csv"}

// headerAliases maps a folded header (lowercase, letters and digits only) to
// its canonical field.
var headerAliases = map[string]Field{
	"caseid":        FieldCaseID,
	"caseno":        FieldCaseID,
	"casenumber":    FieldCaseID,
	"applicantname": FieldApplicantName,
	"applicant":     FieldApplicantName,
	"name":          FieldApplicantName,
	"fullname":      FieldApplicantName,
	"dob":           FieldDOB,
	"dateofbirth":   FieldDOB,
	"birthdate":     FieldDOB,
	"email":         FieldEmail,
	"emailaddress":  FieldEmail,
	"phone":         FieldPhone,
	"phonenumber":   FieldPhone,
	"mobile":        FieldPhone,
	"mobilenumber":  FieldPhone,
	"contactnumber": FieldPhone,
	"category":      FieldCategory,
	"casecategory":  FieldCategory,
	"priority":      FieldPriority,
}

// CanonicalField resolves a source header to a canonical field.
func CanonicalField(header string) (Field, bool) {
	f, ok := headerAliases[foldHeader(header)]
	return f, ok
}

func foldHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParsedFile is the result of a successful parse.
type ParsedFile struct {
	FileName string
	Headers  []string
	Rows     []Row
}

// Ingestor checks and parses uploaded files.
type Ingestor struct {
	maxFileSize   int64
	maxRows       int
	progressEvery int
}

// NewIngestor creates an ingestor. Zero limits fall back to the defaults.
func NewIngestor(maxFileSize int64, maxRows int) *Ingestor {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Ingestor{
		maxFileSize:   maxFileSize,
		maxRows:       maxRows,
		progressEvery: DefaultProgressEvery,
	}
}

// MaxFileSize returns the configured upload limit in bytes.
func (in *Ingestor) MaxFileSize() int64 { return in.maxFileSize }

// Check rejects files with the wrong extension or size without reading them.
func (in *Ingestor) Check(fileName string, size int64) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	accepted := false
	for _, a := range AcceptedExtensions {
		if ext == a {
			accepted = true
			break
		}
	}
	if !accepted {
		return &FileRejectedError{
			FileName: fileName,
			Reason:   "only " + strings.Join(AcceptedExtensions, ", ") + " files are accepted",
		}
	}
	if size > in.maxFileSize {
		return &FileRejectedError{
			FileName: fileName,
			Reason:   fmt.Sprintf("file is %s, the limit is %s", formatBytes(size), formatBytes(in.maxFileSize)),
		}
	}
	return nil
}

// Parse checks and parses r. onProgress, if set, receives monotonically
// increasing progress below 100 while reading and exactly one final report
// at 100 on success. On error no rows are returned.
func (in *Ingestor) Parse(ctx context.Context, fileName string, r io.Reader, size int64, onProgress func(ParseProgress)) (*ParsedFile, error) {
	if err := in.Check(fileName, size); err != nil {
		return nil, err
	}

	pr := wrapForIngest(r, size)
	cr := csv.NewReader(pr)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	report := func(rows int, phase ParsePhase) {
		if onProgress == nil {
			return
		}
		p := ParseProgress{
			Phase:      phase,
			Percent:    pr.Percent(),
			RowsRead:   rows,
			BytesRead:  pr.read,
			BytesTotal: size,
		}
		if phase == ParseComplete {
			p.Percent = 100
		}
		onProgress(p)
	}

	var (
		cols    *columnMap
		pending [][]string
		rows    []Row
	)

	add := func(rec []string) error {
		if isEmptyRecord(rec) {
			return nil
		}
		if len(rows) >= in.maxRows {
			return fmt.Errorf("file has more than %d data rows", in.maxRows)
		}
		rows = append(rows, cols.row(len(rows), rec))
		if len(rows)%in.progressEvery == 0 {
			report(len(rows), ParseReading)
		}
		return nil
	}

	for n := 0; ; n++ {
		if n%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseFailedError{FileName: fileName, Err: err}
		}

		if cols != nil {
			if err := add(rec); err != nil {
				return nil, &ParseFailedError{FileName: fileName, Err: err}
			}
			continue
		}

		if isEmptyRecord(rec) {
			continue
		}
		if headerMatches(rec) >= MinHeaderMatches {
			cols = newColumnMap(rec)
			pending = nil
			continue
		}
		pending = append(pending, rec)
		if len(pending) >= MaxHeaderSearchRows {
			if err := in.fallbackHeader(&cols, pending, add); err != nil {
				return nil, &ParseFailedError{FileName: fileName, Err: err}
			}
			pending = nil
		}
	}

	if cols == nil {
		if len(pending) == 0 {
			return nil, &ParseFailedError{FileName: fileName, Err: errors.New("file is empty")}
		}
		if err := in.fallbackHeader(&cols, pending, add); err != nil {
			return nil, &ParseFailedError{FileName: fileName, Err: err}
		}
	}
	if len(rows) == 0 {
		return nil, &ParseFailedError{FileName: fileName, Err: errors.New("no data rows below the header")}
	}

	report(len(rows), ParseComplete)

	return &ParsedFile{
		FileName: fileName,
		Headers:  cols.headers,
		Rows:     rows,
	}, nil
}

// fallbackHeader takes the first buffered row as the header and replays the
// rest as data.
func (in *Ingestor) fallbackHeader(cols **columnMap, pending [][]string, add func([]string) error) error {
	*cols = newColumnMap(pending[0])
	for _, rec := range pending[1:] {
		if err := add(rec); err != nil {
			return err
		}
	}
	return nil
}

func headerMatches(rec []string) int {
	seen := make(map[Field]bool)
	for _, h := range rec {
		if f, ok := CanonicalField(h); ok {
			seen[f] = true
		}
	}
	return len(seen)
}

func isEmptyRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

type extraColumn struct {
	key string
	pos int
}

// columnMap places source columns into canonical fields and extras.
type columnMap struct {
	headers   []string
	canonical map[Field]int
	extras    []extraColumn
}

func newColumnMap(header []string) *columnMap {
	m := &columnMap{
		headers:   make([]string, len(header)),
		canonical: make(map[Field]int),
	}
	used := make(map[string]bool)
	for i, h := range header {
		h = strings.TrimSpace(h)
		m.headers[i] = h

		if f, ok := CanonicalField(h); ok {
			if _, taken := m.canonical[f]; !taken {
				m.canonical[f] = i
				used[string(f)] = true
				continue
			}
		}

		key := h
		if key == "" {
			key = fmt.Sprintf("column_%d", i+1)
		}
		base := key
		for n := 2; used[key] || IsCanonical(key); n++ {
			key = fmt.Sprintf("%s_%d", base, n)
		}
		used[key] = true
		m.extras = append(m.extras, extraColumn{key: key, pos: i})
	}
	return m
}

func (m *columnMap) row(index int, rec []string) Row {
	cell := func(pos int) string {
		if pos < len(rec) {
			return rec[pos]
		}
		return ""
	}
	get := func(f Field) string {
		if pos, ok := m.canonical[f]; ok {
			return cell(pos)
		}
		return ""
	}

	row := Row{
		Index:         index,
		CaseID:        get(FieldCaseID),
		ApplicantName: get(FieldApplicantName),
		DOB:           get(FieldDOB),
		Email:         get(FieldEmail),
		Phone:         get(FieldPhone),
		Category:      get(FieldCategory),
		Priority:      get(FieldPriority),
	}
	if len(m.extras) > 0 {
		row.Extras = make([]Extra, len(m.extras))
		for i, ec := range m.extras {
			row.Extras[i] = Extra{Key: ec.key, Value: cell(ec.pos)}
		}
	}
	return row
}

func formatBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1fMB", float64(n)/mb)
	}
	return fmt.Sprintf("%dKB", (n+1023)/1024)
}
