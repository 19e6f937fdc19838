package core

import (
	"context"
	"strconv"
	"time"
)

// Field names a canonical column of an applicant row.
type Field string

const (
	FieldCaseID        Field = "case_id"
	FieldApplicantName Field = "applicant_name"
	FieldDOB           Field = "dob"
	FieldEmail         Field = "email"
	FieldPhone         Field = "phone"
	FieldCategory      Field = "category"
	FieldPriority      Field = "priority"
)

// Fields lists the canonical columns in declaration order. Validation errors
// within a row are reported in this order.
var Fields = []Field{
	FieldCaseID,
	FieldApplicantName,
	FieldDOB,
	FieldEmail,
	FieldPhone,
	FieldCategory,
	FieldPriority,
}

// IsCanonical reports whether name is one of the canonical columns.
func IsCanonical(name string) bool {
	for _, f := range Fields {
		if string(f) == name {
			return true
		}
	}
	return false
}

// Extra is a source column the pipeline does not recognize. Extras are kept
// in source order and passed through untouched.
type Extra struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Row is one applicant record. Index is assigned at parse time and never
// changes; case_id may be empty or duplicated until validation passes.
type Row struct {
	Index         int     `json:"index"`
	CaseID        string  `json:"case_id"`
	ApplicantName string  `json:"applicant_name"`
	DOB           string  `json:"dob"`
	Email         string  `json:"email"`
	Phone         string  `json:"phone"`
	Category      string  `json:"category"`
	Priority      string  `json:"priority"`
	Extras        []Extra `json:"extras,omitempty"`
}

// Get returns the value of a canonical field or an extra column.
func (r Row) Get(name string) (string, bool) {
	switch Field(name) {
	case FieldCaseID:
		return r.CaseID, true
	case FieldApplicantName:
		return r.ApplicantName, true
	case FieldDOB:
		return r.DOB, true
	case FieldEmail:
		return r.Email, true
	case FieldPhone:
		return r.Phone, true
	case FieldCategory:
		return r.Category, true
	case FieldPriority:
		return r.Priority, true
	}
	for _, e := range r.Extras {
		if e.Key == name {
			return e.Value, true
		}
	}
	return "", false
}

// set writes a canonical field or an existing extra column.
func (r *Row) set(name, value string) bool {
	switch Field(name) {
	case FieldCaseID:
		r.CaseID = value
	case FieldApplicantName:
		r.ApplicantName = value
	case FieldDOB:
		r.DOB = value
	case FieldEmail:
		r.Email = value
	case FieldPhone:
		r.Phone = value
	case FieldCategory:
		r.Category = value
	case FieldPriority:
		r.Priority = value
	default:
		for i := range r.Extras {
			if r.Extras[i].Key == name {
				r.Extras[i].Value = value
				return true
			}
		}
		return false
	}
	return true
}

func (r Row) clone() Row {
	if r.Extras != nil {
		r.Extras = append([]Extra(nil), r.Extras...)
	}
	return r
}

// CellEdit is a single (row, field, value) write against the grid.
type CellEdit struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// ValidationError is a complaint about one field of one row.
type ValidationError struct {
	Row     int    `json:"row"`
	Field   Field  `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return "row " + strconv.Itoa(e.Row+1) + ": " + string(e.Field) + ": " + e.Message
}

// CasePayload is the normalized shape of a valid row sent to the
// case-creation endpoint.
type CasePayload struct {
	CaseID        string `json:"case_id"`
	ApplicantName string `json:"applicant_name"`
	DOB           string `json:"dob"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Category      string `json:"category"`
	Priority      string `json:"priority"`
}

// BatchResult is the per-row outcome of a submission attempt.
type BatchResult struct {
	Success   bool   `json:"success"`
	CaseID    string `json:"case_id"`
	Error     string `json:"error,omitempty"`
	CreatedID string `json:"created_id,omitempty"`
}

// ImportStatus is the lifecycle status of a remote import record.
type ImportStatus string

const (
	ImportProcessing ImportStatus = "PROCESSING"
	ImportCompleted  ImportStatus = "COMPLETED"
	ImportFailed     ImportStatus = "FAILED"
)

// Valid reports whether s is a known import status.
func (s ImportStatus) Valid() bool {
	switch s {
	case ImportProcessing, ImportCompleted, ImportFailed:
		return true
	}
	return false
}

// ImportRecord is sent when creating an import record.
type ImportRecord struct {
	FileName  string `json:"file_name"`
	TotalRows int    `json:"total_rows"`
	CreatedBy string `json:"created_by,omitempty"`
}

// ImportUpdate carries the status and aggregate counts of an import.
type ImportUpdate struct {
	Status       ImportStatus `json:"status"`
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
}

// CaseGateway is the external collaborator that stores imports and cases.
// The operator creating the import is carried in ctx (see OperatorFromContext).
type CaseGateway interface {
	CreateImport(ctx context.Context, rec ImportRecord) (string, error)
	UpdateImport(ctx context.Context, importID string, upd ImportUpdate) error
	// CreateCases creates up to BatchSize cases and returns one result per
	// payload, in submission order.
	CreateCases(ctx context.Context, importID string, cases []CasePayload) ([]BatchResult, error)
}

// HistoryEntry is one line of a case's history.
type HistoryEntry struct {
	CaseID    string    `json:"case_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Operator  string    `json:"operator"`
	CreatedAt time.Time `json:"created_at"`
}

// ParsePhase indicates the stage of parsing an uploaded file.
type ParsePhase string

const (
	ParseReading  ParsePhase = "reading"
	ParseComplete ParsePhase = "complete"
	ParseFailed   ParsePhase = "failed"
)

// ParseProgress reports how far the ingestor has read.
type ParseProgress struct {
	Phase      ParsePhase `json:"phase"`
	Percent    int        `json:"percent"`
	RowsRead   int        `json:"rows_read"`
	BytesRead  int64      `json:"bytes_read"`
	BytesTotal int64      `json:"bytes_total"`
	Error      string     `json:"error,omitempty"`
}

// SubmitState is the state of the batch submitter.
type SubmitState string

const (
	SubmitIdle       SubmitState = "idle"
	SubmitSubmitting SubmitState = "submitting"
	SubmitCompleted  SubmitState = "completed"
	SubmitCancelled  SubmitState = "cancelled"
)

// SubmitProgress is republished after every batch.
type SubmitProgress struct {
	State        SubmitState `json:"state"`
	ImportID     string      `json:"import_id,omitempty"`
	Total        int         `json:"total"`
	Processed    int         `json:"processed"`
	Succeeded    int         `json:"succeeded"`
	Failed       int         `json:"failed"`
	CurrentBatch int         `json:"current_batch"`
	TotalBatches int         `json:"total_batches"`
}

// Percent returns the submission progress as a percentage (0-100).
func (p SubmitProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Processed * 100 / p.Total
}

// EventKind distinguishes session events.
type EventKind string

const (
	EventParse  EventKind = "parse"
	EventSubmit EventKind = "submit"
)

// Event is delivered to session subscribers.
type Event struct {
	Kind   EventKind       `json:"kind"`
	Parse  *ParseProgress  `json:"parse,omitempty"`
	Submit *SubmitProgress `json:"submit,omitempty"`
}

// FailedRow is a row whose latest submission result is a failure.
type FailedRow struct {
	Row   Row
	Error string
}
