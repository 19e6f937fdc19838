package core

// session.go holds one operator's import from upload to submission.
//
// A session owns the grid, the error list derived from it, the submitter
// state and the accumulated batch results. Every mutation goes through the
// session lock and re-runs validation before the lock is released, so the
// error list is never stale. Parsing runs on its own goroutine and hands its
// result over with load or fail; submission runs on its own goroutine and
// reports back through Record.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Session is an operator-owned import.
type Session struct {
	ID        string
	Operator  Operator
	CreatedAt time.Time

	validator *Validator

	mu         sync.Mutex
	lastActive time.Time
	fileName   string
	parse      ParseProgress
	parseErr   error
	grid       *Grid
	errs       []ValidationError
	errIdx     ErrorIndex

	state     SubmitState
	progress  SubmitProgress
	importID  string
	results   []BatchResult
	submitted map[string]CasePayload
	lastErr   error
	cancel    context.CancelFunc
	done      chan struct{}

	closeParse context.CancelFunc

	listenerMu sync.Mutex
	listeners  []chan Event
}

// NewSession creates a session awaiting a parsed file.
func NewSession(id string, op Operator, fileName string, v *Validator) *Session {
	if v == nil {
		v = NewValidator()
	}
	now := time.Now()
	return &Session{
		ID:         id,
		Operator:   op,
		CreatedAt:  now,
		validator:  v,
		lastActive: now,
		fileName:   fileName,
		parse:      ParseProgress{Phase: ParseReading},
		state:      SubmitIdle,
		submitted:  make(map[string]CasePayload),
	}
}

// Load installs a parsed file and validates it.
func (s *Session) Load(pf *ParsedFile) {
	s.mu.Lock()
	s.fileName = pf.FileName
	s.grid = NewGrid(pf.FileName, pf.Headers, pf.Rows)
	s.revalidateLocked()
	s.parse = ParseProgress{
		Phase:      ParseComplete,
		Percent:    100,
		RowsRead:   len(pf.Rows),
		BytesRead:  max(s.parse.BytesRead, s.parse.BytesTotal),
		BytesTotal: s.parse.BytesTotal,
	}
	p := s.parse
	s.mu.Unlock()

	s.notify(Event{Kind: EventParse, Parse: &p})
}

// fail records a parse failure. The session keeps no rows.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.parseErr = err
	s.parse.Phase = ParseFailed
	s.parse.Error = err.Error()
	p := s.parse
	s.mu.Unlock()

	s.notify(Event{Kind: EventParse, Parse: &p})
}

// setParseProgress publishes reading progress. Completion and failure are
// published by Load and fail, once the outcome is in place.
func (s *Session) setParseProgress(p ParseProgress) {
	if p.Phase != ParseReading {
		return
	}
	s.mu.Lock()
	if p.Percent < s.parse.Percent {
		p.Percent = s.parse.Percent
	}
	s.parse = p
	s.mu.Unlock()

	s.notify(Event{Kind: EventParse, Parse: &p})
}

func (s *Session) touch() { s.lastActive = time.Now() }

func (s *Session) readyLocked() error {
	switch {
	case s.parseErr != nil:
		return s.parseErr
	case s.grid == nil:
		return ErrSessionNotReady
	}
	return nil
}

func (s *Session) revalidateLocked() {
	s.errs = s.validator.Validate(s.grid.Rows())
	s.errIdx = IndexErrors(s.errs)
}

// SessionSummary is a point-in-time view of a session.
type SessionSummary struct {
	ID          string         `json:"id"`
	Operator    string         `json:"operator,omitempty"`
	FileName    string         `json:"file_name"`
	Headers     []string       `json:"headers,omitempty"`
	Parse       ParseProgress  `json:"parse"`
	TotalRows   int            `json:"total_rows"`
	ValidRows   int            `json:"valid_rows"`
	InvalidRows int            `json:"invalid_rows"`
	ErrorCount  int            `json:"error_count"`
	Submit      SubmitProgress `json:"submit"`
	FailedCases int            `json:"failed_cases"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Summary returns the session's current counts and states.
func (s *Session) Summary() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	sum := SessionSummary{
		ID:        s.ID,
		Operator:  s.Operator.ID,
		FileName:  s.fileName,
		Parse:     s.parse,
		Submit:    s.progress,
		CreatedAt: s.CreatedAt,
	}
	sum.Submit.State = s.state
	sum.Submit.ImportID = s.importID
	if s.lastErr != nil {
		sum.LastError = s.lastErr.Error()
	}
	if s.grid != nil {
		sum.Headers = s.grid.Headers()
		sum.TotalRows = s.grid.Len()
		sum.InvalidRows = len(s.errIdx)
		sum.ValidRows = sum.TotalRows - sum.InvalidRows
		sum.ErrorCount = len(s.errs)
	}
	sum.FailedCases = len(s.latestFailedLocked())
	return sum
}

// GridRow is a row with its per-field error messages.
type GridRow struct {
	Row
	Errors map[Field]string `json:"errors,omitempty"`
}

// GridPage is one page of the review grid.
type GridPage struct {
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalRows  int       `json:"total_rows"`
	TotalPages int       `json:"total_pages"`
	Rows       []GridRow `json:"rows"`
}

// DefaultPageSize and MaxPageSize bound Page requests.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Page returns rows for the review grid. Pages are 1-based; errorsOnly
// restricts the listing to rows with at least one error.
func (s *Session) Page(page, pageSize int, errorsOnly bool) (GridPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err := s.readyLocked(); err != nil {
		return GridPage{}, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page < 1 {
		page = 1
	}

	var indexes []int
	for i := 0; i < s.grid.Len(); i++ {
		if !errorsOnly || s.errIdx.HasErrors(i) {
			indexes = append(indexes, i)
		}
	}

	out := GridPage{
		Page:       page,
		PageSize:   pageSize,
		TotalRows:  len(indexes),
		TotalPages: (len(indexes) + pageSize - 1) / pageSize,
		Rows:       []GridRow{},
	}
	lo := (page - 1) * pageSize
	if lo >= len(indexes) {
		return out, nil
	}
	hi := min(lo+pageSize, len(indexes))
	for _, i := range indexes[lo:hi] {
		row, _ := s.grid.Row(i)
		gr := GridRow{Row: row}
		if byField := s.errIdx[i]; len(byField) > 0 {
			gr.Errors = make(map[Field]string, len(byField))
			for f, e := range byField {
				gr.Errors[f] = e.Message
			}
		}
		out.Rows = append(out.Rows, gr)
	}
	return out, nil
}

// Errors returns the current validation errors in report order.
func (s *Session) Errors() []ValidationError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ValidationError(nil), s.errs...)
}

// ErrorAt returns the error recorded for one cell.
func (s *Session) ErrorAt(row int, field Field) (ValidationError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errIdx.Lookup(row, field)
}

// Rows returns a copy of every row.
func (s *Session) Rows() ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.grid.Rows(), nil
}

// ValidRows returns the rows that currently have no validation errors.
func (s *Session) ValidRows() ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.grid.ValidRows(s.errIdx), nil
}

func (s *Session) editableLocked() error {
	if err := s.readyLocked(); err != nil {
		return err
	}
	if s.state == SubmitSubmitting {
		return ErrSubmissionInProgress
	}
	return nil
}

// UpdateCells applies one or more cell edits in order and re-validates.
func (s *Session) UpdateCells(edits []CellEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err := s.editableLocked(); err != nil {
		return err
	}
	if err := s.grid.Apply(edits); err != nil {
		return err
	}
	s.revalidateLocked()
	return nil
}

// sessionEditor commits correction edits and re-validates after each commit.
// The caller holds s.mu.
type sessionEditor struct{ s *Session }

func (e sessionEditor) Rows() []Row { return e.s.grid.Rows() }

func (e sessionEditor) Apply(edits []CellEdit) error {
	if err := e.s.grid.Apply(edits); err != nil {
		return err
	}
	e.s.revalidateLocked()
	return nil
}

// Correct runs a bulk correction and returns the number of cells changed.
func (s *Session) Correct(name Correction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err := s.editableLocked(); err != nil {
		return 0, err
	}
	return ApplyCorrection(sessionEditor{s}, name)
}

// payloadsLocked builds payloads for rows that pass validation.
func (s *Session) payloadsLocked(rows []Row) []CasePayload {
	payloads := make([]CasePayload, 0, len(rows))
	for _, r := range rows {
		p, err := s.validator.Payload(r)
		if err != nil {
			continue
		}
		payloads = append(payloads, p)
	}
	return payloads
}

// Submit starts sending every valid row. It returns once the import record
// exists; batches are sent in the background. Use Wait or Subscribe to
// follow the run.
func (s *Session) Submit(ctx context.Context, sub *Submitter) error {
	if _, ok := OperatorFromContext(ctx); !ok {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	s.touch()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	switch s.state {
	case SubmitSubmitting:
		s.mu.Unlock()
		return ErrSubmissionInProgress
	case SubmitCompleted, SubmitCancelled:
		s.mu.Unlock()
		return ErrAlreadySubmitted
	}

	payloads := s.payloadsLocked(s.grid.ValidRows(s.errIdx))
	if len(payloads) == 0 {
		s.mu.Unlock()
		return ErrNoValidRows
	}
	fileName := s.grid.FileName()
	runCtx := s.beginLocked(ctx, len(payloads))
	s.mu.Unlock()

	importID, err := sub.Open(ctx, fileName, len(payloads))
	if err != nil {
		s.abort(SubmitIdle, err)
		return err
	}

	s.run(runCtx, sub, importID, payloads)
	return nil
}

// Retry resubmits the rows whose latest result failed, matched by case ID,
// under the same import record. Rows that have since become invalid are
// not sent.
func (s *Session) Retry(ctx context.Context, sub *Submitter) error {
	if _, ok := OperatorFromContext(ctx); !ok {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	s.touch()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	switch s.state {
	case SubmitSubmitting:
		s.mu.Unlock()
		return ErrSubmissionInProgress
	case SubmitCompleted:
	default:
		s.mu.Unlock()
		return ErrRetryNotAllowed
	}

	failed := s.latestFailedLocked()
	var rows []Row
	for _, r := range s.grid.ValidRows(s.errIdx) {
		if _, ok := failed[strings.TrimSpace(r.CaseID)]; ok {
			rows = append(rows, r)
		}
	}
	payloads := s.payloadsLocked(rows)
	if len(payloads) == 0 {
		s.mu.Unlock()
		return ErrNothingToRetry
	}
	importID := s.importID
	succeeded, failedCount := s.totalsLocked()
	runCtx := s.beginLocked(ctx, len(payloads))
	s.mu.Unlock()

	if err := sub.Reopen(ctx, importID, succeeded, failedCount); err != nil {
		s.abort(SubmitCompleted, err)
		return err
	}

	s.run(runCtx, sub, importID, payloads)
	return nil
}

// beginLocked moves the session into SubmitSubmitting and prepares the
// cancellation context for the run. The run context keeps ctx's values
// (the operator) but not its deadline.
func (s *Session) beginLocked(ctx context.Context, total int) context.Context {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.state = SubmitSubmitting
	s.progress = SubmitProgress{State: SubmitSubmitting, Total: total, TotalBatches: (total + BatchSize - 1) / BatchSize}
	s.lastErr = nil
	s.cancel = cancel
	s.done = make(chan struct{})
	return runCtx
}

// abort undoes beginLocked when the import record could not be opened.
func (s *Session) abort(state SubmitState, err error) {
	s.mu.Lock()
	s.state = state
	s.progress.State = state
	s.lastErr = err
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	close(s.done)
	p := s.progress
	s.mu.Unlock()

	s.notify(Event{Kind: EventSubmit, Submit: &p})
}

func (s *Session) run(ctx context.Context, sub *Submitter, importID string, payloads []CasePayload) {
	s.mu.Lock()
	s.importID = importID
	s.progress.ImportID = importID
	for _, p := range payloads {
		s.submitted[p.CaseID] = p
	}
	done := s.done
	s.mu.Unlock()

	go func() {
		var (
			progress SubmitProgress
			err      error
		)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in submission", "session_id", s.ID, "import_id", importID, "panic", r)
				s.mu.Lock()
				progress = s.progress
				s.mu.Unlock()
				progress.State = SubmitCompleted
				err = fmt.Errorf("submission aborted: %v", r)
				if _, ferr := sub.finalize(ctx, importID, true, s); ferr != nil {
					slog.Error("finalize import failed", "import_id", importID, "error", ferr)
				}
			}

			s.mu.Lock()
			s.state = progress.State
			s.progress = progress
			s.lastErr = err
			if s.cancel != nil {
				s.cancel()
				s.cancel = nil
			}
			p := s.progress
			s.mu.Unlock()

			s.notify(Event{Kind: EventSubmit, Submit: &p})
			close(done)
		}()

		progress, err = sub.Run(ctx, importID, payloads, s)
	}()
}

// Record implements SubmitSink.
func (s *Session) Record(results []BatchResult, progress SubmitProgress) {
	s.mu.Lock()
	s.results = append(s.results, results...)
	s.progress = progress
	s.mu.Unlock()

	s.notify(Event{Kind: EventSubmit, Submit: &progress})
}

// Totals implements SubmitSink.
func (s *Session) Totals() (succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalsLocked()
}

func (s *Session) totalsLocked() (succeeded, failed int) {
	for _, r := range s.latestLocked() {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// latestLocked returns the most recent result per case ID.
func (s *Session) latestLocked() map[string]BatchResult {
	latest := make(map[string]BatchResult, len(s.results))
	for _, r := range s.results {
		latest[r.CaseID] = r
	}
	return latest
}

// latestFailedLocked returns case ID -> error for cases whose latest result failed.
func (s *Session) latestFailedLocked() map[string]string {
	failed := make(map[string]string)
	for id, r := range s.latestLocked() {
		if !r.Success {
			failed[id] = r.Error
		}
	}
	return failed
}

// Cancel requests that no further batches start. The batch in flight, if
// any, completes.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.state != SubmitSubmitting || s.cancel == nil {
		return ErrNotSubmitting
	}
	s.cancel()
	return nil
}

// Wait blocks until the current submission finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the submitter state.
func (s *Session) State() SubmitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error from the last submission step, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Results returns every batch result recorded so far, in arrival order.
func (s *Session) Results() []BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BatchResult(nil), s.results...)
}

// FailedRows returns the rows whose latest result failed, ordered by row
// index, each with its latest error. A failed case whose row no longer
// carries that case ID is reported from the payload that was sent.
func (s *Session) FailedRows() []FailedRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := s.latestFailedLocked()
	if len(failed) == 0 || s.grid == nil {
		return nil
	}

	out := make([]FailedRow, 0, len(failed))
	seen := make(map[string]bool, len(failed))
	for _, r := range s.grid.Rows() {
		id := strings.TrimSpace(r.CaseID)
		msg, ok := failed[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, FailedRow{Row: r, Error: msg})
	}

	// Results keep arrival order; use it for cases no longer in the grid.
	for _, res := range s.results {
		msg, ok := failed[res.CaseID]
		if !ok || seen[res.CaseID] {
			continue
		}
		seen[res.CaseID] = true
		p := s.submitted[res.CaseID]
		out = append(out, FailedRow{
			Row: Row{
				Index:         -1,
				CaseID:        res.CaseID,
				ApplicantName: p.ApplicantName,
				DOB:           p.DOB,
				Email:         p.Email,
				Phone:         p.Phone,
				Category:      p.Category,
				Priority:      p.Priority,
			},
			Error: msg,
		})
	}
	return out
}

// IdleFor reports how long the session has gone without a request.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// Busy reports whether the session is parsing or submitting.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == SubmitSubmitting || (s.grid == nil && s.parseErr == nil)
}

// Subscribe returns a channel of session events. The current parse or
// submit state is sent immediately. Call the returned func to unsubscribe.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 10)

	s.mu.Lock()
	first := Event{Kind: EventParse, Parse: ptr(s.parse)}
	if s.state != SubmitIdle {
		p := s.progress
		p.State = s.state
		first = Event{Kind: EventSubmit, Submit: &p}
	}
	s.mu.Unlock()
	ch <- first

	s.listenerMu.Lock()
	s.listeners = append(s.listeners, ch)
	s.listenerMu.Unlock()

	return ch, func() { s.unsubscribe(ch) }
}

func (s *Session) unsubscribe(ch chan Event) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	for i, l := range s.listeners {
		if l == ch {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// notify fans an event out to subscribers without blocking on slow readers.
func (s *Session) notify(ev Event) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops any parse or submission and releases subscribers.
func (s *Session) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.closeParse != nil {
		s.closeParse()
	}
	s.mu.Unlock()

	s.listenerMu.Lock()
	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
	s.listenerMu.Unlock()
}

func ptr[T any](v T) *T { return &v }
