package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

const sessionHeader = "case_id,applicant_name,dob,email,phone,category,priority\n"

func csvRows(n int) string {
	var b strings.Builder
	b.WriteString(sessionHeader)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "C-%03d,Applicant %d,1990-03-14,a%d@example.com,9876543210,TAX,LOW\n", i, i, i)
	}
	return b.String()
}

func ctxFor(id string) context.Context {
	return ContextWithOperator(context.Background(), Operator{ID: id, Name: id})
}

// startParsed starts an import and waits until parsing settles.
func startParsed(t *testing.T, svc *Service, ctx context.Context, data string) *Session {
	t.Helper()
	sess, err := svc.StartImport(ctx, "applicants.csv", strings.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Summary().Parse.Phase != ParseReading {
			return sess
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("parse did not finish")
	return nil
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSession_ParseAndValidate(t *testing.T) {
	svc := NewService(newFakeGateway(), Options{})
	data := sessionHeader +
		"C-1,Asha Rao,1990-03-14,asha@example.com,9876543210,TAX,HIGH\n" +
		"C-2,,1990-03-14,,,TAX,\n" +
		"C-1,Ravi,1985-01-01,,,PERMIT,LOW\n"

	sess := startParsed(t, svc, ctxFor("op-1"), data)
	sum := sess.Summary()

	if sum.Parse.Phase != ParseComplete || sum.Parse.Percent != 100 {
		t.Fatalf("parse = %+v", sum.Parse)
	}
	if sum.TotalRows != 3 || sum.ValidRows != 1 || sum.InvalidRows != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if _, ok := sess.ErrorAt(1, FieldApplicantName); !ok {
		t.Error("missing applicant name not reported on row 1")
	}
	if e, ok := sess.ErrorAt(2, FieldCaseID); !ok || !strings.Contains(e.Message, "row 1") {
		t.Errorf("duplicate error = %+v, %v", e, ok)
	}
}

func TestSession_ParseFailure(t *testing.T) {
	svc := NewService(newFakeGateway(), Options{})
	sess := startParsed(t, svc, ctxFor("op-1"), "case_id,applicant_name\n")

	sum := sess.Summary()
	if sum.Parse.Phase != ParseFailed || sum.Parse.Error == "" {
		t.Fatalf("parse = %+v", sum.Parse)
	}
	if _, err := sess.Rows(); err == nil {
		t.Error("Rows succeeded after a parse failure")
	}
	if err := svc.Submit(ctxFor("op-1"), sess.ID); err == nil {
		t.Error("Submit succeeded after a parse failure")
	}
}

func TestSession_EditRevalidates(t *testing.T) {
	svc := NewService(newFakeGateway(), Options{})
	data := sessionHeader + "C-1,Asha,1990-03-14,not-an-email,,TAX,\n"
	sess := startParsed(t, svc, ctxFor("op-1"), data)

	if _, ok := sess.ErrorAt(0, FieldEmail); !ok {
		t.Fatal("bad email not reported")
	}
	if err := sess.UpdateCells([]CellEdit{{Row: 0, Field: "email", Value: "asha@example.com"}}); err != nil {
		t.Fatalf("UpdateCells: %v", err)
	}
	if _, ok := sess.ErrorAt(0, FieldEmail); ok {
		t.Error("email error still reported after the fix")
	}
	if n := len(sess.Errors()); n != 0 {
		t.Errorf("got %d errors, want 0", n)
	}
}

func TestSession_RowIdentityStableAcrossEdits(t *testing.T) {
	svc := NewService(newFakeGateway(), Options{})
	sess := startParsed(t, svc, ctxFor("op-1"), csvRows(3))

	before, _ := sess.Rows()
	if err := sess.UpdateCells([]CellEdit{{Row: 1, Field: "applicant_name", Value: "  ravi kumar "}}); err != nil {
		t.Fatalf("UpdateCells: %v", err)
	}
	if _, err := sess.Correct(CorrectAll); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	after, _ := sess.Rows()
	if len(after) != len(before) {
		t.Fatalf("got %d rows after edits, want %d", len(after), len(before))
	}
	for i, r := range after {
		if r.Index != i || r.CaseID != before[i].CaseID {
			t.Errorf("row %d = index %d case %q, want index %d case %q", i, r.Index, r.CaseID, i, before[i].CaseID)
		}
	}
	if got := after[1].ApplicantName; got != "Ravi Kumar" {
		t.Errorf("row 1 name = %q, want %q", got, "Ravi Kumar")
	}
}

func TestSession_CorrectRevalidates(t *testing.T) {
	svc := NewService(newFakeGateway(), Options{})
	data := sessionHeader + "C-1,Asha,1990-03-14,,12345 ,TAX,low\n"
	sess := startParsed(t, svc, ctxFor("op-1"), data)

	if len(sess.Errors()) == 0 {
		t.Fatal("expected errors before correction")
	}
	if _, err := sess.Correct(CorrectTrim); err != nil {
		t.Fatalf("Correct: %v", err)
	}
	rows, _ := sess.Rows()
	if rows[0].Phone != "12345" {
		t.Errorf("phone = %q, want trimmed", rows[0].Phone)
	}
	if _, err := sess.Correct("nope"); !errors.Is(err, ErrUnknownFix) {
		t.Errorf("got %v, want ErrUnknownFix", err)
	}
}

func TestSession_SubmitSendsOnlyValidRows(t *testing.T) {
	gw := newFakeGateway()
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")

	data := csvRows(3) + "C-bad!,Broken,1990-03-14,,,TAX,LOW\n"
	sess := startParsed(t, svc, ctx, data)

	if err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, sess)

	if sess.State() != SubmitCompleted {
		t.Fatalf("state = %s", sess.State())
	}
	if len(gw.batches) != 1 || len(gw.batches[0]) != 3 {
		t.Fatalf("batches = %v", gw.batches)
	}
	if gw.created[0].TotalRows != 3 || gw.created[0].CreatedBy != "op-1" {
		t.Errorf("import record = %+v", gw.created[0])
	}
	if p := gw.batches[0][0]; p.Phone != "+919876543210" || p.DOB != "1990-03-14" {
		t.Errorf("payload not normalized: %+v", p)
	}

	if err := svc.Submit(ctx, sess.ID); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("second Submit = %v, want ErrAlreadySubmitted", err)
	}
}

func TestSession_SubmitWithoutValidRows(t *testing.T) {
	gw := newFakeGateway()
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")
	sess := startParsed(t, svc, ctx, sessionHeader+"C-1,,,,,,\n")

	if err := svc.Submit(ctx, sess.ID); !errors.Is(err, ErrNoValidRows) {
		t.Fatalf("got %v, want ErrNoValidRows", err)
	}
	if len(gw.created) != 0 {
		t.Error("import record created without valid rows")
	}
	if sess.State() != SubmitIdle {
		t.Errorf("state = %s, want idle", sess.State())
	}
}

func TestSession_SubmitOpenFailureStaysIdle(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr = errors.New("connection refused")
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")
	sess := startParsed(t, svc, ctx, csvRows(2))

	if err := svc.Submit(ctx, sess.ID); err == nil {
		t.Fatal("Submit succeeded without an import record")
	}
	if sess.State() != SubmitIdle || sess.LastError() == nil {
		t.Errorf("state = %s, lastErr = %v", sess.State(), sess.LastError())
	}

	gw.mu.Lock()
	gw.createErr = nil
	gw.mu.Unlock()
	if err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("Submit after recovery: %v", err)
	}
	waitDone(t, sess)
}

func TestSession_RetryResendsFailedRows(t *testing.T) {
	gw := newFakeGateway()
	gw.reject["C-001"] = "Applicant already has an open case"
	gw.reject["C-002"] = "Applicant already has an open case"
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")
	sess := startParsed(t, svc, ctx, csvRows(4))

	if err := svc.Retry(ctx, sess.ID); !errors.Is(err, ErrRetryNotAllowed) {
		t.Errorf("Retry before Submit = %v, want ErrRetryNotAllowed", err)
	}

	if err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, sess)

	failed := sess.FailedRows()
	if len(failed) != 2 || failed[0].Row.CaseID != "C-001" || failed[1].Row.CaseID != "C-002" {
		t.Fatalf("FailedRows = %+v", failed)
	}

	// C-002 becomes invalid; only C-001 is retried.
	if err := sess.UpdateCells([]CellEdit{{Row: 2, Field: "category", Value: "OTHER"}}); err != nil {
		t.Fatalf("UpdateCells: %v", err)
	}
	gw.mu.Lock()
	delete(gw.reject, "C-001")
	gw.mu.Unlock()

	if err := svc.Retry(ctx, sess.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitDone(t, sess)

	if len(gw.created) != 1 {
		t.Errorf("retry created a new import record")
	}
	last := gw.batches[len(gw.batches)-1]
	if len(last) != 1 || last[0].CaseID != "C-001" {
		t.Errorf("retry batch = %+v", last)
	}

	failed = sess.FailedRows()
	if len(failed) != 1 || failed[0].Row.CaseID != "C-002" {
		t.Errorf("FailedRows after retry = %+v", failed)
	}
	if upd := gw.lastUpdate(); upd.SuccessCount != 3 || upd.FailureCount != 1 || upd.Status != ImportCompleted {
		t.Errorf("final update = %+v", upd)
	}

	if err := svc.Retry(ctx, sess.ID); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("Retry with only invalid failures = %v, want ErrNothingToRetry", err)
	}
}

func TestSession_FailedRowsKeepSubmittedValues(t *testing.T) {
	gw := newFakeGateway()
	gw.reject["C-000"] = "rejected"
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")
	sess := startParsed(t, svc, ctx, csvRows(1))

	if err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, sess)

	if err := sess.UpdateCells([]CellEdit{{Row: 0, Field: "case_id", Value: "C-NEW"}}); err != nil {
		t.Fatalf("UpdateCells: %v", err)
	}
	failed := sess.FailedRows()
	if len(failed) != 1 || failed[0].Row.Index != -1 || failed[0].Row.CaseID != "C-000" || failed[0].Error != "rejected" {
		t.Errorf("FailedRows = %+v", failed)
	}
}

func TestSession_EditsRejectedWhileSubmitting(t *testing.T) {
	gw := newFakeGateway()
	release := make(chan struct{})
	gw.onBatch = func(int) { <-release }
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")
	sess := startParsed(t, svc, ctx, csvRows(2))

	if err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := sess.UpdateCells([]CellEdit{{Row: 0, Field: "priority", Value: "HIGH"}}); !errors.Is(err, ErrSubmissionInProgress) {
		t.Errorf("UpdateCells = %v, want ErrSubmissionInProgress", err)
	}
	if err := svc.Submit(ctx, sess.ID); !errors.Is(err, ErrSubmissionInProgress) {
		t.Errorf("Submit = %v, want ErrSubmissionInProgress", err)
	}

	close(release)
	waitDone(t, sess)
}

func TestSession_Cancel(t *testing.T) {
	gw := newFakeGateway()
	inFlight := make(chan struct{})
	release := make(chan struct{})
	gw.onBatch = func(n int) {
		if n == 1 {
			close(inFlight)
			<-release
		}
	}
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")
	sess := startParsed(t, svc, ctx, csvRows(250))

	if err := svc.Cancel(ctx, sess.ID); !errors.Is(err, ErrNotSubmitting) {
		t.Errorf("Cancel before Submit = %v, want ErrNotSubmitting", err)
	}
	if err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-inFlight
	if err := svc.Cancel(ctx, sess.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)
	waitDone(t, sess)

	if sess.State() != SubmitCancelled {
		t.Errorf("state = %s, want cancelled", sess.State())
	}
	if got := len(sess.Results()); got != 100 {
		t.Errorf("recorded %d results, want 100 from the in-flight batch", got)
	}
	if upd := gw.lastUpdate(); upd.Status != ImportFailed {
		t.Errorf("import status = %s, want FAILED", upd.Status)
	}
	if err := svc.Retry(ctx, sess.ID); !errors.Is(err, ErrRetryNotAllowed) {
		t.Errorf("Retry after cancel = %v, want ErrRetryNotAllowed", err)
	}
}

func TestSession_SubscribeReportsProgress(t *testing.T) {
	gw := newFakeGateway()
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")
	sess := startParsed(t, svc, ctx, csvRows(150))

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	first := <-events
	if first.Kind != EventParse || first.Parse.Phase != ParseComplete {
		t.Fatalf("first event = %+v", first)
	}

	if err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind != EventSubmit {
				continue
			}
			if ev.Submit.State == SubmitCompleted {
				if ev.Submit.Processed != 150 || ev.Submit.Percent() != 100 {
					t.Errorf("final progress = %+v", ev.Submit)
				}
				return
			}
		case <-timeout:
			t.Fatal("no completion event")
		}
	}
}

func TestService_SessionOwnership(t *testing.T) {
	svc := NewService(newFakeGateway(), Options{})
	sess := startParsed(t, svc, ctxFor("alice"), csvRows(1))

	if _, err := svc.Session(ctxFor("bob"), sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("other operator got %v, want ErrSessionNotFound", err)
	}
	if err := svc.Submit(ctxFor("bob"), sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("other operator Submit = %v, want ErrSessionNotFound", err)
	}
	if _, err := svc.Session(ctxFor("alice"), sess.ID); err != nil {
		t.Errorf("owner lookup: %v", err)
	}
}

func TestService_NewImportReplacesPrevious(t *testing.T) {
	svc := NewService(newFakeGateway(), Options{})
	ctx := ctxFor("op-1")

	first := startParsed(t, svc, ctx, csvRows(1))
	second := startParsed(t, svc, ctx, csvRows(2))

	if _, err := svc.Session(ctx, first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("previous session still reachable: %v", err)
	}
	if _, err := svc.Session(ctx, second.ID); err != nil {
		t.Errorf("new session: %v", err)
	}
	if n := svc.ActiveSessions(); n != 1 {
		t.Errorf("ActiveSessions = %d, want 1", n)
	}

	if err := svc.DropSession(ctx, second.ID); err != nil {
		t.Fatalf("DropSession: %v", err)
	}
	if n := svc.ActiveSessions(); n != 0 {
		t.Errorf("ActiveSessions after drop = %d, want 0", n)
	}
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error { c.closed = true; return nil }

func TestService_RejectedFileIsClosed(t *testing.T) {
	svc := NewService(newFakeGateway(), Options{MaxFileSize: 10})
	r := &closeTracker{Reader: strings.NewReader("case_id\n")}

	_, err := svc.StartImport(ctxFor("op-1"), "big.csv", r, 11)
	var rejected *FileRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("got %v, want *FileRejectedError", err)
	}
	if !r.closed {
		t.Error("reader was not closed")
	}
	if svc.ActiveSessions() != 0 {
		t.Error("session registered for a rejected file")
	}
}

func TestService_Shutdown(t *testing.T) {
	gw := newFakeGateway()
	inFlight := make(chan struct{}, 1)
	gw.onBatch = func(n int) {
		if n == 1 {
			inFlight <- struct{}{}
			time.Sleep(20 * time.Millisecond)
		}
	}
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")
	sess := startParsed(t, svc, ctx, csvRows(300))

	if err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-inFlight

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if sess.State() != SubmitCancelled {
		t.Errorf("state after shutdown = %s, want cancelled", sess.State())
	}
	if len(gw.batches) != 1 {
		t.Errorf("sent %d batches, want 1", len(gw.batches))
	}
}

func TestSession_ParseCompleteOnlyOnceRowsLoaded(t *testing.T) {
	sess := NewSession("s-1", Operator{ID: "op-1"}, "applicants.csv", nil)
	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	<-events // current state

	data := csvRows(3)
	pf, err := NewIngestor(0, 0).Parse(context.Background(), "applicants.csv", strings.NewReader(data), int64(len(data)), sess.setParseProgress)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := sess.Summary().Parse.Phase; got != ParseReading {
		t.Fatalf("phase before Load = %s, want %s", got, ParseReading)
	}

	sess.Load(pf)
	for {
		select {
		case ev := <-events:
			if ev.Parse == nil || ev.Parse.Phase != ParseComplete {
				continue
			}
			rows, err := sess.Rows()
			if err != nil {
				t.Fatalf("Rows after complete event: %v", err)
			}
			if len(rows) != 3 || ev.Parse.Percent != 100 {
				t.Errorf("rows = %d percent = %d, want 3 and 100", len(rows), ev.Parse.Percent)
			}
			return
		case <-time.After(time.Second):
			t.Fatal("no complete event")
		}
	}
}

func TestSession_PanicKeepsProgressAndFailsImport(t *testing.T) {
	gw := newFakeGateway()
	gw.onBatch = func(n int) {
		if n == 2 {
			panic("gateway blew up")
		}
	}
	svc := NewService(gw, Options{})
	ctx := ctxFor("op-1")
	sess := startParsed(t, svc, ctx, csvRows(150))

	if err := svc.Submit(ctx, sess.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, sess)

	sum := sess.Summary()
	if sum.Submit.Processed != 100 || sum.Submit.Succeeded != 100 || sum.Submit.Total != 150 {
		t.Errorf("progress = %+v, want the first batch kept", sum.Submit)
	}
	if sum.Submit.State != SubmitCompleted || !strings.Contains(sum.LastError, "aborted") {
		t.Errorf("state = %s last error = %q", sum.Submit.State, sum.LastError)
	}
	upd := gw.lastUpdate()
	if upd.Status != ImportFailed || upd.SuccessCount != 100 || upd.FailureCount != 0 {
		t.Errorf("import update = %+v, want FAILED with 100 successes", upd)
	}
}
