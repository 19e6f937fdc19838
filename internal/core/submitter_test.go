package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeGateway records every call and answers from configurable hooks.
type fakeGateway struct {
	mu sync.Mutex

	importID  string
	created   []ImportRecord
	updates   []ImportUpdate
	batches   [][]CasePayload
	createErr error

	// failBatch makes the n-th CreateCases call (1-based) fail at the transport level.
	failBatch map[int]bool
	// reject makes individual case IDs fail with a per-row error.
	reject map[string]string
	// onBatch runs before a batch is answered.
	onBatch func(n int)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{importID: "imp-1", failBatch: map[int]bool{}, reject: map[string]string{}}
}

func (g *fakeGateway) CreateImport(ctx context.Context, rec ImportRecord) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.created = append(g.created, rec)
	return g.importID, nil
}

func (g *fakeGateway) UpdateImport(ctx context.Context, id string, upd ImportUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, upd)
	return nil
}

func (g *fakeGateway) CreateCases(ctx context.Context, id string, cases []CasePayload) ([]BatchResult, error) {
	g.mu.Lock()
	g.batches = append(g.batches, append([]CasePayload(nil), cases...))
	n := len(g.batches)
	hook := g.onBatch
	fail := g.failBatch[n]
	g.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if fail {
		return nil, errors.New("connection reset by peer")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]BatchResult, len(cases))
	for i, c := range cases {
		if msg, ok := g.reject[c.CaseID]; ok {
			out[i] = BatchResult{CaseID: c.CaseID, Error: msg}
			continue
		}
		out[i] = BatchResult{Success: true, CaseID: c.CaseID, CreatedID: "case-" + c.CaseID}
	}
	return out, nil
}

func (g *fakeGateway) lastUpdate() ImportUpdate {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.updates) == 0 {
		return ImportUpdate{}
	}
	return g.updates[len(g.updates)-1]
}

// recordingSink is a SubmitSink that keeps everything in memory.
type recordingSink struct {
	mu       sync.Mutex
	results  []BatchResult
	progress []SubmitProgress
}

func (s *recordingSink) Record(results []BatchResult, p SubmitProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, results...)
	s.progress = append(s.progress, p)
}

func (s *recordingSink) Totals() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok, failed int
	for _, r := range s.results {
		if r.Success {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

func payloads(n int) []CasePayload {
	out := make([]CasePayload, n)
	for i := range out {
		out[i] = CasePayload{CaseID: fmt.Sprintf("C-%03d", i), ApplicantName: "A", DOB: "1990-01-01", Category: "TAX", Priority: "LOW"}
	}
	return out
}

func operatorCtx() context.Context {
	return ContextWithOperator(context.Background(), Operator{ID: "op-1"})
}

func TestSubmitter_BatchesInOrder(t *testing.T) {
	gw := newFakeGateway()
	sub := NewSubmitter(gw, time.Second)
	sink := &recordingSink{}

	progress, err := sub.Run(operatorCtx(), "imp-1", payloads(250), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.batches) != 3 {
		t.Fatalf("sent %d batches, want 3", len(gw.batches))
	}
	for i, want := range []int{100, 100, 50} {
		if got := len(gw.batches[i]); got != want {
			t.Errorf("batch %d has %d rows, want %d", i+1, got, want)
		}
	}
	next := 0
	for _, b := range gw.batches {
		for _, p := range b {
			if want := fmt.Sprintf("C-%03d", next); p.CaseID != want {
				t.Fatalf("payload %d is %s, want %s", next, p.CaseID, want)
			}
			next++
		}
	}

	if progress.State != SubmitCompleted || progress.Processed != 250 || progress.Succeeded != 250 {
		t.Errorf("progress = %+v", progress)
	}
	if len(sink.progress) != 3 {
		t.Fatalf("got %d progress reports, want 3", len(sink.progress))
	}
	for i, p := range sink.progress {
		if p.CurrentBatch != i+1 || p.TotalBatches != 3 {
			t.Errorf("report %d = %+v", i, p)
		}
	}

	if upd := gw.lastUpdate(); upd.Status != ImportCompleted || upd.SuccessCount != 250 || upd.FailureCount != 0 {
		t.Errorf("final update = %+v", upd)
	}
}

func TestSubmitter_TransportFailureIsIsolated(t *testing.T) {
	gw := newFakeGateway()
	gw.failBatch[2] = true
	sub := NewSubmitter(gw, time.Second)
	sink := &recordingSink{}

	progress, err := sub.Run(operatorCtx(), "imp-1", payloads(250), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.batches) != 3 {
		t.Fatalf("sent %d batches, want 3 (batch 3 must still run)", len(gw.batches))
	}
	if progress.Processed != 250 || progress.Succeeded != 150 || progress.Failed != 100 {
		t.Errorf("progress = %+v", progress)
	}

	for i, r := range sink.results[100:200] {
		if r.Success {
			t.Fatalf("row %d of batch 2 marked successful", i)
		}
		if !strings.Contains(r.Error, "retry") {
			t.Errorf("row %d error %q should suggest a retry", i, r.Error)
		}
		if r.CaseID != fmt.Sprintf("C-%03d", 100+i) {
			t.Errorf("row %d case id = %s", i, r.CaseID)
		}
	}
	if upd := gw.lastUpdate(); upd.Status != ImportCompleted || upd.SuccessCount != 150 || upd.FailureCount != 100 {
		t.Errorf("final update = %+v", upd)
	}
}

func TestSubmitter_RowRejectionsAreVerbatim(t *testing.T) {
	gw := newFakeGateway()
	gw.reject["C-001"] = "Case ID already exists"
	sink := &recordingSink{}

	if _, err := NewSubmitter(gw, time.Second).Run(operatorCtx(), "imp-1", payloads(3), sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []BatchResult{
		{Success: true, CaseID: "C-000", CreatedID: "case-C-000"},
		{CaseID: "C-001", Error: "Case ID already exists"},
		{Success: true, CaseID: "C-002", CreatedID: "case-C-002"},
	}
	for i := range want {
		if sink.results[i] != want[i] {
			t.Errorf("result %d = %+v, want %+v", i, sink.results[i], want[i])
		}
	}
}

func TestSubmitter_CancelBetweenBatches(t *testing.T) {
	gw := newFakeGateway()
	ctx, cancel := context.WithCancel(operatorCtx())
	defer cancel()

	// Cancel while batch 1 is in flight: batch 1 completes, batch 2 never starts.
	gw.onBatch = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	sink := &recordingSink{}
	progress, err := NewSubmitter(gw, time.Second).Run(ctx, "imp-1", payloads(250), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(gw.batches) != 1 {
		t.Errorf("sent %d batches, want 1", len(gw.batches))
	}
	if len(sink.results) != 100 || !sink.results[0].Success {
		t.Errorf("in-flight batch was not recorded: %d results", len(sink.results))
	}
	if progress.State != SubmitCancelled || progress.Processed != 100 {
		t.Errorf("progress = %+v", progress)
	}
	if upd := gw.lastUpdate(); upd.Status != ImportFailed {
		t.Errorf("import finalized as %s, want FAILED", upd.Status)
	}
}

func TestSubmitter_AllFailedFinalizesAsFailed(t *testing.T) {
	gw := newFakeGateway()
	gw.failBatch[1] = true
	sink := &recordingSink{}

	if _, err := NewSubmitter(gw, time.Second).Run(operatorCtx(), "imp-1", payloads(10), sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if upd := gw.lastUpdate(); upd.Status != ImportFailed || upd.FailureCount != 10 {
		t.Errorf("final update = %+v", upd)
	}
}

type shortGateway struct{ *fakeGateway }

func (g shortGateway) CreateCases(ctx context.Context, id string, cases []CasePayload) ([]BatchResult, error) {
	res, err := g.fakeGateway.CreateCases(ctx, id, cases)
	return res[:1], err
}

func TestSubmitter_MissingResultsAreFailures(t *testing.T) {
	gw := shortGateway{newFakeGateway()}
	sink := &recordingSink{}

	progress, err := NewSubmitter(gw, time.Second).Run(operatorCtx(), "imp-1", payloads(3), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.results) != 3 || progress.Failed != 2 {
		t.Fatalf("results = %+v, progress = %+v", sink.results, progress)
	}
	if sink.results[2].CaseID != "C-002" || sink.results[2].Error != MissingResultMessage {
		t.Errorf("padded result = %+v", sink.results[2])
	}
}

type slowGateway struct {
	*fakeGateway
	delay time.Duration
}

func (g slowGateway) CreateCases(ctx context.Context, id string, cases []CasePayload) ([]BatchResult, error) {
	select {
	case <-time.After(g.delay):
		return g.fakeGateway.CreateCases(ctx, id, cases)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSubmitter_RequestTimeoutIsTransportFailure(t *testing.T) {
	gw := slowGateway{fakeGateway: newFakeGateway(), delay: time.Second}
	sink := &recordingSink{}

	progress, err := NewSubmitter(gw, 20*time.Millisecond).Run(operatorCtx(), "imp-1", payloads(2), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if progress.Failed != 2 || sink.results[0].Error != TransportFailureMessage {
		t.Errorf("progress = %+v, results = %+v", progress, sink.results)
	}
}

func TestSubmitter_Open(t *testing.T) {
	gw := newFakeGateway()
	sub := NewSubmitter(gw, time.Second)

	if _, err := sub.Open(context.Background(), "a.csv", 10); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("without operator: got %v, want ErrNotAuthenticated", err)
	}
	if _, err := sub.Open(operatorCtx(), "a.csv", 0); !errors.Is(err, ErrNoValidRows) {
		t.Errorf("zero rows: got %v, want ErrNoValidRows", err)
	}

	id, err := sub.Open(operatorCtx(), "a.csv", 10)
	if err != nil || id != "imp-1" {
		t.Fatalf("Open = %q, %v", id, err)
	}
	want := ImportRecord{FileName: "a.csv", TotalRows: 10, CreatedBy: "op-1"}
	if gw.created[0] != want {
		t.Errorf("created %+v, want %+v", gw.created[0], want)
	}

	gw.createErr = errors.New("boom")
	if _, err := sub.Open(operatorCtx(), "a.csv", 10); err == nil {
		t.Error("expected error from CreateImport")
	}
}
