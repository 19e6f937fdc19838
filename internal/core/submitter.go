package core

// submitter.go sends validated rows to the case gateway.
//
// Rows go out in contiguous batches of BatchSize in ascending row order, one
// request at a time. A batch whose request fails outright marks every row in
// it as failed and the run moves on; per-row rejections come back from the
// gateway and are recorded as-is. Cancellation is observed only between
// batches: the request for a batch already sent runs to completion, bounded
// by the request timeout.

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BatchSize is the number of rows sent per case-creation request.
const BatchSize = 100

// DefaultRequestTimeout bounds each gateway request.
const DefaultRequestTimeout = 30 * time.Second

// TransportFailureMessage is recorded for every row of a batch whose request failed.
const TransportFailureMessage = "Batch request failed before the server answered; please retry these rows"

// MissingResultMessage is recorded when the gateway answers with fewer results than rows.
const MissingResultMessage = "No result returned for this row; please retry"

// SubmitSink receives per-batch results while a submission runs.
type SubmitSink interface {
	// Record is called once after every batch, with that batch's results.
	Record(results []BatchResult, progress SubmitProgress)
	// Totals returns aggregate successes and failures across every run
	// of the import, used when finalizing the import record.
	Totals() (succeeded, failed int)
}

// Submitter drives batch submission against a CaseGateway.
type Submitter struct {
	gw        CaseGateway
	timeout   time.Duration
	batchSize int
}

// NewSubmitter creates a submitter. A zero timeout uses DefaultRequestTimeout.
func NewSubmitter(gw CaseGateway, requestTimeout time.Duration) *Submitter {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Submitter{gw: gw, timeout: requestTimeout, batchSize: BatchSize}
}

// Gateway returns the gateway the submitter writes to.
func (s *Submitter) Gateway() CaseGateway { return s.gw }

func (s *Submitter) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// Open creates the import record that tags every batch of a submission.
func (s *Submitter) Open(ctx context.Context, fileName string, totalRows int) (string, error) {
	op, ok := OperatorFromContext(ctx)
	if !ok {
		return "", ErrNotAuthenticated
	}
	if totalRows == 0 {
		return "", ErrNoValidRows
	}

	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()

	id, err := s.gw.CreateImport(reqCtx, ImportRecord{
		FileName:  fileName,
		TotalRows: totalRows,
		CreatedBy: op.ID,
	})
	if err != nil {
		return "", fmt.Errorf("create import record: %w", err)
	}
	return id, nil
}

// Reopen marks an existing import as processing again before a retry.
func (s *Submitter) Reopen(ctx context.Context, importID string, succeeded, failed int) error {
	if _, ok := OperatorFromContext(ctx); !ok {
		return ErrNotAuthenticated
	}

	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()

	err := s.gw.UpdateImport(reqCtx, importID, ImportUpdate{
		Status:       ImportProcessing,
		SuccessCount: succeeded,
		FailureCount: failed,
	})
	if err != nil {
		return fmt.Errorf("reopen import %s: %w", importID, err)
	}
	return nil
}

// Run submits payloads under importID and finalizes the import record.
// Cancelling ctx stops the run before the next batch. The returned progress
// carries the terminal state (SubmitCompleted or SubmitCancelled); the error
// is non-nil only when finalizing the import record failed.
func (s *Submitter) Run(ctx context.Context, importID string, payloads []CasePayload, sink SubmitSink) (SubmitProgress, error) {
	total := len(payloads)
	progress := SubmitProgress{
		State:        SubmitSubmitting,
		ImportID:     importID,
		Total:        total,
		TotalBatches: (total + s.batchSize - 1) / s.batchSize,
	}
	log := slog.With("import_id", importID)
	log.Info("submission started", "rows", total, "batches", progress.TotalBatches)
	start := time.Now()

	cancelled := false
	for b := 0; b < progress.TotalBatches; b++ {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		lo := b * s.batchSize
		hi := min(lo+s.batchSize, total)
		results := s.sendBatch(ctx, log, importID, b, payloads[lo:hi])

		progress.CurrentBatch = b + 1
		progress.Processed += hi - lo
		for _, r := range results {
			if r.Success {
				progress.Succeeded++
			} else {
				progress.Failed++
			}
		}
		sink.Record(results, progress)
	}

	progress.State = SubmitCompleted
	if cancelled {
		progress.State = SubmitCancelled
	}

	status, err := s.finalize(ctx, importID, cancelled, sink)

	log.Info("submission finished",
		"state", progress.State,
		"import_status", status,
		"processed", progress.Processed,
		"succeeded", progress.Succeeded,
		"failed", progress.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err != nil {
		log.Error("finalize import failed", "error", err)
		return progress, err
	}
	return progress, nil
}

// finalize writes the import's terminal status and cumulative counts. An
// aborted run is always FAILED.
func (s *Submitter) finalize(ctx context.Context, importID string, aborted bool, sink SubmitSink) (ImportStatus, error) {
	succeeded, failed := sink.Totals()
	status := ImportCompleted
	if aborted || (succeeded == 0 && failed > 0) {
		status = ImportFailed
	}

	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()
	err := s.gw.UpdateImport(reqCtx, importID, ImportUpdate{
		Status:       status,
		SuccessCount: succeeded,
		FailureCount: failed,
	})
	if err != nil {
		return status, fmt.Errorf("finalize import %s: %w", importID, err)
	}
	return status, nil
}

// sendBatch posts one batch. It always returns exactly one result per payload.
func (s *Submitter) sendBatch(ctx context.Context, log *slog.Logger, importID string, batch int, payloads []CasePayload) []BatchResult {
	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()

	results, err := s.gw.CreateCases(reqCtx, importID, payloads)
	if err != nil {
		log.Warn("batch request failed",
			"batch", batch+1,
			"rows", len(payloads),
			"error", err,
		)
		return failAll(payloads, TransportFailureMessage)
	}

	if len(results) != len(payloads) {
		log.Warn("batch result count mismatch",
			"batch", batch+1,
			"rows", len(payloads),
			"results", len(results),
		)
	}
	if len(results) > len(payloads) {
		results = results[:len(payloads)]
	}
	for i := len(results); i < len(payloads); i++ {
		results = append(results, BatchResult{CaseID: payloads[i].CaseID, Error: MissingResultMessage})
	}
	return results
}

func failAll(payloads []CasePayload, msg string) []BatchResult {
	out := make([]BatchResult, len(payloads))
	for i, p := range payloads {
		out[i] = BatchResult{CaseID: p.CaseID, Error: msg}
	}
	return out
}
