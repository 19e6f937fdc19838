package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultParseTimeout is the maximum duration for parsing one file.
const DefaultParseTimeout = 5 * time.Minute

// Options configures a Service. Zero values fall back to package defaults.
type Options struct {
	MaxFileSize         int64
	MaxRows             int
	MaxConcurrentParses int
	ParseWait           time.Duration
	ParseTimeout        time.Duration
	RequestTimeout      time.Duration
}

// Service owns the import sessions of every operator. An operator has at
// most one live session: starting a new import drops the previous one.
type Service struct {
	gw           CaseGateway
	ingestor     *Ingestor
	validator    *Validator
	submitter    *Submitter
	limiter      *IngestLimiter
	parseTimeout time.Duration

	mu         sync.RWMutex
	sessions   map[string]*Session
	byOperator map[string]string
}

// NewService creates a Service that submits to gw.
func NewService(gw CaseGateway, opts Options) *Service {
	if opts.ParseTimeout <= 0 {
		opts.ParseTimeout = DefaultParseTimeout
	}
	return &Service{
		gw:           gw,
		ingestor:     NewIngestor(opts.MaxFileSize, opts.MaxRows),
		validator:    NewValidator(),
		submitter:    NewSubmitter(gw, opts.RequestTimeout),
		limiter:      NewIngestLimiter(opts.MaxConcurrentParses, opts.ParseWait),
		parseTimeout: opts.ParseTimeout,
		sessions:     make(map[string]*Session),
		byOperator:   make(map[string]string),
	}
}

// Gateway returns the case gateway used for submissions.
func (s *Service) Gateway() CaseGateway { return s.gw }

// Ingestor returns the service's ingestor.
func (s *Service) Ingestor() *Ingestor { return s.ingestor }

// LimiterStatus returns the parse limiter's current state.
func (s *Service) LimiterStatus() IngestLimiterStatus { return s.limiter.Status() }

// StartImport checks the file, opens a session for the calling operator and
// parses r on a background goroutine. If r is an io.Closer it is closed when
// parsing ends. Follow the parse with Session.Subscribe.
func (s *Service) StartImport(ctx context.Context, fileName string, r io.Reader, size int64) (*Session, error) {
	closeReader := func() {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
	}

	if err := s.ingestor.Check(fileName, size); err != nil {
		closeReader()
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		closeReader()
		return nil, err
	}

	op, _ := OperatorFromContext(ctx)
	sess := NewSession(uuid.NewString(), op, fileName, s.validator)
	sess.parse.BytesTotal = size

	parseCtx, cancel := context.WithTimeout(context.Background(), s.parseTimeout)
	sess.closeParse = cancel

	s.register(sess)

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer closeReader()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in parse", "session_id", sess.ID, "panic", r)
				sess.fail(fmt.Errorf("parse aborted: %v", r))
			}
		}()

		start := time.Now()
		pf, err := s.ingestor.Parse(parseCtx, fileName, r, size, sess.setParseProgress)
		if err != nil {
			slog.Warn("parse failed", "session_id", sess.ID, "file", fileName, "error", err)
			sess.fail(err)
			return
		}
		sess.Load(pf)
		slog.Info("file parsed",
			"session_id", sess.ID,
			"file", fileName,
			"rows", len(pf.Rows),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return sess, nil
}

func (s *Service) register(sess *Session) {
	s.mu.Lock()
	var previous *Session
	if id := sess.Operator.ID; id != "" {
		if prevID, ok := s.byOperator[id]; ok {
			previous = s.sessions[prevID]
			delete(s.sessions, prevID)
		}
		s.byOperator[id] = sess.ID
	}
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

// Session returns a session owned by the calling operator. Sessions owned by
// someone else are reported as not found.
func (s *Service) Session(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	op, _ := OperatorFromContext(ctx)
	if sess.Operator.ID != "" && sess.Operator.ID != op.ID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// DropSession discards a session ("start new import"). A running submission
// stops before its next batch.
func (s *Service) DropSession(ctx context.Context, id string) error {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return err
	}
	s.remove(sess)
	return nil
}

func (s *Service) remove(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	if s.byOperator[sess.Operator.ID] == sess.ID {
		delete(s.byOperator, sess.Operator.ID)
	}
	s.mu.Unlock()

	sess.Close()
}

// Submit starts submitting the valid rows of a session.
func (s *Service) Submit(ctx context.Context, id string) error {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return err
	}
	return sess.Submit(ctx, s.submitter)
}

// Retry resubmits the failed rows of a session.
func (s *Service) Retry(ctx context.Context, id string) error {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return err
	}
	return sess.Retry(ctx, s.submitter)
}

// Cancel stops a session's submission before its next batch.
func (s *Service) Cancel(ctx context.Context, id string) error {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return err
	}
	return sess.Cancel()
}

// ActiveSessions returns the number of live sessions.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown cancels running submissions, waits for them to finalize and for
// parses to drain.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		if sess.State() == SubmitSubmitting {
			sess.Cancel()
		}
	}
	for _, sess := range sessions {
		if err := sess.Wait(ctx); err != nil {
			return err
		}
	}
	return s.limiter.Drain(ctx)
}
