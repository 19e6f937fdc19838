package core

// ingest_limiter.go bounds how many files are parsed at once.
//
// Each session parses at most one file, but many operators can upload at the
// same time. Parses take a slot from a semaphore; when every slot is busy a
// new upload waits up to maxWait and then fails with ErrTooManyParses.
// Shutdown uses Drain to let running parses finish.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyParses is returned when no parse slot frees up in time.
var ErrTooManyParses = errors.New("too many files are being processed, please try again shortly")

const (
	// DefaultMaxConcurrentParses is the default number of parallel parses.
	DefaultMaxConcurrentParses = 5

	// DefaultParseWait is how long an upload waits for a free slot.
	DefaultParseWait = 30 * time.Second
)

// IngestLimiter is a counting semaphore for parses.
type IngestLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewIngestLimiter allows maxConcurrent parses; callers wait up to maxWait.
func NewIngestLimiter(maxConcurrent int, maxWait time.Duration) *IngestLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentParses
	}
	if maxWait <= 0 {
		maxWait = DefaultParseWait
	}
	return &IngestLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot, waiting at most maxWait. Every successful Acquire
// must be paired with Release.
func (l *IngestLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyParses
	}
}

// TryAcquire takes a slot only if one is free.
func (l *IngestLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (l *IngestLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of parses holding a slot.
func (l *IngestLimiter) Active() int { return int(l.active.Load()) }

// Capacity returns the maximum number of parallel parses.
func (l *IngestLimiter) Capacity() int { return cap(l.slots) }

// Drain blocks until no parse holds a slot or ctx is done.
func (l *IngestLimiter) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for l.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// IngestLimiterStatus is a snapshot for the health endpoint.
type IngestLimiterStatus struct {
	Active    int `json:"active"`
	Available int `json:"available"`
	Capacity  int `json:"capacity"`
}

// Status returns a snapshot of the limiter.
func (l *IngestLimiter) Status() IngestLimiterStatus {
	active := l.Active()
	return IngestLimiterStatus{
		Active:    active,
		Available: cap(l.slots) - active,
		Capacity:  cap(l.slots),
	}
}
