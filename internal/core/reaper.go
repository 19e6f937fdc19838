package core

// reaper.go removes abandoned import sessions.
//
// Sessions live in memory only. An operator who closes the browser mid-review
// leaves a session behind; the reaper drops sessions that have seen no
// request for longer than the TTL. Sessions that are parsing or submitting
// are never reaped.

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultSessionTTL     = 2 * time.Hour
	DefaultReaperInterval = 10 * time.Minute
)

// ReaperConfig holds configuration for the session reaper.
type ReaperConfig struct {
	TTL      time.Duration // Idle time before a session is dropped (default: 2h)
	Interval time.Duration // How often to sweep (default: 10m)
}

// StartSessionReaper sweeps idle sessions every Interval until ctx is done.
// It blocks; run it on its own goroutine.
func (s *Service) StartSessionReaper(ctx context.Context, cfg ReaperConfig) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReaperInterval
	}
	slog.Info("session reaper started", "ttl", cfg.TTL, "interval", cfg.Interval)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session reaper stopped")
			return
		case now := <-ticker.C:
			if n := s.ReapIdle(now, cfg.TTL); n > 0 {
				slog.Info("reaped idle sessions", "count", n, "remaining", s.ActiveSessions())
			}
		}
	}
}

// ReapIdle drops every non-busy session idle for longer than ttl as of now
// and returns how many were dropped.
func (s *Service) ReapIdle(now time.Time, ttl time.Duration) int {
	s.mu.RLock()
	var stale []*Session
	for _, sess := range s.sessions {
		if !sess.Busy() && sess.IdleFor(now) > ttl {
			stale = append(stale, sess)
		}
	}
	s.mu.RUnlock()

	for _, sess := range stale {
		slog.Debug("dropping idle session", "session_id", sess.ID, "operator", sess.Operator.ID)
		s.remove(sess)
	}
	return len(stale)
}
