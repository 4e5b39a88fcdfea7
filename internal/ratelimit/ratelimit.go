// Package ratelimit provides the sliding-window limiter used by the receipt
// download endpoint. The implementation is in-memory and single-instance; a
// shared-store implementation can replace it behind the same interface.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config holds rate limiter configuration.
type Config struct {
	Window      time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	MaxRequests int           `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"10"`
}

// SlidingWindow counts requests per key within a rolling window.
type SlidingWindow struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewSlidingWindow creates a sliding-window limiter.
func NewSlidingWindow(cfg Config) *SlidingWindow {
	return &SlidingWindow{
		window: cfg.Window,
		limit:  cfg.MaxRequests,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records a request for key and reports whether it is within the limit.
// When rejected, retryAfter is the time until the oldest in-window request
// falls out and a slot frees up. The read-check-record sequence runs under
// one lock so concurrent requests cannot both claim the last slot.
func (s *SlidingWindow) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	recent := s.hits[key][:0]
	for _, t := range s.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= s.limit {
		s.hits[key] = recent
		retryAfter := recent[0].Add(s.window).Sub(now)
		return false, retryAfter, nil
	}

	s.hits[key] = append(recent, now)
	return true, 0, nil
}

// Reset clears the counter for a key.
func (s *SlidingWindow) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hits, key)
}
