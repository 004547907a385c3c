// Package ratelimit bounds calls to the external classification tier with a
// sliding-window counter, an optional minimum delay between consecutive
// requests, and an externally-imposed block window for overload signals.
//
// The limiter is deliberately process-local and not persisted: glossad's
// flock lock guarantees a single daemon per database, which is the
// single-instance assumption this design accepts. A restart resets the
// window; externalizing limiter state is an open question carried over, not
// fixed silently.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter. Safe for concurrent use.
type Limiter struct {
	mu           sync.Mutex
	maxRequests  int
	window       time.Duration
	minDelay     time.Duration
	timestamps   []time.Time
	lastRequest  time.Time
	blockedUntil time.Time
	now          func() time.Time
}

// Option customizes the limiter.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New constructs a limiter allowing maxRequests per window with at least
// minDelay between consecutive requests.
func New(maxRequests int, window, minDelay time.Duration, opts ...Option) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	limiter := &Limiter{
		maxRequests: maxRequests,
		window:      window,
		minDelay:    minDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(limiter)
	}
	return limiter
}

// CanRequest reports whether a request may be issued right now. It prunes
// timestamps outside the window first, then checks the window cap, the
// min-delay threshold, and the external block window.
func (l *Limiter) CanRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canRequestLocked(l.now())
}

func (l *Limiter) canRequestLocked(now time.Time) bool {
	if now.Before(l.blockedUntil) {
		return false
	}
	l.pruneLocked(now)
	if len(l.timestamps) >= l.maxRequests {
		return false
	}
	if l.minDelay > 0 && !l.lastRequest.IsZero() && now.Sub(l.lastRequest) < l.minDelay {
		return false
	}
	return true
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept
}

// RecordRequest appends the current timestamp. Call it only after a request
// was actually issued, never speculatively, or the window undercounts.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.timestamps = append(l.timestamps, now)
	l.lastRequest = now
}

// RecordExternalBlock opens a block window after the external service
// signalled overload. CanRequest returns false until it expires regardless
// of window state.
func (l *Limiter) RecordExternalBlock(retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(retryAfter)
	if until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
}

// BlockedUntil returns the end of the current external block window, zero
// when none is active.
func (l *Limiter) BlockedUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now().Before(l.blockedUntil) {
		return l.blockedUntil
	}
	return time.Time{}
}

// WaitForSlot blocks until a request slot is free or the context is
// cancelled. Callers bound their own retries; a persistent external block
// makes this wait as long as the block lasts.
func (l *Limiter) WaitForSlot(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		now := l.now()
		if l.canRequestLocked(now) {
			l.mu.Unlock()
			return nil
		}
		delay := l.nextFreeLocked(now)
		l.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextFreeLocked estimates how long until a slot could open.
func (l *Limiter) nextFreeLocked(now time.Time) time.Duration {
	delay := 10 * time.Millisecond
	if now.Before(l.blockedUntil) {
		if d := l.blockedUntil.Sub(now); d > delay {
			delay = d
		}
		return delay
	}
	if len(l.timestamps) >= l.maxRequests {
		oldest := l.timestamps[0]
		if d := oldest.Add(l.window).Sub(now); d > delay {
			delay = d
		}
	}
	if l.minDelay > 0 && !l.lastRequest.IsZero() {
		if d := l.lastRequest.Add(l.minDelay).Sub(now); d > delay {
			delay = d
		}
	}
	return delay
}
