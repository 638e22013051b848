package ratelimit

import (
	"sync"
	"time"

	"github.com/nutrifit/integrations/apperrors"
	"github.com/nutrifit/integrations/domain"
)

// Window is one published budget of the upstream API: Capacity calls per Interval.
type Window struct {
	Name     string
	Capacity int
	Interval time.Duration
}

type windowState struct {
	Window
	used    int
	resetAt time.Time
}

// Limiter tracks outbound provider API calls against one or more fixed windows.
// State is process-wide and shared across all users, matching a single upstream
// application credential. The limiter never blocks and never retries; callers
// get a retry-after hint instead.
//
// Both the pre-flight check and the HTTP wrapper that issues calls consult the
// same Limiter instance, so the budget cannot be bypassed by skipping the check.
type Limiter struct {
	clock domain.Clock

	mu      sync.Mutex
	windows []windowState
}

// NewLimiter builds a limiter over the given windows. Counting starts on first use.
func NewLimiter(clock domain.Clock, windows ...Window) *Limiter {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	states := make([]windowState, len(windows))
	for i, w := range windows {
		states[i] = windowState{Window: w}
	}
	return &Limiter{clock: clock, windows: states}
}

// CanMakeReadRequest reports whether one more call fits every window right now,
// without consuming any budget.
func (l *Limiter) CanMakeReadRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for i := range l.windows {
		l.windows[i].maybeReset(now)
		if l.windows[i].used >= l.windows[i].Capacity {
			return false
		}
	}
	return true
}

// Reserve consumes one unit from every window, or returns a RATE_LIMITED error
// carrying the retry-after hint when any window is exhausted. Consumption is
// all-or-nothing.
func (l *Limiter) Reserve() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for i := range l.windows {
		l.windows[i].maybeReset(now)
		if l.windows[i].used >= l.windows[i].Capacity {
			return apperrors.NewRateLimited(l.retryAfterLocked(now))
		}
	}
	for i := range l.windows {
		if l.windows[i].used == 0 {
			l.windows[i].resetAt = now.Add(l.windows[i].Interval)
		}
		l.windows[i].used++
	}
	return nil
}

// RetryAfter returns how long a denied caller should wait before the most
// constrained window resets. Zero when a call would currently be admitted.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for i := range l.windows {
		l.windows[i].maybeReset(now)
	}
	return l.retryAfterLocked(now)
}

// retryAfterLocked picks the longest wait among the exhausted windows; waiting
// out the widest one guarantees every budget has room again.
func (l *Limiter) retryAfterLocked(now time.Time) time.Duration {
	var wait time.Duration
	for i := range l.windows {
		w := &l.windows[i]
		if w.used >= w.Capacity {
			if d := w.resetAt.Sub(now); d > wait {
				wait = d
			}
		}
	}
	return wait
}

func (w *windowState) maybeReset(now time.Time) {
	if w.used > 0 && !now.Before(w.resetAt) {
		w.used = 0
		w.resetAt = time.Time{}
	}
}
