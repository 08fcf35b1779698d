package core

import "sync"

// IterationLimiter counts AWAITING_MODEL transitions of one control loop and
// fails once the configured cap is exceeded.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a new limiter with a max number of model calls.
// If max <= 0, unlimited calls are allowed.
func NewIterationLimiter(max int) *IterationLimiter {
	return &IterationLimiter{max: max}
}

// Increment increases the call counter and returns an *IterationLimitError if
// the limit is exceeded. With max = N, calls 1..N succeed and call N+1 fails.
func (l *IterationLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return &IterationLimitError{Limit: l.max}
	}

	return nil
}

// Count returns the current number of calls made.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many calls are left before hitting the limit.
func (l *IterationLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max <= 0 {
		return -1 // unlimited
	}

	if l.count >= l.max {
		return 0
	}

	return l.max - l.count
}
