// Package ratelimit computes adaptive per-domain delays between fetch
// attempts. Domains that keep failing are backed off exponentially; domains
// that recover have their delay shrunk again.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flatwatch/flatwatch/internal/utils"
)

// decayAfter is how long a domain has to stay error-free before a success
// starts reducing its error count.
const decayAfter = 5 * time.Minute

type domainState struct {
	errorCount    int
	lastErrorTime time.Time
	currentDelay  time.Duration
}

// Limiter tracks consecutive failures per domain. It never sleeps itself;
// callers are expected to wait out the returned delay before firing a
// request. Safe for concurrent use.
type Limiter struct {
	baseDelay time.Duration
	maxDelay  time.Duration

	mu      sync.Mutex
	domains map[string]*domainState
	now     func() time.Time // overridable in tests
}

func New(baseDelay, maxDelay time.Duration) *Limiter {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Limiter{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		domains:   map[string]*domainState{},
		now:       time.Now,
	}
}

// Delay records the outcome of the latest attempt against domain and
// returns how long the caller should wait before the next one. The returned
// value carries ±20% jitter so concurrent tasks don't fire in lockstep.
func (l *Limiter) Delay(domain string, wasError bool) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{currentDelay: l.baseDelay}
		l.domains[domain] = st
	}

	if wasError {
		st.errorCount++
		st.lastErrorTime = l.now()
		st.currentDelay = utils.ExpBackoff(l.baseDelay, st.errorCount, l.maxDelay)
		slog.Debug("rate limit increased",
			slog.String("domain", domain),
			slog.Int("errors", st.errorCount),
			slog.Duration("delay", st.currentDelay))
	} else if st.errorCount > 0 && l.now().Sub(st.lastErrorTime) > decayAfter {
		st.errorCount--
		st.currentDelay = time.Duration(float64(st.currentDelay) * 0.8)
		if st.currentDelay < l.baseDelay {
			st.currentDelay = l.baseDelay
		}
		slog.Debug("rate limit decayed",
			slog.String("domain", domain),
			slog.Int("errors", st.errorCount),
			slog.Duration("delay", st.currentDelay))
	}

	return utils.Jitter(st.currentDelay, 0.2)
}

// Snapshot returns the current error count and delay for a domain. Zero
// values are returned for domains that were never seen.
func (l *Limiter) Snapshot(domain string) (errorCount int, delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.domains[domain]
	if !ok {
		return 0, 0
	}
	return st.errorCount, st.currentDelay
}
