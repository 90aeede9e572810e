package browser

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Instance wraps one headless browser with its usage bookkeeping. All
// fields are guarded by the owning pool's mutex; callers only ever touch
// Context and MarkUnhealthy.
type Instance struct {
	id           string
	ctx          context.Context
	cancel       context.CancelFunc
	createdAt    time.Time
	lastUsedAt   time.Time
	requestCount int64
	inUse        bool
	broken       bool
}

func newInstance(ctx context.Context, cancel context.CancelFunc) *Instance {
	now := time.Now()
	return &Instance{
		id:         uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// ID returns the instance's identifier, mostly for logging.
func (i *Instance) ID() string { return i.id }

// Context returns the browser context. New tabs are derived from it with
// chromedp.NewContext.
func (i *Instance) Context() context.Context { return i.ctx }

// MarkUnhealthy flags the instance so the pool destroys it on release
// instead of lending it out again. Call it after a crash or protocol error.
func (i *Instance) MarkUnhealthy() { i.broken = true }

// healthy reports whether the instance may still be lent out.
func (i *Instance) healthy(maxRequests int64, lifetime time.Duration, now time.Time) bool {
	if i.broken {
		return false
	}
	if maxRequests > 0 && i.requestCount > maxRequests {
		return false
	}
	if lifetime > 0 && now.Sub(i.createdAt) > lifetime {
		return false
	}
	return true
}

func (i *Instance) idleFor(now time.Time) time.Duration {
	return now.Sub(i.lastUsedAt)
}

func (i *Instance) destroy() {
	if i.cancel != nil {
		i.cancel()
	}
}
