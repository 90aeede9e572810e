// Package browser manages a bounded pool of headless browser instances.
// Callers borrow an instance per fetch and return it afterwards; when all
// instances are busy, acquirers queue FIFO until one is released.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

var (
	// ErrPoolClosed is returned by Acquire after Shutdown.
	ErrPoolClosed = errors.New("browser pool is shut down")
	// ErrPoolExhausted is returned when the acquire context expires while
	// waiting for a free instance.
	ErrPoolExhausted = errors.New("browser pool exhausted")
)

// Options configures a Pool.
type Options struct {
	MinSize                int
	MaxSize                int
	MaxRequestsPerInstance int64
	BrowserLifetime        time.Duration
	IdleTimeout            time.Duration
	MaintenanceInterval    time.Duration
	UserAgent              string
}

// launchFunc starts one browser and returns its context. Split out so
// tests can run the pool without Chrome.
type launchFunc func() (context.Context, context.CancelFunc, error)

type waiter struct {
	ch chan *Instance
}

// Pool is a bounded set of browser instances with health and lifetime
// limits. Safe for concurrent use.
type Pool struct {
	opts   Options
	launch launchFunc

	allocCtx    context.Context
	cancelAlloc context.CancelFunc

	mu        sync.Mutex
	instances []*Instance
	waiters   []*waiter
	creating  int
	closed    bool

	stopMaint chan struct{}
	maintWg   sync.WaitGroup
}

// New builds a pool and warms up MinSize instances. Instance creation
// failures during warm-up are logged, not fatal; the pool grows lazily on
// demand.
func New(opts Options) *Pool {
	if opts.MaxSize < 1 {
		opts.MaxSize = 1
	}
	if opts.MinSize > opts.MaxSize {
		opts.MinSize = opts.MaxSize
	}

	chromeOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(1920, 1080),
	)
	if opts.UserAgent != "" {
		chromeOpts = append(chromeOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), chromeOpts...)

	p := &Pool{
		opts:        opts,
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		stopMaint:   make(chan struct{}),
	}
	p.launch = p.launchChrome

	for range opts.MinSize {
		if err := p.addInstance(); err != nil {
			slog.Warn("browser pool warm-up failed", slog.String("err", err.Error()))
			break
		}
	}

	if opts.MaintenanceInterval > 0 {
		p.maintWg.Add(1)
		go p.maintainLoop()
	}
	return p
}

// launchChrome starts a browser process and blocks until it answers.
func (p *Pool) launchChrome() (context.Context, context.CancelFunc, error) {
	ctx, cancel := chromedp.NewContext(p.allocCtx)
	// run an empty task list to force the browser to actually start
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}
	return ctx, cancel, nil
}

func (p *Pool) addInstance() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if len(p.instances)+p.creating >= p.opts.MaxSize {
		p.mu.Unlock()
		return nil
	}
	p.creating++
	p.mu.Unlock()

	ctx, cancel, err := p.launch()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creating--
	if err != nil {
		return err
	}
	if p.closed {
		cancel()
		return ErrPoolClosed
	}
	inst := newInstance(ctx, cancel)
	p.instances = append(p.instances, inst)
	slog.Debug("browser instance created", slog.String("id", inst.id), slog.Int("total", len(p.instances)))
	p.serveWaitersLocked()
	return nil
}

// Acquire hands out a healthy free instance, growing the pool up to
// MaxSize. When everything is busy the caller queues FIFO until a release
// or until ctx expires.
func (p *Pool) Acquire(ctx context.Context) (*Instance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if inst := p.freeInstanceLocked(); inst != nil {
		p.lendLocked(inst)
		p.mu.Unlock()
		return inst, nil
	}
	canGrow := len(p.instances)+p.creating < p.opts.MaxSize
	w := &waiter{ch: make(chan *Instance, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	if canGrow {
		go func() {
			if err := p.addInstance(); err != nil && !errors.Is(err, ErrPoolClosed) {
				slog.Warn("browser pool grow failed", slog.String("err", err.Error()))
			}
		}()
	}

	select {
	case inst := <-w.ch:
		if inst == nil {
			return nil, ErrPoolClosed
		}
		return inst, nil
	case <-ctx.Done():
		p.mu.Lock()
		removed := p.removeWaiterLocked(w)
		p.mu.Unlock()
		if !removed {
			// already served between ctx expiry and queue removal;
			// hand the instance straight back
			if inst := <-w.ch; inst != nil {
				p.Release(inst)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, ctx.Err())
	}
}

// Release returns an instance to the free set or, when an acquirer is
// queued, hands it over directly. Unhealthy instances are destroyed
// instead and the pool is topped back up.
func (p *Pool) Release(inst *Instance) {
	if inst == nil {
		return
	}
	p.mu.Lock()
	inst.inUse = false
	inst.lastUsedAt = time.Now()

	if p.closed {
		p.destroyLocked(inst)
		p.mu.Unlock()
		return
	}
	if !inst.healthy(p.opts.MaxRequestsPerInstance, p.opts.BrowserLifetime, time.Now()) {
		slog.Debug("destroying unhealthy instance on release", slog.String("id", inst.id))
		p.destroyLocked(inst)
		needReplenish := len(p.instances)+p.creating < p.opts.MinSize || len(p.waiters) > 0
		p.mu.Unlock()
		if needReplenish {
			go func() {
				if err := p.addInstance(); err != nil && !errors.Is(err, ErrPoolClosed) {
					slog.Warn("browser pool replenish failed", slog.String("err", err.Error()))
				}
			}()
		}
		return
	}
	p.serveWaitersLocked()
	p.mu.Unlock()
}

// Shutdown destroys every instance and fails all queued acquirers. No
// instance outlives this call.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopMaint)
	for _, inst := range p.instances {
		inst.destroy()
	}
	p.instances = nil
	for _, w := range p.waiters {
		close(w.ch)
	}
	p.waiters = nil
	p.mu.Unlock()

	p.maintWg.Wait()
	if p.cancelAlloc != nil {
		p.cancelAlloc()
	}
	slog.Debug("browser pool shut down")
}

// Stats returns the current pool occupancy.
func (p *Pool) Stats() (total, busy, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inst := range p.instances {
		if inst.inUse {
			busy++
		}
	}
	return len(p.instances), busy, len(p.waiters)
}

func (p *Pool) freeInstanceLocked() *Instance {
	now := time.Now()
	for _, inst := range p.instances {
		if !inst.inUse && inst.healthy(p.opts.MaxRequestsPerInstance, p.opts.BrowserLifetime, now) {
			return inst
		}
	}
	return nil
}

func (p *Pool) lendLocked(inst *Instance) {
	inst.inUse = true
	inst.requestCount++
	inst.lastUsedAt = time.Now()
}

// serveWaitersLocked pairs free instances with queued acquirers in FIFO
// order.
func (p *Pool) serveWaitersLocked() {
	for len(p.waiters) > 0 {
		inst := p.freeInstanceLocked()
		if inst == nil {
			return
		}
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.lendLocked(inst)
		w.ch <- inst
	}
}

func (p *Pool) removeWaiterLocked(target *waiter) bool {
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pool) destroyLocked(inst *Instance) {
	inst.destroy()
	for i, cur := range p.instances {
		if cur == inst {
			p.instances = append(p.instances[:i], p.instances[i+1:]...)
			break
		}
	}
}

func (p *Pool) maintainLoop() {
	defer p.maintWg.Done()
	ticker := time.NewTicker(p.opts.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.maintain()
		case <-p.stopMaint:
			return
		}
	}
}

// maintain retires instances that aged out, served too many requests or
// sat idle too long, then replenishes the pool back to MinSize.
func (p *Pool) maintain() {
	now := time.Now()
	p.mu.Lock()
	var retired int
	for _, inst := range append([]*Instance(nil), p.instances...) {
		if inst.inUse {
			continue
		}
		idleTooLong := p.opts.IdleTimeout > 0 && inst.idleFor(now) > p.opts.IdleTimeout
		if !inst.healthy(p.opts.MaxRequestsPerInstance, p.opts.BrowserLifetime, now) || idleTooLong {
			slog.Debug("retiring browser instance",
				slog.String("id", inst.id),
				slog.Int64("requests", inst.requestCount),
				slog.Duration("age", now.Sub(inst.createdAt)))
			p.destroyLocked(inst)
			retired++
		}
	}
	missing := p.opts.MinSize - len(p.instances) - p.creating
	p.mu.Unlock()

	for range missing {
		if err := p.addInstance(); err != nil {
			if !errors.Is(err, ErrPoolClosed) {
				slog.Warn("browser pool replenish failed", slog.String("err", err.Error()))
			}
			return
		}
	}
	if retired > 0 {
		slog.Debug("pool maintenance done", slog.Int("retired", retired))
	}
}
