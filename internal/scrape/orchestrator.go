package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/flatwatch/flatwatch/internal/cache"
	"github.com/flatwatch/flatwatch/internal/fetch"
	"github.com/flatwatch/flatwatch/internal/log"
	"github.com/flatwatch/flatwatch/internal/metrics"
	"github.com/flatwatch/flatwatch/internal/ratelimit"
	"github.com/flatwatch/flatwatch/internal/types"
	"github.com/flatwatch/flatwatch/internal/utils"
)

// tier is the escalation stage the orchestrator is currently in.
type tier int

const (
	tierFast tier = iota
	tierReferral
	tierStealth
)

func (t tier) String() string {
	switch t {
	case tierFast:
		return "fast"
	case tierReferral:
		return "referral"
	case tierStealth:
		return "stealth"
	}
	return "unknown"
}

// Options wires the orchestrator's collaborators. Cache and Metrics may be
// nil; everything else is required.
type Options struct {
	Cache    *cache.Cache
	Limiter  *ratelimit.Limiter
	Planner  *Planner
	Metrics  *metrics.Metrics
	Direct   fetch.Strategy
	LightDom fetch.Strategy
	Headless fetch.Strategy
	Referral fetch.Strategy

	FastBudget     time.Duration
	ReferralBudget time.Duration
	StealthBudget  time.Duration
	MaxAttempts    int
	TaskBudget     time.Duration
}

// Orchestrator runs one task through the tier chain: cache check, then a
// race between the two cheap strategies, then the referral browser tier,
// then the full stealth tier. Between attempts it consults the recovery
// planner and the per-domain rate limiter; independent of both it enforces
// a hard attempt ceiling and a wall-clock budget per task.
type Orchestrator struct {
	opts Options

	// sleep is swapped out in tests so retries don't take real time.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 6
	}
	if opts.TaskBudget <= 0 {
		opts.TaskBudget = 90 * time.Second
	}
	return &Orchestrator{opts: opts, sleep: sleepCtx}
}

// Execute runs the task to a terminal result. It never returns nil: on
// failure the result carries the last classified error and the elapsed time.
func (o *Orchestrator) Execute(ctx context.Context, task *types.ScrapeTask) *types.ScrapeResult {
	start := time.Now()
	logger := log.LoggerFromContext(ctx).With(slog.String("task", task.ID), slog.String("url", task.URL))

	if o.opts.Cache != nil {
		if cached, ok := o.opts.Cache.Get(task.URL); ok {
			o.opts.Metrics.IncCacheEvent("hit")
			logger.Debug("cache hit")
			hit := *cached
			hit.TaskID = task.ID
			hit.Method = types.MethodCache
			hit.ExecutionTime = time.Since(start)
			return &hit
		}
		o.opts.Metrics.IncCacheEvent("miss")
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.TaskBudget)
	defer cancel()

	domain := utils.Domain(task.URL)
	current := tierFast
	lightweight := false
	fetchOpts := fetch.Opts{}
	var lastErr error
	var pendingDelay time.Duration

	for attempt := 0; attempt < o.opts.MaxAttempts; attempt++ {
		if err := o.sleep(ctx, pendingDelay); err != nil {
			logger.Debug("task budget exhausted while waiting", slog.String("err", err.Error()))
			break
		}

		var res *types.ScrapeResult
		var err error
		switch current {
		case tierFast:
			res, err = o.fastRace(ctx, task, fetchOpts, lightweight)
		case tierReferral:
			res, err = o.runTier(ctx, o.opts.Referral, task, fetchOpts, o.opts.ReferralBudget)
		case tierStealth:
			res, err = o.runTier(ctx, o.opts.Headless, task, fetchOpts, o.opts.StealthBudget)
		}

		if o.opts.Limiter != nil {
			pendingDelay = o.opts.Limiter.Delay(domain, err != nil)
		}

		if err == nil {
			res.TaskID = task.ID
			res.ExecutionTime = time.Since(start)
			if o.opts.Cache != nil {
				o.opts.Cache.Set(task.URL, res)
			}
			o.opts.Metrics.IncAttempt(current.String(), "success")
			o.opts.Metrics.ObserveTask(res.ExecutionTime)
			logger.Debug("scrape succeeded",
				slog.String("tier", current.String()),
				slog.String("method", string(res.Method)),
				slog.Int("attempt", attempt))
			return res
		}

		ce := Classify(err)
		lastErr = ce
		o.opts.Metrics.IncAttempt(current.String(), "failure")
		o.opts.Metrics.IncFailure(current.String(), string(ce.Kind))
		logger.Debug("attempt failed",
			slog.String("tier", current.String()),
			slog.Int("attempt", attempt),
			slog.String("kind", string(ce.Kind)),
			slog.String("err", ce.Error()))

		if !ce.Recoverable {
			break
		}
		if ctx.Err() != nil {
			break
		}

		plan := o.opts.Planner.Plan(ce, attempt)
		if !plan.Retry {
			logger.Debug("planner stopped retrying", slog.String("reason", plan.Message))
			break
		}
		if plan.Delay > pendingDelay {
			pendingDelay = plan.Delay
		}

		lightweight = false
		switch plan.Override {
		case OverrideReferral:
			current = tierReferral
		case OverrideEnhancedStealth:
			current = tierStealth
			fetchOpts.EnhancedStealth = true
		case OverrideLightweight:
			current = tierFast
			lightweight = true
		case OverrideExtendedTimeout:
			fetchOpts.ExtendedTimeout = true
			current = nextTier(current)
		case OverrideNewContext:
			// a fresh attempt opens a fresh tab, staying on the same tier
		case OverrideMemoryOptimized:
			fetchOpts.MemoryOptimized = true
		default:
			current = nextTier(current)
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	o.opts.Metrics.ObserveTask(time.Since(start))
	return &types.ScrapeResult{
		TaskID:        task.ID,
		Success:       false,
		Method:        methodFor(current),
		ExecutionTime: time.Since(start),
		Err:           lastErr,
	}
}

// fastRace runs the direct fetcher and the light DOM fetcher concurrently
// and takes the first success. Cancelling the shared context tears the
// loser down. With lightweight set only the direct fetcher runs.
func (o *Orchestrator) fastRace(ctx context.Context, task *types.ScrapeTask, opts fetch.Opts, lightweight bool) (*types.ScrapeResult, error) {
	strategies := []fetch.Strategy{o.opts.Direct}
	if !lightweight && o.opts.LightDom != nil {
		strategies = append(strategies, o.opts.LightDom)
	}

	raceCtx, cancel := context.WithTimeout(ctx, o.opts.FastBudget)
	defer cancel()

	type attempt struct {
		res *types.ScrapeResult
		err error
	}
	ch := make(chan attempt, len(strategies))
	for _, s := range strategies {
		go func(s fetch.Strategy) {
			res, err := s.Fetch(raceCtx, task, opts)
			ch <- attempt{res: res, err: err}
		}(s)
	}

	var raceErr error
	for range strategies {
		a := <-ch
		if a.err == nil {
			cancel()
			return a.res, nil
		}
		raceErr = preferError(raceErr, a.err)
	}
	return nil, raceErr
}

func (o *Orchestrator) runTier(ctx context.Context, s fetch.Strategy, task *types.ScrapeTask, opts fetch.Opts, budget time.Duration) (*types.ScrapeResult, error) {
	tierCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return s.Fetch(tierCtx, task, opts)
}

// preferError picks the more meaningful of two race failures: a terminal
// error must win so the task short-circuits, and bot detection must win
// over plain timeouts so the escalation goes via the referral tier.
func preferError(prev, next error) error {
	if prev == nil {
		return next
	}
	pc, nc := Classify(prev), Classify(next)
	if !pc.Recoverable {
		return prev
	}
	if !nc.Recoverable {
		return next
	}
	if nc.Kind == KindBotDetected && pc.Kind != KindBotDetected {
		return next
	}
	return prev
}

func nextTier(t tier) tier {
	switch t {
	case tierFast:
		return tierReferral
	case tierReferral:
		return tierStealth
	}
	return tierStealth
}

func methodFor(t tier) types.Method {
	switch t {
	case tierFast:
		return types.MethodDirectHTTP
	case tierReferral:
		return types.MethodHeadlessReferral
	}
	return types.MethodHeadlessDirect
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
