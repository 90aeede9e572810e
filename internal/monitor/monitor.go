// Package monitor runs the periodic check cycle: scrape every configured
// target, compare content hashes against the stored baseline and notify on
// changes.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flatwatch/flatwatch/internal/config"
	"github.com/flatwatch/flatwatch/internal/log"
	"github.com/flatwatch/flatwatch/internal/metrics"
	"github.com/flatwatch/flatwatch/internal/notify"
	"github.com/flatwatch/flatwatch/internal/scrape"
	"github.com/flatwatch/flatwatch/internal/types"
)

// Store is the persistence the cycle needs between runs.
type Store interface {
	LastHash(ctx context.Context, url string) (string, error)
	RecordSuccess(ctx context.Context, url, hash string, newListing bool, at time.Time) error
	RecordFailure(ctx context.Context, url string, at time.Time) error
	Stats(ctx context.Context, url string) (*types.MonitoringStats, error)
}

// Cycle checks all targets once per run. The first successful check of a
// URL only establishes the baseline hash; notifications start with the
// second. Consecutive failure counts are kept in memory per URL and reset
// on the next success.
type Cycle struct {
	runner   *scrape.BatchRunner
	store    Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	targets  []config.TargetConfig
	now      func() time.Time

	mu       sync.Mutex
	failures map[string]int
}

func NewCycle(runner *scrape.BatchRunner, store Store, notifier notify.Notifier, m *metrics.Metrics, targets []config.TargetConfig) *Cycle {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Cycle{
		runner:   runner,
		store:    store,
		notifier: notifier,
		metrics:  m,
		targets:  targets,
		now:      time.Now,
		failures: map[string]int{},
	}
}

// Run checks every target once. Scrape failures are recorded but never
// abort the cycle; the returned error only reflects store problems.
func (c *Cycle) Run(ctx context.Context) error {
	logger := log.LoggerFromContext(ctx)
	tasks := make([]*types.ScrapeTask, 0, len(c.targets))
	for _, t := range c.targets {
		tasks = append(tasks, &types.ScrapeTask{
			ID:       t.URL,
			URL:      t.URL,
			Selector: t.Selector,
			Priority: t.Priority,
		})
	}

	batch := c.runner.ExecuteBatch(ctx, tasks)
	logger.Info("cycle finished",
		slog.Int("targets", len(tasks)),
		slog.Int("successful", len(batch.Successful)),
		slog.Int("failed", len(batch.Failed)),
		slog.Duration("total", batch.TotalTime))

	var firstErr error
	for _, res := range batch.Successful {
		if err := c.handleSuccess(ctx, res.TaskID, res); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, res := range batch.Failed {
		if err := c.handleFailure(ctx, res.TaskID, res); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CheckURL runs a single ad-hoc check outside the regular cycle.
func (c *Cycle) CheckURL(ctx context.Context, task *types.ScrapeTask) error {
	batch := c.runner.ExecuteBatch(ctx, []*types.ScrapeTask{task})
	for _, res := range batch.Successful {
		return c.handleSuccess(ctx, res.TaskID, res)
	}
	for _, res := range batch.Failed {
		return c.handleFailure(ctx, res.TaskID, res)
	}
	return nil
}

func (c *Cycle) handleSuccess(ctx context.Context, url string, res *types.ScrapeResult) error {
	logger := log.LoggerFromContext(ctx).With(slog.String("url", url))

	prev, err := c.store.LastHash(ctx, url)
	if err != nil {
		return err
	}
	changed := prev != "" && prev != res.ContentHash
	if err := c.store.RecordSuccess(ctx, url, res.ContentHash, changed, c.now()); err != nil {
		return err
	}

	c.mu.Lock()
	c.failures[url] = 0
	c.mu.Unlock()

	switch {
	case prev == "":
		c.metrics.IncCheck("baseline")
		logger.Debug("baseline established", slog.String("hash", res.ContentHash))
	case !changed:
		c.metrics.IncCheck("unchanged")
		logger.Debug("content unchanged")
	default:
		c.metrics.IncCheck("changed")
		c.metrics.IncNewListing()
		stats, err := c.store.Stats(ctx, url)
		if err != nil {
			return err
		}
		d := types.DetectionContext{
			URL:          url,
			PreviousHash: prev,
			CurrentHash:  res.ContentHash,
			Method:       res.Method,
			CheckedAt:    c.now(),
			TotalChecks:  stats.TotalChecks,
			Confidence:   confidenceFor(stats.TotalChecks),
		}
		logger.Info("content changed",
			slog.String("confidence", d.Confidence),
			slog.String("method", string(d.Method)))
		if err := c.notifier.Notify(ctx, d); err != nil {
			// a lost notification must not fail the cycle
			logger.Warn("notification failed", slog.String("err", err.Error()))
		}
	}
	return nil
}

func (c *Cycle) handleFailure(ctx context.Context, url string, res *types.ScrapeResult) error {
	logger := log.LoggerFromContext(ctx).With(slog.String("url", url))

	c.mu.Lock()
	c.failures[url]++
	n := c.failures[url]
	c.mu.Unlock()

	c.metrics.IncCheck("failed")
	logger.Warn("check failed",
		slog.Int("consecutive_failures", n),
		slog.String("err", errString(res.Err)))
	return c.store.RecordFailure(ctx, url, c.now())
}

// ConsecutiveFailures returns how many checks of url failed in a row since
// the last success.
func (c *Cycle) ConsecutiveFailures(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[url]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
