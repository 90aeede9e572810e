package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flatwatch/flatwatch/internal/config"
	"github.com/flatwatch/flatwatch/internal/fetch"
	"github.com/flatwatch/flatwatch/internal/ratelimit"
	"github.com/flatwatch/flatwatch/internal/scrape"
	"github.com/flatwatch/flatwatch/internal/types"
	"github.com/flatwatch/flatwatch/internal/utils"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu    sync.Mutex
	stats map[string]*types.MonitoringStats
}

func newMemStore() *memStore {
	return &memStore{stats: map[string]*types.MonitoringStats{}}
}

func (m *memStore) get(url string) *types.MonitoringStats {
	st, ok := m.stats[url]
	if !ok {
		st = &types.MonitoringStats{URL: url}
		m.stats[url] = st
	}
	return st
}

func (m *memStore) LastHash(_ context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(url).LastHash, nil
}

func (m *memStore) RecordSuccess(_ context.Context, url, hash string, newListing bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.get(url)
	st.LastHash = hash
	st.TotalChecks++
	if newListing {
		st.NewListings++
	}
	st.LastCheckedAt = at
	return nil
}

func (m *memStore) RecordFailure(_ context.Context, url string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.get(url)
	st.TotalChecks++
	st.ErrorCount++
	st.LastCheckedAt = at
	return nil
}

func (m *memStore) Stats(_ context.Context, url string) (*types.MonitoringStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := *m.get(url)
	return &st, nil
}

// memNotifier records every detection it receives.
type memNotifier struct {
	mu         sync.Mutex
	detections []types.DetectionContext
}

func (n *memNotifier) Notify(_ context.Context, d types.DetectionContext) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.detections = append(n.detections, d)
	return nil
}

func (n *memNotifier) all() []types.DetectionContext {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.DetectionContext(nil), n.detections...)
}

// fakeSite serves mutable content per URL, or an error.
type fakeSite struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
}

func (f *fakeSite) set(url, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = content
	delete(f.errs, url)
}

func (f *fakeSite) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakeSite) respond(_ context.Context, task *types.ScrapeTask, _ fetch.Opts) (*types.ScrapeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[task.URL]; ok {
		return nil, err
	}
	content := f.pages[task.URL]
	return &types.ScrapeResult{
		Success:     true,
		Content:     content,
		ContentHash: utils.HashContent(content),
		Method:      types.MethodDirectHTTP,
		FinalURL:    task.URL,
	}, nil
}

func newTestCycle(site *fakeSite, st Store, n *memNotifier, urls ...string) *Cycle {
	direct := &fetch.MockStrategy{Method: types.MethodDirectHTTP, Respond: site.respond}
	orchestrator := scrape.NewOrchestrator(scrape.Options{
		Limiter:        ratelimit.New(time.Millisecond, 10*time.Millisecond),
		Planner:        scrape.NewPlanner(config.RecoveryConfig{}),
		Direct:         direct,
		FastBudget:     time.Second,
		ReferralBudget: time.Second,
		StealthBudget:  time.Second,
		MaxAttempts:    1,
		TaskBudget:     time.Second,
	})
	runner := scrape.NewBatchRunner(orchestrator, 2)

	targets := make([]config.TargetConfig, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, config.TargetConfig{URL: u, Selector: "div"})
	}
	return NewCycle(runner, st, n, nil, targets)
}

func TestCycleNotifiesOncePerChange(t *testing.T) {
	url := "https://example.com/flats"
	site := &fakeSite{pages: map[string]string{url: "listing set one"}, errs: map[string]error{}}
	st := newMemStore()
	n := &memNotifier{}
	c := newTestCycle(site, st, n, url)
	ctx := context.Background()

	// first check establishes the baseline, no notification
	if err := c.Run(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if len(n.all()) != 0 {
		t.Fatalf("baseline check notified: %+v", n.all())
	}

	// unchanged content stays quiet
	if err := c.Run(ctx); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if len(n.all()) != 0 {
		t.Fatalf("unchanged content notified: %+v", n.all())
	}

	// a content change notifies exactly once
	site.set(url, "listing set two")
	if err := c.Run(ctx); err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	got := n.all()
	if len(got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(got))
	}
	d := got[0]
	if d.URL != url {
		t.Errorf("detection url = %q, want %q", d.URL, url)
	}
	if d.PreviousHash == d.CurrentHash {
		t.Error("detection carries identical hashes")
	}
	if d.PreviousHash != utils.HashContent("listing set one") {
		t.Errorf("previous hash = %q, want hash of the first content", d.PreviousHash)
	}
	if d.Confidence != "low" {
		t.Errorf("confidence = %q, want low after 3 checks", d.Confidence)
	}

	// the new hash is the baseline from now on
	if err := c.Run(ctx); err != nil {
		t.Fatalf("cycle 4: %v", err)
	}
	if len(n.all()) != 1 {
		t.Fatalf("unchanged content after a change notified again")
	}

	stats, _ := st.Stats(ctx, url)
	if stats.NewListings != 1 {
		t.Errorf("new listings = %d, want 1", stats.NewListings)
	}
	if stats.TotalChecks != 4 {
		t.Errorf("total checks = %d, want 4", stats.TotalChecks)
	}
}

func TestCycleTracksConsecutiveFailuresPerURL(t *testing.T) {
	bad := "https://example.com/down"
	good := "https://example.com/up"
	site := &fakeSite{pages: map[string]string{good: "fine"}, errs: map[string]error{}}
	site.fail(bad, errors.New("connection refused"))
	st := newMemStore()
	n := &memNotifier{}
	c := newTestCycle(site, st, n, bad, good)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.Run(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i+1, err)
		}
	}
	if got := c.ConsecutiveFailures(bad); got != 3 {
		t.Errorf("consecutive failures = %d, want 3", got)
	}
	if got := c.ConsecutiveFailures(good); got != 0 {
		t.Errorf("healthy url has %d consecutive failures, want 0", got)
	}

	stats, _ := st.Stats(ctx, bad)
	if stats.ErrorCount != 3 {
		t.Errorf("stored error count = %d, want 3", stats.ErrorCount)
	}

	// the counter resets on the next success
	site.set(bad, "back up")
	if err := c.Run(ctx); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if got := c.ConsecutiveFailures(bad); got != 0 {
		t.Errorf("consecutive failures after recovery = %d, want 0", got)
	}
}

func TestCheckURL(t *testing.T) {
	url := "https://example.com/flats"
	site := &fakeSite{pages: map[string]string{url: "one"}, errs: map[string]error{}}
	st := newMemStore()
	n := &memNotifier{}
	c := newTestCycle(site, st, n, url)
	ctx := context.Background()

	task := &types.ScrapeTask{ID: url, URL: url, Selector: "div"}
	if err := c.CheckURL(ctx, task); err != nil {
		t.Fatalf("check: %v", err)
	}
	hash, _ := st.LastHash(ctx, url)
	if hash != utils.HashContent("one") {
		t.Errorf("stored hash = %q, want hash of the content", hash)
	}
}

func TestConfidenceTiers(t *testing.T) {
	tests := []struct {
		checks int64
		want   string
	}{
		{1, "low"},
		{4, "low"},
		{5, "medium"},
		{19, "medium"},
		{20, "high"},
		{500, "high"},
	}
	for _, tt := range tests {
		if got := confidenceFor(tt.checks); got != tt.want {
			t.Errorf("confidenceFor(%d) = %q, want %q", tt.checks, got, tt.want)
		}
	}
}
