package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flatwatch/flatwatch/internal/types"
)

// MockStrategy serves canned pages for tests of the orchestration layer.
type MockStrategy struct {
	Method  types.Method
	Pages   map[string]string // url -> page body
	Errs    map[string]error  // url -> forced failure
	Delay   time.Duration     // simulated fetch time
	Respond func(ctx context.Context, task *types.ScrapeTask, opts Opts) (*types.ScrapeResult, error)

	mu    sync.Mutex
	calls []Opts
}

func (m *MockStrategy) Name() types.Method { return m.Method }

func (m *MockStrategy) Fetch(ctx context.Context, task *types.ScrapeTask, opts Opts) (*types.ScrapeResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, opts)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Respond != nil {
		return m.Respond(ctx, task, opts)
	}
	if err, ok := m.Errs[task.URL]; ok {
		return nil, err
	}
	body, ok := m.Pages[task.URL]
	if !ok {
		return nil, errors.New("page not found")
	}
	start := time.Now()
	content, err := extractHTML(body, task.Selector)
	if err != nil {
		return nil, err
	}
	return newResult(m.Method, content, task.URL, start), nil
}

// Calls returns how often the strategy was invoked and with which opts.
func (m *MockStrategy) Calls() []Opts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Opts(nil), m.calls...)
}
