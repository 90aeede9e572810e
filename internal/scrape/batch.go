package scrape

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flatwatch/flatwatch/internal/log"
	"github.com/flatwatch/flatwatch/internal/types"
)

// maxRequeues is how often a recoverably failed task is put back into the
// queue before the batch gives up on it.
const maxRequeues = 2

// BatchRunner fans a batch of tasks out across a bounded set of workers.
// Higher-priority tasks are dispatched first; a task whose failure is still
// recoverable goes back into the queue up to maxRequeues times.
type BatchRunner struct {
	orchestrator *Orchestrator
	concurrency  int
}

func NewBatchRunner(orchestrator *Orchestrator, concurrency int) *BatchRunner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchRunner{orchestrator: orchestrator, concurrency: concurrency}
}

// ExecuteBatch runs all tasks and blocks until every one of them reached a
// terminal result or the context expired.
func (b *BatchRunner) ExecuteBatch(ctx context.Context, tasks []*types.ScrapeTask) *types.BatchResult {
	start := time.Now()
	logger := log.LoggerFromContext(ctx)

	ordered := make([]*types.ScrapeTask, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	// Each task occupies at most 1+maxRequeues queue slots, so the buffer
	// is large enough that workers never block on a requeue.
	queue := make(chan *types.ScrapeTask, len(ordered)*(1+maxRequeues))
	var pending sync.WaitGroup
	pending.Add(len(ordered))
	for _, t := range ordered {
		queue <- t
	}
	go func() {
		pending.Wait()
		close(queue)
	}()

	var mu sync.Mutex
	result := &types.BatchResult{}

	var workers sync.WaitGroup
	for i := 0; i < b.concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for task := range queue {
				res := b.orchestrator.Execute(ctx, task)

				if !res.Success && task.RetryCount < maxRequeues && ctx.Err() == nil && Classify(res.Err).Recoverable {
					task.RetryCount++
					logger.Debug("re-queueing failed task",
						slog.String("task", task.ID),
						slog.Int("retry", task.RetryCount))
					pending.Add(1)
					queue <- task
					pending.Done()
					continue
				}

				mu.Lock()
				if res.Success {
					result.Successful = append(result.Successful, res)
				} else {
					result.Failed = append(result.Failed, res)
				}
				mu.Unlock()
				pending.Done()
			}
		}()
	}
	workers.Wait()

	result.TotalTime = time.Since(start)
	if n := len(result.Successful) + len(result.Failed); n > 0 {
		result.AverageTime = result.TotalTime / time.Duration(n)
	}
	logger.Debug("batch finished",
		slog.Int("successful", len(result.Successful)),
		slog.Int("failed", len(result.Failed)),
		slog.Duration("total", result.TotalTime))
	return result
}
