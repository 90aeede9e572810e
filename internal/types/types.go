// Package types defines shared types used across the application.
package types

import "time"

// Method identifies how a page was (or should be) fetched.
type Method string

const (
	MethodCache            Method = "cache"
	MethodDirectHTTP       Method = "direct_http"
	MethodLightDom         Method = "light_dom"
	MethodHeadlessDirect   Method = "headless_direct"
	MethodHeadlessReferral Method = "headless_referral"
)

// ScrapeTask describes a single page to check. RetryCount is the only
// field mutated after creation; the batch runner increments it when a
// recoverable failure is re-queued.
type ScrapeTask struct {
	ID         string
	URL        string
	Selector   string
	Priority   int
	RetryCount int
	Timeout    time.Duration
}

// ScrapeResult is the outcome of one orchestrated scrape. It is immutable
// once produced.
type ScrapeResult struct {
	TaskID        string
	Success       bool
	Content       string
	ContentHash   string
	Method        Method
	ExecutionTime time.Duration
	Err           error
	FinalURL      string
	UsedReferral  bool
}

// BatchResult aggregates the outcome of a batch run.
type BatchResult struct {
	Successful  []*ScrapeResult
	Failed      []*ScrapeResult
	TotalTime   time.Duration
	AverageTime time.Duration
}

// DetectionContext annotates a new-listing signal for the notifier.
type DetectionContext struct {
	URL          string
	PreviousHash string
	CurrentHash  string
	Method       Method
	CheckedAt    time.Time
	TotalChecks  int64
	Confidence   string
}

// MonitoringStats is the per-URL state the store keeps between cycles.
type MonitoringStats struct {
	URL           string
	LastHash      string
	TotalChecks   int64
	ErrorCount    int64
	NewListings   int64
	LastCheckedAt time.Time
}
