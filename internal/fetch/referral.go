package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/flatwatch/flatwatch/internal/browser"
	"github.com/flatwatch/flatwatch/internal/log"
	"github.com/flatwatch/flatwatch/internal/stealth"
	"github.com/flatwatch/flatwatch/internal/types"
	"github.com/flatwatch/flatwatch/internal/utils"
)

// HeadlessReferral approaches the target the way a human arriving from a
// search engine would: first a neutral warm-up page so the session gathers
// an ordinary history, then a search-engine query for the target's domain,
// and only then the target itself, carrying the search engine as referrer.
// By far the slowest tier; it runs only after direct access keeps failing.
type HeadlessReferral struct {
	Pool            *browser.Pool
	WarmupURL       string
	SearchURLFormat string // fmt with one %s, the target domain
	WarmupWait      time.Duration
	PageLoadWait    time.Duration
	seed            func() int64
}

func NewHeadlessReferral(pool *browser.Pool, warmupURL, searchURLFormat string) *HeadlessReferral {
	return &HeadlessReferral{
		Pool:            pool,
		WarmupURL:       warmupURL,
		SearchURLFormat: searchURLFormat,
		WarmupWait:      3 * time.Second,
		PageLoadWait:    2 * time.Second,
		seed:            rand.Int63,
	}
}

func (h *HeadlessReferral) Name() types.Method { return types.MethodHeadlessReferral }

func (h *HeadlessReferral) Fetch(ctx context.Context, task *types.ScrapeTask, _ Opts) (*types.ScrapeResult, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "headless_referral"), slog.String("url", task.URL))
	start := time.Now()

	inst, err := h.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Pool.Release(inst)

	domain := utils.Domain(task.URL)
	searchURL := fmt.Sprintf(h.SearchURLFormat, url.QueryEscape(domain))
	logger.Debug("starting referral chain",
		slog.String("instance", inst.ID()),
		slog.String("warmup", h.WarmupURL),
		slog.String("search", searchURL))

	referralChain := []chromedp.Action{
		chromedp.Navigate(h.WarmupURL),
		chromedp.Sleep(h.WarmupWait),
		chromedp.Navigate(searchURL),
		chromedp.Sleep(h.PageLoadWait),
		// present the search engine as the referrer for the click-through
		network.SetExtraHTTPHeaders(network.Headers{"Referer": searchURL}),
	}

	profile := stealth.New(h.seed())
	body, err := navigateAndCapture(ctx, inst, profile, task, h.PageLoadWait, referralChain)
	if err != nil {
		inst.MarkUnhealthy()
		return nil, err
	}

	content, err := extractHTML(body, task.Selector)
	if err != nil {
		return nil, err
	}
	logger.Debug("fetch succeeded", slog.Duration("took", time.Since(start)))
	return newResult(types.MethodHeadlessReferral, content, task.URL, start), nil
}
