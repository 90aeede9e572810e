package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/flatwatch/flatwatch/internal/log"
	"github.com/flatwatch/flatwatch/internal/types"
)

// blockedResources is what a light tab refuses to load. The page's own
// scripts still run, which is the whole point of this tier.
var blockedResources = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf", "*.mp4", "*.webm", "*.css",
}

// LightDom renders client-side JavaScript in a stripped-down browser tab:
// images, fonts, styles and media are blocked and no stealth is applied.
// It sits between plain HTTP and the full stealth tiers in cost.
type LightDom struct {
	UserAgent    string
	PageLoadWait time.Duration

	allocContext context.Context
	cancelAlloc  context.CancelFunc
}

func NewLightDom(userAgent string, pageLoadWait time.Duration) *LightDom {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(1366, 768),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	allocContext, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	if pageLoadWait == 0 {
		pageLoadWait = 1500 * time.Millisecond
	}
	return &LightDom{
		UserAgent:    userAgent,
		PageLoadWait: pageLoadWait,
		allocContext: allocContext,
		cancelAlloc:  cancelAlloc,
	}
}

// Cancel tears down the shared browser process.
func (l *LightDom) Cancel() {
	l.cancelAlloc()
}

func (l *LightDom) Name() types.Method { return types.MethodLightDom }

func (l *LightDom) Fetch(ctx context.Context, task *types.ScrapeTask, opts Opts) (*types.ScrapeResult, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "light_dom"), slog.String("url", task.URL))
	logger.Debug("fetching page")
	start := time.Now()

	tabCtx, cancel := chromedp.NewContext(l.allocContext)
	defer cancel()
	// bind the tab to the caller's deadline so an overdue navigation is
	// aborted rather than left running
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tabCtx, cancelDeadline = context.WithDeadline(tabCtx, deadline)
		defer cancelDeadline()
	}
	// the tab context descends from the allocator, not the caller, so a
	// cancelled caller (lost race, shutdown) must close the tab explicitly
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	wait := l.PageLoadWait
	if opts.MemoryOptimized {
		wait /= 2
	}

	var body string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetBlockedURLs(blockedResources),
		chromedp.Navigate(task.URL),
		chromedp.Sleep(wait),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}

	content, err := extractHTML(body, task.Selector)
	if err != nil {
		return nil, err
	}
	logger.Debug("fetch succeeded", slog.Duration("took", time.Since(start)))
	return newResult(types.MethodLightDom, content, task.URL, start), nil
}
