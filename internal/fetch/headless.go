package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/flatwatch/flatwatch/internal/browser"
	"github.com/flatwatch/flatwatch/internal/log"
	"github.com/flatwatch/flatwatch/internal/stealth"
	"github.com/flatwatch/flatwatch/internal/types"
	"github.com/flatwatch/flatwatch/internal/utils"
)

// debugDir is where the browser tiers drop page screenshots when the log
// level is debug.
const debugDir = "debug"

// HeadlessDirect borrows a pooled browser, masks its fingerprint and
// navigates straight to the target. The heavy but reliable tier for pages
// whose anti-bot checks defeat the cheap ones.
type HeadlessDirect struct {
	Pool         *browser.Pool
	PageLoadWait time.Duration
	seed         func() int64
}

func NewHeadlessDirect(pool *browser.Pool, pageLoadWait time.Duration) *HeadlessDirect {
	if pageLoadWait == 0 {
		pageLoadWait = 2 * time.Second
	}
	return &HeadlessDirect{
		Pool:         pool,
		PageLoadWait: pageLoadWait,
		seed:         rand.Int63,
	}
}

func (h *HeadlessDirect) Name() types.Method { return types.MethodHeadlessDirect }

func (h *HeadlessDirect) Fetch(ctx context.Context, task *types.ScrapeTask, opts Opts) (*types.ScrapeResult, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("fetcher", "headless_direct"), slog.String("url", task.URL))
	start := time.Now()

	inst, err := h.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Pool.Release(inst)

	profile := stealth.New(h.seed())
	logger.Debug("fetching page", slog.String("instance", inst.ID()), slog.String("user-agent", profile.UserAgent))

	body, err := navigateAndCapture(ctx, inst, profile, task, h.pageWait(opts), nil)
	if err != nil {
		inst.MarkUnhealthy()
		return nil, err
	}

	content, err := extractHTML(body, task.Selector)
	if err != nil {
		return nil, err
	}
	logger.Debug("fetch succeeded", slog.Duration("took", time.Since(start)))
	return newResult(types.MethodHeadlessDirect, content, task.URL, start), nil
}

func (h *HeadlessDirect) pageWait(opts Opts) time.Duration {
	wait := h.PageLoadWait
	if opts.EnhancedStealth {
		// blocked sessions get extra think time and small random pauses
		wait += time.Duration(rand.Intn(2000)+1000) * time.Millisecond
	}
	if opts.ExtendedTimeout {
		wait += h.PageLoadWait
	}
	return wait
}

// navigateAndCapture runs the shared browser-tier flow: open a tab bound
// to the caller's deadline, apply the stealth profile, run any preliminary
// actions (the referral chain), navigate, wait for the selector and return
// the rendered document. The tab is closed on every path.
func navigateAndCapture(
	ctx context.Context,
	inst *browser.Instance,
	profile *stealth.Profile,
	task *types.ScrapeTask,
	pageWait time.Duration,
	preliminary []chromedp.Action,
) (string, error) {
	tabCtx, cancel := chromedp.NewContext(inst.Context())
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tabCtx, cancelDeadline = context.WithDeadline(tabCtx, deadline)
		defer cancelDeadline()
	}
	// the tab context descends from the pooled instance, not the caller,
	// so a cancelled caller must close the tab explicitly
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := profile.Apply(tabCtx); err != nil {
		return "", fmt.Errorf("apply stealth profile: %w", err)
	}

	actions := append([]chromedp.Action{}, preliminary...)
	actions = append(actions,
		chromedp.Navigate(task.URL),
		chromedp.Sleep(pageWait),
	)
	if task.Selector != "" {
		actions = append(actions, chromedp.WaitReady(task.Selector, chromedp.ByQuery))
	}
	var body string
	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))

	logger := log.LoggerFromContext(ctx)
	if logger.Enabled(ctx, slog.LevelDebug) {
		if err := os.MkdirAll(debugDir, os.ModePerm); err != nil {
			return "", fmt.Errorf("create debug directory: %w", err)
		}
		name, err := utils.RandomString(utils.Domain(task.URL))
		if err != nil {
			return "", err
		}
		filename := path.Join(debugDir, name+".png")
		var buf []byte
		actions = append(actions, chromedp.CaptureScreenshot(&buf))
		actions = append(actions, chromedp.ActionFunc(func(context.Context) error {
			logger.Debug("writing screenshot", slog.String("file", filename))
			return os.WriteFile(filename, buf, 0644)
		}))
	}

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return "", err
	}
	return body, nil
}
