/*
flatwatch monitors real-estate listing pages for changes.

Have a look at the README.md for more information.
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/flatwatch/flatwatch/internal/browser"
	"github.com/flatwatch/flatwatch/internal/cache"
	"github.com/flatwatch/flatwatch/internal/config"
	"github.com/flatwatch/flatwatch/internal/fetch"
	"github.com/flatwatch/flatwatch/internal/log"
	"github.com/flatwatch/flatwatch/internal/metrics"
	"github.com/flatwatch/flatwatch/internal/monitor"
	"github.com/flatwatch/flatwatch/internal/notify"
	"github.com/flatwatch/flatwatch/internal/ratelimit"
	"github.com/flatwatch/flatwatch/internal/scrape"
	"github.com/flatwatch/flatwatch/internal/store"
	"github.com/flatwatch/flatwatch/internal/types"
)

var version = "dev"

type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

type cli struct {
	Version VersionFlag `short:"v" long:"version" help:"Print the version and exit."`
	Debug   bool        `short:"d" long:"debug" help:"Set log level to 'debug'."`

	Monitor MonitorCmd `cmd:"" help:"Run the monitoring loop until interrupted."`
	Check   CheckCmd   `cmd:"" help:"Check all configured targets (or a single URL) once and print a summary."`
}

// app bundles the wired-up components so both commands share the same
// setup and teardown.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	pool     *browser.Pool
	cache    *cache.Cache
	lightDom *fetch.LightDom
	store    *store.SQLite
	cycle    *monitor.Cycle
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.New(configPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	pool := browser.New(browser.Options{
		MinSize:                cfg.BrowserPool.MinSize,
		MaxSize:                cfg.BrowserPool.MaxSize,
		MaxRequestsPerInstance: cfg.BrowserPool.MaxRequestsPerInstance,
		BrowserLifetime:        cfg.BrowserPool.BrowserLifetime(),
		IdleTimeout:            cfg.BrowserPool.IdleTimeout(),
		MaintenanceInterval:    cfg.BrowserPool.MaintenanceInterval(),
		UserAgent:              cfg.UserAgent,
	})

	resultCache := cache.New(cache.Options{
		MaxSizeBytes: cfg.Cache.MaxSizeBytes,
		MaxEntries:   cfg.Cache.MaxEntries,
		DefaultTTL:   cfg.Cache.DefaultTTL(),
		SweepEvery:   cfg.Cache.SweepEvery(),
		Evictor:      cfg.Cache.Evictor,
	})

	lightDom := fetch.NewLightDom(cfg.UserAgent, 0)

	orchestrator := scrape.NewOrchestrator(scrape.Options{
		Cache:          resultCache,
		Limiter:        ratelimit.New(cfg.RateLimit.BaseDelay(), cfg.RateLimit.MaxDelay()),
		Planner:        scrape.NewPlanner(cfg.Recovery),
		Metrics:        m,
		Direct:         fetch.NewDirectHTTP(cfg.UserAgent),
		LightDom:       lightDom,
		Headless:       fetch.NewHeadlessDirect(pool, 0),
		Referral:       fetch.NewHeadlessReferral(pool, cfg.WarmupURL, cfg.SearchURLFormat),
		FastBudget:     cfg.TierBudgets.Fast(),
		ReferralBudget: cfg.TierBudgets.Referral(),
		StealthBudget:  cfg.TierBudgets.Stealth(),
		MaxAttempts:    cfg.MaxAttempts,
		TaskBudget:     cfg.TaskBudget(),
	})
	runner := scrape.NewBatchRunner(orchestrator, cfg.MaxConcurrency)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		pool.Shutdown()
		resultCache.Close()
		lightDom.Cancel()
		return nil, err
	}

	var notifier notify.Notifier = notify.Log{}
	if cfg.Notify.TelegramToken != "" {
		notifier = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
	}

	return &app{
		cfg:      cfg,
		metrics:  m,
		pool:     pool,
		cache:    resultCache,
		lightDom: lightDom,
		store:    db,
		cycle:    monitor.NewCycle(runner, db, notifier, m, cfg.Targets),
	}, nil
}

func (a *app) close() {
	a.pool.Shutdown()
	a.cache.Close()
	a.lightDom.Cancel()
	if err := a.store.Close(); err != nil {
		slog.Warn("closing store", slog.String("err", err.Error()))
	}
}

type MonitorCmd struct {
	Config string `short:"c" default:"./config.yaml" help:"The location of the configuration file." completion:"<file>"`
}

func (mc *MonitorCmd) Run() error {
	a, err := newApp(mc.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	defer a.close()

	if len(a.cfg.Targets) == 0 {
		return fmt.Errorf("no targets configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("serving metrics", slog.String("addr", a.cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", slog.String("err", err.Error()))
			}
		}()
	}

	runCycle := func() {
		if err := a.cycle.Run(ctx); err != nil {
			slog.Error("cycle failed", slog.String("err", err.Error()))
		}
		a.metrics.SetPool(a.pool.Stats())
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(a.cfg.CronSpec, runCycle); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", a.cfg.CronSpec, err)
	}

	slog.Info("starting monitor",
		slog.Int("targets", len(a.cfg.Targets)),
		slog.String("schedule", a.cfg.CronSpec))

	// first cycle right away, then on the schedule
	runCycle()
	scheduler.Start()

	<-ctx.Done()
	slog.Info("shutting down")
	cronCtx := scheduler.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(30 * time.Second):
		slog.Warn("running cycle did not finish in time")
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown", slog.String("err", err.Error()))
		}
	}
	return nil
}

type CheckCmd struct {
	Config   string `short:"c" default:"./config.yaml" help:"The location of the configuration file." completion:"<file>"`
	URL      string `short:"u" help:"Check only this URL instead of the configured targets."`
	Selector string `short:"s" help:"The CSS selector to watch on the given URL. Defaults to the whole page body."`
}

func (cc *CheckCmd) Run() error {
	a, err := newApp(cc.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cc.URL != "" {
		task := &types.ScrapeTask{ID: cc.URL, URL: cc.URL, Selector: cc.Selector}
		if err := a.cycle.CheckURL(ctx, task); err != nil {
			return err
		}
	} else {
		if len(a.cfg.Targets) == 0 {
			return fmt.Errorf("no targets configured")
		}
		if err := a.cycle.Run(ctx); err != nil {
			return err
		}
	}

	stats, err := a.store.AllStats(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"URL", "Checks", "Errors", "New Listings", "Last Checked"})
	for _, st := range stats {
		lastChecked := ""
		if !st.LastCheckedAt.IsZero() {
			lastChecked = st.LastCheckedAt.Format(time.RFC3339)
		}
		table.Append([]string{
			st.URL,
			fmt.Sprintf("%d", st.TotalChecks),
			fmt.Sprintf("%d", st.ErrorCount),
			fmt.Sprintf("%d", st.NewListings),
			lastChecked,
		})
	}
	table.Render()
	return nil
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			return buildInfo.Main.Version
		}
	}
	return version
}

func main() {
	// pick up TELEGRAM_TOKEN and friends from a local .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("loading .env", slog.String("err", err.Error()))
	}

	cli := cli{
		Version: VersionFlag(getVersion()),
	}

	ctx := kong.Parse(&cli,
		kong.Vars{
			"version": string(cli.Version),
		})

	log.InitializeDefaultLogger(cli.Debug)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
