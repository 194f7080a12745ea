// Package bot wires the pieces together: config, logging, the Telegram
// adapter, the subscription state, the app-name index, and the scheduled
// poll/flush/refresh jobs.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"steamnewsbot/internal/appindex"
	"steamnewsbot/internal/catalog"
	"steamnewsbot/internal/config"
	"steamnewsbot/internal/feeds"
	"steamnewsbot/internal/runtime/supervisor"
	"steamnewsbot/internal/schedule"
	"steamnewsbot/internal/state"
	kit "steamnewsbot/internal/transport"
	"steamnewsbot/internal/transport/telegram"
	logx "steamnewsbot/pkg/logx"
	"steamnewsbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter kit.Adapter
	st      *state.State
	ix      *appindex.Index
	fetcher *feeds.Fetcher
	sched   *schedule.Service
	sup     *supervisor.Supervisor

	httpClient *http.Client

	updates  chan kit.Update
	cycleNow chan struct{}

	// owners mirrors telegram.owner_user_ids; swapped whole on reload.
	owners atomic.Value // []int64

	limiterMu sync.Mutex
	limiter   *rate.Limiter // feed fetch pacing, nil = unpaced
}

// NewApp loads the config and constructs every component. Nothing is running
// until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	logs, log := logx.New(logxConfig(cfg), adapter)
	if cfg.Telegram.GroupLog != 0 {
		logs.SetTelegramTarget(kit.ChatTarget{ChatID: cfg.Telegram.GroupLog})
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	st, err := state.Load(cfg.State.Path)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}

	ix, err := appindex.Open(cfg.Index.Path, log.With(logx.String("comp", "appindex")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	sched, err := schedule.New(cfg.Index.Timezone, log.With(logx.String("comp", "schedule")))
	if err != nil {
		_ = ix.Close()
		logs.Close()
		return nil, err
	}

	a := &App{
		cfgm:       cfgm,
		logs:       logs,
		log:        log,
		adapter:    adapter,
		st:         st,
		ix:         ix,
		fetcher:    feeds.NewFetcher(cfg.Steam.FeedURL, log.With(logx.String("comp", "feeds"))),
		sched:      sched,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		updates:    make(chan kit.Update, 64),
		cycleNow:   make(chan struct{}, 1),
	}
	a.owners.Store(append([]int64(nil), cfg.Telegram.OwnerUserIDs...))
	a.setFetchRate(cfg.Poller.FetchRatePerSec)
	return a, nil
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func (a *App) setFetchRate(perSec int) {
	a.limiterMu.Lock()
	defer a.limiterMu.Unlock()
	if perSec <= 0 {
		a.limiter = nil
		return
	}
	a.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
}

func (a *App) fetchLimiter() *rate.Limiter {
	a.limiterMu.Lock()
	defer a.limiterMu.Unlock()
	return a.limiter
}

func (a *App) isOwner(userID int64) bool {
	owners, _ := a.owners.Load().([]int64)
	for _, id := range owners {
		if id == userID {
			return true
		}
	}
	return false
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required")
		}
		if tz := strings.TrimSpace(cfg.Index.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("index.timezone: invalid %q: %w", tz, err)
			}
		}
		if spec := strings.TrimSpace(cfg.Index.Refresh); spec != "" {
			if err := schedule.ValidateSpec(spec); err != nil {
				return fmt.Errorf("index.refresh: %w", err)
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if err := a.registerJobs(a.cfgm.Get()); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case up := <-a.updates:
				a.handleUpdate(c, up)
			}
		}
	})

	// Manual cycle kicks (new subscriptions want their first item promptly).
	a.sup.Go0("poll.kick", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case <-a.cycleNow:
				a.runCycle(c)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.WatchdogLoop(c, a.log)
	})

	systemd.NotifyReady()
	systemd.NotifyStatus("running")
	a.log.Info("bot started")
	return nil
}

// applyConfig pushes a hot-reloaded config into the running components.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logxConfig(cfg))
	if cfg.Telegram.GroupLog != 0 {
		a.logs.SetTelegramTarget(kit.ChatTarget{ChatID: cfg.Telegram.GroupLog})
	} else {
		a.logs.SetTelegramTarget(kit.ChatTarget{})
	}

	a.owners.Store(append([]int64(nil), cfg.Telegram.OwnerUserIDs...))
	a.fetcher.SetURLTemplate(cfg.Steam.FeedURL)
	a.setFetchRate(cfg.Poller.FetchRatePerSec)

	if err := a.registerJobs(cfg); err != nil {
		a.log.Warn("job re-register failed", logx.Err(err))
	}
	a.log.Info("config reloaded")
}

// registerJobs (re)registers the scheduled jobs from cfg. Add upserts by
// name, so calling this again on reload replaces specs without duplicates.
func (a *App) registerJobs(cfg *config.Config) error {
	pollIvl, err := config.ParseDurationOrDefault("poller.interval", cfg.Poller.Interval, 10*time.Minute)
	if err != nil {
		return err
	}
	flushIvl, err := config.ParseDurationOrDefault("state.flush_interval", cfg.State.FlushInterval, 5*time.Minute)
	if err != nil {
		return err
	}

	if cfg.Poller.Enabled {
		if err := a.sched.AddInterval("feeds.poll", pollIvl, pollIvl, func(c context.Context) error {
			a.runCycle(c)
			return nil
		}); err != nil {
			return err
		}
	} else {
		a.sched.Remove("feeds.poll")
	}

	if err := a.sched.AddInterval("state.flush", flushIvl, time.Minute, func(context.Context) error {
		return a.st.Save()
	}); err != nil {
		return err
	}

	if spec := strings.TrimSpace(cfg.Index.Refresh); spec != "" {
		appListURL := cfg.Steam.AppListURL
		if err := a.sched.Add("catalog.refresh", spec, 10*time.Minute, func(c context.Context) error {
			_, err := catalog.Refresh(c, a.httpClient, appListURL, a.ix, a.log.With(logx.String("comp", "catalog")))
			return err
		}); err != nil {
			return err
		}
	} else {
		a.sched.Remove("catalog.refresh")
	}
	return nil
}

// kickCycle requests an immediate poll cycle. Collapses with any pending kick.
func (a *App) kickCycle() {
	select {
	case a.cycleNow <- struct{}{}:
	default:
	}
}

// runCycle polls every actively subscribed topic and fans the new items out
// to their groups.
func (a *App) runCycle(ctx context.Context) {
	cfg := a.cfgm.Get()
	started := time.Now()

	fetch := func(c context.Context, app feeds.AppID) ([]feeds.Item, error) {
		if lim := a.fetchLimiter(); lim != nil {
			if err := lim.Wait(c); err != nil {
				return nil, err
			}
		}
		return a.fetcher.Fetch(c, app)
	}
	nameOf := func(c context.Context, app feeds.AppID) (string, bool) {
		name, ok, err := a.ix.NameByID(c, app)
		if err != nil {
			a.log.Warn("name lookup failed", logx.String("app", app.String()), logx.Err(err))
			return "", false
		}
		return name, ok
	}

	deliveries := a.st.CheckFeeds(ctx, fetch, nameOf, a.log.With(logx.String("comp", "poller")))

	sent := 0
	for _, d := range deliveries {
		icon := iconFor(cfg.Steam.IconURL, d.AppID)
		for _, g := range d.Groups {
			if g.Dest == nil {
				continue
			}
			to := kit.ChatTarget{ChatID: g.Dest.ChatID, ThreadID: g.Dest.ThreadID}
			for _, it := range d.Items {
				if ctx.Err() != nil {
					break
				}
				msg := renderItem(d.AppName, d.AppID, it, icon)
				if _, err := a.adapter.SendText(ctx, to, msg, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
					a.log.Warn("delivery failed",
						logx.String("app", d.AppID.String()),
						logx.Int64("chat", g.Dest.ChatID),
						logx.Err(err))
					continue
				}
				sent++
			}
		}
	}

	if err := a.st.Save(); err != nil {
		a.log.Error("state save failed", logx.Err(err))
	}
	if len(deliveries) > 0 || sent > 0 {
		a.log.Info("poll cycle finished",
			logx.Int("topics", len(deliveries)),
			logx.Int("messages", sent),
			logx.Duration("took", time.Since(started)))
	} else {
		a.log.Debug("poll cycle finished (no news)", logx.Duration("took", time.Since(started)))
	}
	systemd.NotifyStatusf("running; last poll %s: %d topics, %d messages",
		time.Now().Format(time.RFC3339), len(deliveries), sent)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	systemd.NotifyStopping()
	systemd.NotifyStatus("shutting down")
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one stuck component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("step", name), logx.Err(err))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	// Final flush happens after everything else stopped mutating.
	if err := a.st.Save(); err != nil {
		a.log.Error("final state save failed", logx.Err(err))
	}
	if err := a.ix.Close(); err != nil {
		a.log.Warn("app index close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
