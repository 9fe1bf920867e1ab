// Package app wires the pieces of arrsweep together: configuration with hot
// reload, logging, the persisted scheduler state, the per-app clients, the
// cron trigger and the run controller. The binary in cmd/arrsweep is a thin
// shell around this package.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"arrsweep/internal/arr"
	"arrsweep/internal/config"
	"arrsweep/internal/history"
	"arrsweep/internal/notify"
	"arrsweep/internal/state"
	"arrsweep/internal/sweep"
	logx "arrsweep/pkg/logx"
)

const (
	defaultSchedule     = "1h"
	defaultStatePath    = "./data/state.json"
	defaultSearchTag    = "search"
	defaultDoneTag      = "done"
	defaultSearchLimit  = 10
	defaultUpgradeLimit = 10
	defaultPromoteLimit = 50
	defaultPageSize     = 200
	defaultRatePerSec   = 5
	defaultHTTPTimeout  = 30 * time.Second
	defaultLaneTimeout  = 2 * time.Minute
)

// App is the assembled daemon.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store  *state.Store
	hist   *history.Recorder
	notif  *notify.Notifier
	runner *sweep.Runner

	// mu guards the runtime snapshot swapped in by config reloads. A pass
	// takes the snapshot once and runs with it to completion.
	mu       sync.Mutex
	apps     map[sweep.App]sweep.Collaborator
	set      sweep.Settings
	schedule string

	cron    *cron.Cron
	running atomic.Bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New loads and validates the config file and constructs the daemon.
// Nothing runs until Start or RunOnce.
func New(configPath string) (*App, error) {
	cfgm := config.NewManager(configPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := cronParser().Parse(scheduleSpec(cfg.Schedule)); err != nil {
		return nil, fmt.Errorf("schedule: invalid %q: %w", cfg.Schedule, err)
	}

	logs, root := logx.New(logCfg(cfg))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	statePath := strings.TrimSpace(cfg.State.Path)
	if statePath == "" {
		statePath = defaultStatePath
	}
	store, err := state.Open(statePath, root.With(logx.String("comp", "state")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("state: %w", err)
	}

	busy, _ := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
	hist, err := history.Open(history.Config{
		Enabled:     cfg.History.Enabled,
		Path:        cfg.History.Path,
		BusyTimeout: busy,
	}, root.With(logx.String("comp", "history")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("history: %w", err)
	}

	var notif *notify.Notifier
	if cfg.Telegram.Enabled {
		notif, err = notify.New(notify.Config{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		}, root.With(logx.String("comp", "notify")))
		if err != nil {
			_ = hist.Close()
			_ = logs.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
	}

	a := &App{
		cfgm:   cfgm,
		logs:   logs,
		log:    root.With(logx.String("comp", "app")),
		store:  store,
		hist:   hist,
		notif:  notif,
		runner: sweep.NewRunner(store, root.With(logx.String("comp", "sweep")), cfg.Seed),
	}

	apps, set, err := buildRuntime(cfg, root)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.apps, a.set = apps, set
	a.schedule = scheduleSpec(cfg.Schedule)
	return a, nil
}

// Start launches the cron trigger and the config watcher, then runs a first
// pass immediately. The schedule only times the repeats.
func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(context.Background())

	cfg := a.cfgm.Get()
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	a.cron = cron.New(cron.WithParser(cronParser()), cron.WithLocation(loc))
	if _, err := a.cron.AddFunc(a.schedule, func() { a.pass(a.runCtx) }); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	a.cfgm.SetValidator(validateReload)
	a.cfgm.OnChange(a.onConfigChange)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(a.runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pass(a.runCtx)
	}()

	a.cron.Start()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started",
		logx.String("schedule", a.schedule),
		logx.String("timezone", loc.String()))
	return nil
}

// RunOnce executes a single pass synchronously and returns. Used by the
// -once flag; the caller still owns Close.
func (a *App) RunOnce(ctx context.Context) error {
	a.pass(ctx)
	return nil
}

// Stop cancels the run context, waits for the trigger and any in-flight
// pass to drain (bounded by ctx), and releases resources.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.runCancel != nil {
		a.runCancel()
	}
	if a.cron != nil {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown deadline hit; abandoning in-flight work")
	}
	return a.Close()
}

func (a *App) Close() error {
	var errs []error
	if err := a.hist.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pass runs one sweep over all lanes. Overlapping triggers are skipped, not
// queued: if the previous pass is still running the new one is dropped.
func (a *App) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !a.running.CompareAndSwap(false, true) {
		a.log.Debug("previous pass still running; skipping trigger")
		return
	}
	defer a.running.Store(false)

	a.mu.Lock()
	apps := a.apps
	set := a.set
	a.mu.Unlock()

	sum := a.runner.RunPass(ctx, apps, set)
	a.log.Info("pass complete",
		logx.Int("lanes", len(sum.Lanes)),
		logx.Int("promotions", len(sum.Promotions)),
		logx.Duration("took", sum.Took),
		logx.Bool("dry_run", set.DryRun))

	a.record(ctx, sum)
	if a.notif != nil {
		_ = a.notif.SendSummary(ctx, sum.Text())
	}
}

func (a *App) record(ctx context.Context, sum sweep.Summary) {
	if a.hist == nil {
		return
	}
	for _, l := range sum.Lanes {
		if l.Disabled {
			continue
		}
		err := a.hist.Append(ctx, history.Entry{
			At:        sum.StartedAt,
			App:       string(l.Lane.App),
			Mode:      string(l.Lane.Mode),
			Gated:     l.Gated,
			PoolEmpty: l.PoolEmpty,
			Pool:      l.PoolSize,
			Selected:  len(l.Selected),
			Succeeded: l.Succeeded,
			Failed:    len(l.Failed),
			Err:       l.Err,
			TookMS:    l.Took.Milliseconds(),
		})
		if err != nil {
			a.log.Warn("history append failed", logx.String("lane", l.Lane.Key()), logx.Err(err))
		}
	}
	for _, p := range sum.Promotions {
		err := a.hist.Append(ctx, history.Entry{
			At:       sum.StartedAt,
			App:      string(p.App),
			Mode:     "promote",
			Pool:     p.Candidates,
			Promoted: p.Promoted,
			Failed:   p.Failed,
			Err:      p.Err,
		})
		if err != nil {
			a.log.Warn("history append failed", logx.String("app", string(p.App)), logx.Err(err))
		}
	}
}

// onConfigChange applies a committed reload: logging sinks swap in place and
// the next pass picks up the new collaborators and settings. The schedule
// and state path are fixed at startup.
func (a *App) onConfigChange(cfg *config.Config) {
	a.logs.Apply(logCfg(cfg))

	apps, set, err := buildRuntime(cfg, a.logs.Logger())
	if err != nil {
		a.log.Warn("config change not applied", logx.Err(err))
		return
	}

	a.mu.Lock()
	changed := scheduleSpec(cfg.Schedule) != a.schedule
	a.apps, a.set = apps, set
	a.mu.Unlock()

	if changed {
		a.log.Info("schedule changed in config; takes effect after restart")
	}
}

func validateReload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := cronParser().Parse(scheduleSpec(cfg.Schedule)); err != nil {
		return fmt.Errorf("schedule: invalid %q: %w", cfg.Schedule, err)
	}
	return nil
}

// buildRuntime resolves the config into the per-app collaborators and the
// settings snapshot a pass runs with.
func buildRuntime(cfg *config.Config, log logx.Logger) (map[sweep.App]sweep.Collaborator, sweep.Settings, error) {
	httpTimeout, err := config.ParseDurationOrDefault("http.timeout", cfg.HTTP.Timeout, defaultHTTPTimeout)
	if err != nil {
		return nil, sweep.Settings{}, err
	}
	laneTimeout, err := config.ParseDurationOrDefault("http.lane_timeout", cfg.HTTP.LaneTimeout, defaultLaneTimeout)
	if err != nil {
		return nil, sweep.Settings{}, err
	}
	globalCD, err := config.ParseDurationField("cooldown", cfg.Cooldown)
	if err != nil {
		return nil, sweep.Settings{}, err
	}
	pageSize := cfg.HTTP.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	ratePerSec := cfg.HTTP.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}

	set := sweep.Settings{
		Lanes:         make(map[sweep.Lane]sweep.LaneSettings),
		AutoPromote:   cfg.AutoPromote == nil || *cfg.AutoPromote,
		PromoteLimits: make(map[sweep.App]int),
		DryRun:        cfg.DryRun,
		LaneTimeout:   laneTimeout,
		SearchTag:     orDefault(cfg.Tags.Search, defaultSearchTag),
		DoneTag:       orDefault(cfg.Tags.Done, defaultDoneTag),
	}

	apps := make(map[sweep.App]sweep.Collaborator)
	for _, ac := range []struct {
		app sweep.App
		cfg config.AppConfig
	}{
		{sweep.AppShow, cfg.Apps.Show},
		{sweep.AppMovie, cfg.Apps.Movie},
		{sweep.AppArtist, cfg.Apps.Artist},
	} {
		if !ac.cfg.Enabled {
			continue
		}
		name := "apps." + string(ac.app)

		searchCD, err := resolveCooldown(name+".cooldowns.search", ac.cfg.Cooldowns.Search, ac.cfg.Cooldown, globalCD)
		if err != nil {
			return nil, sweep.Settings{}, err
		}
		doneCD, err := resolveCooldown(name+".cooldowns.done", ac.cfg.Cooldowns.Done, ac.cfg.Cooldown, globalCD)
		if err != nil {
			return nil, sweep.Settings{}, err
		}

		prof := arr.ProfileFor(ac.app)
		client := arr.NewClient(ac.cfg.URL, ac.cfg.APIKey, prof.APIPrefix, httpTimeout, ratePerSec,
			log.With(logx.String("app", string(ac.app))))
		apps[ac.app] = arr.NewCollaborator(ac.app, client, arr.Options{
			PageSize: pageSize,
			DryRun:   cfg.DryRun,
		}, log)

		set.Lanes[sweep.Lane{App: ac.app, Mode: sweep.ModeSearch}] = sweep.LaneSettings{
			Batch:    limitOr(ac.cfg.SearchLimit, defaultSearchLimit),
			Cooldown: searchCD,
		}
		set.Lanes[sweep.Lane{App: ac.app, Mode: sweep.ModeDone}] = sweep.LaneSettings{
			Batch:    limitOr(ac.cfg.UpgradeLimit, defaultUpgradeLimit),
			Cooldown: doneCD,
		}
		set.PromoteLimits[ac.app] = limitOr(ac.cfg.PromoteLimit, defaultPromoteLimit)
	}
	return apps, set, nil
}

// resolveCooldown applies the precedence mode > app > global. An explicit
// "0s" at a more specific level turns the gate off for that lane.
func resolveCooldown(path, modeRaw, appRaw string, global time.Duration) (time.Duration, error) {
	if strings.TrimSpace(modeRaw) != "" {
		return config.ParseDurationField(path, modeRaw)
	}
	if strings.TrimSpace(appRaw) != "" {
		return config.ParseDurationField(path, appRaw)
	}
	return global, nil
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func cronParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// scheduleSpec normalizes the configured schedule: a bare Go duration
// becomes an "@every" descriptor, anything else goes to the cron parser
// unchanged.
func scheduleSpec(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = defaultSchedule
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return "@every " + d.String()
	}
	return s
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func limitOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
