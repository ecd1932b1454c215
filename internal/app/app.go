// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, moderation, broadcasting and the welcome sequence.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gatebot/internal/broadcast"
	"gatebot/internal/config"
	"gatebot/internal/moderation"
	"gatebot/internal/storage"
	kit "gatebot/internal/transport"
	"gatebot/internal/transport/telegram"
	"gatebot/internal/welcome"
	"gatebot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store       storage.Store
	adapter     kit.Adapter
	coordinator *moderation.Coordinator
	fanout      *broadcast.Fanout
	composer    *broadcast.Composer
	welcome     *welcome.Service
	sched       *cron.Cron

	wg sync.WaitGroup
}

// New loads the config file and builds every component. Nothing talks to
// the network until Run.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))
	mgr.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		token = os.Getenv("BOT_TOKEN")
	}
	if token == "" {
		_ = logSvc.Close()
		return nil, errors.New("telegram token missing: set telegram.token or BOT_TOKEN")
	}

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{Token: token, PollTimeout: pollTimeout},
		log.With(logx.String("svc", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout},
		log.With(logx.String("svc", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	wlc := welcome.New(welcomeConfig(cfg), adapter, log.With(logx.String("svc", "welcome")))

	approveDelay, _ := config.ParseDurationOrDefault("welcome.approve_delay", cfg.Welcome.ApproveDelay, time.Second)
	coord := moderation.New(moderation.Config{
		DefaultWelcome: cfg.DefaultWelcomeMessage,
		ApproveDelay:   approveDelay,
	}, store, adapter, wlc, cfg.Telegram.AdminUserIDs, log.With(logx.String("svc", "moderation")))

	fan := broadcast.NewFanout(adapter, float64(cfg.Broadcast.RatePerSec),
		log.With(logx.String("svc", "broadcast")))
	comp := broadcast.NewComposer(adapter, store, fan, log.With(logx.String("svc", "broadcast")))

	a := &App{
		cfgMgr:      mgr,
		logSvc:      logSvc,
		log:         log.With(logx.String("svc", "app")),
		store:       store,
		adapter:     adapter,
		coordinator: coord,
		fanout:      fan,
		composer:    comp,
		welcome:     wlc,
	}

	if cfg.Digest.Enabled {
		a.sched = cron.New()
		if _, err := a.sched.AddFunc(cfg.Digest.Schedule, a.sendPendingDigest); err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("digest.schedule: %w", err)
		}
	}

	return a, nil
}

func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if err := cfg.ValidateDurations(); err != nil {
		return err
	}
	if cfg.Broadcast.RatePerSec < 0 {
		return errors.New("broadcast.rate_per_sec must be >= 0")
	}
	if cfg.Digest.Enabled {
		if _, err := cron.ParseStandard(cfg.Digest.Schedule); err != nil {
			return fmt.Errorf("digest.schedule: %w", err)
		}
	}
	return nil
}

func welcomeConfig(cfg *config.Config) welcome.Config {
	short, _ := config.ParseDurationField("welcome.short_delay", cfg.Welcome.ShortDelay)
	long, _ := config.ParseDurationField("welcome.long_delay", cfg.Welcome.LongDelay)
	return welcome.Config{
		MediaDir:        cfg.Welcome.MediaDir,
		Photo:           cfg.Welcome.Photo,
		Caption:         cfg.Welcome.Caption,
		ButtonLabel:     cfg.Welcome.ButtonLabel,
		ActivationParam: cfg.Welcome.ActivationParam,
		AlbumPhotos:     cfg.Welcome.AlbumPhotos,
		PromoText:       cfg.Welcome.PromoText,
		ContactUsername: cfg.Welcome.ContactUsername,
		ContactLabel:    cfg.Welcome.ContactLabel,
		ContactMessage:  cfg.Welcome.ContactMessage,
		ReminderText:    cfg.Welcome.ReminderText,
		ShortDelay:      short,
		LongDelay:       long,
	}
}

// Run starts the adapter, the config watcher and the scheduler, then blocks
// dispatching updates until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	updates := make(chan kit.Update, 128)
	if err := a.adapter.Start(ctx, updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}
	a.log.Info("bot started", logx.String("username", a.adapter.Username()))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(ctx)
	}()

	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	if a.sched != nil {
		a.sched.Start()
	}

	a.dispatchLoop(ctx, updates, 8)
	a.wg.Wait()
	return nil
}

// applyConfig propagates a hot-reloaded config to the running components.
// Token, storage path and schedules stay fixed until restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.coordinator.SetAdmins(cfg.Telegram.AdminUserIDs)
	a.fanout.SetRate(float64(cfg.Broadcast.RatePerSec))
	a.log.Info("runtime config applied",
		logx.Int("admins", len(cfg.Telegram.AdminUserIDs)),
		logx.Int("rate_per_sec", cfg.Broadcast.RatePerSec))
}

// sendPendingDigest reminds admins about requests that sat unreviewed.
func (a *App) sendPendingDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pending, err := a.coordinator.PendingRequests(ctx)
	if err != nil {
		a.log.Error("pending digest query", logx.Err(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	text := fmt.Sprintf("%d join request(s) are still waiting for review. Use /pending to list them.", len(pending))
	cfg := a.cfgMgr.Get()
	for _, adminID := range cfg.Telegram.AdminUserIDs {
		a.replyTo(ctx, adminID, text)
	}
}

// Stop shuts the components down in dependency order.
func (a *App) Stop(ctx context.Context) {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	a.wg.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("bot stopped")
	_ = a.logSvc.Close()
}
