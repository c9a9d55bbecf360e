package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskbeat/internal/config"
	"taskbeat/internal/core"
	"taskbeat/internal/lock"
	"taskbeat/internal/notify"
	"taskbeat/internal/store"
)

// app holds the wired engine shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	location  *time.Location
	store     *store.Store
	scheduler *core.Scheduler
	redis     *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, location: location, store: st}

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := &http.Client{}
	executors := map[core.TaskKind]core.Executor{
		core.TaskKindKeepalive:    core.NewKeepaliveExecutor(core.NewHTTPTransport(httpClient), logger),
		core.TaskKindNotification: core.NewNotificationExecutor(st, dispatcher, location, logger),
	}
	recorder := core.NewRecorder(st, st, st, cfg.LogRetention, logger)
	alerter := core.NewAlerter(st, st, dispatcher, location, logger)

	a.scheduler, err = core.NewScheduler(st, st, executors, recorder, alerter, locker, core.SchedulerConfig{
		TickSpec: cfg.TickSpec,
		Workers:  cfg.Workers,
		Location: location,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newLocker uses Redis when an address is configured so replicas never run a task twice.
func (a *app) newLocker(ctx context.Context) (core.Locker, error) {
	if a.cfg.Redis.Addr == "" {
		return lock.NewMemory(), nil
	}
	a.logger.Info().Str("addr", a.cfg.Redis.Addr).Msg("connecting to redis")
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	locker := lock.NewRedis(a.redis, "", a.cfg.Redis.LockTTL, a.logger)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := locker.Ping(pingCtx); err != nil {
		return nil, err
	}
	return locker, nil
}

func newDispatcher(cfg *config.Config, logger zerolog.Logger) (*notify.Dispatcher, error) {
	dispatcher := notify.NewDispatcher(notify.Config{
		SendTimeout: cfg.Notify.SendTimeout,
		RatePerSec:  cfg.Notify.RatePerSec,
	}, logger)

	client := &http.Client{}
	dispatcher.Register(core.ChannelWebhook, notify.NewWebhookSender(client))
	dispatcher.Register(core.ChannelNotifyX, notify.NewNotifyXSender(cfg.Notify.NotifyXBaseURL, client))
	dispatcher.Register(core.ChannelBark, notify.NewBarkSender(client))

	smtpCfg := notify.SMTPConfig{
		Host:     cfg.Notify.SMTP.Host,
		Port:     cfg.Notify.SMTP.Port,
		Username: cfg.Notify.SMTP.Username,
		Password: cfg.Notify.SMTP.Password,
		From:     cfg.Notify.SMTP.From,
	}
	if smtpCfg.Enabled() {
		dispatcher.Register(core.ChannelEmail, notify.NewEmailSender(smtpCfg))
	} else {
		logger.Debug().Msg("smtp not configured, email channels will fail")
	}

	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		dispatcher.Register(core.ChannelTelegram, tg)
	}
	return dispatcher, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close store")
		}
	}
}
