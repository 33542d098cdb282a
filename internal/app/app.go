// Package app wires a loaded configuration into a ready exchange client with
// logging, health tracking and alert delivery attached.
package app

import (
	"context"
	"errors"
	"time"

	"exchange-core/internal/alert"
	"exchange-core/internal/config"
	"exchange-core/internal/credentials"
	"exchange-core/internal/exchange/binance"
	"exchange-core/internal/health"
	"exchange-core/internal/logger"
)

type App struct {
	Config config.Config
	Log    *logger.Log
	Alerts *alert.Manager
	Health *health.Tracker
	Client *binance.Client
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (*logger.Log, error) {
	log := logger.New()
	if err := log.Configure(cfg.Level, cfg.Format, cfg.Output, cfg.MaxAgeDays); err != nil {
		return nil, err
	}
	return log, nil
}

// New assembles the client. A missing or unreadable credential file leaves
// the client in public-only mode.
func New(cfg config.Config, log *logger.Log) (*App, error) {
	if cfg.Exchange.Name != config.ExchangeBinance {
		return nil, errors.New("unsupported exchange " + cfg.Exchange.Name)
	}
	log = logger.OrNop(log)
	alerts := buildAlertManager(cfg, log)
	tracker := health.NewTracker(health.Options{
		DegradedAfter: cfg.Health.DegradedAfterFailures,
		Alerter:       alerts,
		Logger:        log,
	})

	var creds *credentials.Credentials
	if cfg.Exchange.CredentialsPath != "" {
		if c, ok := credentials.Load(cfg.Exchange.CredentialsPath, log); ok {
			creds = c
		} else {
			log.WithComponent("app").WithEvent("credentials_unavailable").
				WithField("path", cfg.Exchange.CredentialsPath).
				Info("running in public-only mode")
		}
	}
	client := binance.NewClientFromConfig(cfg, creds, tracker, log)
	creds.Zero()

	return &App{
		Config: cfg,
		Log:    log,
		Alerts: alerts,
		Health: tracker,
		Client: client,
	}, nil
}

// Close stops the client and flushes queued alerts.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Client != nil {
		errs = append(errs, a.Client.Close())
	}
	if a.Alerts != nil {
		errs = append(errs, a.Alerts.Close(ctx))
	}
	return errors.Join(errs...)
}

func buildAlertManager(cfg config.Config, log *logger.Log) *alert.Manager {
	var notifier alert.Notifier = alert.NewLogNotifier(log)
	tg := cfg.Alert.Telegram
	if tg.Enabled {
		t := alert.NewTelegramNotifier(tg.Enabled, tg.BotToken, tg.ChatID, tg.APIBaseURL, time.Duration(tg.TimeoutSec)*time.Second)
		if t.Enabled() {
			notifier = t
		} else {
			log.WithComponent("app").WithEvent("telegram_disabled").Warn("telegram enabled without bot token, alerts go to the log")
		}
	}
	return alert.NewManagerWithOptions(cfg.Exchange.Name, notifier, alert.ManagerOptions{
		QueueSize:          cfg.Alert.QueueSize,
		DropReportInterval: time.Duration(cfg.Alert.DropReportSec) * time.Second,
		Cooldown:           time.Duration(cfg.Alert.CooldownSec) * time.Second,
		Logger:             log,
	})
}
