package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alecgard/teambeat/internal/checkin"
	"github.com/alecgard/teambeat/internal/config"
	"github.com/alecgard/teambeat/internal/deliverylog"
	"github.com/alecgard/teambeat/internal/dispatch"
	"github.com/alecgard/teambeat/internal/entitlement"
	"github.com/alecgard/teambeat/internal/mail"
	"github.com/alecgard/teambeat/internal/metrics"
	"github.com/alecgard/teambeat/internal/team"
	"github.com/alecgard/teambeat/internal/token"
)

// app holds the wired components shared by serve, run and dispatch.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool

	metrics    *metrics.Metrics
	teamStore  *team.Store
	teams      *team.Service
	checkins   *checkin.Store
	deliveries *deliverylog.Store
	recorder   *deliverylog.Collector
	codec      *token.Codec[token.SubmissionClaims]
	links      checkin.Links
	manager    *checkin.Manager
	dispatcher *dispatch.Dispatcher
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info("connected to database")

	codec, err := token.NewSubmissionCodec([]byte(cfg.Token.Secret))
	if err != nil {
		pool.Close()
		return nil, err
	}

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	m := metrics.New()
	m.RegisterDBPoolCollector(func() metrics.PoolStats {
		s := pool.Stat()
		return metrics.PoolStats{Total: s.TotalConns(), Idle: s.IdleConns(), Acquired: s.AcquiredConns()}
	})

	a := &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		metrics:    m,
		teamStore:  team.NewStore(pool),
		checkins:   checkin.NewStore(pool),
		deliveries: deliverylog.NewStore(pool),
		codec:      codec,
		links:      checkin.Links{BaseURL: cfg.BaseURL},
	}
	a.teams = team.NewService(a.teamStore)
	a.recorder = deliverylog.NewCollector(a.deliveries, cfg.DeliveryLog.BatchSize, cfg.DeliveryLog.FlushInterval)
	go a.recorder.Start(ctx)
	a.manager = checkin.NewManager(checkin.ManagerDeps{
		Cycles:       a.checkins,
		Members:      a.teamStore,
		Entitlements: entitlement.NewStore(pool),
		Mailer:       mailer,
		Codec:        codec,
		Links:        a.links,
		Deliveries:   a.recorder,
		Metrics:      m,
		Logger:       logger,
		MailTimeout:  cfg.Mail.Timeout,
	})
	a.dispatcher = dispatch.New(a.teamStore, a.manager, cfg.Dispatch.Workers, m, logger)
	return a, nil
}

// close flushes buffered deliveries before the pool goes away.
func (a *app) close() {
	a.recorder.Flush()
	a.recorder.Stop()
	a.pool.Close()
}

func newMailer(cfg *config.Config, logger *slog.Logger) (mail.Mailer, error) {
	if cfg.Mail.Host == "" {
		logger.Warn("no smtp host configured, mail will be logged instead of sent")
		return mail.LogMailer{Logger: logger}, nil
	}
	m, err := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		Timeout:  cfg.Mail.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring smtp: %w", err)
	}
	return m, nil
}
