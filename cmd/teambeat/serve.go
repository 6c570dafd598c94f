package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alecgard/teambeat/internal/api"
	"github.com/alecgard/teambeat/internal/auth"
	"github.com/alecgard/teambeat/internal/checkin"
	"github.com/alecgard/teambeat/internal/dispatch"
	"github.com/alecgard/teambeat/internal/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Teambeat server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)
	go sweepLimiter(ctx, limiter, cfg.RateLimit.Window)

	collector := checkin.NewHandler(a.checkins, a.teamStore, a.codec, a.metrics, logger)
	history := checkin.NewHistory(a.checkins, a.teamStore, a.codec, a.links)

	router := api.NewRouter(api.RouterDeps{
		Teams:          a.teams,
		History:        history,
		Deliveries:     a.deliveries,
		Collector:      collector,
		Dispatcher:     a.dispatcher,
		Verifier:       auth.NewVerifier(cfg.Auth.AdminKey),
		Limiter:        limiter,
		Metrics:        a.metrics,
		DB:             a.pool,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
	})

	var sched *dispatch.Scheduler
	if cfg.Dispatch.Enabled {
		sched = dispatch.NewScheduler(a.dispatcher, cfg.Dispatch.Interval, logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		go sched.Tick()
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr(), "dispatch", cfg.Dispatch.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if sched != nil {
		sched.Stop()
	}
	return srv.Shutdown(shutdownCtx)
}

// sweepLimiter drops idle buckets once per window.
func sweepLimiter(ctx context.Context, l *ratelimit.Limiter, window time.Duration) {
	if !l.Enabled() {
		return
	}
	if window <= 0 {
		window = time.Minute
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
