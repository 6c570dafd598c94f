package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alecgard/teambeat/internal/dispatch"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [team-id...]",
	Short: "Run one synchronous dispatch pass",
	Long:  "Closes every cycle whose report is due, then opens every cycle whose send is due. Team ids restrict the pass to those teams. The pass summary is printed as JSON.",
	RunE:  runDispatch,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run dispatch passes on the configured interval until interrupted",
	RunE:  runScheduler,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(runCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
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

	sum, err := a.dispatcher.Run(ctx, args...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	if sum.Errors > 0 {
		return fmt.Errorf("dispatch finished with %d errors", sum.Errors)
	}
	return nil
}

func runScheduler(cmd *cobra.Command, args []string) error {
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

	sched := dispatch.NewScheduler(a.dispatcher, cfg.Dispatch.Interval, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	// Run once at startup so a restart does not wait a full interval.
	sched.Tick()

	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()
	return nil
}
