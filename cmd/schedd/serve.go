package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"schedd/internal/app"
	logx "schedd/pkg/logx"
	"schedd/pkg/systemd"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, stopTimeout)
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func runServe(parent context.Context, opts *rootOptions, stopTimeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(opts.ConfigPath)
	if err != nil {
		return err
	}
	log := a.Log()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	if _, err := systemd.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status("dispatching")
	go func() {
		if err := systemd.Watchdog(ctx); err != nil {
			log.Warn("sd_notify watchdog failed", logx.Err(err))
		}
	}()

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	case <-parent.Done():
		reason = app.StopAppStop
	}
	_, _ = systemd.Stopping()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	cancel()

	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}
