package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"loggerbot/internal/app"
	logx "loggerbot/pkg/logx"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the delivery service until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(root.ConfigPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return err
			}

			select {
			case <-ctx.Done():
				a.Logger().Info("signal received")
			case <-a.Done():
				if err := a.Err(); err != nil {
					a.Logger().Error("fatal error", logx.Err(err))
				}
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			if err := a.Stop(stopCtx); err != nil {
				return err
			}
			return a.Err()
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}
