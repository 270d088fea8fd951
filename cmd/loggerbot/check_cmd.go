package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loggerbot/internal/app"
	"loggerbot/internal/config"
)

func newCheckConfigCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and environment overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(root.ConfigPath).Load()
			if err != nil {
				return err
			}
			s, err := app.MapSettings(cfg)
			if err != nil {
				return err
			}
			lim := s.Delivery.WithDefaults()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", root.ConfigPath)
			fmt.Fprintf(out, "  default chat: %s\n", s.Reporter.Default)
			fmt.Fprintf(out, "  projects:     %d\n", len(s.Reporter.Projects))
			fmt.Fprintf(out, "  limits:       global=%s destination=%s attempts=%d\n",
				lim.GlobalInterval, lim.DestinationInterval, lim.MaxAttempts)
			fmt.Fprintf(out, "  http:         %v (%s)\n", s.HTTP.Enabled, s.HTTP.Addr)
			fmt.Fprintf(out, "  audit:        %q\n", s.Storage.Driver)
			fmt.Fprintf(out, "  heartbeat:    %v\n", s.Heartbeat.Enabled)
			return nil
		},
	}
}
