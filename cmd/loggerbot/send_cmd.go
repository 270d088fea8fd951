package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"loggerbot/internal/app"
	"loggerbot/internal/delivery"
	"loggerbot/internal/format"
	"loggerbot/internal/reporter"
)

type sendOptions struct {
	Project string
	Level   string
	File    string
	Wait    time.Duration
}

func newSendCmd(root *rootOptions) *cobra.Command {
	var opts sendOptions
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send one message and wait until it is delivered",
		Long: "Send one message through the same queue and rate limits as the service.\n" +
			"With no text arguments, or a single \"-\", the text is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := format.ParseLevel(opts.Level)
			if err != nil {
				return err
			}
			text, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			entry := reporter.Entry{Project: opts.Project, Level: level, Text: text}
			if opts.File != "" {
				data, err := os.ReadFile(opts.File)
				if err != nil {
					return err
				}
				entry.Attachment = &delivery.Attachment{Name: filepath.Base(opts.File), Data: data}
			}

			a, err := app.New(root.ConfigPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background()) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Wait)
			defer cancel()

			id, err := a.Reporter().Log(ctx, entry)
			if err != nil {
				return err
			}
			if err := a.Dispatcher().WaitIdle(ctx); err != nil {
				return fmt.Errorf("message %s not delivered within %s: %w", id, opts.Wait, err)
			}
			st := a.Dispatcher().Stats()
			if st.Delivered == 0 {
				return fmt.Errorf("message %s was not delivered (failed=%d exhausted=%d)", id, st.Failed, st.Exhausted)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Project, "project", "p", "", "project name; empty uses telegram.default_chat_id")
	cmd.Flags().StringVarP(&opts.Level, "level", "l", "info", "message, info, success, warning or error")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "attach this file as a document")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 2*time.Minute, "how long to wait for delivery")
	return cmd
}

func readText(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", err
	}
	text := strings.TrimRight(string(b), "\n")
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no text given")
	}
	return text, nil
}
