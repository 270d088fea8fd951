package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigPath string
	EnvFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "loggerbot",
		Short:         "Rate-limited Telegram delivery for log and error notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnvFile(opts.EnvFile)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./config.json", "path to config file (JSON or YAML)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with LOGGERBOT_* overrides; ignored when missing")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newCheckConfigCmd(opts))
	return cmd
}

// loadEnvFile never overrides variables already set in the environment.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
