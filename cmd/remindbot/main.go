package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"remindbot/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "remindbot",
		Short:         "Telegram bot that turns voice and text messages into reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(f.envFile)
		},
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", config.DefaultPath, "path to config (.json, .yaml)")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file with secrets (ignored when missing)")

	run := newRunCmd(f)
	root.AddCommand(run, newExtractCmd(f), newListCmd(f))
	// no subcommand behaves like "run"
	root.RunE = run.RunE
	return root
}
