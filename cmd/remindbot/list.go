package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
	"remindbot/internal/config"
	logx "remindbot/pkg/logx"
)

func newListCmd(f *rootFlags) *cobra.Command {
	var owner int64
	cmd := &cobra.Command{
		Use:   "list --owner <telegram user id>",
		Short: "Print an owner's pending reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if owner == 0 {
				return errors.New("--owner is required")
			}
			cfg, err := config.NewManager(f.configPath).Load()
			if err != nil {
				return err
			}
			loc, err := config.LoadLocation(cfg.Scheduler.Timezone)
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cfg, logx.NewConsole("WARN"))
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.ListByOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "no reminders")
				return nil
			}
			for _, r := range list {
				fmt.Fprintf(out, "ID #%d: %s - %s\n", r.ID, r.DueAt.In(loc).Format("2006-01-02 15:04"), r.Text)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Telegram user id")
	return cmd
}
