package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/config"
	"remindbot/internal/extract"
)

func newExtractCmd(_ *rootFlags) *cobra.Command {
	var (
		nowFlag string
		tz      string
	)
	cmd := &cobra.Command{
		Use:   "extract <text>",
		Short: "Print the reminders found in text without storing them",
		Example: `  remindbot extract "remind me to call mom tomorrow"
  remindbot extract --now 2026-03-10T14:30:00Z --tz UTC "meeting on friday at 3pm"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := config.LoadLocation(tz)
			if err != nil {
				return err
			}
			now := time.Now().In(loc)
			if nowFlag != "" {
				if now, err = time.Parse(time.RFC3339, nowFlag); err != nil {
					return fmt.Errorf("--now: %w", err)
				}
				now = now.In(loc)
			}

			ex := extract.New(extract.NewWhenResolver(loc))
			cands := ex.ExtractAt(cmd.Context(), strings.Join(args, " "), now)
			out := cmd.OutOrStdout()
			if len(cands) == 0 {
				fmt.Fprintln(out, "no reminders found")
				return nil
			}
			for _, c := range cands {
				fmt.Fprintf(out, "%s\t%s\t(%s)\n", c.DueAt.In(loc).Format("2006-01-02 15:04"), c.Text, c.Trigger)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&nowFlag, "now", "", "reference time (RFC3339), default now")
	cmd.Flags().StringVar(&tz, "tz", "", "timezone for resolving dates, default host zone")
	return cmd
}
