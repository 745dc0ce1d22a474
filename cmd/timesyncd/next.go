package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"timesync/internal/cronexpr"
	"timesync/internal/scheduler"
)

const maxPreview = 100

func newNextCmd(now func() time.Time) *cobra.Command {
	var (
		count int
		tz    string
	)
	cmd := &cobra.Command{
		Use:   "next <expr>",
		Short: "Print the upcoming occurrences of a cron expression",
		Example: `  timesyncd next "0 2 * * *"
  timesyncd next "*/15 * * * *" -n 3 --tz Asia/Tokyo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 || count > maxPreview {
				return fmt.Errorf("-n must be between 1 and %d", maxPreview)
			}
			loc := time.Local
			if tz = strings.TrimSpace(tz); tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return fmt.Errorf("timezone %q: %w", tz, err)
				}
				loc = l
			}
			// Unquoted fields arrive as separate args.
			expr, err := cronexpr.Parse(strings.Join(args, " "), loc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range expr.Upcoming(now().In(loc), count) {
				fmt.Fprintln(out, t.Format(scheduler.DescriptionLayout))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of occurrences")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone (default local)")
	return cmd
}
