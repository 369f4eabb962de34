package main

import (
	"fmt"

	"github.com/md-rashed-zaman/lunchpass/libs/availability"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Evaluate whether a lunch window takes orders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, _, err := opts.now()
			if err != nil {
				return err
			}
			var hours *availability.HoursRange
			if from != "" || to != "" {
				hours = &availability.HoursRange{From: from, To: to}
			}
			st := availability.IsOrderableNow(hours, now)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "at:      %s (%s / %s)\n", now.Format("2006-01-02 15:04 MST"), availability.WeekdayName(now), availability.WeekdayNameDE(now))
			fmt.Fprintf(out, "open:    %t\n", st.Open)
			if !st.Open {
				fmt.Fprintf(out, "reason:  %s\n", st.Reason)
			}
			fmt.Fprintf(out, "message: %s\n", availability.Message(hours, st))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start HH:MM")
	cmd.Flags().StringVar(&to, "to", "", "window end HH:MM")
	return cmd
}
