package main

import (
	"fmt"

	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/spf13/cobra"
)

func newWeeklyCmd(opts *rootOptions) *cobra.Command {
	var start, end string
	var mealsPerWeek, remaining int
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Show the weekly allotment views for a membership period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, loc, err := opts.now()
			if err != nil {
				return err
			}
			if mealsPerWeek <= 0 {
				return fmt.Errorf("--meals-per-week must be positive")
			}
			p, err := entitlement.PeriodFromDates(start, end, loc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "period:           %s .. %s\n", entitlement.FormatDate(p.Start), entitlement.FormatDate(p.End))
			fmt.Fprintf(out, "allotment:        %d\n", entitlement.PeriodAllotment(p, mealsPerWeek))
			fmt.Fprintf(out, "remaining weeks:  %d\n", max(entitlement.RemainingWeeks(p.End, now), 0))
			fmt.Fprintf(out, "employer weekly:  %d\n", entitlement.WeeklyMealsRemaining(p.Start, p.End, mealsPerWeek, now))
			if cmd.Flags().Changed("remaining") {
				fmt.Fprintf(out, "employee weekly:  %d\n", entitlement.WeeklyMealsRemainingFromBalance(p.Start, p.End, remaining, mealsPerWeek, now))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "period start YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "period end YYYY-MM-DD, inclusive")
	cmd.Flags().IntVar(&mealsPerWeek, "meals-per-week", 0, "weekly allotment of the plan")
	cmd.Flags().IntVar(&remaining, "remaining", 0, "current balance for the employee view")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	_ = cmd.MarkFlagRequired("meals-per-week")
	return cmd
}
