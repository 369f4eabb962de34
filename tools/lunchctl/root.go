package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	tz string
	at string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "lunchctl",
		Short:         "Operator tooling for the lunch benefit backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.tz, "tz", "Europe/Berlin", "IANA zone used for wall-clock evaluation")
	cmd.PersistentFlags().StringVar(&opts.at, "at", "", "evaluation instant in RFC3339 (default now)")

	cmd.AddCommand(
		newStatusCmd(opts),
		newWeeklyCmd(opts),
		newVisibleCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func (o *rootOptions) location() (*time.Location, error) {
	loc, err := time.LoadLocation(o.tz)
	if err != nil {
		return nil, fmt.Errorf("--tz: %w", err)
	}
	return loc, nil
}

// now is --at in the configured zone, or the current time there.
func (o *rootOptions) now() (time.Time, *time.Location, error) {
	loc, err := o.location()
	if err != nil {
		return time.Time{}, nil, err
	}
	if o.at == "" {
		return time.Now().In(loc), loc, nil
	}
	t, err := time.Parse(time.RFC3339, o.at)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("--at: %w", err)
	}
	return t.In(loc), loc, nil
}
