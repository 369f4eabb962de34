package main

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/md-rashed-zaman/lunchpass/libs/db"
	allowance "github.com/md-rashed-zaman/lunchpass/services/allowance-service/migrations"
	analytics "github.com/md-rashed-zaman/lunchpass/services/analytics-service/migrations"
	authsvc "github.com/md-rashed-zaman/lunchpass/services/auth-service/migrations"
	membership "github.com/md-rashed-zaman/lunchpass/services/membership-service/migrations"
	notification "github.com/md-rashed-zaman/lunchpass/services/notification-service/migrations"
	ordering "github.com/md-rashed-zaman/lunchpass/services/ordering-service/migrations"
	restaurant "github.com/md-rashed-zaman/lunchpass/services/restaurant-service/migrations"
	"github.com/spf13/cobra"
)

var serviceMigrations = map[string]fs.FS{
	"allowance":    allowance.FS,
	"analytics":    analytics.FS,
	"auth":         authsvc.FS,
	"membership":   membership.FS,
	"notification": notification.FS,
	"ordering":     ordering.FS,
	"restaurant":   restaurant.FS,
}

func serviceNames() []string {
	names := make([]string, 0, len(serviceMigrations))
	for name := range serviceMigrations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newMigrateCmd() *cobra.Command {
	var service, dbURL string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations of one service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service = strings.TrimSuffix(strings.TrimSpace(service), "-service")
			fsys, ok := serviceMigrations[service]
			if !ok {
				return fmt.Errorf("unknown service %q (one of %s)", service, strings.Join(serviceNames(), ", "))
			}
			if err := db.Migrate(fsys, ".", dbURL); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: migrations applied\n", service)
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "service name, e.g. ordering")
	cmd.Flags().StringVar(&dbURL, "database-url", "", "postgres connection url")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("database-url")
	return cmd
}
