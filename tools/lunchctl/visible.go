package main

import (
	"fmt"

	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/spf13/cobra"
)

func newVisibleCmd() *cobra.Command {
	var tier, plan string
	cmd := &cobra.Command{
		Use:   "visible",
		Short: "Check whether a plan sees a restaurant tier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			visible := entitlement.IsRestaurantVisibleForTier(tier, plan)
			fmt.Fprintf(cmd.OutOrStdout(), "tier %s on plan %s: visible=%t\n",
				entitlement.NormalizeTier(tier), entitlement.NormalizeTier(plan), visible)
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "restaurant-tier", "", "restaurant tier S, M or L")
	cmd.Flags().StringVar(&plan, "plan", "", "membership plan S, M, L or XL")
	_ = cmd.MarkFlagRequired("restaurant-tier")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}
