package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/example/ec-fulfillment/internal/app"
)

func trackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track [waybill]",
		Short: "Show the carrier's tracking status for a waybill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Coordinator.Track(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func serviceabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serviceability [pincode]",
		Short: "Check whether the carrier delivers to a pincode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			weight, _ := cmd.Flags().GetInt("weight")
			cod, _ := cmd.Flags().GetBool("cod")
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				s, err := a.Coordinator.CheckServiceability(ctx, args[0], weight, cod)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			})
		},
	}
	cmd.Flags().Int("weight", 500, "parcel weight in grams")
	cmd.Flags().Bool("cod", false, "require cash on delivery")
	return cmd
}
