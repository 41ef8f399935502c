package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/ec-fulfillment/internal/app"
)

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order [order-id]",
		Short: "Show an order's saga state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withRecords, _ := cmd.Flags().GetBool("payments")
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				o, err := a.Coordinator.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				if !withRecords {
					return printJSON(cmd.OutOrStdout(), o)
				}
				recs, err := a.Coordinator.PaymentRecords(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"order": o, "payments": recs})
			})
		},
	}
	cmd.Flags().Bool("payments", false, "include verified payment records")
	return cmd
}

func retryBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-booking [order-id]",
		Short: "Retry the carrier booking for a paid order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operator, _ := cmd.Flags().GetString("operator")
			if operator == "" {
				return fmt.Errorf("--operator is required")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				o, err := a.Coordinator.RetryBooking(ctx, args[0], operator)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), o)
			})
		},
	}
	cmd.Flags().String("operator", "", "name recorded on the booking attempt")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale intents and purge old idempotency keys once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Coordinator.ExpireStale(ctx)
				if err != nil {
					return err
				}
				purged, err := a.Coordinator.PurgeDedup(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"sweep": res, "purged_keys": purged})
			})
		},
	}
}
