package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/ec-fulfillment/internal/app"
	"github.com/example/ec-fulfillment/internal/config"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fulfillctl",
		Short:         "Operator tooling for the order fulfillment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (defaults to $"+config.EnvConfigFile+")")

	root.AddCommand(tokenCmd())
	root.AddCommand(hashPasswordCmd())
	root.AddCommand(orderCmd())
	root.AddCommand(retryBookingCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(trackCmd())
	root.AddCommand(serviceabilityCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

// withApp builds the coordinator against the configured storage, runs fn and
// waits for any deferred work before closing.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Build(ctx, cfg, app.NewLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.Coordinator.Wait()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
