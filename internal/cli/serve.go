package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/oracle_layer/internal/app/runtime"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background cache maintenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			application, err := runtime.NewApplication(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runErr := application.Run(ctx)
			shutdownErr := application.Shutdown(context.Background())
			return errors.Join(runErr, shutdownErr)
		},
	}
}

func newResolveCommand() *cobra.Command {
	var (
		withSignature bool
		timeout       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resolve <feed-id>",
		Short: "Resolve a stored feed once and print the answer as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			application, err := runtime.NewApplication(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			answer, err := application.App().Feeds.Resolve(ctx, args[0], withSignature)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(answer)
		},
	}
	cmd.Flags().BoolVar(&withSignature, "signature", false, "attach a signature to the answer")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "resolution deadline")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("database.dsn is required")
			}
			if err := runtime.Migrate(cfg.Database); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
