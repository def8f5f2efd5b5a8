// Package commands defines the quizthread command tree.
package commands

import (
	"context"
	"fmt"
	"time"

	"quizthread/internal/bootstrap"
	"quizthread/internal/config"
	"quizthread/internal/observability"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "quizthread",
		Short:        "Threaded comments and reactions for quiz discussions",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		NewServeCommand(),
		NewWatchCommand(),
		NewSeedCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// startRuntime loads configuration, applies LOG_LEVEL, starts tracing and opens the engine.
// The returned stop function releases both.
func startRuntime(ctx context.Context) (*bootstrap.Runtime, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	observability.SetLevel(cfg.SlogLevel())

	shutdownTracing, err := observability.InitTracing(cfg.Tracing(Version))
	if err != nil {
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}

	rt, err := bootstrap.InitRuntime(ctx, cfg)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return nil, nil, err
	}

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			observability.GlobalLogger.Error("runtime shutdown error", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			observability.GlobalLogger.Error("tracing shutdown error", "error", err)
		}
	}
	return rt, stop, nil
}
