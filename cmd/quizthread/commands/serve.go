package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizthread/internal/observability"
	"quizthread/internal/server"

	"github.com/spf13/cobra"
)

// NewServeCommand starts the HTTP and WebSocket adapter.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the comment API and live thread sockets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	rt, stop, err := startRuntime(ctx)
	if err != nil {
		return err
	}
	defer stop()

	srv := server.NewServer(rt.Config, rt.Comments, rt.Redis)
	errCh := make(chan error, 1)
	go func() {
		observability.GlobalLogger.Info("server starting", "port", rt.Config.Port, "transport", rt.Config.Transport)
		errCh <- srv.Listen()
	}()

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-sigCtx.Done():
	}

	observability.GlobalLogger.Info("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		observability.GlobalLogger.Error("server shutdown error", "error", err)
	}
	return nil
}
