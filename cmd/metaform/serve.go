package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	metaform "github.com/metaform/metaform-management"
	"github.com/metaform/metaform-management/internal/presentation/tui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the presence server",
	Long: `Serves the websocket endpoint (/socket) together with /health, /info, /locks and
/metrics. Stops gracefully on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, logger, err := openService(ctx, cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		if tui.IsTerminal(os.Stderr) {
			tui.PrintBanner(os.Stderr, metaform.Version)
		}

		if err := svc.Run(ctx); err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		logger.Info("Presence server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (overrides server.addr)")
}
