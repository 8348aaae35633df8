package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/moneybenn-online/salt/internal/export"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":0", "Listen address for the NFS export")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Export an environment over NFS, refreshing on the update interval",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, cfg, err := newEngine()
		if err != nil {
			return err
		}
		defer closeEngine()

		if err := srv.Update(cmd.Context(), false); err != nil {
			slog.Warn("initial update incomplete", "error", err)
		}

		nfsSrv, err := export.NewServer(export.NewEnvFS(srv, saltenv), serveAddr)
		if err != nil {
			return err
		}
		defer func() { _ = nfsSrv.Close() }()
		fmt.Printf("Serving saltenv %s on port %d\n", saltenv, nfsSrv.Port())

		sched := cron.New()
		_, err = sched.AddFunc(fmt.Sprintf("@every %s", cfg.UpdateInterval), func() {
			if err := srv.Update(context.Background(), false); err != nil {
				slog.Warn("periodic update incomplete", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule updates: %w", err)
		}
		sched.Start()
		defer sched.Stop()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-stop:
		case <-cmd.Context().Done():
		}
		return nil
	},
}
