package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest/internal/blob"
	"github.com/tasknest/tasknest/internal/httpapi"
	"github.com/tasknest/tasknest/internal/session"
	"github.com/tasknest/tasknest/internal/snapshot"
	"github.com/tasknest/tasknest/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backup and credentials HTTP API",
	Long: `Start the HTTP server exposing sync credentials, manual and
scheduled snapshot export, download, restore, and status endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateServer(); err != nil {
			return err
		}

		logger := newLogger(cfg, "[serve] ")

		db, closeDB, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		store, err := blob.OpenFS(cfg.BlobDir)
		if err != nil {
			return fmt.Errorf("failed to open blob storage: %w", err)
		}

		sessions, err := session.NewManager(cfg.SessionSecret, cfg.SessionTTL)
		if err != nil {
			return err
		}

		handler := httpapi.NewServer(
			sessions,
			snapshot.NewExporter(db, store, newLogger(cfg, "[export] ")),
			snapshot.NewImporter(db, newLogger(cfg, "[restore] ")),
			store,
			httpapi.ServerConfig{
				SyncEndpoint:  cfg.SyncEndpoint,
				ServiceSecret: cfg.ServiceSecret,
			},
			logger,
		)

		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Printf("Listening on %s", cfg.HTTPAddr)
			errCh <- srv.ListenAndServe()
		}()
		fmt.Printf("%s TaskNest API listening on %s\n", ui.RenderAccent("🚀"), cfg.HTTPAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case sig := <-sigCh:
			logger.Printf("Received %v, shutting down", sig)
			fmt.Printf("\n%s Shutting down...\n", ui.RenderWarn("⚠"))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		fmt.Printf("%s Stopped cleanly\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
