package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tasknest/tasknest/internal/backend"
	"github.com/tasknest/tasknest/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tasknest",
	Short: "Offline-first sync and backup engine for TaskNest",
	Long: `tasknest runs the sync connector, the backup/restore HTTP API, and
the operational export tools for the TaskNest task manager.

Configuration comes from a YAML file (--config) and TASKNEST_-prefixed
environment variables, with the environment taking precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: env and built-in defaults)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the component logger, routing through a rotating
// file when log_file is configured.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	if cfg.LogFile != "" {
		return log.New(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}, prefix, log.LstdFlags)
	}
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

// openBackend picks Postgres when database_url is set, otherwise the
// embedded SQLite store.
func openBackend(cfg *config.Config) (backend.Backend, func() error, error) {
	if cfg.DatabaseURL != "" {
		pg, err := backend.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres backend: %w", err)
		}
		return pg, pg.Close, nil
	}

	lite, err := backend.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite backend: %w", err)
	}
	if err := lite.InitSchema(context.Background()); err != nil {
		_ = lite.Close()
		return nil, nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return lite, lite.Close, nil
}
