package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tasknest/tasknest/internal/connector"
	"github.com/tasknest/tasknest/internal/replica"
	"github.com/tasknest/tasknest/internal/ui"
)

var (
	daemonUser  string
	daemonToken string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch the local replica and upload pending mutations",
	Long: `Run the sync daemon: watch the local replica database for writes
and drain its mutation queue to the remote backend.

When turso_url is configured the replica also pulls remote changes from
the primary on every cycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if daemonUser == "" {
			return fmt.Errorf("--user is required")
		}

		logger := newLogger(cfg, "[daemon] ")

		db, closeDB, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		// Connected mode keeps an embedded replica of the remote
		// primary; local-only mode just queues mutations.
		var queue *replica.Queue
		var connected *replica.ConnectedReplica
		if cfg.TursoURL != "" {
			connected, err = replica.OpenConnected(cfg.ReplicaPath, cfg.TursoURL, cfg.TursoAuthToken)
			if err != nil {
				return fmt.Errorf("failed to open connected replica: %w", err)
			}
			defer connected.Close()
			queue = connected.Queue
		} else {
			queue, err = replica.Open(cfg.ReplicaPath)
			if err != nil {
				return fmt.Errorf("failed to open replica: %w", err)
			}
			defer queue.Close()
		}

		conn := connector.New(db, &connector.StaticSession{
			UserID: daemonUser,
			Token:  daemonToken,
		}, cfg.SyncEndpoint, logger)

		watcher, err := connector.NewWatcher(queue.Path(), cfg.PollInterval)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Printf("\n%s Stopping daemon...\n", ui.RenderWarn("⚠"))
			cancel()
		}()

		go func() {
			for err := range watcher.Errors() {
				logger.Printf("WARNING: %v", err)
			}
		}()

		if connected != nil {
			go pullLoop(ctx, connected, cfg.PollInterval, logger)
		}

		fmt.Printf("%s Sync daemon running\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Replica: %s\n", queue.Path())
		fmt.Printf("   User: %s\n", daemonUser)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		// Drain whatever queued up while the daemon was down.
		if n, err := conn.UploadPending(ctx, queue); err != nil {
			logger.Printf("WARNING: initial drain failed: %v", err)
		} else if n > 0 {
			logger.Printf("Initial drain uploaded %d transactions", n)
		}

		err = watcher.Run(ctx, conn, queue)
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

// pullLoop refreshes the embedded replica from the remote primary on a
// fixed cadence.
func pullLoop(ctx context.Context, r *replica.ConnectedReplica, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Pull(); err != nil {
				logger.Printf("WARNING: replica pull failed: %v", err)
			}
		}
	}
}

func init() {
	daemonCmd.Flags().StringVar(&daemonUser, "user", "", "user identity to sync as (required)")
	daemonCmd.Flags().StringVar(&daemonToken, "token", "", "bearer token for credential requests")
	rootCmd.AddCommand(daemonCmd)
}
