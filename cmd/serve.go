package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vecsync/vecsync/internal/server"
	"github.com/vecsync/vecsync/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP server (and optional interval scheduler)",
	Long: `Starts the admin HTTP server exposing /resync, /status, /stats, and
/history. When sync_interval_minutes is configured, an incremental sync
also runs on that interval; the shared TTL lock keeps scheduled and
manual runs from overlapping.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := buildEngine(a)
	if err != nil {
		return err
	}

	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = a.cfg.Port
	}

	srv := server.New(server.Config{
		Port:     port,
		AllowAll: a.cfg.AllowAllOrigins,
	}, engine, a.state, a.store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.SyncIntervalMinutes > 0 {
		go runScheduler(ctx, engine, time.Duration(a.cfg.SyncIntervalMinutes)*time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runScheduler triggers an incremental sync every interval until ctx is
// done. A run that finds the lock held is skipped, not queued.
func runScheduler(ctx context.Context, engine *syncer.Engine, interval time.Duration) {
	log.Printf("scheduler: incremental sync every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.Run(ctx, false); err != nil {
				if errors.Is(err, syncer.ErrLocked) {
					log.Printf("scheduler: sync already in progress, skipping tick")
					continue
				}
				log.Printf("scheduler: sync failed: %v", err)
			}
		}
	}
}
