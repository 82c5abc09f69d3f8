package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/elsbrock/gamedl/internal/config"
	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/install"
	"github.com/elsbrock/gamedl/internal/library"
	"github.com/elsbrock/gamedl/internal/log"
	"github.com/elsbrock/gamedl/internal/server"
	"github.com/elsbrock/gamedl/internal/transfer"
)

// shutdownTimeout bounds how long running downloads get to park on exit.
const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download service and its HTTP API",
	RunE:  runServe,
	Example: `  # Serve on the default address
  gamedl serve

  # Listen on all interfaces with a 5 MB/s torrent limit
  gamedl serve --listen :9092 --max-download-rate 5MB`,
}

func init() {
	serveCmd.Flags().String("listen", "", "API listen address")
	serveCmd.Flags().String("max-download-rate", "", "initial global torrent download limit, e.g. 5MB (0: unlimited)")
	serveCmd.Flags().Int("torrent-listen-port", 0, "torrent peer port (0: random)")
	mustBind(v, "listen", "listen", serveCmd)
	mustBind(v, "max_download_rate", "max-download-rate", serveCmd)
	mustBind(v, "torrent_listen_port", "torrent-listen-port", serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	swarm, err := transfer.NewSwarm(cfg.SwarmConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := swarm.Close(); err != nil {
			log.Warn("main").Err(err).Msg("Torrent client did not close cleanly")
		}
	}()

	store, err := library.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	manager := newManager(cfg, swarm)
	records, err := store.PausedDownloads(ctx)
	if err != nil {
		return fmt.Errorf("loading paused downloads: %w", err)
	}
	manager.RestorePaused(records)

	reconciler := library.NewReconciler(store, cfg.ProgressMinInterval, cfg.ProgressMinPercentStep)
	events := manager.Subscribe()
	srv := server.New(cfg.ListenAddr, manager, store, reconciler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		// Runs until the manager closes the subscription so the pause
		// records written during shutdown are persisted.
		return reconciler.Run(context.Background(), events.C())
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("main").Msg("Shutting down, pausing active downloads")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return manager.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("main").Err(err).Msg("Service stopped with error")
		return err
	}
	log.Info("main").Msg("Service stopped")
	return nil
}

// newManager wires both backends. swarm may be nil for http-only use.
func newManager(cfg *config.Config, swarm *transfer.Swarm) *download.Manager {
	backends := []transfer.Backend{transfer.NewHTTPBackend(cfg.HTTPConfig(userAgent()))}
	var limiter transfer.RateLimiter
	if swarm != nil {
		backends = append(backends, transfer.NewTorrentBackend(swarm))
		limiter = swarm
	}
	return download.NewManager(cfg.DownloadConfig(), install.New(cfg.EntryPointExtensions), limiter, backends...)
}
