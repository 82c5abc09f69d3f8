package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/elsbrock/gamedl/internal/config"
	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/log"
	"github.com/elsbrock/gamedl/internal/transfer"
)

var (
	fetchID   string
	fetchDest string
	fetchName string
	fetchFile string

	fetchCmd = &cobra.Command{
		Use:   "fetch",
		Short: "Download and install a single game in the foreground",
	}

	fetchHTTPCmd = &cobra.Command{
		Use:   "http <url>",
		Short: "Fetch a zip archive over http and extract it",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetchHTTP,
		Example: `  gamedl fetch http https://example.com/game.zip --dest /games/game`,
	}

	fetchTorrentCmd = &cobra.Command{
		Use:   "torrent <magnet>",
		Short: "Fetch a torrent from a magnet link",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetchTorrent,
		Example: `  gamedl fetch torrent 'magnet:?xt=urn:btih:...' --name "Some Game"`,
	}
)

func init() {
	fetchCmd.PersistentFlags().StringVar(&fetchID, "id", "", "download id (default: random)")
	fetchCmd.PersistentFlags().StringVar(&fetchDest, "dest", "", "destination folder (default: <games_dir>/<id>)")
	fetchCmd.PersistentFlags().StringVar(&fetchName, "name", "", "display name")
	fetchHTTPCmd.Flags().StringVar(&fetchFile, "file", "", "staged archive name (default: last url path element)")

	fetchCmd.AddCommand(fetchHTTPCmd)
	fetchCmd.AddCommand(fetchTorrentCmd)
}

func runFetchHTTP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target := fetchTarget(cfg, transfer.KindHTTP, args[0])
	target.ArchiveFileName = fetchFile
	if target.ArchiveFileName == "" {
		target.ArchiveFileName = archiveNameFromURL(args[0], target.ID)
	}
	return fetch(cmd.Context(), newManager(cfg, nil), target)
}

func runFetchTorrent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	swarm, err := transfer.NewSwarm(cfg.SwarmConfig())
	if err != nil {
		return err
	}
	defer swarm.Close()
	return fetch(cmd.Context(), newManager(cfg, swarm), fetchTarget(cfg, transfer.KindTorrent, args[0]))
}

func fetchTarget(cfg *config.Config, kind transfer.Kind, source string) download.Target {
	id := fetchID
	if id == "" {
		id = uuid.NewString()
	}
	dest := fetchDest
	if dest == "" {
		dest = filepath.Join(cfg.GamesDir, filepath.Base(id))
	} else if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}
	return download.Target{
		ID:                id,
		Kind:              kind,
		Source:            source,
		DestinationFolder: dest,
		DisplayName:       fetchName,
	}
}

// archiveNameFromURL picks the last path element of rawURL, falling back to
// <id>.zip.
func archiveNameFromURL(rawURL, id string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" && name != "" {
			return name
		}
	}
	return filepath.Base(id) + ".zip"
}

// fetch runs one download to its end, printing progress. An interrupt
// cancels it.
func fetch(ctx context.Context, manager *download.Manager, target download.Target) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := manager.Subscribe()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warn("main").Err(err).Msg("Manager did not shut down cleanly")
		}
	}()

	if err := manager.Start(target); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			manager.Cancel(target.ID)
			return errors.New("download interrupted")
		case ev, ok := <-sub.C():
			if !ok {
				return errors.New("event stream closed")
			}
			if ev.ID != target.ID {
				continue
			}
			switch ev.Type {
			case download.EventProgress:
				fmt.Println(formatProgress(ev))
			case download.EventComplete:
				if ev.InstalledPath != "" {
					fmt.Printf("Installed %s: %s\n", target.Name(), ev.InstalledPath)
				} else {
					fmt.Printf("Downloaded %s to %s (no entry point found)\n", target.Name(), ev.RootFolder)
				}
				return nil
			case download.EventError:
				return fmt.Errorf("download failed: %s", ev.Reason)
			case download.EventCancelled:
				return errors.New("download cancelled")
			}
		}
	}
}

func formatProgress(ev download.Event) string {
	if ev.Status == download.StatusExtracting {
		return "extracting"
	}
	line := fmt.Sprintf("%-11s %s", ev.Status, units.HumanSize(float64(ev.BytesTransferred)))
	if !ev.Indeterminate {
		line = fmt.Sprintf("%s / %s (%.1f%%)", line, units.HumanSize(float64(ev.BytesTotal)), ev.Percent)
	}
	if ev.RateBps > 0 {
		line += fmt.Sprintf("  %s/s", units.HumanSize(ev.RateBps))
	}
	if ev.PeerCount != nil {
		line += fmt.Sprintf("  %d peers", *ev.PeerCount)
	}
	if ev.ETASeconds > 0 {
		line += "  eta " + download.FormatETA(time.Duration(ev.ETASeconds)*time.Second)
	}
	return line
}
