package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/install"
	"github.com/elsbrock/gamedl/internal/library"
)

var (
	libraryCmd = &cobra.Command{
		Use:   "library",
		Short: "Inspect and manage installed games",
	}

	libraryListCmd = &cobra.Command{
		Use:   "list",
		Short: "List installed games and unfinished downloads",
		Args:  cobra.NoArgs,
		RunE:  runLibraryList,
	}

	libraryCheckCmd = &cobra.Command{
		Use:   "check <id>",
		Short: "Check that an installed game is still on disk",
		Args:  cobra.ExactArgs(1),
		RunE:  runLibraryCheck,
	}

	libraryUninstallCmd = &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Remove a game folder and forget the game",
		Args:  cobra.ExactArgs(1),
		RunE:  runLibraryUninstall,
	}

	locateCmd = &cobra.Command{
		Use:   "locate <folder>",
		Short: "Find the game executable inside a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runLocate,
	}
)

func init() {
	libraryCmd.AddCommand(libraryListCmd)
	libraryCmd.AddCommand(libraryCheckCmd)
	libraryCmd.AddCommand(libraryUninstallCmd)
}

func openStore() (*library.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return library.Open(cfg.Database)
}

func runLibraryList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	games, err := store.Games(cmd.Context())
	if err != nil {
		return err
	}
	downloads, err := store.Downloads(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tSTATUS\tPATH")
	for _, g := range games {
		path := g.InstalledPath
		if path == "" {
			path = g.RootFolder
		}
		fmt.Fprintf(w, "%s\t%s\t%s\tinstalled %s\t%s\n", g.ID, g.DisplayName, g.Kind,
			units.HumanDuration(time.Since(g.InstalledAt))+" ago", path)
	}
	for _, d := range downloads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %.1f%% of %s\t%s\n", d.Target.ID, d.Target.DisplayName, d.Target.Kind,
			d.Status, d.Percent, units.HumanSize(float64(d.BytesTotal)), d.Target.DestinationFolder)
	}
	return w.Flush()
}

func runLibraryCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := library.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	game, err := store.Game(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	exe := ""
	if game.InstalledPath != "" {
		if rel, err := filepath.Rel(game.RootFolder, game.InstalledPath); err == nil {
			exe = rel
		}
	}
	inst, err := install.New(cfg.EntryPointExtensions).CheckInstalled(game.RootFolder, exe)
	if err != nil {
		return err
	}
	if !inst.Installed {
		return fmt.Errorf("%s is no longer installed at %s", game.ID, game.RootFolder)
	}
	if inst.Path != "" {
		fmt.Printf("%s is installed: %s\n", game.ID, inst.Path)
	} else {
		fmt.Printf("%s is installed in %s (no entry point)\n", game.ID, inst.RootFolder)
	}
	return nil
}

func runLibraryUninstall(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	game, err := store.Game(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := install.Uninstall(game.RootFolder); err != nil && !errdefs.Is(err, errdefs.KindNotFound) {
		return err
	}
	if err := store.DeleteGame(cmd.Context(), game.ID); err != nil {
		return err
	}
	fmt.Printf("Uninstalled %s\n", game.ID)
	return nil
}

func runLocate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, ok, err := install.New(cfg.EntryPointExtensions).LocateEntryPoint(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no entry point found in %s", args[0])
	}
	fmt.Println(path)
	return nil
}
