package main

import (
	"fmt"
	"os"
	runtime "runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/elsbrock/gamedl/internal/config"
	"github.com/elsbrock/gamedl/internal/log"
)

var version = getVersion()

func getVersion() string {
	if info, ok := runtime.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func userAgent() string {
	return "gamedl/" + version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	cfgFile  string
	logLevel string

	v = config.New()

	rootCmd = &cobra.Command{
		Use:   "gamedl",
		Short: "gamedl downloads, installs and tracks games from torrents and http archives",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				log.SetLevel(log.ParseLevel(logLevel))
			}
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(userAgent())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, fatal, none)")
	mustBind(v, "log_level", "log-level", rootCmd)

	downloadGroup := &cobra.Group{
		ID:    "download",
		Title: "Download Commands:",
	}
	libraryGroup := &cobra.Group{
		ID:    "library",
		Title: "Library Commands:",
	}
	rootCmd.AddGroup(downloadGroup, libraryGroup)

	serveCmd.GroupID = "download"
	fetchCmd.GroupID = "download"
	libraryCmd.GroupID = "library"
	locateCmd.GroupID = "library"

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(libraryCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(versionCmd)
}

// mustBind ties a config key to a persistent or local flag of cmd.
func mustBind(v *viper.Viper, key, flag string, cmd *cobra.Command) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

// loadConfig resolves the configuration and applies its log level unless
// the flag already set one.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		log.Error("main").Err(err).Msg("Failed to load configuration")
		return nil, err
	}
	if logLevel == "" {
		log.SetLevel(log.ParseLevel(cfg.LogLevel))
	}
	log.Debug("main").
		Str("games_dir", cfg.GamesDir).
		Str("data_dir", cfg.DataDir).
		Str("database", cfg.Database).
		Msg("Configuration loaded")
	return cfg, nil
}
