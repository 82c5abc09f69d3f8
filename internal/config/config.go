package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/install"
	"github.com/elsbrock/gamedl/internal/transfer"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GAMEDL"

// Config holds the runtime configuration
type Config struct {
	// ListenAddr is the address of the command API
	ListenAddr string

	// GamesDir is the default parent folder for installed games
	GamesDir string

	// StagingDir receives http archives before extraction
	StagingDir string

	// DataDir holds the torrent client state and, by default, the database
	DataDir string

	// Database is the path of the sqlite library database
	Database string

	// MaxDownloadRate is the initial global torrent limit in bytes/second (0: unlimited)
	MaxDownloadRate int64

	// TorrentListenPort is the peer port of the torrent client (0: random)
	TorrentListenPort int

	// TorrentSeed keeps seeding finished torrents
	TorrentSeed bool

	// PollInterval is how often running transfers are sampled
	PollInterval time.Duration

	// ProgressMinInterval and ProgressMinPercentStep throttle progress events
	ProgressMinInterval    time.Duration
	ProgressMinPercentStep float64

	// HTTP backend tuning
	HTTPMaxRedirects  int
	HTTPStallTimeout  time.Duration
	HTTPHeaderTimeout time.Duration
	HTTPIdleTimeout   time.Duration

	// EntryPointExtensions lists the executable extensions searched after install
	EntryPointExtensions []string

	// LogLevel is one of debug, info, warn, error, fatal, none
	LogLevel string
}

// New returns a viper instance with every key defaulted and environment
// lookup enabled. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	def := download.GetDefaultConfig()

	v := viper.New()
	v.SetDefault("listen", "127.0.0.1:9092")
	v.SetDefault("games_dir", "games")
	v.SetDefault("staging_dir", "")
	v.SetDefault("data_dir", "data")
	v.SetDefault("database", "")
	v.SetDefault("max_download_rate", "0")
	v.SetDefault("torrent_listen_port", 0)
	v.SetDefault("torrent_seed", false)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("progress_min_interval", def.ProgressMinInterval)
	v.SetDefault("progress_min_percent_step", def.ProgressMinPercentStep)
	v.SetDefault("http_max_redirects", transfer.DefaultMaxRedirects)
	v.SetDefault("http_stall_timeout", 60*time.Second)
	v.SetDefault("http_header_timeout", 30*time.Second)
	v.SetDefault("http_idle_timeout", 90*time.Second)
	v.SetDefault("entry_point_extensions", install.DefaultExtensions)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads an optional .env file, then the config file (explicit path, or
// config.yaml in the working directory when present) into v and returns the
// resolved Config. Directories are made absolute but not created.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	rate, err := parseRate(v.GetString("max_download_rate"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:             v.GetString("listen"),
		GamesDir:               v.GetString("games_dir"),
		StagingDir:             v.GetString("staging_dir"),
		DataDir:                v.GetString("data_dir"),
		Database:               v.GetString("database"),
		MaxDownloadRate:        rate,
		TorrentListenPort:      v.GetInt("torrent_listen_port"),
		TorrentSeed:            v.GetBool("torrent_seed"),
		PollInterval:           v.GetDuration("poll_interval"),
		ProgressMinInterval:    v.GetDuration("progress_min_interval"),
		ProgressMinPercentStep: v.GetFloat64("progress_min_percent_step"),
		HTTPMaxRedirects:       v.GetInt("http_max_redirects"),
		HTTPStallTimeout:       v.GetDuration("http_stall_timeout"),
		HTTPHeaderTimeout:      v.GetDuration("http_header_timeout"),
		HTTPIdleTimeout:        v.GetDuration("http_idle_timeout"),
		EntryPointExtensions:   v.GetStringSlice("entry_point_extensions"),
		LogLevel:               v.GetString("log_level"),
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// parseRate accepts plain byte counts and human sizes such as "5MB".
func parseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := units.FromHumanSize(s)
	if err != nil {
		return 0, fmt.Errorf("invalid max_download_rate %q: %w", s, err)
	}
	return n, nil
}

func (c *Config) resolvePaths() error {
	if c.StagingDir == "" {
		c.StagingDir = filepath.Join(c.DataDir, "staging")
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, "library.db")
	}
	for _, p := range []*string{&c.GamesDir, &c.StagingDir, &c.DataDir, &c.Database} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.MaxDownloadRate < 0 {
		return fmt.Errorf("max download rate must not be negative: %d", c.MaxDownloadRate)
	}
	if c.TorrentListenPort < 0 || c.TorrentListenPort > 65535 {
		return fmt.Errorf("invalid torrent listen port: %d", c.TorrentListenPort)
	}
	if c.PollInterval <= 0 || c.ProgressMinInterval <= 0 {
		return errors.New("poll and progress intervals must be positive")
	}
	if c.ProgressMinPercentStep <= 0 {
		return fmt.Errorf("progress percent step must be positive: %v", c.ProgressMinPercentStep)
	}
	if c.HTTPMaxRedirects < 0 {
		return fmt.Errorf("http max redirects must not be negative: %d", c.HTTPMaxRedirects)
	}
	if len(c.EntryPointExtensions) == 0 {
		return errors.New("at least one entry point extension is required")
	}
	return nil
}

// DownloadConfig returns the session manager settings.
func (c *Config) DownloadConfig() *download.Config {
	cfg := download.GetDefaultConfig()
	cfg.PollInterval = c.PollInterval
	cfg.ProgressMinInterval = c.ProgressMinInterval
	cfg.ProgressMinPercentStep = c.ProgressMinPercentStep
	return cfg
}

// HTTPConfig returns the http backend settings.
func (c *Config) HTTPConfig(userAgent string) transfer.HTTPConfig {
	return transfer.HTTPConfig{
		StagingDir:            c.StagingDir,
		MaxRedirects:          c.HTTPMaxRedirects,
		IdleConnectionTimeout: c.HTTPIdleTimeout,
		HeaderTimeout:         c.HTTPHeaderTimeout,
		StallTimeout:          c.HTTPStallTimeout,
		UserAgent:             userAgent,
	}
}

// SwarmConfig returns the torrent client settings.
func (c *Config) SwarmConfig() transfer.SwarmConfig {
	return transfer.SwarmConfig{
		DataDir:         filepath.Join(c.DataDir, "torrent"),
		ListenPort:      c.TorrentListenPort,
		MaxDownloadRate: c.MaxDownloadRate,
		Seed:            c.TorrentSeed,
	}
}
