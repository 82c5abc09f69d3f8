package transfer

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/elsbrock/gamedl/internal/log"
	"golang.org/x/time/rate"
)

// minLimiterBurst keeps the burst above the largest chunk the torrent client
// reads in one go, so a low limit slows transfers instead of failing them.
const minLimiterBurst = 256 << 10

// SwarmConfig configures the process-wide torrent client.
type SwarmConfig struct {
	// DataDir holds client state. Torrent content goes to each request's
	// destination.
	DataDir    string
	ListenPort int
	// MaxDownloadRate is the initial global limit in bytes/second; <= 0 is
	// unlimited.
	MaxDownloadRate int64
	// Seed keeps uploading after a torrent completes.
	Seed bool
	// Offline disables DHT and trackers; peers must be added explicitly.
	Offline bool
}

// Swarm owns the single torrent client and the download limiter shared by
// every transfer in the process.
type Swarm struct {
	client  *torrent.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	limit int64

	closeOnce sync.Once
	closeErr  error
}

// NewSwarm starts the torrent client.
func NewSwarm(cfg SwarmConfig) (*Swarm, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating swarm data dir: %w", err)
		}
	}

	s := &Swarm{limiter: newDownloadLimiter()}
	s.SetDownloadRateLimit(cfg.MaxDownloadRate)

	clientCfg := torrent.NewDefaultClientConfig()
	clientCfg.DataDir = cfg.DataDir
	clientCfg.ListenPort = cfg.ListenPort
	clientCfg.Seed = cfg.Seed
	clientCfg.DownloadRateLimiter = s.limiter
	if cfg.Offline {
		clientCfg.NoDHT = true
		clientCfg.DisableTrackers = true
	}

	client, err := torrent.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("starting torrent client: %w", err)
	}
	s.client = client

	log.Info("swarm").
		Str("data_dir", cfg.DataDir).
		Int("listen_port", cfg.ListenPort).
		Int64("rate_limit", cfg.MaxDownloadRate).
		Msg("Torrent client started")
	return s, nil
}

// SetDownloadRateLimit applies a global download limit in bytes/second;
// values <= 0 remove the limit. Running transfers pick it up immediately.
func (s *Swarm) SetDownloadRateLimit(bytesPerSecond int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	s.limit = bytesPerSecond
	applyRateLimit(s.limiter, bytesPerSecond)

	log.Debug("swarm").
		Int64("bytes_per_second", bytesPerSecond).
		Msg("Download rate limit updated")
}

// DownloadRateLimit returns the current limit; 0 means unlimited.
func (s *Swarm) DownloadRateLimit() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// Close drops every torrent and shuts the client down. Running transfers
// fail. Safe to call more than once.
func (s *Swarm) Close() error {
	if s.client == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.client.Close()...)
		log.Info("swarm").Msg("Torrent client closed")
	})
	return s.closeErr
}

func newDownloadLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, minLimiterBurst)
}

func applyRateLimit(l *rate.Limiter, bytesPerSecond int64) {
	if bytesPerSecond <= 0 {
		l.SetLimit(rate.Inf)
		return
	}
	l.SetBurst(max(int(bytesPerSecond), minLimiterBurst))
	l.SetLimit(rate.Limit(bytesPerSecond))
}
