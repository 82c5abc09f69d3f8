// Package download drives download sessions from start to installation.
//
// The Manager accepts commands (start, pause, resume, cancel), runs one
// goroutine per session against a transfer backend, and publishes progress
// and terminal events to subscribers.
package download

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/log"
	"github.com/elsbrock/gamedl/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// ErrShutdown is returned by Start after Shutdown was called.
var ErrShutdown = errors.New("download manager is shut down")

// Installer unpacks archives and finds the game executable.
type Installer interface {
	Extract(archivePath, destinationFolder string) error
	LocateEntryPoint(folder string) (string, bool, error)
}

// Manager owns every download session in the process.
type Manager struct {
	cfg       *Config
	backends  map[transfer.Kind]transfer.Backend
	installer Installer
	limiter   transfer.RateLimiter
	registry  *Registry
	events    *Broker

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewManager creates a manager. limiter may be nil when no torrent backend is
// configured.
func NewManager(cfg *Config, installer Installer, limiter transfer.RateLimiter, backends ...transfer.Backend) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		backends:  make(map[transfer.Kind]transfer.Backend, len(backends)),
		installer: installer,
		limiter:   limiter,
		registry:  NewRegistry(),
	}
	m.events = NewBroker(m.cfg.DeliveryTimeout)
	for _, b := range backends {
		m.backends[b.Kind()] = b
	}
	return m
}

// Start validates target, reserves its id and begins the download in the
// background. Only validation and duplicate errors are returned; everything
// else is reported through events.
func (m *Manager) Start(target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if _, ok := m.backends[target.Kind]; !ok {
		return errdefs.NewInvalidError(target.ID, fmt.Errorf("no backend for kind %q", target.Kind))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShutdown
	}

	s := newSession(target)
	if err := m.registry.TryCreate(s); err != nil {
		log.Warn("download").
			Str("id", target.ID).
			Err(err).
			Msg("Refusing to start download")
		return err
	}

	log.Info("download").
		Str("id", target.ID).
		Str("kind", string(target.Kind)).
		Str("name", target.Name()).
		Str("destination", target.DestinationFolder).
		Msg("Starting download")

	m.launch(s)
	return nil
}

// StartHTTP downloads a zip archive and extracts it into destinationFolder.
func (m *Manager) StartHTTP(id, url, archiveFileName, destinationFolder string) error {
	return m.Start(Target{
		ID:                id,
		Kind:              transfer.KindHTTP,
		Source:            url,
		ArchiveFileName:   archiveFileName,
		DestinationFolder: destinationFolder,
	})
}

// StartTorrent downloads a magnet link into destinationFolder.
func (m *Manager) StartTorrent(id, magnetURI, destinationFolder string) error {
	return m.Start(Target{
		ID:                id,
		Kind:              transfer.KindTorrent,
		Source:            magnetURI,
		DestinationFolder: destinationFolder,
	})
}

// Pause stops an active download and keeps a record to resume it. It
// returns once the session is parked. Unknown ids and sessions that cannot
// be paused are logged and ignored; the result reports whether the pause
// took effect.
func (m *Manager) Pause(id string) bool {
	s, ok := m.registry.Get(id)
	if !ok {
		log.Warn("download").
			Str("id", id).
			Msg("Pause requested for unknown download")
		return false
	}
	if !s.requestStop(stopPause) {
		log.Warn("download").
			Str("id", id).
			Str("state", s.State().String()).
			Msg("Download cannot be paused in its current state")
		return false
	}
	<-s.done
	return s.State() == StatePaused
}

// Resume restarts a paused download from its pause record.
func (m *Manager) Resume(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		log.Warn("download").
			Str("id", id).
			Msg("Resume requested after shutdown")
		return false
	}

	s, ok := m.registry.Unpark(id, m.resumeSession)
	if !ok {
		log.Warn("download").
			Str("id", id).
			Msg("Resume requested for download that is not paused")
		return false
	}

	log.Info("download").
		Str("id", id).
		Int64("bytes", s.Info().BytesTransferred).
		Msg("Resuming download")
	m.launch(s)
	return true
}

// resumeSession builds the session for a pause record. Backends that resume
// exactly keep the byte count so progress never goes backwards.
func (m *Manager) resumeSession(rec PauseRecord) *Session {
	s := newSession(rec.Target)
	s.after = rec.settled
	if b, ok := m.backends[rec.Target.Kind]; ok && b.ResumeIsExact() {
		s.bytesTransferred = rec.BytesTransferred
		s.bytesTotal = rec.BytesTotal
	}
	return s
}

// Cancel stops a download for good, whether active or paused. Cancelling an
// unknown or finished id does nothing.
func (m *Manager) Cancel(id string) {
	for {
		s, rec := m.registry.claim(id)
		switch {
		case s != nil:
			if s.requestStop(stopCancel) {
				<-s.done
				return
			}
			// The session is already settling; it may end up parked.
			<-s.done
		case rec != nil:
			log.Info("download").
				Str("id", id).
				Msg("Paused download cancelled")
			m.events.Publish(Event{Type: EventCancelled, ID: id})
			return
		default:
			return
		}
	}
}

// SetGlobalDownloadRateLimit caps the combined torrent download rate;
// bytesPerSecond <= 0 removes the cap.
func (m *Manager) SetGlobalDownloadRateLimit(bytesPerSecond int64) {
	if m.limiter == nil {
		log.Warn("download").Msg("No rate limiter configured")
		return
	}
	m.limiter.SetDownloadRateLimit(bytesPerSecond)
	log.Info("download").
		Int64("bytes_per_second", bytesPerSecond).
		Msg("Global download rate limit set")
}

// GlobalDownloadRateLimit returns the current cap, 0 when unlimited.
func (m *Manager) GlobalDownloadRateLimit() int64 {
	if m.limiter == nil {
		return 0
	}
	return m.limiter.DownloadRateLimit()
}

// ResumeIsExact reports whether downloads of kind continue where they
// stopped after a pause.
func (m *Manager) ResumeIsExact(kind transfer.Kind) bool {
	b, ok := m.backends[kind]
	return ok && b.ResumeIsExact()
}

// Sessions returns snapshots of the active sessions.
func (m *Manager) Sessions() []SessionInfo {
	active := m.registry.Active()
	out := make([]SessionInfo, 0, len(active))
	for _, s := range active {
		out = append(out, s.Info())
	}
	return out
}

// Session returns the snapshot of one active session.
func (m *Manager) Session(id string) (SessionInfo, bool) {
	s, ok := m.registry.Get(id)
	if !ok {
		return SessionInfo{}, false
	}
	return s.Info(), true
}

// PausedRecords returns the dormant downloads.
func (m *Manager) PausedRecords() []PauseRecord {
	return m.registry.Paused()
}

// RestorePaused loads pause records saved by a previous process. Records
// that clash with known ids are skipped.
func (m *Manager) RestorePaused(records []PauseRecord) int {
	restored := 0
	for _, rec := range records {
		if err := rec.Target.Validate(); err != nil {
			log.Warn("download").
				Str("id", rec.Target.ID).
				Err(err).
				Msg("Skipping invalid pause record")
			continue
		}
		if err := m.registry.RestorePauseRecord(rec); err != nil {
			log.Warn("download").
				Str("id", rec.Target.ID).
				Err(err).
				Msg("Skipping pause record")
			continue
		}
		restored++
	}
	log.Info("download").
		Int("restored", restored).
		Int("total", len(records)).
		Msg("Paused downloads restored")
	return restored
}

// Subscribe returns a new event subscription. Callers must Close it.
func (m *Manager) Subscribe() *Subscription {
	return m.events.Subscribe(m.cfg.SubscriberBuffer)
}

// Shutdown pauses every active download so it can be resumed by the next
// process, waits for all sessions to exit and closes all subscriptions.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	active := m.registry.Active()
	log.Info("download").
		Int("active", len(active)).
		Msg("Shutting down download manager")

	var g errgroup.Group
	for _, s := range active {
		g.Go(func() error {
			if !s.requestStop(stopPause) {
				// Extracting sessions finish on their own.
				log.Debug("download").
					Str("id", s.ID()).
					Msg("Waiting for session to finish")
			}
			select {
			case <-s.done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("waiting for %s: %w", s.ID(), ctx.Err())
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.wg.Wait()
	m.events.Close()
	return nil
}

func (m *Manager) launch(s *Session) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(s.done)
		if s.after != nil {
			<-s.after
		}
		m.runSession(s)
	}()
}
