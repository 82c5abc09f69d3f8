package download

import (
	"fmt"
	"time"

	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/log"
	"github.com/elsbrock/gamedl/internal/transfer"
)

// runSession drives s until it is paused or reaches a terminal state.
func (m *Manager) runSession(s *Session) {
	throttle := NewThrottle(m.cfg.ProgressMinInterval, m.cfg.ProgressMinPercentStep)
	kind := s.target.Kind

	m.publishProgress(s, s.Info(), throttle)

	backend, ok := m.backends[kind]
	if !ok {
		m.fail(s, nil, errdefs.NewInvalidError(s.ID(), fmt.Errorf("no backend for kind %q", kind)))
		return
	}

	h, err := backend.Start(s.ctx, transfer.Request{
		ID:          s.ID(),
		Source:      s.target.Source,
		Destination: s.target.DestinationFolder,
		FileName:    s.target.ArchiveFileName,
	})
	if err != nil {
		m.fail(s, nil, err)
		return
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	metadata := h.Metadata()
	for {
		select {
		case <-s.ctx.Done():
			m.stop(s, h)
			return
		case <-metadata:
			metadata = nil
			m.resolved(s, h, throttle)
		case <-ticker.C:
			m.sample(s, h, throttle)
		case <-h.Done():
			if s.ctx.Err() != nil {
				m.stop(s, h)
				return
			}
			// Metadata and completion can be ready together; report the
			// download phase before finishing.
			if metadata != nil {
				select {
				case <-metadata:
					m.resolved(s, h, throttle)
				default:
				}
			}
			m.finish(s, h, throttle)
			return
		}
	}
}

// resolved moves a connecting session on once the backend knows what it is
// downloading.
func (m *Manager) resolved(s *Session, h transfer.Handle, throttle *Throttle) {
	if s.State() == StateConnecting && s.advance(StateDownloading) {
		log.Debug("download").
			Str("id", s.ID()).
			Msg("Transfer metadata resolved")
	}
	m.sample(s, h, throttle)
}

func (m *Manager) sample(s *Session, h transfer.Handle, throttle *Throttle) {
	info := s.observe(h.Stats())
	m.publishProgress(s, info, throttle)
}

// publishProgress emits a progress event when the throttle lets it through
// and the session is still the registered one for its id.
func (m *Manager) publishProgress(s *Session, info SessionInfo, throttle *Throttle) {
	ev := progressEvent(info, s.target.Kind)
	if !throttle.Allow(time.Now(), ev.Status, ev.Percent) {
		return
	}
	if !m.registry.Holds(s) {
		return
	}
	logProgress(ev)
	m.events.Publish(ev)
}

// finish handles a transfer that ended on its own.
func (m *Manager) finish(s *Session, h transfer.Handle, throttle *Throttle) {
	res := h.Result()
	if res.Err != nil {
		m.fail(s, h, res.Err)
		return
	}

	// Final sample so the last progress event reflects the full size.
	s.observe(h.Stats())

	root := res.RootPath
	if h.Kind() == transfer.KindHTTP {
		if !s.advance(StateExtracting) {
			m.stop(s, h)
			return
		}
		m.publishProgress(s, s.Info(), throttle)

		if err := m.installer.Extract(res.RootPath, s.target.DestinationFolder); err != nil {
			m.fail(s, h, err)
			return
		}
		root = s.target.DestinationFolder
	}
	release(s, h)

	installed, found, err := m.installer.LocateEntryPoint(root)
	if err != nil {
		log.Warn("download").
			Str("id", s.ID()).
			Str("root", root).
			Err(err).
			Msg("Failed to look for game executable")
	}
	if !found {
		log.Warn("download").
			Str("id", s.ID()).
			Str("root", root).
			Msg("No game executable found")
	}

	if !s.advance(StateCompleted) {
		// A cancel arrived while extracting.
		m.stop(s, nil)
		return
	}
	m.registry.Remove(s.ID())

	log.Info("download").
		Str("id", s.ID()).
		Str("root", root).
		Str("installed_path", installed).
		Dur("duration", time.Since(s.startedAt)).
		Msg("Download completed")
	m.events.Publish(Event{
		Type:          EventComplete,
		ID:            s.ID(),
		Success:       ptr(true),
		InstalledPath: installed,
		RootFolder:    root,
	})
}

// fail ends s with err. A stop request that raced with the failure wins.
func (m *Manager) fail(s *Session, h transfer.Handle, err error) {
	if !s.advance(StateFailed) {
		m.stop(s, h)
		return
	}
	release(s, h)
	m.registry.Remove(s.ID())

	log.Error("download").
		Str("id", s.ID()).
		Str("kind", string(errdefs.KindOf(err))).
		Err(err).
		Msg("Download failed")
	m.events.Publish(Event{
		Type:    EventError,
		ID:      s.ID(),
		Success: ptr(false),
		Reason:  err.Error(),
	})
}

// stop honours a pending pause or cancel request. h may be nil when no
// transfer is running.
func (m *Manager) stop(s *Session, h transfer.Handle) {
	switch s.commitStop() {
	case stopPause:
		if h != nil {
			if err := h.DestroyForPause(); err != nil {
				log.Warn("download").
					Str("id", s.ID()).
					Err(err).
					Msg("Transfer teardown failed")
			}
		}
		rec := s.pauseRecord()
		s.settle(StatePaused)
		m.registry.Park(s.ID(), rec)

		log.Info("download").
			Str("id", s.ID()).
			Int64("bytes", rec.BytesTransferred).
			Msg("Download paused")
		m.events.Publish(Event{
			Type:             EventPaused,
			ID:               s.ID(),
			BytesTransferred: rec.BytesTransferred,
			BytesTotal:       rec.BytesTotal,
			ResumeIsExact:    ptr(m.ResumeIsExact(s.target.Kind)),
		})
	default:
		release(s, h)
		s.settle(StateCancelled)
		m.registry.Remove(s.ID())

		log.Info("download").
			Str("id", s.ID()).
			Msg("Download cancelled")
		m.events.Publish(Event{Type: EventCancelled, ID: s.ID()})
	}
}

// release tears the handle down; for finished transfers this frees backend
// resources and staged leftovers.
func release(s *Session, h transfer.Handle) {
	if h == nil {
		return
	}
	if err := h.Cancel(); err != nil {
		log.Warn("download").
			Str("id", s.ID()).
			Err(err).
			Msg("Transfer teardown failed")
	}
}
