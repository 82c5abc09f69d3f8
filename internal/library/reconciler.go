package library

import (
	"context"
	"sync"
	"time"

	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/log"
)

// Reconciler keeps the database in step with the session event stream:
// installed games on completion, resumable rows for running and paused
// downloads.
type Reconciler struct {
	store       *Store
	minInterval time.Duration
	minStep     float64

	mu        sync.Mutex
	throttles map[string]*download.Throttle
}

// NewReconciler creates a reconciler. Progress rows are written through the
// same throttle rules the manager uses for events.
func NewReconciler(store *Store, minInterval time.Duration, minStep float64) *Reconciler {
	return &Reconciler{
		store:       store,
		minInterval: minInterval,
		minStep:     minStep,
		throttles:   make(map[string]*download.Throttle),
	}
}

// Track records a download that was just started.
func (r *Reconciler) Track(ctx context.Context, t download.Target) error {
	return r.store.SaveDownload(ctx, t)
}

// Untrack drops the record of a download that never started.
func (r *Reconciler) Untrack(ctx context.Context, id string) error {
	r.forget(id)
	return r.store.DeleteDownload(ctx, id)
}

// Run applies events until the channel closes or ctx is done.
func (r *Reconciler) Run(ctx context.Context, events <-chan download.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.Apply(ctx, ev); err != nil {
				log.Error("library").
					Str("id", ev.ID).
					Str("event", string(ev.Type)).
					Err(err).
					Msg("Failed to record event")
			}
		}
	}
}

// Apply records a single event.
func (r *Reconciler) Apply(ctx context.Context, ev download.Event) error {
	switch ev.Type {
	case download.EventProgress:
		if !r.allow(ev) {
			return nil
		}
		return r.store.UpdateDownloadProgress(ctx, ev.ID, StatusDownloading, ev.Percent, ev.BytesTransferred, ev.BytesTotal)

	case download.EventPaused:
		percent := 0.0
		if ev.BytesTotal > 0 {
			percent = float64(ev.BytesTransferred) / float64(ev.BytesTotal) * 100
		}
		return r.store.UpdateDownloadProgress(ctx, ev.ID, StatusPaused, percent, ev.BytesTransferred, ev.BytesTotal)

	case download.EventComplete:
		r.forget(ev.ID)
		g := Game{
			ID:            ev.ID,
			RootFolder:    ev.RootFolder,
			InstalledPath: ev.InstalledPath,
			InstalledAt:   ev.Time,
		}
		if d, err := r.store.Download(ctx, ev.ID); err == nil {
			g.DisplayName = d.Target.DisplayName
			g.Kind = d.Target.Kind
			g.Source = d.Target.Source
		}
		if err := r.store.UpsertGame(ctx, g); err != nil {
			return err
		}
		log.Info("library").
			Str("id", ev.ID).
			Str("installed_path", ev.InstalledPath).
			Msg("Game added to library")
		return r.store.DeleteDownload(ctx, ev.ID)

	case download.EventError, download.EventCancelled:
		r.forget(ev.ID)
		return r.store.DeleteDownload(ctx, ev.ID)
	}
	return nil
}

func (r *Reconciler) allow(ev download.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.throttles[ev.ID]
	if !ok {
		th = download.NewThrottle(r.minInterval, r.minStep)
		r.throttles[ev.ID] = th
	}
	now := ev.Time
	if now.IsZero() {
		now = time.Now()
	}
	return th.Allow(now, ev.Status, ev.Percent)
}

func (r *Reconciler) forget(id string) {
	r.mu.Lock()
	delete(r.throttles, id)
	r.mu.Unlock()
}
