package download

import (
	"slices"
	"strings"
	"sync"

	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/log"
)

// Registry maps download ids to live sessions and to pause records of
// dormant ones. An id is never active and dormant at the same time.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Session
	paused map[string]PauseRecord
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]*Session),
		paused: make(map[string]PauseRecord),
	}
}

// TryCreate reserves s.ID(). It fails with a Duplicate error when the id is
// active or paused.
func (r *Registry) TryCreate(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.ID()
	if _, ok := r.active[id]; ok {
		return errdefs.NewDuplicateError(id, "download already active")
	}
	if _, ok := r.paused[id]; ok {
		return errdefs.NewDuplicateError(id, "download is paused; resume or cancel it")
	}
	r.active[id] = s

	log.Debug("registry").
		Str("id", id).
		Int("active", len(r.active)).
		Msg("Session registered")
	return nil
}

// Get returns the active session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[id]
	return s, ok
}

// Holds reports whether s is still the registered session for its id.
func (r *Registry) Holds(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[s.ID()] == s
}

// Remove drops the active session for id. It reports whether anything was
// removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; !ok {
		return false
	}
	delete(r.active, id)
	return true
}

// Park replaces the active entry for id with a pause record.
func (r *Registry) Park(id string, rec PauseRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
	r.paused[id] = rec
}

// TakePauseRecord removes and returns the pause record for id.
func (r *Registry) TakePauseRecord(id string) (PauseRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.paused[id]
	if ok {
		delete(r.paused, id)
	}
	return rec, ok
}

// Unpark turns the pause record for id back into an active session built
// by newSession.
func (r *Registry) Unpark(id string, newSession func(PauseRecord) *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.paused[id]
	if !ok {
		return nil, false
	}
	s := newSession(rec)
	delete(r.paused, id)
	r.active[id] = s
	return s, true
}

// RestorePauseRecord adds a dormant record, typically loaded from disk.
func (r *Registry) RestorePauseRecord(rec PauseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := rec.Target.ID
	if _, ok := r.active[id]; ok {
		return errdefs.NewDuplicateError(id, "download already active")
	}
	if _, ok := r.paused[id]; ok {
		return errdefs.NewDuplicateError(id, "pause record already present")
	}
	r.paused[id] = rec
	return nil
}

// claim returns the active session for id or, when the id is dormant,
// removes and returns its pause record.
func (r *Registry) claim(id string) (*Session, *PauseRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.active[id]; ok {
		return s, nil
	}
	if rec, ok := r.paused[id]; ok {
		delete(r.paused, id)
		return nil, &rec
	}
	return nil, nil
}

// Active returns the live sessions ordered by id.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b *Session) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// Paused returns the pause records ordered by id.
func (r *Registry) Paused() []PauseRecord {
	r.mu.Lock()
	out := make([]PauseRecord, 0, len(r.paused))
	for _, rec := range r.paused {
		out = append(out, rec)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b PauseRecord) int { return strings.Compare(a.Target.ID, b.Target.ID) })
	return out
}
