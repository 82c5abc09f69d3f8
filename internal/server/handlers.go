package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/log"
	"github.com/elsbrock/gamedl/internal/transfer"
)

type startHTTPRequest struct {
	ID                string `json:"id" validate:"required"`
	URL               string `json:"url" validate:"required,url"`
	FileName          string `json:"fileName" validate:"required"`
	DestinationFolder string `json:"destinationFolder" validate:"required"`
	DisplayName       string `json:"displayName"`
}

type startTorrentRequest struct {
	ID                string `json:"id" validate:"required"`
	MagnetURI         string `json:"magnetUri" validate:"required,startswith=magnet:"`
	DestinationFolder string `json:"destinationFolder" validate:"required"`
	DisplayName       string `json:"displayName"`
}

type rateLimitRequest struct {
	BytesPerSecond *int64 `json:"bytesPerSecond" validate:"required,gte=0"`
}

type rateLimitResponse struct {
	BytesPerSecond int64 `json:"bytesPerSecond"`
	Unlimited      bool  `json:"unlimited"`
}

// handleStartHTTP processes POST /downloads/http
func (s *Server) handleStartHTTP(w http.ResponseWriter, r *http.Request) {
	var req startHTTPRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.start(w, r, download.Target{
		ID:                req.ID,
		Kind:              transfer.KindHTTP,
		Source:            req.URL,
		DestinationFolder: req.DestinationFolder,
		DisplayName:       req.DisplayName,
		ArchiveFileName:   req.FileName,
	})
}

// handleStartTorrent processes POST /downloads/torrent
func (s *Server) handleStartTorrent(w http.ResponseWriter, r *http.Request) {
	var req startTorrentRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.start(w, r, download.Target{
		ID:                req.ID,
		Kind:              transfer.KindTorrent,
		Source:            req.MagnetURI,
		DestinationFolder: req.DestinationFolder,
		DisplayName:       req.DisplayName,
	})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, target download.Target) {
	// Track before starting so the row exists before the first event. The
	// lock keeps a losing duplicate from dropping the winner's row.
	s.startMu.Lock()
	defer s.startMu.Unlock()
	tracked := false
	if s.reconciler != nil {
		if _, active := s.manager.Session(target.ID); !active && !s.isPaused(target.ID) {
			if err := s.reconciler.Track(r.Context(), target); err != nil {
				log.Warn("server").
					Str("id", target.ID).
					Err(err).
					Msg("Failed to record download")
			} else {
				tracked = true
			}
		}
	}

	if err := s.manager.Start(target); err != nil {
		if tracked {
			if uerr := s.reconciler.Untrack(r.Context(), target.ID); uerr != nil {
				log.Warn("server").Str("id", target.ID).Err(uerr).Msg("Failed to drop download record")
			}
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": target.ID})
}

// handlePause processes POST /downloads/{id}/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.manager.Session(id); !ok {
		writeError(w, errdefs.NewNotFoundError(id))
		return
	}
	if !s.manager.Pause(id) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "download cannot be paused in its current state"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResume processes POST /downloads/{id}/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.manager.Resume(id) {
		writeError(w, errdefs.NewNotFoundError(id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancel processes DELETE /downloads/{id}. Unknown ids are not an error.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.manager.Cancel(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleListDownloads processes GET /downloads
func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.Sessions()
	paused := s.manager.PausedRecords()

	rows := make([]downloadRow, 0, len(sessions)+len(paused))
	for _, info := range sessions {
		rows = append(rows, rowFromSession(info))
	}
	for _, rec := range paused {
		rows = append(rows, rowFromPauseRecord(rec, s.manager.ResumeIsExact(rec.Target.Kind)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"downloads": rows})
}

// handleGetRateLimit processes GET /ratelimit
func (s *Server) handleGetRateLimit(w http.ResponseWriter, r *http.Request) {
	limit := s.manager.GlobalDownloadRateLimit()
	writeJSON(w, http.StatusOK, rateLimitResponse{BytesPerSecond: limit, Unlimited: limit == 0})
}

// handleSetRateLimit processes PUT /ratelimit; 0 removes the limit
func (s *Server) handleSetRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.manager.SetGlobalDownloadRateLimit(*req.BytesPerSecond)
	s.handleGetRateLimit(w, r)
}

// handleLibrary processes GET /library
func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"games": []any{}})
		return
	}
	games, err := s.store.Games(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if games == nil {
		writeJSON(w, http.StatusOK, map[string]any{"games": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errdefs.NewInvalidError("", fmt.Errorf("invalid request body: %w", err)))
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func (s *Server) isPaused(id string) bool {
	for _, rec := range s.manager.PausedRecords() {
		if rec.Target.ID == id {
			return true
		}
	}
	return false
}
