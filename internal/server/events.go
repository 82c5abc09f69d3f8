package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/elsbrock/gamedl/internal/log"
)

// handleEvents streams session events as server-sent events. The stream
// ends when the client goes away or the manager shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	sub := s.manager.Subscribe()
	defer sub.Close()

	subscriber := uuid.NewString()
	log.Debug("server").
		Str("subscriber", subscriber).
		Str("remote", r.RemoteAddr).
		Msg("Event stream opened")
	defer func() {
		log.Debug("server").
			Str("subscriber", subscriber).
			Msg("Event stream closed")
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// A client that stops reading must not stall its subscription, so
	// every write carries a deadline.
	rc := http.NewResponseController(w)
	deadline := func() bool {
		err := rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		return err == nil || errors.Is(err, http.ErrNotSupported)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if !deadline() {
				return
			}
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error("server").Err(err).Str("id", ev.ID).Msg("Failed to encode event")
				continue
			}
			seq++
			if !deadline() {
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
