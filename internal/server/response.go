package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/elsbrock/gamedl/internal/download"
	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/elsbrock/gamedl/internal/log"
)

// writeJSON sends a success response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("server").Err(err).Msg("Failed to encode response")
	}
}

// writeError sends an error response with the status matching err
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("server").Err(err).Msg("Error processing request")
	} else {
		log.Debug("server").Err(err).Int("status", status).Msg("Request rejected")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, download.ErrShutdown):
		return http.StatusServiceUnavailable
	}
	switch errdefs.KindOf(err) {
	case errdefs.KindInvalid:
		return http.StatusBadRequest
	case errdefs.KindDuplicate:
		return http.StatusConflict
	case errdefs.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
