package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/acmecorp/people-sync/pkg/version"
	syncer "github.com/acmecorp/people-sync/pkg/sync"
)

const serviceName = "people-sync"

type errorBody struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, errorBody{Status: "error", Error: kind, Message: message})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": version.GetInfo().Version,
		"endpoints": map[string]string{
			"health": "/health",
			"sync":   "/sync (POST)",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if identity := identityFrom(r.Context()); identity != nil {
		body["authenticatedUser"] = identity.Email
	}

	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	triggeredBy := "anonymous"
	if identity := identityFrom(r.Context()); identity != nil {
		triggeredBy = identity.Email
	}

	s.log.Info().Str("triggered_by", triggeredBy).Msg("sync triggered over HTTP")

	summary, err := s.orchestrator.Run(r.Context(), triggeredBy)
	if err != nil {
		if errors.Is(err, syncer.ErrRunInProgress) {
			s.writeError(w, http.StatusConflict, "conflict", "a sync run is already in progress")
			return
		}

		s.log.Error().Err(err).Msg("sync run could not start")
		s.writeError(w, http.StatusInternalServerError, "sync_error", err.Error())

		return
	}

	status := http.StatusOK
	if summary.Error != nil {
		status = http.StatusInternalServerError
	}

	s.writeJSON(w, status, summary)
}
