package worker

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	gormstore "github.com/thebtf/recall/internal/db/gorm"
	"github.com/thebtf/recall/internal/worker/sse"
	"github.com/thebtf/recall/pkg/models"
)

// writeJSON encodes v with the shared JSON codec.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

// handleCapture receives one chunk batch from a capture agent. A malformed
// body is a permanent rejection; the agent drops instead of retrying it.
func (s *Service) handleCapture(w http.ResponseWriter, r *http.Request) {
	var batch models.CaptureBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed batch: "+err.Error())
		return
	}
	if len(batch.Chunks) == 0 {
		writeJSON(w, http.StatusOK, &models.CaptureResponse{Success: true})
		return
	}

	resp, err := s.processBatch(r.Context(), batch.Chunks)
	if err != nil {
		log.Error().Err(err).Int("chunks", len(batch.Chunks)).Msg("Capture processing failed")
		writeError(w, http.StatusInternalServerError, "capture failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStats serves the aggregate counters. Scope with ?folderId= or
// ?projectPath=; unscoped stats are global, with the newest open session as
// currentSession.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folderId")
	if folderID == "" {
		if p := r.URL.Query().Get("projectPath"); p != "" {
			folderID = models.FolderIDForPath(p)
		}
	}

	stats, err := s.stats.GetStats(r.Context(), folderID)
	if err != nil {
		log.Error().Err(err).Msg("Stats query failed")
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}

	if folderID == "" {
		open, err := s.sessions.LatestOpenSession(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("Could not resolve current session for stats")
		} else if open != nil {
			stats.CurrentSession = open.ID
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

type sessionInitRequest struct {
	ProjectPath       string `json:"projectPath"`
	TerminalSessionID string `json:"terminalSessionId,omitempty"`
	EnableWatcher     bool   `json:"enableWatcher,omitempty"`
}

// handleSessionInit ensures a folder and open session exist for a project
// path, optionally starting the project watcher.
func (s *Service) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req sessionInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	sess, created, err := s.sessionManager.Init(r.Context(), req.TerminalSessionID, req.ProjectPath, req.EnableWatcher)
	if err != nil {
		log.Error().Err(err).Str("project_path", req.ProjectPath).Msg("Session init failed")
		writeError(w, http.StatusInternalServerError, "session init failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"folderId":  sess.FolderID,
		"sessionId": sess.ID,
		"created":   created,
	})
}

type finalizeRequest struct {
	Summary string `json:"summary,omitempty"`
}

// handleSessionFinalize closes an open session and freezes its stats.
func (s *Service) handleSessionFinalize(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req finalizeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
			return
		}
	}

	sess, err := s.sessionManager.Finalize(r.Context(), sessionID, req.Summary)
	if errors.Is(err, gormstore.ErrSessionNotOpen) {
		writeError(w, http.StatusNotFound, "session is not open")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Session finalize failed")
		writeError(w, http.StatusInternalServerError, "finalize failed")
		return
	}

	s.broadcaster.Broadcast(sse.Event{Type: sse.EventSession, Data: map[string]string{
		"sessionId": sess.ID,
		"status":    string(sess.Status),
	}})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"sessionId":          sess.ID,
		"totalConversations": sess.TotalConversations,
		"successRate":        sess.SuccessRate,
	})
}

// handleResumption assembles the context a fresh session should start with.
// Requires a folder scope via ?folderId= or ?projectPath=.
func (s *Service) handleResumption(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folderId")
	if folderID == "" {
		if p := r.URL.Query().Get("projectPath"); p != "" {
			folderID = models.FolderIDForPath(p)
		}
	}
	if folderID == "" {
		writeError(w, http.StatusBadRequest, "folderId or projectPath is required")
		return
	}
	currentSessionID := r.URL.Query().Get("sessionId")

	rc, err := s.stats.GetResumptionContext(r.Context(), folderID, currentSessionID, s.clk.Now())
	if err != nil {
		log.Error().Err(err).Str("folder_id", folderID).Msg("Resumption query failed")
		writeError(w, http.StatusInternalServerError, "resumption unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// handleHealth reports liveness plus version and uptime.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	if !s.ready.Load() {
		status = "starting"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

// handleReady reports readiness with a 503 until startup finished.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
