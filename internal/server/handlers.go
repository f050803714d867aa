package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/runbox/internal/gate"
	"github.com/michaelbrown/runbox/internal/runner"
	"github.com/michaelbrown/runbox/internal/session"
)

const (
	msgSuccess = "Code executed successfully"
	msgError   = "Execution error encountered"
)

// maxBodyBytes caps request bodies and WebSocket messages. The snippet is
// passed to the interpreter as one argument, which Linux limits to 128 KiB.
const maxBodyBytes = 128 << 10

var errBodyTooLarge = fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return err
	}
	return nil
}

// --- Execution ---

type executeRequest struct {
	Code      *string `json:"code"`
	SessionID string  `json:"session_id,omitempty"`
}

type executeData struct {
	Output string `json:"output"`
	Errors string `json:"errors"`
}

type executeResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Data    *executeData `json:"data"`
}

func newExecuteResponse(res *runner.Result) executeResponse {
	resp := executeResponse{
		Status:  "success",
		Message: msgSuccess,
		Data:    &executeData{Output: res.Stdout, Errors: res.Stderr},
	}
	if res.Failed() {
		resp.Status = "error"
		resp.Message = msgError
	}
	return resp
}

// executeErrorStatus maps a pipeline error onto an HTTP status and detail.
// ok is false for errors that are reported inside a 200 envelope instead.
func executeErrorStatus(err error, sessionID string) (status int, detail string, ok bool) {
	var rej *gate.Rejection
	switch {
	case errors.As(err, &rej):
		return http.StatusBadRequest, "Security Error: " + rej.Error(), true
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "session not found: " + sessionID, true
	}
	return 0, "", false
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Code == nil {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	res, err := s.runner.Execute(r.Context(), runner.Request{Code: *req.Code, SessionID: req.SessionID})
	if err != nil {
		if status, detail, ok := executeErrorStatus(err, req.SessionID); ok {
			writeError(w, status, detail)
			return
		}
		s.logger.Error("execution failed", slog.String("session_id", req.SessionID), slog.Any("error", err))
		writeJSON(w, http.StatusOK, executeResponse{
			Status:  "error",
			Message: "Execution failed: " + err.Error(),
		})
		return
	}

	w.Header().Set("X-Session-ID", res.SessionID)
	writeJSON(w, http.StatusOK, newExecuteResponse(res))
}

// --- Session handlers ---

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.runner.NewSession(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Message: "Session " + id + " created"})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")

	if err := s.runner.DeleteSession(r.Context(), id); err != nil {
		s.logger.Warn("deleting session", slog.String("session_id", id), slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Message: "Session " + id + " deleted"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.runner.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if sessions == nil {
		sessions = []session.Info{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
