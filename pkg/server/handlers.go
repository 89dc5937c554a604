package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pario-ai/meshbridge/pkg/generate"
	"github.com/pario-ai/meshbridge/pkg/materialize"
	"github.com/pario-ai/meshbridge/pkg/models"
	"github.com/pario-ai/meshbridge/pkg/session"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gen.CacheStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{
		"ok":         true,
		"space":      s.cfg.Remote.BaseURL,
		"cache_keys": stats.Entries,
	}
	status := http.StatusOK
	if r.URL.Query().Get("deep") != "" && s.health != nil {
		if err := s.health.Health(r.Context()); err != nil {
			resp["ok"] = false
			resp["space_error"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp["space_reachable"] = true
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGen3D(w http.ResponseWriter, r *http.Request) {
	req := models.NewGenRequest()
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.gen.GenerateOnce(r.Context(), req.Generation())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGen3DBatch(w http.ResponseWriter, r *http.Request) {
	req := models.NewBatchRequest()
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.gen.GenerateBatch(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionNew(w http.ResponseWriter, r *http.Request) {
	req := models.NewSessionCreate()
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.gen.CreateSession(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Response())
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.gen.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Response())
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	list, err := s.gen.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []models.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleSessionAppend(w http.ResponseWriter, r *http.Request) {
	var req models.AppendRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.gen.AppendToSession(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var dlErr *materialize.DownloadError
	switch {
	case errors.Is(err, generate.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, materialize.ErrNoCandidate),
		errors.As(err, &dlErr),
		errors.Is(err, generate.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", code), zap.Error(err))
	}
	writeJSONError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]errorDetail{
		"error": {Message: message, Type: "meshbridge_error", Code: code},
	})
}
