package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// guard applies bearer-token auth and the global rate limit to a handler.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			slog.Warn("security.auth_rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing token")
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, faults.RateLimited, "request rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	token := s.cfg.Gateway.Token
	if token == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	candidate := strings.TrimPrefix(header, "Bearer ")
	if candidate == header {
		// WebSocket clients cannot always set headers.
		candidate = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("gateway: response encode failed", "error", err)
	}
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Retryable = status == http.StatusTooManyRequests
	writeJSON(w, status, body)
}

// writeFault maps a coded error onto an HTTP status.
func writeFault(w http.ResponseWriter, err error) {
	var fe *faults.Error
	if !errors.As(err, &fe) {
		writeError(w, http.StatusInternalServerError, faults.StorageFailure, err.Error())
		return
	}
	writeError(w, statusFor(fe.Code), fe.Code, fe.Message)
}

func statusFor(code string) int {
	switch code {
	case faults.AgentNotFound, faults.SessionNotFound, faults.ProcessNotFound:
		return http.StatusNotFound
	case faults.AlreadyExists, faults.ProcessLimitReached:
		return http.StatusConflict
	case faults.ToolForbidden, faults.CommandBlocked, faults.PathNotAllowed, faults.CwdNotAllowed:
		return http.StatusForbidden
	case faults.RateLimited:
		return http.StatusTooManyRequests
	}
	if strings.HasPrefix(code, "invalid_") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return faults.New(faults.InvalidPayload, "malformed request body: %v", err)
	}
	return nil
}
