package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"shelfshare/internal/ratelimit"
	"shelfshare/internal/usertoken"
	"shelfshare/internal/util"
	"shelfshare/pkg/domain"
	"shelfshare/services/auth/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App        *app.App
	Limiter    *ratelimit.FixedWindowLimiter
	TrustProxy bool
}

// Server exposes HTTP endpoints for the account service.
type Server struct {
	app        *app.App
	limiter    *ratelimit.FixedWindowLimiter
	trustProxy bool
	mux        *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:        cfg.App,
		limiter:    cfg.Limiter,
		trustProxy: cfg.TrustProxy,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("auth", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("POST /auth/register", s.limited(http.HandlerFunc(s.handleRegister)))
	s.mux.Handle("POST /auth/login", s.limited(http.HandlerFunc(s.handleLogin)))
	s.mux.Handle("POST /auth/reset-password", s.limited(http.HandlerFunc(s.handleResetPassword)))
	s.mux.HandleFunc("GET /auth/me", s.handleMe)
}

func (s *Server) limited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r, s.trustProxy)) {
			writeError(w, r, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in app.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	user, token, err := s.app.Register(in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	user, token, err := s.app.Login(in.Username, in.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username          string            `json:"username"`
		SecurityQuestions map[string]string `json:"securityQuestionMap"`
		NewPassword       string            `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.app.ResetPassword(in.Username, in.SecurityQuestions, in.NewPassword); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token, ok := usertoken.BearerToken(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, ok := s.app.UserFromToken(token)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForStatus(status),
		RequestID: util.RequestIDFromRequest(r),
	})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrUsernameTaken):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrSecurityQAMismatch):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrUsernameRequired),
		errors.Is(err, app.ErrNameRequired),
		errors.Is(err, app.ErrEmailRequired),
		errors.Is(err, app.ErrSecurityQARequired),
		domain.IsKind(err, domain.KindValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_INPUT"
	case http.StatusUnauthorized:
		return "INVALID_CREDENTIALS"
	case http.StatusForbidden:
		return "SECURITY_ANSWER_MISMATCH"
	case http.StatusConflict:
		return "USERNAME_TAKEN"
	case http.StatusNotFound:
		return "USER_NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "INTERNAL"
	}
}
