package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"shelfshare/internal/ratelimit"
	"shelfshare/internal/usertoken"
	"shelfshare/internal/util"
	"shelfshare/pkg/domain"
	"shelfshare/services/catalog/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Service
	Limiter       *ratelimit.FixedWindowLimiter
	TrustProxy    bool
}

// Server exposes HTTP endpoints for the catalog service.
type Server struct {
	app        *app.App
	tokens     *usertoken.Service
	limiter    *ratelimit.FixedWindowLimiter
	trustProxy bool
	mux        *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:        cfg.App,
		tokens:     cfg.TokenVerifier,
		limiter:    cfg.Limiter,
		trustProxy: cfg.TrustProxy,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("catalog", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// discovery: listing is open, mutations require a user
	s.mux.HandleFunc("GET /books", s.handleDiscover)
	s.mux.HandleFunc("GET /books/surprise", s.handleSurprise)
	s.mux.HandleFunc("GET /books/filters", s.handleFacets)
	s.mux.Handle("POST /books", s.limited(s.withUser(s.handleCreateBook)))

	// caller-scoped views
	s.mux.Handle("GET /books/my-books", s.withUser(s.handleMyBooks))
	s.mux.Handle("GET /books/borrowed", s.withUser(s.handleBorrowedBooks))
	s.mux.Handle("GET /books/incoming-requests", s.withUser(s.handleIncomingRequests))
	s.mux.Handle("GET /user/borrowRequestsSent", s.withUser(s.handleSentRequests))

	// book detail and mutations
	s.mux.HandleFunc("GET /books/{id}", s.handleGetBook)
	s.mux.HandleFunc("GET /books/{id}/reviews", s.handleListReviews)
	s.mux.Handle("POST /books/{id}/enlist", s.limited(s.withUser(s.handleEnlist)))
	s.mux.Handle("POST /books/{id}/request", s.limited(s.withUser(s.handleSubmitRequest)))
	s.mux.Handle("POST /books/{id}/reviews", s.limited(s.withUser(s.handleAddReview)))
	s.mux.Handle("POST /books/requests/{id}/approve", s.limited(s.withUser(s.handleApprove)))
	s.mux.Handle("POST /books/requests/{id}/reject", s.limited(s.withUser(s.handleReject)))
	s.mux.Handle("POST /user/borrowRequests/{id}/cancel", s.limited(s.withUser(s.handleCancel)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := usertoken.BearerToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokens.VerifySubject(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
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

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	filters, page, pageSize := parseQuery(r)
	items, total := s.app.Index().Query(filters, page, pageSize)
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"totalCount": total,
		"page":       page,
		"pageSize":   pageSize,
	})
}

func (s *Server) handleSurprise(w http.ResponseWriter, r *http.Request) {
	filters, _, _ := parseQuery(r)
	item, err := s.app.Index().Surprise(filters)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleFacets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Index().Facets())
}

func parseQuery(r *http.Request) (app.Filters, int, int) {
	q := r.URL.Query()
	filters := app.Filters{
		Query:  q.Get("q"),
		Genre:  q.Get("genre"),
		Author: q.Get("author"),
		State:  q.Get("state"),
		City:   q.Get("city"),
		Area:   q.Get("area"),
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	return filters, page, pageSize
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, userID string) {
	var in app.CreateBookInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	book, err := s.app.CreateBook(userID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	detail, err := s.app.GetBook(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleMyBooks(w http.ResponseWriter, r *http.Request, userID string) {
	books, err := s.app.ListOwnedBooks(userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleBorrowedBooks(w http.ResponseWriter, r *http.Request, userID string) {
	books, err := s.app.ListBorrowedBooks(userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleEnlist(w http.ResponseWriter, r *http.Request, userID string) {
	in := struct {
		Enlisted *bool `json:"enlisted"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	enlisted := true
	if in.Enlisted != nil {
		enlisted = *in.Enlisted
	}
	book, err := s.app.SetEnlisted(r.PathValue("id"), userID, enlisted)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleAddReview(w http.ResponseWriter, r *http.Request, userID string) {
	in := struct {
		Rating int `json:"ratings"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	review, err := s.app.AddReview(r.PathValue("id"), userID, in.Rating)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.app.ListReviews(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request, userID string) {
	req, err := s.app.SubmitRequest(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, userID string) {
	req, err := s.app.Approve(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request, userID string) {
	req, err := s.app.Reject(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, userID string) {
	req, err := s.app.Cancel(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleIncomingRequests(w http.ResponseWriter, r *http.Request, userID string) {
	requests, err := s.app.ListIncoming(userID, requestStatusFilter(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (s *Server) handleSentRequests(w http.ResponseWriter, r *http.Request, userID string) {
	requests, err := s.app.ListSent(userID, requestStatusFilter(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func requestStatusFilter(r *http.Request) domain.RequestStatus {
	return domain.RequestStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
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

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status, code := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{
		Error:     errorMessage(err, status),
		Code:      code,
		RequestID: util.RequestIDFromRequest(r),
	})
}

func errorMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func statusForKind(kind domain.Kind) (int, string) {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest, "INVALID_INPUT"
	case domain.KindNotFound:
		return http.StatusNotFound, "BOOK_NOT_FOUND"
	case domain.KindAuthorization:
		return http.StatusForbidden, "FORBIDDEN"
	case domain.KindInvalidState:
		return http.StatusConflict, "INVALID_BOOK_STATE"
	case domain.KindConflict:
		return http.StatusConflict, "CONCURRENT_UPDATE"
	case domain.KindSelfBorrow:
		return http.StatusUnprocessableEntity, "SELF_BORROW"
	case domain.KindEmptyResult:
		return http.StatusNotFound, "NO_MATCHING_BOOKS"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_INPUT"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
