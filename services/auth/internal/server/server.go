package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"apicourse/internal/health"
	"apicourse/internal/util"
	"apicourse/pkg/auth"
	"apicourse/pkg/domain"
	"apicourse/pkg/session"
	"apicourse/services/auth/internal/app"
)

const maxRequestBodyLen = 1 << 20

type contextKey struct{}

var userContextKey contextKey

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Checker        *health.Checker
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the auth service.
type Server struct {
	app     *app.App
	checker *health.Checker
	proxies *util.TrustedProxies
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		checker: cfg.Checker,
		proxies: cfg.TrustedProxies,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("auth", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)

	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/refresh", s.handleRefresh)
	s.mux.Handle("/auth/logout", s.withUser(s.handleLogout))
	s.mux.Handle("/auth/me", s.withUser(s.handleMe))
	s.mux.Handle("/auth/me/password", s.withUser(s.handleChangePassword))

	s.mux.Handle("/admin/users", s.withUser(s.requireAdmin(s.handleAdminUsers)))
	s.mux.Handle("/admin/users/", s.withUser(s.requireAdmin(s.handleAdminUserByID)))

	s.mux.HandleFunc("/posts", s.handlePosts)
	s.mux.HandleFunc("/posts/", s.handlePostByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "auth"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	report := s.checker.RunAll(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// withUser resolves the bearer token to an account and stores it in the
// request context. Requests without a valid token get 401.
func (s *Server) withUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.app.VerifyAccess(raw)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrTokenRevoked):
				writeError(w, http.StatusUnauthorized, "session token revoked")
			case errors.Is(err, app.ErrAccountDisabled):
				writeError(w, http.StatusUnauthorized, app.ErrAccountDisabled.Error())
			default:
				writeError(w, http.StatusUnauthorized, "invalid session token")
			}
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r).Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r)
	}
}

func currentUser(r *http.Request) domain.User {
	user, _ := r.Context().Value(userContextKey).(domain.User)
	return user
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"fullName"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	user, pair, err := s.app.Register(req.Username, req.Email, req.Password, req.FullName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "tokens": pair})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	user, pair, err := s.app.Login(req.Username, req.Password, util.ClientIP(r, s.proxies))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "tokens": pair})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	user, pair, err := s.app.Refresh(req.RefreshToken)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "tokens": pair})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	// Body is optional; logout works with just the access token.
	_ = json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyLen)).Decode(&req)
	if err := s.app.Logout(bearerToken(r), req.RefreshToken); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var patch app.ProfilePatch
		if !decodeBody(w, r, &patch) {
			return
		}
		updated, err := s.app.UpdateProfile(user.ID, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.app.ChangePassword(currentUser(r).ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/admin/users/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	actor := currentUser(r)
	switch r.Method {
	case http.MethodPatch:
		var patch app.AdminPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		user, err := s.app.AdminUpdateUser(actor.ID, id, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := s.app.AdminDeleteUser(actor.ID, id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		posts, err := s.app.ListPosts()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": posts})
	case http.MethodPost:
		s.withUser(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Title   string `json:"title"`
				Content string `json:"content"`
			}
			if !decodeBody(w, r, &req) {
				return
			}
			post, err := s.app.CreatePost(currentUser(r).ID, req.Title, req.Content)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, post)
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePostByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/posts/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		post, err := s.app.GetPost(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, post)
	case http.MethodPut:
		s.withUser(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Title   *string `json:"title"`
				Content *string `json:"content"`
			}
			if !decodeBody(w, r, &req) {
				return
			}
			post, err := s.app.UpdatePost(currentUser(r), id, req.Title, req.Content)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, post)
		}).ServeHTTP(w, r)
	case http.MethodDelete:
		s.withUser(func(w http.ResponseWriter, r *http.Request) {
			if err := s.app.DeletePost(currentUser(r), id); err != nil {
				writeAppError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyLen)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrUsernameTaken), errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrUserNotFound), errors.Is(err, app.ErrPostNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrForbidden), errors.Is(err, app.ErrSelfChange):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrInvalidRefreshToken),
		errors.Is(err, session.ErrRefreshTokenReplay),
		errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrWrongPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordNoUpper),
		errors.Is(err, auth.ErrPasswordNoLower),
		errors.Is(err, auth.ErrPasswordNoDigit),
		errors.Is(err, app.ErrInvalidUsername),
		errors.Is(err, app.ErrReservedUsername),
		errors.Is(err, app.ErrInvalidEmail),
		errors.Is(err, app.ErrInvalidRole),
		errors.Is(err, app.ErrPostTitleRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForAuth(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForAuth(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "invalid username or password":
		return "AUTH_INVALID_CREDENTIALS"
	case message == "account is disabled":
		return "AUTH_ACCOUNT_DISABLED"
	case message == "too many login attempts":
		return "AUTH_RATE_LIMITED"
	case strings.Contains(message, "already registered"):
		return "AUTH_CONFLICT"
	case strings.Contains(message, "reserved"):
		return "AUTH_RESERVED_USERNAME"
	case strings.Contains(message, "refresh token"):
		return "AUTH_INVALID_REFRESH"
	case strings.Contains(message, "token"):
		return "AUTH_INVALID_TOKEN"
	case message == "admin role required" || message == "not allowed" ||
		message == "cannot change own role or status":
		return "AUTH_FORBIDDEN"
	case strings.Contains(message, "password"):
		return "AUTH_INVALID_PASSWORD"
	case strings.Contains(message, "unknown role"):
		return "AUTH_INVALID_ROLE"
	case message == "user not found":
		return "USER_NOT_FOUND"
	case message == "post not found":
		return "POST_NOT_FOUND"
	case message == "invalid json body":
		return "AUTH_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "AUTH_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_UNAUTHORIZED"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "AUTH_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
