package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"apicourse/internal/health"
	"apicourse/internal/util"
	"apicourse/services/tenants/internal/app"
	"apicourse/services/tenants/internal/model"
	"apicourse/services/tenants/internal/store"
)

const (
	defaultPerPage    = 10
	maxPerPage        = 100
	maxRequestBodyLen = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Checker        *health.Checker
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the tenants service.
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
	return util.WithRequestID(util.WithRequestLog("tenants", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)

	s.mux.HandleFunc("/organizations", s.handleOrganizations)
	s.mux.HandleFunc("/organizations/", s.handleOrganizationSubroutes)
	s.mux.HandleFunc("/users", s.handleUsers)
	s.mux.HandleFunc("/users/", s.handleUserSubroutes)
	s.mux.HandleFunc("/posts", s.handlePosts)
	s.mux.HandleFunc("/posts/", s.handlePostSubroutes)
	s.mux.HandleFunc("/audit-logs", s.handleAuditLogs)
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.proxies)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tenants"})
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

func (s *Server) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		orgs, err := s.app.ListOrganizations()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": orgs})
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
			Plan string `json:"plan"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		org, err := s.app.CreateOrganization(req.Name, req.Plan, s.clientIP(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, org)
	default:
		methodNotAllowed(w)
	}
}

// /organizations/{id}, /organizations/{id}/users, /organizations/{id}/posts
func (s *Server) handleOrganizationSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/organizations/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleOrganizationByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "users":
		s.listOrgUsers(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "posts":
		s.listOrgPosts(w, r, parts[0])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleOrganizationByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		org, err := s.app.GetOrganization(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	case http.MethodDelete:
		if err := s.app.DeleteOrganization(id, s.clientIP(r)); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) listOrgUsers(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, err := s.app.GetOrganization(orgID); err != nil {
		writeAppError(w, err)
		return
	}
	users, err := s.app.ListUsers(orgID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (s *Server) listOrgPosts(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, err := s.app.GetOrganization(orgID); err != nil {
		writeAppError(w, err)
		return
	}
	posts, err := s.app.ListPosts(store.PostFilter{OrganizationID: orgID})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": posts})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.app.ListUsers(r.URL.Query().Get("organizationId"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": users})
	case http.MethodPost:
		var req struct {
			Username       string `json:"username"`
			Email          string `json:"email"`
			FullName       string `json:"fullName"`
			OrganizationID string `json:"organizationId"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		user, err := s.app.CreateUser(req.Username, req.Email, req.FullName, req.OrganizationID, s.clientIP(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w)
	}
}

// /users/{id}, /users/{id}/restore, /users/{id}/posts
func (s *Server) handleUserSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/users/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleUserByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "restore":
		s.handleRestoreUser(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "posts":
		s.listUserPosts(w, r, parts[0])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		user, err := s.app.GetUser(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var patch app.UserPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		user, err := s.app.UpdateUser(id, patch, s.clientIP(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := s.app.DeleteUser(id, s.clientIP(r)); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRestoreUser(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user, err := s.app.RestoreUser(id, s.clientIP(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) listUserPosts(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, err := s.app.GetUser(userID); err != nil {
		writeAppError(w, err)
		return
	}
	posts, err := s.app.ListPosts(store.PostFilter{UserID: userID})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": posts})
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListPosts(w, r)
	case http.MethodPost:
		var req struct {
			UserID  string `json:"userId"`
			Title   string `json:"title"`
			Content string `json:"content"`
			Status  string `json:"status"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		post, err := s.app.CreatePost(req.UserID, req.Title, req.Content, req.Status, s.clientIP(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, post)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.PostFilter{OrganizationID: query.Get("organizationId")}
	if raw := query.Get("status"); raw != "" {
		status, ok := model.ParsePostStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, app.ErrPostInvalidStatus.Error())
			return
		}
		filter.Status = status
	}
	posts, err := s.app.ListPosts(filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	page, perPage, ok := parsePagination(w, query.Get("page"), query.Get("perPage"))
	if !ok {
		return
	}
	total := len(posts)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      posts[start:end],
		"page":       page,
		"perPage":    perPage,
		"total":      total,
		"totalPages": (total + perPage - 1) / perPage,
	})
}

// /posts/{id}, /posts/{id}/publish
func (s *Server) handlePostSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/posts/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handlePostByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "publish":
		s.handlePublishPost(w, r, parts[0])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handlePostByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		post, err := s.app.GetPost(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, post)
	case http.MethodPut:
		var patch app.PostPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		post, err := s.app.UpdatePost(id, patch, s.clientIP(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, post)
	case http.MethodDelete:
		if err := s.app.DeletePost(id, s.clientIP(r)); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handlePublishPost(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	post, err := s.app.PublishPost(id, s.clientIP(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	filter := store.AuditFilter{
		TableName: query.Get("table"),
		Action:    query.Get("action"),
		UserID:    query.Get("userId"),
	}
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}
	entries, err := s.app.ListAudit(filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func parsePagination(w http.ResponseWriter, rawPage, rawPerPage string) (int, int, bool) {
	page := 1
	perPage := defaultPerPage
	if rawPage != "" {
		parsed, err := strconv.Atoi(rawPage)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return 0, 0, false
		}
		page = parsed
	}
	if rawPerPage != "" {
		parsed, err := strconv.Atoi(rawPerPage)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "perPage must be a positive integer")
			return 0, 0, false
		}
		if parsed > maxPerPage {
			parsed = maxPerPage
		}
		perPage = parsed
	}
	return page, perPage, true
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
	case errors.Is(err, app.ErrOrgNotFound),
		errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrPostNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrOrgNameTaken),
		errors.Is(err, app.ErrOrgSlugTaken),
		errors.Is(err, app.ErrOrgHasUsers),
		errors.Is(err, app.ErrUsernameTaken),
		errors.Is(err, app.ErrUserEmailTaken),
		errors.Is(err, app.ErrPlanLimitReached),
		errors.Is(err, app.ErrPostNotDraft),
		errors.Is(err, app.ErrUserNotDeleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrOrgNameRequired),
		errors.Is(err, app.ErrOrgInvalidPlan),
		errors.Is(err, app.ErrUserInvalidUsername),
		errors.Is(err, app.ErrUserInvalidEmail),
		errors.Is(err, app.ErrPostTitleRequired),
		errors.Is(err, app.ErrPostInvalidStatus):
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
		Code:      errorCodeForTenants(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForTenants(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "organization not found":
		return "ORG_NOT_FOUND"
	case message == "user not found":
		return "USER_NOT_FOUND"
	case message == "post not found":
		return "POST_NOT_FOUND"
	case message == "organization still has active users":
		return "ORG_HAS_USERS"
	case message == "organization plan user limit reached":
		return "ORG_PLAN_LIMIT"
	case message == "user is not deleted":
		return "USER_NOT_DELETED"
	case message == "only draft posts can be published":
		return "POST_NOT_DRAFT"
	case strings.Contains(message, "already exists"):
		return "TENANT_CONFLICT"
	case strings.Contains(message, "username"):
		return "USER_INVALID_USERNAME"
	case strings.Contains(message, "email"):
		return "USER_INVALID_EMAIL"
	case strings.Contains(message, "plan must"):
		return "ORG_INVALID_PLAN"
	case message == "invalid json body":
		return "TENANT_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "TENANT_INVALID_REQUEST"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "TENANT_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
