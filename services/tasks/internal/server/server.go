package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"apicourse/internal/health"
	"apicourse/internal/util"
	"apicourse/services/tasks/internal/app"
)

// v1 is frozen and scheduled for removal; responses carry deprecation headers.
const (
	v1SunsetDate      = "2026-06-01"
	defaultPerPage    = 10
	maxPerPage        = 100
	maxRequestBodyLen = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Checker *health.Checker
}

// Server exposes HTTP endpoints for the tasks service.
type Server struct {
	app     *app.App
	checker *health.Checker
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		checker: cfg.Checker,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("tasks", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.HandleFunc("/api/version", s.handleVersions)

	// v1: legacy field names, kept for clients that have not migrated.
	s.mux.Handle("/api/v1/tasks", s.withV1Headers(s.handleTasksV1))
	s.mux.Handle("/api/v1/tasks/", s.withV1Headers(s.handleTaskByIDV1))

	// v2: current surface.
	s.mux.HandleFunc("/api/v2/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/v2/tasks/", s.handleTaskSubroutes)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tasks"})
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

type versionInfo struct {
	Version    string `json:"version"`
	Status     string `json:"status"`
	SunsetDate string `json:"sunsetDate,omitempty"`
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default": "v2",
		"versions": []versionInfo{
			{Version: "v1", Status: "deprecated", SunsetDate: v1SunsetDate},
			{Version: "v2", Status: "current"},
		},
	})
}

// withV1Headers stamps deprecation metadata on every v1 response.
func (s *Server) withV1Headers(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", "v1")
		w.Header().Set("Deprecation", "true")
		w.Header().Set("Sunset", v1SunsetDate)
		next(w, r)
	})
}

// taskV1 is the legacy wire shape: name/done instead of title/completed.
type taskV1 struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Done bool   `json:"done"`
}

func toV1(task app.Task) taskV1 {
	return taskV1{ID: task.ID, Name: task.Title, Done: task.Completed}
}

func (s *Server) handleTasksV1(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := app.ListFilter{}
		if raw := r.URL.Query().Get("done"); raw != "" {
			done, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "done must be true or false")
				return
			}
			filter.Completed = &done
		}
		if raw := r.URL.Query().Get("priority"); raw != "" {
			priority, ok := app.ParsePriority(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, app.ErrInvalidPriority.Error())
				return
			}
			filter.Priority = &priority
		}
		tasks := s.app.List(filter)
		out := make([]taskV1, 0, len(tasks))
		for _, task := range tasks {
			out = append(out, toV1(task))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		task, err := s.app.Create(req.Name, "", app.PriorityMedium)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, toV1(task))
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTaskByIDV1(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	switch id {
	case "search":
		s.handleSearchV1(w, r)
		return
	case "stats":
		s.handleStats(w, r)
		return
	}
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	task, ok := s.app.Get(id)
	if !ok {
		notFound(w, "task not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toV1(task))
	case http.MethodPut:
		var req struct {
			Name *string `json:"name"`
			Done *bool   `json:"done"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		updated, err := s.app.Update(id, req.Name, nil, req.Done, nil)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toV1(updated))
	case http.MethodDelete:
		if err := s.app.Delete(id); err != nil {
			notFound(w, "task not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSearchV1(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	results := s.app.Search(query, nil)
	out := make([]taskV1, 0, len(results))
	for _, task := range results {
		out = append(out, toV1(task))
	}
	writeJSON(w, http.StatusOK, out)
}

type taskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
	Priority    *string `json:"priority"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTasks(w, r)
	case http.MethodPost:
		s.handleCreateTask(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := app.ListFilter{}
	query := r.URL.Query()
	if raw := query.Get("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "completed must be true or false")
			return
		}
		filter.Completed = &completed
	}
	if raw := query.Get("priority"); raw != "" {
		priority, ok := app.ParsePriority(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, app.ErrInvalidPriority.Error())
			return
		}
		filter.Priority = &priority
	}
	tasks := s.app.List(filter)
	if key := query.Get("sort"); key != "" {
		if !app.SortTasks(tasks, key) {
			writeError(w, http.StatusBadRequest, "sort must be one of: created, title, priority (prefix with - to reverse)")
			return
		}
	} else {
		app.SortByCreatedDesc(tasks)
	}

	page, perPage, ok := parsePagination(w, query.Get("page"), query.Get("perPage"))
	if !ok {
		return
	}
	total := len(tasks)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      tasks[start:end],
		"page":       page,
		"perPage":    perPage,
		"total":      total,
		"totalPages": (total + perPage - 1) / perPage,
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	title := ""
	if req.Title != nil {
		title = *req.Title
	}
	description := ""
	if req.Description != nil {
		description = *req.Description
	}
	priority := app.PriorityMedium
	if req.Priority != nil {
		parsed, ok := app.ParsePriority(*req.Priority)
		if !ok {
			writeError(w, http.StatusBadRequest, app.ErrInvalidPriority.Error())
			return
		}
		priority = parsed
	}
	task, err := s.app.Create(title, description, priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// /api/v2/tasks/{id}, /api/v2/tasks/search, /api/v2/tasks/stats
func (s *Server) handleTaskSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v2/tasks/")
	switch rest {
	case "search":
		s.handleSearch(w, r)
		return
	case "stats":
		s.handleStats(w, r)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		notFound(w, "not found")
		return
	}
	s.handleTaskByID(w, r, rest)
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		task, ok := s.app.Get(id)
		if !ok {
			notFound(w, "task not found")
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodPut:
		var req taskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var priority *app.Priority
		if req.Priority != nil {
			parsed, ok := app.ParsePriority(*req.Priority)
			if !ok {
				writeError(w, http.StatusBadRequest, app.ErrInvalidPriority.Error())
				return
			}
			priority = &parsed
		}
		task, err := s.app.Update(id, req.Title, req.Description, req.Completed, priority)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if err := s.app.Delete(id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	var completed *bool
	if raw := r.URL.Query().Get("completed"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "completed must be true or false")
			return
		}
		completed = &parsed
	}
	results := s.app.Search(query, completed)
	writeJSON(w, http.StatusOK, map[string]any{
		"items": results,
		"count": len(results),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Stats())
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
	switch err {
	case app.ErrTaskNotFound:
		notFound(w, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
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
		Code:      errorCodeForTasks(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForTasks(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "task not found":
		return "TASK_NOT_FOUND"
	case message == "invalid json body":
		return "TASK_INVALID_REQUEST"
	case strings.Contains(message, "sort"):
		return "TASK_INVALID_SORT"
	case strings.Contains(message, "title"):
		return "TASK_INVALID_TITLE"
	case strings.Contains(message, "priority"):
		return "TASK_INVALID_PRIORITY"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "TASK_INVALID_REQUEST"
	case http.StatusNotFound:
		return "TASK_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
