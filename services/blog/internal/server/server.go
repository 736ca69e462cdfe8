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
	"apicourse/services/blog/internal/app"
)

const (
	defaultPerPage    = 10
	maxPerPage        = 100
	maxRequestBodyLen = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Checker *health.Checker
}

// Server exposes HTTP endpoints for the blog service.
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
	return util.WithRequestID(util.WithRequestLog("blog", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)

	s.mux.HandleFunc("/api/v2/authors", s.handleAuthors)
	s.mux.HandleFunc("/api/v2/authors/", s.handleAuthorByID)
	s.mux.HandleFunc("/api/v2/articles", s.handleArticles)
	s.mux.HandleFunc("/api/v2/articles/", s.handleArticleSubroutes)
	s.mux.HandleFunc("/api/v2/categories", s.handleCategories)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "blog"})
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

type authorRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Bio   string `json:"bio"`
}

func (s *Server) handleAuthors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": s.app.ListAuthors()})
	case http.MethodPost:
		var req authorRequest
		if !decodeBody(w, r, &req) {
			return
		}
		author, err := s.app.CreateAuthor(req.Name, req.Email, req.Bio)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, author)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAuthorByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v2/authors/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		author, err := s.app.GetAuthor(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, author)
	case http.MethodDelete:
		if err := s.app.DeleteAuthor(id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListArticles(w, r)
	case http.MethodPost:
		var req app.ArticleInput
		if !decodeBody(w, r, &req) {
			return
		}
		article, err := s.app.CreateArticle(req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, article)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := app.ListOptions{
		AuthorID: query.Get("authorId"),
		Category: query.Get("category"),
		Tag:      query.Get("tag"),
		Sort:     query.Get("sort"),
	}
	if raw := query.Get("published"); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "published must be true or false")
			return
		}
		opts.Published = &published
	}
	articles := s.app.ListArticles(opts)

	page, perPage, ok := parsePagination(w, query.Get("page"), query.Get("perPage"))
	if !ok {
		return
	}
	total := len(articles)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      articles[start:end],
		"page":       page,
		"perPage":    perPage,
		"total":      total,
		"totalPages": (total + perPage - 1) / perPage,
	})
}

// /api/v2/articles/{id}, /{id}/comments, /{id}/comments/{cid}, plus the
// stats and popular collection endpoints.
func (s *Server) handleArticleSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v2/articles/")
	switch rest {
	case "stats":
		s.handleStats(w, r)
		return
	case "popular":
		s.handlePopular(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleArticleByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "comments":
		s.handleComments(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "comments" && parts[2] != "":
		s.handleCommentByID(w, r, parts[0], parts[2])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleArticleByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.GetArticle(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPut:
		var req app.ArticleInput
		if !decodeBody(w, r, &req) {
			return
		}
		article, err := s.app.ReplaceArticle(id, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, article)
	case http.MethodPatch:
		var patch app.ArticlePatch
		if !decodeBody(w, r, &patch) {
			return
		}
		article, err := s.app.PatchArticle(id, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, article)
	case http.MethodDelete:
		if err := s.app.DeleteArticle(id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type commentRequest struct {
	AuthorName  string `json:"authorName"`
	AuthorEmail string `json:"authorEmail"`
	Content     string `json:"content"`
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request, articleID string) {
	switch r.Method {
	case http.MethodGet:
		comments, err := s.app.ListComments(articleID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": comments, "count": len(comments)})
	case http.MethodPost:
		var req commentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		comment, err := s.app.AddComment(articleID, req.AuthorName, req.AuthorEmail, req.Content)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCommentByID(w http.ResponseWriter, r *http.Request, articleID, commentID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteComment(articleID, commentID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": app.Categories})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Stats())
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	items := s.app.Popular(limit)
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
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
	case errors.Is(err, app.ErrAuthorNotFound),
		errors.Is(err, app.ErrArticleNotFound),
		errors.Is(err, app.ErrCommentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrAuthorEmailConflict),
		errors.Is(err, app.ErrAuthorHasArticles):
		writeError(w, http.StatusConflict, err.Error())
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
		Code:      errorCodeForBlog(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForBlog(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "author not found":
		return "AUTHOR_NOT_FOUND"
	case message == "article not found":
		return "ARTICLE_NOT_FOUND"
	case message == "comment not found":
		return "COMMENT_NOT_FOUND"
	case message == "email already registered":
		return "AUTHOR_EMAIL_CONFLICT"
	case message == "author still has articles":
		return "AUTHOR_HAS_ARTICLES"
	case message == "invalid json body":
		return "BLOG_INVALID_REQUEST"
	case strings.Contains(message, "title"):
		return "ARTICLE_INVALID_TITLE"
	case strings.Contains(message, "comment content"):
		return "COMMENT_INVALID_CONTENT"
	case strings.Contains(message, "content"):
		return "ARTICLE_INVALID_CONTENT"
	case strings.Contains(message, "category"):
		return "ARTICLE_INVALID_CATEGORY"
	case strings.Contains(message, "authorid"):
		return "ARTICLE_UNKNOWN_AUTHOR"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "BLOG_INVALID_REQUEST"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "BLOG_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
