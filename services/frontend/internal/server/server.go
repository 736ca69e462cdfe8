package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"apicourse/internal/util"
	"apicourse/pkg/domain"
	"apicourse/services/frontend/internal/authclient"
	"apicourse/services/frontend/internal/blogclient"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

type contextKey struct{}

var userContextKey contextKey

// Config wires required dependencies for the HTTP server.
type Config struct {
	Auth *authclient.Client
	Blog *blogclient.Client
}

// Server renders HTML pages over the auth and blog APIs.
type Server struct {
	auth  *authclient.Client
	blog  *blogclient.Client
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New constructs the server with routes and templates configured.
func New(cfg Config) *Server {
	s := &Server{
		auth:  cfg.Auth,
		blog:  cfg.Blog,
		pages: make(map[string]*template.Template),
		mux:   http.NewServeMux(),
	}
	for _, name := range []string{
		"index.html", "article.html", "new_article.html",
		"authors.html", "login.html", "register.html", "error.html",
	} {
		s.pages[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("frontend", util.WithSecurityHeaders(s.withSession(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"frontend"}`))
	})
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/articles/", s.handleArticleSubroutes)
	s.mux.HandleFunc("/authors", s.handleAuthors)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/logout", s.handleLogout)
}

// withSession resolves the logged-in user from the access cookie. Pages stay
// reachable anonymously; handlers that need a user check for themselves.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(accessCookie); err == nil && cookie.Value != "" {
			if user, err := s.auth.Me(cookie.Value); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), userContextKey, user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) *domain.User {
	if user, ok := r.Context().Value(userContextKey).(domain.User); ok {
		return &user
	}
	return nil
}

type pageData struct {
	Title string
	User  *domain.User
	Data  any
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	tmpl, ok := s.pages[page]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := tmpl.ExecuteTemplate(w, "layout", pageData{
		Title: title,
		User:  currentUser(r),
		Data:  data,
	})
	if err != nil {
		slog.Error("template render failed", "page", page, "err", err)
	}
}

type errorData struct {
	Message string
}

// renderUpstreamError turns client failures into a friendly page. Network
// errors get a generic message so internals never leak into the HTML.
func (s *Server) renderUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	message := "A backing service is temporarily unavailable. Please try again in a moment."
	status := http.StatusBadGateway
	var authErr *authclient.APIError
	var blogErr *blogclient.APIError
	switch {
	case errors.As(err, &blogErr):
		if blogErr.Status == http.StatusNotFound {
			status = http.StatusNotFound
			message = "That page does not exist."
		}
	case errors.As(err, &authErr):
		if authErr.Status == http.StatusNotFound {
			status = http.StatusNotFound
			message = "That page does not exist."
		}
	default:
		slog.Error("upstream request failed", "err", err)
	}
	s.render(w, r, status, "error.html", "Error", errorData{Message: message})
}

type indexData struct {
	Articles   blogclient.ArticleList
	Categories []string
	Category   string
	PrevPage   int
	NextPage   int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.render(w, r, http.StatusNotFound, "error.html", "Not found", errorData{Message: "That page does not exist."})
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	category := r.URL.Query().Get("category")
	published := true
	list, err := s.blog.ListArticles(blogclient.ListOptions{
		Category:  category,
		Page:      page,
		PerPage:   10,
		Published: &published,
	})
	if err != nil {
		s.renderUpstreamError(w, r, err)
		return
	}
	categories, err := s.blog.Categories()
	if err != nil {
		s.renderUpstreamError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "index.html", "Articles", indexData{
		Articles:   list,
		Categories: categories,
		Category:   category,
		PrevPage:   list.Page - 1,
		NextPage:   list.Page + 1,
	})
}

// /articles/new, /articles/{id}, /articles/{id}/comments
func (s *Server) handleArticleSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/articles/")
	if rest == "new" {
		s.handleNewArticle(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleArticleDetail(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "comments":
		s.handleAddComment(w, r, parts[0])
	default:
		s.render(w, r, http.StatusNotFound, "error.html", "Not found", errorData{Message: "That page does not exist."})
	}
}

type articleData struct {
	Article   blogclient.Article
	Comments  []blogclient.Comment
	Form      map[string]string
	FormError string
}

func (s *Server) handleArticleDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.renderArticlePage(w, r, id, http.StatusOK, nil, "")
}

func (s *Server) renderArticlePage(w http.ResponseWriter, r *http.Request, id string, status int, form map[string]string, formError string) {
	article, err := s.blog.GetArticle(id)
	if err != nil {
		s.renderUpstreamError(w, r, err)
		return
	}
	comments, err := s.blog.ListComments(id)
	if err != nil {
		s.renderUpstreamError(w, r, err)
		return
	}
	if form == nil {
		form = map[string]string{}
	}
	s.render(w, r, status, "article.html", article.Title, articleData{
		Article:   article,
		Comments:  comments,
		Form:      form,
		FormError: formError,
	})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request, articleID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	form := map[string]string{
		"authorName":  r.PostFormValue("authorName"),
		"authorEmail": r.PostFormValue("authorEmail"),
		"content":     r.PostFormValue("content"),
	}
	_, err := s.blog.AddComment(articleID, form["authorName"], form["authorEmail"], form["content"])
	if err != nil {
		var apiErr *blogclient.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 && apiErr.Status != http.StatusNotFound {
			s.renderArticlePage(w, r, articleID, http.StatusUnprocessableEntity, form, apiErr.Message)
			return
		}
		s.renderUpstreamError(w, r, err)
		return
	}
	http.Redirect(w, r, "/articles/"+url.PathEscape(articleID), http.StatusSeeOther)
}

type newArticleData struct {
	Authors    []blogclient.Author
	Categories []string
	Form       map[string]string
	FormError  string
}

func (s *Server) handleNewArticle(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.Path), http.StatusSeeOther)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.renderNewArticle(w, r, http.StatusOK, map[string]string{}, "")
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		form := map[string]string{
			"title":     r.PostFormValue("title"),
			"authorId":  r.PostFormValue("authorId"),
			"category":  r.PostFormValue("category"),
			"tags":      r.PostFormValue("tags"),
			"content":   r.PostFormValue("content"),
			"published": r.PostFormValue("published"),
		}
		article, err := s.blog.CreateArticle(blogclient.ArticleInput{
			Title:     form["title"],
			Content:   form["content"],
			AuthorID:  form["authorId"],
			Category:  form["category"],
			Tags:      splitTags(form["tags"]),
			Published: form["published"] == "true",
		})
		if err != nil {
			var apiErr *blogclient.APIError
			if errors.As(err, &apiErr) && apiErr.Status < 500 {
				s.renderNewArticle(w, r, http.StatusUnprocessableEntity, form, apiErr.Message)
				return
			}
			s.renderUpstreamError(w, r, err)
			return
		}
		http.Redirect(w, r, "/articles/"+url.PathEscape(article.ID), http.StatusSeeOther)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) renderNewArticle(w http.ResponseWriter, r *http.Request, status int, form map[string]string, formError string) {
	authors, err := s.blog.ListAuthors()
	if err != nil {
		s.renderUpstreamError(w, r, err)
		return
	}
	categories, err := s.blog.Categories()
	if err != nil {
		s.renderUpstreamError(w, r, err)
		return
	}
	s.render(w, r, status, "new_article.html", "Write an article", newArticleData{
		Authors:    authors,
		Categories: categories,
		Form:       form,
		FormError:  formError,
	})
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

type authorsData struct {
	Authors []blogclient.Author
}

func (s *Server) handleAuthors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	authors, err := s.blog.ListAuthors()
	if err != nil {
		s.renderUpstreamError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "authors.html", "Authors", authorsData{Authors: authors})
}

type loginData struct {
	Next      string
	Form      map[string]string
	FormError string
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, r, http.StatusOK, "login.html", "Log in", loginData{
			Next: sanitizeNext(r.URL.Query().Get("next")),
			Form: map[string]string{},
		})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		next := sanitizeNext(r.PostFormValue("next"))
		username := r.PostFormValue("username")
		_, pair, err := s.auth.Login(username, r.PostFormValue("password"))
		if err != nil {
			var apiErr *authclient.APIError
			if errors.As(err, &apiErr) && apiErr.Status < 500 {
				s.render(w, r, http.StatusUnauthorized, "login.html", "Log in", loginData{
					Next:      next,
					Form:      map[string]string{"username": username},
					FormError: apiErr.Message,
				})
				return
			}
			s.renderUpstreamError(w, r, err)
			return
		}
		s.setSessionCookies(w, pair)
		if next == "" {
			next = "/"
		}
		http.Redirect(w, r, next, http.StatusSeeOther)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, r, http.StatusOK, "register.html", "Register", loginData{Form: map[string]string{}})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		form := map[string]string{
			"username": r.PostFormValue("username"),
			"email":    r.PostFormValue("email"),
			"fullName": r.PostFormValue("fullName"),
		}
		_, pair, err := s.auth.Register(form["username"], form["email"], r.PostFormValue("password"), form["fullName"])
		if err != nil {
			var apiErr *authclient.APIError
			if errors.As(err, &apiErr) && apiErr.Status < 500 {
				s.render(w, r, http.StatusUnprocessableEntity, "register.html", "Register", loginData{
					Form:      form,
					FormError: apiErr.Message,
				})
				return
			}
			s.renderUpstreamError(w, r, err)
			return
		}
		s.setSessionCookies(w, pair)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	access, refresh := "", ""
	if cookie, err := r.Cookie(accessCookie); err == nil {
		access = cookie.Value
	}
	if cookie, err := r.Cookie(refreshCookie); err == nil {
		refresh = cookie.Value
	}
	if access != "" {
		if err := s.auth.Logout(access, refresh); err != nil {
			slog.Warn("logout against auth service failed", "err", err)
		}
	}
	s.clearSessionCookies(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) setSessionCookies(w http.ResponseWriter, pair authclient.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   pair.ExpiresIn,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// sanitizeNext only allows same-site paths as redirect targets.
func sanitizeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return ""
	}
	return next
}
