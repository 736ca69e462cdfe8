package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"apicourse/services/blog/internal/app"
	"apicourse/services/blog/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	appCore := app.New(store.NewMemoryStore())
	srv := httptest.NewServer(New(Config{App: appCore}).Router())
	t.Cleanup(srv.Close)
	return srv, appCore
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func mustAuthor(t *testing.T, a *app.App, name, email string) store.Author {
	t.Helper()
	author, err := a.CreateAuthor(name, email, "")
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	return author
}

func mustArticle(t *testing.T, a *app.App, authorID, title string, published bool) store.Article {
	t.Helper()
	article, err := a.CreateArticle(app.ArticleInput{
		Title:     title,
		Content:   strings.Repeat("some content here ", 5),
		AuthorID:  authorID,
		Category:  "Technology",
		Published: published,
	})
	if err != nil {
		t.Fatalf("create article: %v", err)
	}
	return article
}

func TestAuthorLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v2/authors", map[string]any{
		"name":  "Grace",
		"email": "grace@example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create expected 201, got %d", resp.StatusCode)
	}
	author := decode[store.Author](t, resp)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v2/authors", map[string]any{
		"name":  "Grace Again",
		"email": "grace@example.com",
	})
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate email expected 409, got %d", resp.StatusCode)
	}
	if body["code"] != "AUTHOR_EMAIL_CONFLICT" {
		t.Fatalf("unexpected code %v", body["code"])
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v2/authors/"+author.ID, nil)
	view := decode[app.AuthorView](t, resp)
	if view.ArticleCount != 0 || view.Name != "Grace" {
		t.Fatalf("unexpected author view: %+v", view)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v2/authors/"+author.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete expected 204, got %d", resp.StatusCode)
	}
}

func TestDeleteAuthorWithArticlesConflicts(t *testing.T) {
	srv, appCore := newTestServer(t)
	author := mustAuthor(t, appCore, "Busy Writer", "busy@example.com")
	mustArticle(t, appCore, author.ID, "An article that pins the author", true)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/v2/authors/"+author.ID, nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if body["code"] != "AUTHOR_HAS_ARTICLES" {
		t.Fatalf("unexpected code %v", body["code"])
	}
}

func TestArticleCRUDAndViews(t *testing.T) {
	srv, appCore := newTestServer(t)
	author := mustAuthor(t, appCore, "Writer", "writer@example.com")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v2/articles", map[string]any{
		"title":     "A fresh look at pagination",
		"content":   strings.Repeat("Offset or cursor, pick one and document it. ", 3),
		"authorId":  author.ID,
		"category":  "Technology",
		"tags":      []string{"API", "api", " rest "},
		"published": true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create expected 201, got %d", resp.StatusCode)
	}
	created := decode[store.Article](t, resp)
	if created.Slug != "a-fresh-look-at-pagination" {
		t.Fatalf("unexpected slug %q", created.Slug)
	}
	if len(created.Tags) != 2 {
		t.Fatalf("tags not deduplicated: %v", created.Tags)
	}

	// Detail fetch increments views and embeds the author.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v2/articles/"+created.ID, nil)
	view := decode[app.ArticleView](t, resp)
	if view.Views != 1 {
		t.Fatalf("expected 1 view, got %d", view.Views)
	}
	if view.Author == nil || view.Author.Name != "Writer" {
		t.Fatalf("expected embedded author, got %+v", view.Author)
	}
	if view.Excerpt == "" {
		t.Fatal("expected excerpt on detail view")
	}

	resp = doJSON(t, http.MethodPatch, srv.URL+"/api/v2/articles/"+created.ID, map[string]any{
		"published": false,
	})
	patched := decode[store.Article](t, resp)
	if patched.Published {
		t.Fatal("patch did not unpublish")
	}
	if patched.Title != created.Title {
		t.Fatalf("patch must keep title, got %q", patched.Title)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v2/articles/"+created.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete expected 204, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v2/articles/"+created.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete expected 404, got %d", resp.StatusCode)
	}
}

func TestListArticlesFilters(t *testing.T) {
	srv, appCore := newTestServer(t)
	author := mustAuthor(t, appCore, "Writer", "writer@example.com")
	other := mustAuthor(t, appCore, "Other", "other@example.com")
	mustArticle(t, appCore, author.ID, "Published piece number one", true)
	mustArticle(t, appCore, author.ID, "Unpublished draft number two", false)
	mustArticle(t, appCore, other.ID, "Somebody else's published work", true)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v2/articles?published=true", nil)
	page := decode[struct {
		Items []app.ArticleView `json:"items"`
		Total int               `json:"total"`
	}](t, resp)
	if page.Total != 2 {
		t.Fatalf("expected 2 published, got %d", page.Total)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v2/articles?authorId="+author.ID, nil)
	page = decode[struct {
		Items []app.ArticleView `json:"items"`
		Total int               `json:"total"`
	}](t, resp)
	if page.Total != 2 {
		t.Fatalf("expected 2 by author, got %d", page.Total)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v2/articles?published=maybe", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad published filter expected 400, got %d", resp.StatusCode)
	}
}

func TestCommentsEndpoints(t *testing.T) {
	srv, appCore := newTestServer(t)
	author := mustAuthor(t, appCore, "Writer", "writer@example.com")
	article := mustArticle(t, appCore, author.ID, "An article worth commenting on", true)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v2/articles/"+article.ID+"/comments", map[string]any{
		"authorName":  "Reader",
		"authorEmail": "reader@example.com",
		"content":     "This was a genuinely useful read.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("comment expected 201, got %d", resp.StatusCode)
	}
	comment := decode[store.Comment](t, resp)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v2/articles/"+article.ID+"/comments", map[string]any{
		"authorName":  "Reader",
		"authorEmail": "reader@example.com",
		"content":     "short",
	})
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short comment expected 400, got %d", resp.StatusCode)
	}
	if body["code"] != "COMMENT_INVALID_CONTENT" {
		t.Fatalf("unexpected code %v", body["code"])
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v2/articles/"+article.ID+"/comments", nil)
	list := decode[struct {
		Items []store.Comment `json:"items"`
		Count int             `json:"count"`
	}](t, resp)
	if list.Count != 1 {
		t.Fatalf("expected 1 comment, got %d", list.Count)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v2/articles/"+article.ID+"/comments/"+comment.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete comment expected 204, got %d", resp.StatusCode)
	}
}

func TestCategoriesAndStats(t *testing.T) {
	srv, appCore := newTestServer(t)
	author := mustAuthor(t, appCore, "Writer", "writer@example.com")
	mustArticle(t, appCore, author.ID, "A published technology article", true)
	mustArticle(t, appCore, author.ID, "A draft technology article here", false)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v2/categories", nil)
	categories := decode[struct {
		Items []string `json:"items"`
	}](t, resp)
	if len(categories.Items) != 5 {
		t.Fatalf("expected 5 categories, got %v", categories.Items)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v2/articles/stats", nil)
	stats := decode[app.Stats](t, resp)
	if stats.TotalArticles != 2 || stats.Published != 1 || stats.Drafts != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByCategory["Technology"] != 2 {
		t.Fatalf("unexpected category counts: %v", stats.ByCategory)
	}
}

func TestPopularOrdering(t *testing.T) {
	srv, appCore := newTestServer(t)
	author := mustAuthor(t, appCore, "Writer", "writer@example.com")
	quiet := mustArticle(t, appCore, author.ID, "The quiet article nobody reads", true)
	loud := mustArticle(t, appCore, author.ID, "The loud article everyone reads", true)
	for i := 0; i < 3; i++ {
		if _, err := appCore.GetArticle(loud.ID); err != nil {
			t.Fatalf("bump views: %v", err)
		}
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v2/articles/popular?limit=1", nil)
	popular := decode[struct {
		Items []app.ArticleView `json:"items"`
	}](t, resp)
	if len(popular.Items) != 1 || popular.Items[0].ID != loud.ID {
		t.Fatalf("expected most-viewed first, got %+v", popular.Items)
	}
	_ = quiet
}
