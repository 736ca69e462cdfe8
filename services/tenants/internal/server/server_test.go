package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"apicourse/services/tenants/internal/app"
	"apicourse/services/tenants/internal/model"
	"apicourse/services/tenants/internal/store"
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

func TestOrganizationAndUserFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/organizations", map[string]any{
		"name": "Initech",
		"plan": "free",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create org expected 201, got %d", resp.StatusCode)
	}
	org := decode[model.Organization](t, resp)
	if org.Slug != "initech" {
		t.Fatalf("unexpected slug %q", org.Slug)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{
		"username":       "peter",
		"email":          "peter@initech.example",
		"fullName":       "Peter Gibbons",
		"organizationId": org.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user expected 201, got %d", resp.StatusCode)
	}
	user := decode[model.User](t, resp)

	// Org with active users cannot be deleted.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/organizations/"+org.ID, nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusConflict || body["code"] != "ORG_HAS_USERS" {
		t.Fatalf("expected 409 ORG_HAS_USERS, got %d %v", resp.StatusCode, body["code"])
	}

	// Soft delete then restore.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/users/"+user.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete user expected 204, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/users/"+user.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted user expected 404, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/users/"+user.ID+"/restore", nil)
	restored := decode[model.User](t, resp)
	if resp.StatusCode != http.StatusOK || restored.DeletedAt != nil {
		t.Fatalf("restore failed: %d %+v", resp.StatusCode, restored)
	}
}

func TestPlanLimitOverHTTP(t *testing.T) {
	srv, appCore := newTestServer(t)
	org, err := appCore.CreateOrganization("Tiny", "free", "")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := appCore.CreateUser(
			"user"+string(rune('a'+i)), "user"+string(rune('a'+i))+"@example.com", "", org.ID, ""); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{
		"username":       "overflow",
		"email":          "overflow@example.com",
		"organizationId": org.ID,
	})
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusConflict || body["code"] != "ORG_PLAN_LIMIT" {
		t.Fatalf("expected 409 ORG_PLAN_LIMIT, got %d %v", resp.StatusCode, body["code"])
	}
}

func TestPostLifecycleAndAudit(t *testing.T) {
	srv, appCore := newTestServer(t)
	org, err := appCore.CreateOrganization("Org", "pro", "")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	user, err := appCore.CreateUser("writer", "writer@example.com", "", org.ID, "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/posts", map[string]any{
		"userId":  user.ID,
		"title":   "Quarterly report",
		"content": "numbers",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create post expected 201, got %d", resp.StatusCode)
	}
	post := decode[model.Post](t, resp)
	if post.Status != model.PostDraft || post.OrganizationID != org.ID {
		t.Fatalf("unexpected post: %+v", post)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/posts/"+post.ID+"/publish", nil)
	published := decode[model.Post](t, resp)
	if published.Status != model.PostPublished {
		t.Fatalf("publish failed: %+v", published)
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/posts/"+post.ID+"/publish", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("republish expected 409, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/audit-logs?table=posts", nil)
	audit := decode[struct {
		Items []model.AuditLog `json:"items"`
	}](t, resp)
	if len(audit.Items) != 2 {
		t.Fatalf("expected 2 post audit entries, got %d", len(audit.Items))
	}
	if audit.Items[0].Action != "update" {
		t.Fatalf("expected newest-first ordering, got %s", audit.Items[0].Action)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/posts?status=published", nil)
	page := decode[struct {
		Items []model.Post `json:"items"`
		Total int          `json:"total"`
	}](t, resp)
	if page.Total != 1 {
		t.Fatalf("expected 1 published post, got %d", page.Total)
	}
}
