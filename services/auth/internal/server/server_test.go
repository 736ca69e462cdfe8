package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"apicourse/pkg/domain"
	"apicourse/pkg/session"
	"apicourse/services/auth/internal/app"
	"apicourse/services/auth/internal/store"
)

type stubLimiter struct{ allow bool }

func (l *stubLimiter) Allow(string) bool { return l.allow }

func newTestServer(t *testing.T, limiter app.Limiter) (*httptest.Server, *app.App) {
	t.Helper()
	tokens, err := session.NewTokenStore("server-test-secret-123456", 15*time.Minute, session.NewMemoryRevoker(), session.Options{})
	if err != nil {
		t.Fatalf("token store: %v", err)
	}
	appCore := app.New(app.Config{
		Store:    store.NewMemoryStore(),
		Tokens:   tokens,
		Refresh:  session.NewMemoryRefreshStore(),
		Limiter:  limiter,
		Failures: app.NewMemoryFailureCounter(time.Minute),
	})
	srv := httptest.NewServer(New(Config{App: appCore}).Router())
	t.Cleanup(srv.Close)
	return srv, appCore
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

type authResponse struct {
	User   domain.User   `json:"user"`
	Tokens app.TokenPair `json:"tokens"`
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

func register(t *testing.T, srv *httptest.Server, username, password string) authResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s expected 201, got %d", username, resp.StatusCode)
	}
	return decode[authResponse](t, resp)
}

func TestRegisterFirstUserIsAdmin(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	first := register(t, srv, "founder", "Sup3rSecret")
	if first.User.Role != domain.RoleAdmin {
		t.Fatalf("first user role = %s, want admin", first.User.Role)
	}
	if first.Tokens.AccessToken == "" || first.Tokens.RefreshToken == "" {
		t.Fatal("expected token pair on register")
	}

	second := register(t, srv, "member", "Sup3rSecret")
	if second.User.Role != domain.RoleUser {
		t.Fatalf("second user role = %s, want user", second.User.Role)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]any{
		"username": "founder",
		"email":    "other@example.com",
		"password": "Sup3rSecret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate username expected 409, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]any{
		"username": "weakling",
		"email":    "weak@example.com",
		"password": "alllowercase1",
	})
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "AUTH_INVALID_PASSWORD" {
		t.Fatalf("weak password expected 400 AUTH_INVALID_PASSWORD, got %d %v", resp.StatusCode, body["code"])
	}

	// Service-account names cannot be claimed, regardless of casing.
	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]any{
		"username": "Admin",
		"email":    "admin@example.com",
		"password": "Sup3rSecret",
	})
	body = decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "AUTH_RESERVED_USERNAME" {
		t.Fatalf("reserved username expected 400 AUTH_RESERVED_USERNAME, got %d %v", resp.StatusCode, body["code"])
	}
}

func TestLoginUniformErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	register(t, srv, "alice", "Sup3rSecret")

	wrongPassword := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]any{
		"username": "alice", "password": "WrongPass1",
	})
	unknownUser := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]any{
		"username": "nobody", "password": "WrongPass1",
	})
	bodyA := decode[map[string]any](t, wrongPassword)
	bodyB := decode[map[string]any](t, unknownUser)
	if wrongPassword.StatusCode != http.StatusUnauthorized || unknownUser.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401s, got %d and %d", wrongPassword.StatusCode, unknownUser.StatusCode)
	}
	if bodyA["error"] != bodyB["error"] {
		t.Fatalf("login errors must be uniform: %v vs %v", bodyA["error"], bodyB["error"])
	}

	ok := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]any{
		"username": "alice", "password": "Sup3rSecret",
	})
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("valid login expected 200, got %d", ok.StatusCode)
	}
	ok.Body.Close()
}

func TestLoginRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, &stubLimiter{allow: false})
	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]any{
		"username": "anyone", "password": "Whatever1",
	})
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusTooManyRequests || body["code"] != "AUTH_RATE_LIMITED" {
		t.Fatalf("expected 429 AUTH_RATE_LIMITED, got %d %v", resp.StatusCode, body["code"])
	}
}

func TestRefreshRotationAndReplay(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := register(t, srv, "bob", "Sup3rSecret")

	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/refresh", "", map[string]any{
		"refreshToken": reg.Tokens.RefreshToken,
	})
	rotated := decode[authResponse](t, resp)
	if rotated.Tokens.RefreshToken == reg.Tokens.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// Replaying the superseded token must fail and revoke the family.
	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/refresh", "", map[string]any{
		"refreshToken": reg.Tokens.RefreshToken,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replay expected 401, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/refresh", "", map[string]any{
		"refreshToken": rotated.Tokens.RefreshToken,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("family member after replay expected 401, got %d", resp.StatusCode)
	}
}

func TestLogoutBlacklistsAccessToken(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := register(t, srv, "carol", "Sup3rSecret")

	resp := doJSON(t, http.MethodGet, srv.URL+"/auth/me", reg.Tokens.AccessToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me before logout expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/logout", reg.Tokens.AccessToken, map[string]any{
		"refreshToken": reg.Tokens.RefreshToken,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/auth/me", reg.Tokens.AccessToken, nil)
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout expected 401, got %d (%v)", resp.StatusCode, body)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/refresh", "", map[string]any{
		"refreshToken": reg.Tokens.RefreshToken,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout expected 401, got %d", resp.StatusCode)
	}
}

func TestAdminEndpointsRBAC(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	admin := register(t, srv, "chief", "Sup3rSecret")
	member := register(t, srv, "plain", "Sup3rSecret")

	resp := doJSON(t, http.MethodGet, srv.URL+"/admin/users", member.Tokens.AccessToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin expected 403, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/admin/users", admin.Tokens.AccessToken, nil)
	users := decode[struct {
		Items []domain.User `json:"items"`
	}](t, resp)
	if len(users.Items) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users.Items))
	}

	// Promote the member to editor.
	role := "editor"
	resp = doJSON(t, http.MethodPatch, srv.URL+"/admin/users/"+member.User.ID, admin.Tokens.AccessToken, map[string]any{
		"role": role,
	})
	updated := decode[domain.User](t, resp)
	if updated.Role != domain.RoleEditor {
		t.Fatalf("expected editor, got %s", updated.Role)
	}

	// Self-demotion is rejected.
	resp = doJSON(t, http.MethodPatch, srv.URL+"/admin/users/"+admin.User.ID, admin.Tokens.AccessToken, map[string]any{
		"role": "user",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("self-demotion expected 403, got %d", resp.StatusCode)
	}

	// An unrecognized role is a client error, not a server one.
	resp = doJSON(t, http.MethodPatch, srv.URL+"/admin/users/"+member.User.ID, admin.Tokens.AccessToken, map[string]any{
		"role": "superuser",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown role expected 400, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["code"] != "AUTH_INVALID_ROLE" {
		t.Fatalf("code: %v", body["code"])
	}

	// Disabled users cannot log in.
	inactive := false
	resp = doJSON(t, http.MethodPatch, srv.URL+"/admin/users/"+member.User.ID, admin.Tokens.AccessToken, map[string]any{
		"isActive": inactive,
	})
	resp.Body.Close()
	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]any{
		"username": "plain", "password": "Sup3rSecret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("disabled login expected 403, got %d", resp.StatusCode)
	}
}

func TestPostOwnership(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	admin := register(t, srv, "chief", "Sup3rSecret")
	owner := register(t, srv, "owner", "Sup3rSecret")
	other := register(t, srv, "other", "Sup3rSecret")

	resp := doJSON(t, http.MethodPost, srv.URL+"/posts", owner.Tokens.AccessToken, map[string]any{
		"title": "My post", "content": "hello",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create post expected 201, got %d", resp.StatusCode)
	}
	post := decode[store.Post](t, resp)

	// Anonymous create is rejected.
	resp = doJSON(t, http.MethodPost, srv.URL+"/posts", "", map[string]any{"title": "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous create expected 401, got %d", resp.StatusCode)
	}

	// A different plain user cannot edit.
	title := "hijacked"
	resp = doJSON(t, http.MethodPut, srv.URL+"/posts/"+post.ID, other.Tokens.AccessToken, map[string]any{
		"title": title,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner edit expected 403, got %d", resp.StatusCode)
	}

	// Editors moderate other users' posts.
	resp = doJSON(t, http.MethodPatch, srv.URL+"/admin/users/"+other.User.ID, admin.Tokens.AccessToken, map[string]any{
		"role": "editor",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("promote to editor expected 200, got %d", resp.StatusCode)
	}
	editorLogin := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]any{
		"username": "other", "password": "Sup3rSecret",
	})
	editor := decode[authResponse](t, editorLogin)
	resp = doJSON(t, http.MethodPut, srv.URL+"/posts/"+post.ID, editor.Tokens.AccessToken, map[string]any{
		"title": "moderated title",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("editor edit expected 200, got %d", resp.StatusCode)
	}
	moderated := decode[store.Post](t, resp)
	if moderated.Title != "moderated title" {
		t.Fatalf("unexpected title %q", moderated.Title)
	}

	// Admin can delete anyone's post.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/posts/"+post.ID, admin.Tokens.AccessToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("admin delete expected 204, got %d", resp.StatusCode)
	}
}

func TestChangePassword(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := register(t, srv, "dana", "Sup3rSecret")

	resp := doJSON(t, http.MethodPut, srv.URL+"/auth/me/password", reg.Tokens.AccessToken, map[string]any{
		"currentPassword": "nope", "newPassword": "An0therSecret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong current password expected 400, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, srv.URL+"/auth/me/password", reg.Tokens.AccessToken, map[string]any{
		"currentPassword": "Sup3rSecret", "newPassword": "An0therSecret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change password expected 200, got %d", resp.StatusCode)
	}

	// Old refresh token is revoked by the change.
	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/refresh", "", map[string]any{
		"refreshToken": reg.Tokens.RefreshToken,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after password change expected 401, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]any{
		"username": "dana", "password": "An0therSecret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login with new password expected 200, got %d", resp.StatusCode)
	}
}
