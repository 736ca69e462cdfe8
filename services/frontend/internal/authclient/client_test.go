package authclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeAuth(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "Sup3rSecret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "invalid username or password",
				"code":  "AUTH_INVALID_CREDENTIALS",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]any{"id": "u1", "username": req.Username, "role": "reader"},
			"tokens": map[string]any{
				"accessToken":  "access-abc",
				"refreshToken": "refresh-def",
				"expiresIn":    900,
			},
		})
	})
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid token", "code": "AUTH_INVALID_TOKEN"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "u1", "username": "sam", "role": "reader"})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "logged out"})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestLoginSuccess(t *testing.T) {
	client := NewClient(fakeAuth(t).URL)
	user, pair, err := client.Login("sam", "Sup3rSecret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Username != "sam" || pair.AccessToken != "access-abc" || pair.ExpiresIn != 900 {
		t.Fatalf("unexpected response: %+v %+v", user, pair)
	}
}

func TestLoginRejected(t *testing.T) {
	client := NewClient(fakeAuth(t).URL)
	_, _, err := client.Login("sam", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != "AUTH_INVALID_CREDENTIALS" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestMeAndLogout(t *testing.T) {
	client := NewClient(fakeAuth(t).URL)
	user, err := client.Me("access-abc")
	if err != nil || user.ID != "u1" {
		t.Fatalf("me: %v %v", user, err)
	}
	if _, err := client.Me("bogus"); err == nil {
		t.Fatalf("expected error for bad token")
	}
	if err := client.Logout("access-abc", "refresh-def"); err != nil {
		t.Fatalf("logout: %v", err)
	}
}
