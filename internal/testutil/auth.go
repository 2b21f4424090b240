package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/qquiz/qquiz/internal/api"
	"github.com/qquiz/qquiz/internal/models"
)

// GetAuthToken creates a user, logs them in through the API, and returns a
// valid bearer token.
func GetAuthToken(t *testing.T, s *api.Server, username, password, role string) string {
	t.Helper()

	CreateUser(t, s.Store(), username, password, role)

	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Login failed within test helper for user '%s': got status %d, want 200: %s", username, rr.Code, rr.Body.String())
	}

	var token models.Token
	if err := json.Unmarshal(rr.Body.Bytes(), &token); err != nil || token.AccessToken == "" {
		t.Fatalf("Failed to read access token for test user '%s': %v", username, err)
	}
	return token.AccessToken
}

// AuthRequest builds a request carrying a bearer token.
func AuthRequest(t *testing.T, method, target, token string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil && method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
