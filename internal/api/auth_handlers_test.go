package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandlers(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	router := server.Router()

	t.Run("Register", func(t *testing.T) {
		body := []byte(`{"username": "alice", "password": "secret123"}`)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/auth/register", "", body))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var user models.User
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, models.RoleUser, user.Role)
		assert.NotContains(t, rr.Body.String(), "password")
	})

	t.Run("Register rejects duplicates and weak input", func(t *testing.T) {
		cases := map[string]string{
			"duplicate":      `{"username": "alice", "password": "secret123"}`,
			"short password": `{"username": "bob", "password": "123"}`,
			"short username": `{"username": "b", "password": "secret123"}`,
			"not json":       `username=bob`,
		}
		for name, body := range cases {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/auth/register", "", []byte(body)))
			assert.Equal(t, http.StatusBadRequest, rr.Code, name)
		}
	})

	t.Run("Login", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/auth/login", "",
			[]byte(`{"username": "alice", "password": "secret123"}`)))
		require.Equal(t, http.StatusOK, rr.Code)

		var token models.Token
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &token))
		assert.Equal(t, "bearer", token.TokenType)
		assert.Len(t, token.AccessToken, 64)
	})

	t.Run("Login with wrong password", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/auth/login", "",
			[]byte(`{"username": "alice", "password": "nope"}`)))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
	})

	t.Run("Me", func(t *testing.T) {
		token := testutil.GetAuthToken(t, server, "carol", "secret123", models.RoleAdmin)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, "/api/auth/me", token, nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"username":"carol"`)

		// EventSource clients pass the token in the query string.
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/auth/me?token="+token, nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Me without or with bad token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error": "Token required"}`, rr.Body.String())

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, "/api/auth/me", "bogus", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error": "Invalid token"}`, rr.Body.String())
	})

	t.Run("Change password and logout", func(t *testing.T) {
		token := testutil.GetAuthToken(t, server, "dave", "secret123", models.RoleUser)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/auth/change-password", token,
			[]byte(`{"old_password": "wrong", "new_password": "another123"}`)))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/auth/change-password", token,
			[]byte(`{"old_password": "secret123", "new_password": "another123"}`)))
		require.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/auth/logout", token, nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, "/api/auth/me", token, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/auth/login", "",
			[]byte(`{"username": "dave", "password": "another123"}`)))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
