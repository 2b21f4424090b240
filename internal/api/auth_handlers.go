package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/qquiz/qquiz/internal/auth"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/store"
	"github.com/rs/zerolog/log"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func validateCredentials(c credentials) string {
	if n := utf8.RuneCountInString(c.Username); n < 3 || n > 50 {
		return "Username must be between 3 and 50 characters"
	}
	if utf8.RuneCountInString(c.Password) < 6 {
		return "Password must be at least 6 characters"
	}
	return ""
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	settings, err := s.app.Settings()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load system settings")
		RespondWithError(w, http.StatusInternalServerError, "Failed to load system settings")
		return
	}
	if !settings.AllowRegistration {
		RespondWithError(w, http.StatusForbidden, "Registration is currently disabled")
		return
	}

	var payload credentials
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if msg := validateCredentials(payload); msg != "" {
		RespondWithError(w, http.StatusBadRequest, msg)
		return
	}

	if _, err := s.store.GetUserByUsername(payload.Username); err == nil {
		RespondWithError(w, http.StatusBadRequest, "Username already registered")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusInternalServerError, "Failed to check username")
		return
	}

	passwordHash, err := auth.HashPassword(payload.Password)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	user, err := s.store.CreateUser(payload.Username, passwordHash, models.RoleUser)
	if err != nil {
		// Lost a race with a concurrent registration.
		RespondWithError(w, http.StatusBadRequest, "Username already registered")
		return
	}
	log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("User registered")
	RespondWithJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload credentials
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	user, err := s.store.GetUserByUsername(payload.Username)
	if err != nil || !auth.CheckPasswordHash(payload.Password, user.PasswordHash) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		RespondWithError(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	token, err := s.store.CreateSession(user.ID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	log.Info().Int64("user_id", user.ID).Msg("Login successful")
	RespondWithJSON(w, http.StatusOK, models.Token{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(tokenFromRequest(r)); err != nil {
		log.Warn().Err(err).Msg("Failed to delete session")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	if user == nil {
		RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	RespondWithJSON(w, http.StatusOK, user)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	var payload struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if !auth.CheckPasswordHash(payload.OldPassword, user.PasswordHash) {
		RespondWithError(w, http.StatusBadRequest, "Incorrect current password")
		return
	}
	if utf8.RuneCountInString(payload.NewPassword) < 6 {
		RespondWithError(w, http.StatusBadRequest, "New password must be at least 6 characters")
		return
	}

	passwordHash, err := auth.HashPassword(payload.NewPassword)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	if err := s.store.UpdateUserPassword(user.ID, passwordHash); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}
