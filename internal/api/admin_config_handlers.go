package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/qquiz/qquiz/internal/core"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/rs/zerolog/log"
)

func maskedSettings(s models.SystemSettings) models.SystemSettings {
	s.LLMAPIKey = core.MaskAPIKey(s.LLMAPIKey)
	return s
}

func (s *Server) handleGetSystemConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.app.Settings()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load system settings")
		RespondWithError(w, http.StatusInternalServerError, "Failed to load system settings")
		return
	}
	RespondWithJSON(w, http.StatusOK, maskedSettings(settings))
}

func (s *Server) handleUpdateSystemConfig(w http.ResponseWriter, r *http.Request) {
	var payload models.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	settings, err := s.app.UpdateSettings(payload)
	if errors.Is(err, core.ErrInvalidSettings) {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to update system settings")
		RespondWithError(w, http.StatusInternalServerError, "Failed to update system settings")
		return
	}
	log.Info().Int64("admin_id", getUserFromContext(r).ID).Msg("System settings updated")
	RespondWithJSON(w, http.StatusOK, maskedSettings(settings))
}
