package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/store"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleListMistakes(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	skip, limit := getPageParams(r, 50)

	var examID int64
	if v := r.URL.Query().Get("exam_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			RespondWithError(w, http.StatusBadRequest, "Invalid exam ID")
			return
		}
		examID = id
	}

	mistakes, total, err := s.store.ListMistakes(user.ID, examID, skip, limit)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to list mistakes")
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve mistakes")
		return
	}
	RespondWithJSON(w, http.StatusOK, models.MistakeList{Mistakes: mistakes, Total: total})
}

func (s *Server) handleAddMistake(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	var payload struct {
		QuestionID int64 `json:"question_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.QuestionID <= 0 {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	question, err := s.store.GetQuestionForUser(payload.QuestionID, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Question not found or you don't have access")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to load question")
		return
	}

	mistake, err := s.store.AddMistake(user.ID, question.ID)
	if errors.Is(err, store.ErrAlreadyExists) {
		RespondWithError(w, http.StatusConflict, "Question already in mistake book")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("question_id", question.ID).Msg("Failed to add mistake")
		RespondWithError(w, http.StatusInternalServerError, "Failed to add mistake")
		return
	}
	mistake.Question = question
	RespondWithJSON(w, http.StatusCreated, mistake)
}

func (s *Server) handleDeleteMistake(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "mistakeID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid mistake ID")
		return
	}
	user := getUserFromContext(r)
	s.respondMistakeDeleted(w, s.store.DeleteMistake(id, user.ID), "Mistake record not found")
}

func (s *Server) handleDeleteMistakeByQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "questionID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid question ID")
		return
	}
	user := getUserFromContext(r)
	s.respondMistakeDeleted(w, s.store.DeleteMistakeByQuestion(user.ID, id), "Question not found in mistake book")
}

func (s *Server) respondMistakeDeleted(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		RespondWithError(w, http.StatusNotFound, notFoundMsg)
	case err != nil:
		log.Error().Err(err).Msg("Failed to delete mistake")
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete mistake")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
