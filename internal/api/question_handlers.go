package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/qquiz/qquiz/internal/grading"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/store"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	exam, ok := s.loadExam(w, r)
	if !ok {
		return
	}
	skip, limit := getPageParams(r, 50)

	questions, total, err := s.store.ListQuestions(exam.ID, skip, limit)
	if err != nil {
		log.Error().Err(err).Int64("exam_id", exam.ID).Msg("Failed to list questions")
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve questions")
		return
	}
	RespondWithJSON(w, http.StatusOK, models.QuestionList{Questions: questions, Total: total})
}

// handleGetCurrentQuestion returns the question at the exam's quiz position.
func (s *Server) handleGetCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	exam, ok := s.loadExam(w, r)
	if !ok {
		return
	}
	if exam.Status != models.ExamReady {
		RespondWithError(w, http.StatusBadRequest, "Exam is not ready. Status: "+string(exam.Status))
		return
	}

	questions, _, err := s.store.ListQuestions(exam.ID, exam.CurrentIndex, 1)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve question")
		return
	}
	if len(questions) == 0 {
		RespondWithError(w, http.StatusNotFound, "No more questions available. You've completed this exam!")
		return
	}
	RespondWithJSON(w, http.StatusOK, questions[0])
}

// loadQuestion resolves the questionID URL parameter to a question of one of
// the current user's exams.
func (s *Server) loadQuestion(w http.ResponseWriter, r *http.Request, id int64) (*models.Question, bool) {
	user := getUserFromContext(r)
	q, err := s.store.GetQuestionForUser(id, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Question not found")
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Int64("question_id", id).Msg("Failed to load question")
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve question")
		return nil, false
	}
	return q, true
}

func (s *Server) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "questionID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid question ID")
		return
	}
	if q, ok := s.loadQuestion(w, r, id); ok {
		RespondWithJSON(w, http.StatusOK, q)
	}
}

// handleCheckAnswer grades a submitted answer. Wrong answers go into the
// user's mistake book.
func (s *Server) handleCheckAnswer(w http.ResponseWriter, r *http.Request) {
	var payload models.AnswerSubmission
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.QuestionID <= 0 {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	q, ok := s.loadQuestion(w, r, payload.QuestionID)
	if !ok {
		return
	}

	check := grading.Check(r.Context(), s.app.Grader(), q, payload.UserAnswer)
	if !check.Correct {
		user := getUserFromContext(r)
		if _, err := s.store.AddMistake(user.ID, q.ID); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			log.Warn().Err(err).Int64("question_id", q.ID).Msg("Failed to record mistake")
		}
	}
	RespondWithJSON(w, http.StatusOK, check)
}
