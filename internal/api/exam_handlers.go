package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qquiz/qquiz/internal/ingest"
	"github.com/qquiz/qquiz/internal/jobs"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/store"
	"github.com/rs/zerolog/log"
)

const msgExamBusy = "Exam is currently being processed. Please wait."

// uploadError is an upload rejected with a specific status code.
type uploadError struct {
	code int
	msg  string
}

func (e *uploadError) Error() string { return e.msg }

func invalidFileType() *uploadError {
	return &uploadError{http.StatusBadRequest,
		"Invalid file type. Allowed: " + strings.Join(ingest.AllowedExtensions(), ", ")}
}

// loadExam resolves the examID URL parameter to an exam owned by the
// current user, writing the error response when it cannot.
func (s *Server) loadExam(w http.ResponseWriter, r *http.Request) (*models.Exam, bool) {
	id, ok := idParam(r, "examID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid exam ID")
		return nil, false
	}
	user := getUserFromContext(r)
	exam, err := s.store.GetExamForUser(id, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Exam not found")
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Int64("exam_id", id).Msg("Failed to load exam")
		RespondWithError(w, http.StatusInternalServerError, "Failed to load exam")
		return nil, false
	}
	return exam, true
}

// parseUploadForm parses a multipart upload, capping the body at the upload
// limit plus room for the other form fields.
func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request, limits models.SystemSettings) error {
	maxMB := limits.MaxUploadSizeMB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxMB)<<20+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("File size exceeds limit of %dMB", maxMB)}
		}
		return &uploadError{http.StatusBadRequest, "Invalid multipart form"}
	}
	return nil
}

// readUpload reads the "file" part of a parsed upload form and enforces the
// file type, size and daily upload limits.
func (s *Server) readUpload(r *http.Request, userID int64, limits models.SystemSettings) (string, []byte, error) {
	maxMB := limits.MaxUploadSizeMB
	maxBytes := int64(maxMB) << 20

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, &uploadError{http.StatusBadRequest, "A document is required in the 'file' field"}
	}
	defer file.Close()

	if header.Filename == "" || !ingest.IsAllowedFile(header.Filename) {
		return "", nil, invalidFileType()
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return "", nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("File size exceeds limit of %dMB", maxMB)}
	}

	maxDaily := limits.MaxDailyUploads
	if maxDaily > 0 {
		today := time.Now().UTC().Truncate(24 * time.Hour)
		count, err := s.store.CountUploadsSince(userID, today)
		if err != nil {
			return "", nil, fmt.Errorf("count uploads: %w", err)
		}
		if count >= maxDaily {
			return "", nil, &uploadError{http.StatusTooManyRequests, fmt.Sprintf("Daily upload limit of %d reached", maxDaily)}
		}
	}
	return header.Filename, data, nil
}

func respondUploadError(w http.ResponseWriter, err error) {
	var ue *uploadError
	if errors.As(err, &ue) {
		RespondWithError(w, ue.code, ue.msg)
		return
	}
	log.Error().Err(err).Msg("Failed to accept upload")
	RespondWithError(w, http.StatusInternalServerError, "Failed to process upload")
}

// startIngest records the upload and parses the document in the background.
// The exam must already be claimed for processing.
func (s *Server) startIngest(exam *models.Exam, previous models.ExamStatus, userID int64, filename string, data []byte) error {
	broker := s.app.Broker()
	pipeline := s.app.Pipeline()
	doc := ingest.Document{Filename: filename, Data: data}
	err := s.app.JobManager().Submit(jobs.IngestJobID(exam.ID), "Parse "+filename,
		func(ctx context.Context, _ jobs.JobContext) error {
			// The broker is only touched once the job owns the exam. The
			// pending event replaces the previous run's snapshot.
			broker.Publish(models.ProgressEvent{
				ExamID:  exam.ID,
				Status:  models.ProgressPending,
				Message: fmt.Sprintf("Document '%s' queued for parsing", filename),
			})
			_, err := pipeline.Run(ctx, exam.ID, doc)
			return err
		})
	if err != nil {
		// The previous parse has not fully wound down yet. Its progress
		// stream is left untouched.
		if uerr := s.store.UpdateExamStatus(exam.ID, previous); uerr != nil {
			log.Error().Err(uerr).Int64("exam_id", exam.ID).Msg("Failed to restore exam status")
		}
		return err
	}

	if err := s.store.RecordUpload(userID, exam.ID, filename, int64(len(data))); err != nil {
		log.Warn().Err(err).Int64("exam_id", exam.ID).Msg("Failed to record upload")
	}
	log.Info().Int64("exam_id", exam.ID).Str("file", filename).Int("bytes", len(data)).Msg("Document accepted for parsing")
	return nil
}

func (s *Server) handleListExams(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	skip, limit := getPageParams(r, 20)

	exams, total, err := s.store.ListExams(user.ID, skip, limit)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to list exams")
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve exams")
		return
	}
	RespondWithJSON(w, http.StatusOK, models.ExamList{Exams: exams, Total: total})
}

func (s *Server) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, ok := s.loadExam(w, r)
	if !ok {
		return
	}
	RespondWithJSON(w, http.StatusOK, exam)
}

func (s *Server) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	exam, ok := s.loadExam(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteExam(exam.ID); err != nil {
		log.Error().Err(err).Int64("exam_id", exam.ID).Msg("Failed to delete exam")
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete exam")
		return
	}
	s.app.Broker().Clear(exam.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	limits, err := s.app.Settings()
	if err != nil {
		respondUploadError(w, err)
		return
	}
	if err := s.parseUploadForm(w, r, limits); err != nil {
		respondUploadError(w, err)
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		RespondWithError(w, http.StatusBadRequest, "Title is required")
		return
	}
	filename, data, err := s.readUpload(r, user.ID, limits)
	if err != nil {
		respondUploadError(w, err)
		return
	}

	exam, err := s.store.CreateExam(user.ID, title, models.ExamPending)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to create exam")
		RespondWithError(w, http.StatusInternalServerError, "Failed to create exam")
		return
	}
	if _, err := s.store.ClaimExamForProcessing(exam.ID); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to start processing")
		return
	}
	if err := s.startIngest(exam, models.ExamPending, user.ID, filename, data); err != nil {
		RespondWithError(w, http.StatusConflict, msgExamBusy)
		return
	}

	RespondWithJSON(w, http.StatusCreated, models.ExamUploadResponse{
		ExamID:  exam.ID,
		Title:   exam.Title,
		Status:  models.ExamProcessing,
		Message: "Exam created. Document is being processed in background.",
	})
}

func (s *Server) handleAppendDocument(w http.ResponseWriter, r *http.Request) {
	exam, ok := s.loadExam(w, r)
	if !ok {
		return
	}
	if exam.Status == models.ExamProcessing {
		RespondWithError(w, http.StatusConflict, msgExamBusy)
		return
	}

	user := getUserFromContext(r)
	limits, err := s.app.Settings()
	if err != nil {
		respondUploadError(w, err)
		return
	}
	if err := s.parseUploadForm(w, r, limits); err != nil {
		respondUploadError(w, err)
		return
	}
	filename, data, err := s.readUpload(r, user.ID, limits)
	if err != nil {
		respondUploadError(w, err)
		return
	}

	claimed, err := s.store.ClaimExamForProcessing(exam.ID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to start processing")
		return
	}
	if !claimed {
		RespondWithError(w, http.StatusConflict, msgExamBusy)
		return
	}
	if err := s.startIngest(exam, exam.Status, user.ID, filename, data); err != nil {
		RespondWithError(w, http.StatusConflict, msgExamBusy)
		return
	}

	RespondWithJSON(w, http.StatusOK, models.ExamUploadResponse{
		ExamID:  exam.ID,
		Title:   exam.Title,
		Status:  models.ExamProcessing,
		Message: fmt.Sprintf("Document '%s' is being processed. Duplicates will be automatically removed.", filename),
	})
}

func (s *Server) handleUpdateQuizProgress(w http.ResponseWriter, r *http.Request) {
	exam, ok := s.loadExam(w, r)
	if !ok {
		return
	}
	var payload struct {
		CurrentIndex *int `json:"current_index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.CurrentIndex == nil || *payload.CurrentIndex < 0 {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := s.store.UpdateExamProgress(exam.ID, *payload.CurrentIndex); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to update progress")
		return
	}
	exam, err := s.store.GetExam(exam.ID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to load exam")
		return
	}
	RespondWithJSON(w, http.StatusOK, exam)
}
