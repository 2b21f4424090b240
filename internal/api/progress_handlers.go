package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/progress"
	"github.com/qquiz/qquiz/internal/sse"
	"github.com/rs/zerolog/log"
)

// settledEvent describes a finished exam whose progress snapshot is gone,
// so a late subscriber still receives a terminal event.
func settledEvent(exam *models.Exam) (models.ProgressEvent, bool) {
	switch exam.Status {
	case models.ExamReady:
		return models.ProgressEvent{
			ExamID:    exam.ID,
			Status:    models.ProgressCompleted,
			Message:   "Exam is ready",
			Progress:  100,
			Timestamp: exam.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}, true
	case models.ExamFailed:
		return models.ProgressEvent{
			ExamID:    exam.ID,
			Status:    models.ProgressFailed,
			Message:   "Processing failed",
			Timestamp: exam.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}, true
	}
	return models.ProgressEvent{}, false
}

// handleExamProgressStream streams parsing progress as server-sent events.
// The latest known event is sent first; the stream ends after a completed
// or failed event.
func (s *Server) handleExamProgressStream(w http.ResponseWriter, r *http.Request) {
	exam, ok := s.loadExam(w, r)
	if !ok {
		return
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	broker := s.app.Broker()
	if _, ok := broker.Latest(exam.ID); !ok && exam.Status != models.ExamProcessing {
		// Answered from the stored status; nothing is published.
		if ev, settled := settledEvent(exam); settled {
			if payload, err := json.Marshal(ev); err == nil {
				stream.WriteData(payload)
			}
			return
		}
	}

	var sub *progress.Subscription
	if exam.Status == models.ExamProcessing {
		// A terminal snapshot older than the claim is from the previous parse.
		sub = broker.SubscribeSince(exam.ID, exam.UpdatedAt)
	} else {
		sub = broker.Subscribe(exam.ID)
	}
	defer broker.Unsubscribe(sub)
	log.Debug().Int64("exam_id", exam.ID).Str("subscriber", sub.ID).Msg("Progress stream opened")

	interval := time.Duration(s.app.Config().Progress.KeepAlive) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	keepAlive := time.NewTicker(interval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// Dropped as a slow subscriber, or the exam was reset.
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Int64("exam_id", exam.ID).Msg("Failed to encode progress event")
				return
			}
			if err := stream.WriteData(payload); err != nil {
				return
			}
			if ev.Status.Terminal() {
				return
			}
		case <-keepAlive.C:
			if err := stream.KeepAlive(); err != nil {
				return
			}
		case <-r.Context().Done():
			log.Debug().Int64("exam_id", exam.ID).Msg("Progress stream client went away")
			return
		}
	}
}

func (s *Server) handleAdminProgressSocket(w http.ResponseWriter, r *http.Request) {
	s.app.WsHub().ServeWs(w, r)
}
