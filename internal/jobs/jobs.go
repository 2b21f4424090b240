package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	ReconcileJobID      = "exam-reconcile"
	RetentionJobID      = "progress-retention"
	SessionCleanupJobID = "session-cleanup"
)

// IngestJobID is the job id of the document parse of an exam.
func IngestJobID(examID int64) string {
	return fmt.Sprintf("ingest-%d", examID)
}

// RegisterDefaults registers the maintenance jobs with the manager.
func RegisterDefaults(jm *JobManager) {
	jm.Register(ReconcileJobID, "Reconcile stuck exams", ReconcileExams)
	jm.Register(RetentionJobID, "Prune finished progress", PruneProgress)
	jm.Register(SessionCleanupJobID, "Remove expired sessions", CleanupSessions)
}

// StartJobs starts the background job scheduler.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	schedule(s, app, ReconcileJobID, app.Config().Jobs.ReconcileInterval)
	schedule(s, app, RetentionJobID, app.Config().Progress.Retention)
	schedule(s, app, SessionCleanupJobID, 60)

	log.Info().Msg("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func schedule(s *gocron.Scheduler, app JobContext, jobID string, minutes int) {
	if minutes <= 0 {
		log.Info().Str("job", jobID).Msg("Interval is 0, scheduled job is disabled.")
		return
	}

	log.Info().Str("job", jobID).Int("minutes", minutes).Msg("Scheduling job")
	_, err := s.Every(minutes).Minutes().WaitForSchedule().Do(func() {
		// Submit the job to the manager instead of running it directly.
		// This prevents conflicts with manually triggered jobs.
		if err := app.JobManager().RunJob(jobID); err != nil {
			log.Warn().Err(err).Str("job", jobID).Msg("Scheduled job could not start")
		}
	})
	if err != nil {
		log.Error().Err(err).Str("job", jobID).Msg("Error scheduling job")
	}
}

// ReconcileExams marks exams left in processing without a running parse as
// failed. This recovers exams whose parse died with a previous process.
func ReconcileExams(ctx context.Context, app JobContext) error {
	exams, err := app.Store().ListExamsByStatus(models.ExamProcessing)
	if err != nil {
		return fmt.Errorf("list processing exams: %w", err)
	}

	fixed := 0
	for _, exam := range exams {
		if err := ctx.Err(); err != nil {
			return err
		}
		if app.JobManager().IsRunning(IngestJobID(exam.ID)) {
			continue
		}
		if err := app.Store().UpdateExamStatus(exam.ID, models.ExamFailed); err != nil {
			return fmt.Errorf("mark exam %d failed: %w", exam.ID, err)
		}
		app.Broker().Publish(models.ProgressEvent{
			ExamID:  exam.ID,
			Status:  models.ProgressFailed,
			Message: "Parsing was interrupted, please upload the document again",
		})
		log.Warn().Int64("exam_id", exam.ID).Msg("Marked interrupted exam as failed")
		fixed++
	}
	if fixed > 0 {
		log.Info().Int("count", fixed).Msg("Reconciled stuck exams")
	}
	return nil
}

// PruneProgress forgets finished progress snapshots older than the retention.
func PruneProgress(ctx context.Context, app JobContext) error {
	retention := time.Duration(app.Config().Progress.Retention) * time.Minute
	removed := app.Broker().Prune(time.Now().Add(-retention))
	log.Debug().Int("removed", removed).Msg("Pruned progress snapshots")
	return nil
}

// CleanupSessions deletes expired login sessions.
func CleanupSessions(ctx context.Context, app JobContext) error {
	n, err := app.Store().DeleteExpiredSessions(time.Now())
	if err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	log.Debug().Int64("removed", n).Msg("Removed expired sessions")
	return nil
}
