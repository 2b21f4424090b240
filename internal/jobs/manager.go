package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/progress"
	"github.com/qquiz/qquiz/internal/store"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAlreadyRunning is returned when a job with the same id is in flight.
	ErrAlreadyRunning = errors.New("job is already running")
	// ErrJobNotFound is returned by RunJob for an unregistered id.
	ErrJobNotFound = errors.New("job not found")
)

// JobContext is an interface that provides the necessary dependencies for a job to run.
// The core.App struct will implement this interface.
type JobContext interface {
	Store() *store.Store
	Config() *config.Config
	Broker() *progress.Broker
	JobManager() *JobManager
}

// Task is the body of a job. ctx is cancelled when the manager shuts down.
type Task func(ctx context.Context, app JobContext) error

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]Task
	status  map[string]*JobStatus
	running map[string]bool
	appCtx  JobContext // Store the app context for scheduled jobs
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(appCtx JobContext) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:    make(map[string]Task),
		status:  make(map[string]*JobStatus),
		running: make(map[string]bool),
		appCtx:  appCtx,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a named job that can later be started with RunJob.
func (jm *JobManager) Register(id, name string, task Task) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = task
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: "idle"}
}

// RunJob starts a registered job in the background.
func (jm *JobManager) RunJob(id string) error {
	jm.mu.Lock()
	task, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	name := jm.status[id].Name
	jm.mu.Unlock()
	return jm.Submit(id, name, task)
}

// Submit runs task in the background under id. At most one task per id runs
// at a time; a second submission fails with ErrAlreadyRunning.
func (jm *JobManager) Submit(id, name string, task Task) error {
	jm.mu.Lock()
	if jm.running[id] {
		jm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	if jm.ctx.Err() != nil {
		jm.mu.Unlock()
		return fmt.Errorf("job manager is shut down")
	}
	status, ok := jm.status[id]
	if !ok {
		status = &JobStatus{ID: id, Name: name}
		jm.status[id] = status
	}
	jm.running[id] = true
	status.Status = "running"
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	jm.wg.Add(1)
	jm.mu.Unlock()

	log.Info().Str("job", id).Msg("Starting job")
	go func() {
		var err error
		defer func() {
			defer jm.wg.Done()
			jm.mu.Lock()
			defer jm.mu.Unlock()
			if r := recover(); r != nil {
				log.Error().Str("job", id).Interface("panic", r).Msg("Job panicked")
				status.Status = "failed"
				status.Message = fmt.Sprintf("Job panicked: %v", r)
			} else if err != nil {
				log.Warn().Err(err).Str("job", id).Msg("Job failed")
				status.Status = "failed"
				status.Message = err.Error()
			} else {
				status.Status = "success"
				status.Message = "Job completed successfully."
			}
			status.EndTime = time.Now()
			delete(jm.running, id)
			log.Info().Str("job", id).Str("status", status.Status).Msg("Finished job")
		}()

		err = task(jm.ctx, jm.appCtx)
	}()
	return nil
}

// IsRunning reports whether a job with id is in flight.
func (jm *JobManager) IsRunning(id string) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.running[id]
}

// GetStatus returns a copy of every known job status ordered by id.
func (jm *JobManager) GetStatus() []*JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]*JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		c := *s
		statuses = append(statuses, &c)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Wait blocks until every running job has returned.
func (jm *JobManager) Wait() {
	jm.wg.Wait()
}

// Shutdown cancels running jobs and waits for them up to ctx's deadline.
func (jm *JobManager) Shutdown(ctx context.Context) error {
	jm.mu.Lock()
	jm.cancel()
	jm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		jm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
