package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/sse"
	"github.com/rs/zerolog/log"
)

// Snapshot is the observable state of a handle.
type Snapshot struct {
	State      State
	ExamStatus models.ExamStatus
	Exam       *models.Exam
	Progress   *models.ProgressEvent
}

type frame struct {
	data string
	err  error
}

// Handle owns the progress stream of one exam. It is created by a Consumer
// and is safe for concurrent use.
type Handle struct {
	examID   int64
	ctx      context.Context
	fetcher  ExamFetcher
	observer Observer
	release  func(*Handle)

	mu         sync.Mutex
	state      State
	outcome    State
	started    bool
	examStatus models.ExamStatus
	exam       *models.Exam
	progress   *models.ProgressEvent
	body       io.ReadCloser
	cancel     context.CancelFunc

	releaseOnce sync.Once
	frames      chan frame
	stop        chan struct{}
	done        chan struct{}
}

func newHandle(ctx context.Context, examID int64, exam *models.Exam, fetcher ExamFetcher, observer Observer, release func(*Handle)) *Handle {
	h := &Handle{
		examID:     examID,
		ctx:        ctx,
		fetcher:    fetcher,
		observer:   observer,
		release:    release,
		state:      StateIdle,
		outcome:    StateIdle,
		examStatus: models.ExamProcessing,
		frames:     make(chan frame),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if exam != nil {
		e := *exam
		h.exam = &e
		h.examStatus = e.Status
	}
	return h
}

// ExamID returns the exam this handle follows.
func (h *Handle) ExamID() int64 { return h.examID }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Outcome returns how the stream ended: StateCompleted, StateFailed or
// StateErrored, StateClosed when it was closed by the caller, or StateIdle
// while it is still running.
func (h *Handle) Outcome() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// Snapshot returns a copy of the handle's observable state.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Snapshot{State: h.state, ExamStatus: h.examStatus}
	if h.exam != nil {
		e := *h.exam
		s.Exam = &e
	}
	if h.progress != nil {
		p := *h.progress
		s.Progress = &p
	}
	return s
}

// Done is closed once the handle has stopped consuming events.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle is done or ctx ends and returns the outcome.
func (h *Handle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.done:
		return h.Outcome(), nil
	case <-ctx.Done():
		return h.Outcome(), ctx.Err()
	}
}

// Close releases the stream and removes the handle from its consumer. It is
// idempotent; the underlying connection is released only once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return nil
	}
	prev := h.state
	h.state = StateClosed
	if prev == StateIdle || prev == StateOpen {
		h.outcome = StateClosed
	}
	started := h.started
	h.mu.Unlock()

	close(h.stop)
	h.releaseTransport()
	if h.release != nil {
		h.release(h)
	}
	if !started {
		close(h.done)
	}
	if prev != StateIdle {
		h.observer.OnStateChange(h.examID, StateClosed)
	}
	return nil
}

// start attaches a connected stream body and begins consuming it.
func (h *Handle) start(cancel context.CancelFunc, body io.ReadCloser) error {
	h.mu.Lock()
	if h.state != StateIdle {
		h.mu.Unlock()
		cancel()
		body.Close()
		return ErrClosed
	}
	h.state = StateOpen
	h.started = true
	h.body = body
	h.cancel = cancel
	h.mu.Unlock()

	log.Debug().Int64("exam_id", h.examID).Msg("Progress stream connected")
	h.observer.OnStateChange(h.examID, StateOpen)

	go h.readLoop(body)
	go h.consumeLoop()
	return nil
}

// readLoop decodes frames from the transport and hands them to the consumer.
func (h *Handle) readLoop(body io.Reader) {
	r := sse.NewReader(body)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			err = errStreamEnded
		}
		if err == nil && ev.Type != sse.EventTypeMessage {
			continue
		}
		select {
		case h.frames <- frame{data: ev.Data, err: err}:
		case <-h.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (h *Handle) consumeLoop() {
	defer close(h.done)
	for {
		select {
		case f := <-h.frames:
			if f.err != nil {
				h.transportError(f.err)
				return
			}
			if h.onEvent(f.data) {
				return
			}
		case <-h.stop:
			return
		case <-h.ctx.Done():
			h.Close()
			return
		}
	}
}

// onEvent applies one frame and reports whether the handle has left the
// open state. Frames arriving after that are ignored.
func (h *Handle) onEvent(data string) bool {
	var ev models.ProgressEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil || ev.Status == "" {
		log.Warn().Err(err).Int64("exam_id", h.examID).Str("frame", data).Msg("Dropping malformed progress frame")
		return false
	}

	h.mu.Lock()
	if h.state != StateOpen {
		h.mu.Unlock()
		return true
	}
	h.progress = &ev
	h.mu.Unlock()

	h.observer.OnProgress(h.examID, ev)

	switch ev.Status {
	case models.ProgressCompleted:
		h.finish(StateCompleted, models.ExamReady)
		return true
	case models.ProgressFailed:
		h.finish(StateFailed, models.ExamFailed)
		return true
	}
	return false
}

// finish handles a terminal event: the connection is released first, then
// the side effect runs, then the handle is closed.
func (h *Handle) finish(outcome State, status models.ExamStatus) {
	h.mu.Lock()
	if h.state != StateOpen {
		h.mu.Unlock()
		return
	}
	h.state = outcome
	h.outcome = outcome
	h.examStatus = status
	if h.exam != nil {
		e := *h.exam
		e.Status = status
		h.exam = &e
	}
	h.mu.Unlock()

	log.Info().Int64("exam_id", h.examID).Stringer("outcome", outcome).Msg("Progress stream finished")
	h.observer.OnStateChange(h.examID, outcome)
	h.releaseTransport()

	if outcome == StateCompleted {
		h.refresh()
	}
	h.Close()
}

// refresh re-fetches the exam once after a completed parse. On failure the
// last known state is kept.
func (h *Handle) refresh() {
	exam, err := h.fetcher.GetExam(h.ctx, h.examID)
	if err != nil {
		log.Error().Err(err).Int64("exam_id", h.examID).Msg("Failed to refresh exam after parse completed")
		h.observer.OnError(h.examID, fmt.Errorf("refresh exam %d: %w", h.examID, err))
		return
	}
	h.mu.Lock()
	h.exam = exam
	h.examStatus = exam.Status
	h.mu.Unlock()
}

func (h *Handle) transportError(err error) {
	if h.ctx.Err() != nil {
		// The read failed because the owner went away.
		h.Close()
		return
	}

	h.mu.Lock()
	if h.state != StateOpen {
		h.mu.Unlock()
		return
	}
	h.state = StateErrored
	h.outcome = StateErrored
	h.mu.Unlock()

	log.Warn().Err(err).Int64("exam_id", h.examID).Msg("Progress stream connection lost")
	h.observer.OnStateChange(h.examID, StateErrored)
	h.Close()
}

func (h *Handle) releaseTransport() {
	h.releaseOnce.Do(func() {
		h.mu.Lock()
		body, cancel := h.body, h.cancel
		h.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if body != nil {
			if err := body.Close(); err != nil {
				log.Debug().Err(err).Int64("exam_id", h.examID).Msg("Closing progress stream body")
			}
		}
	})
}
