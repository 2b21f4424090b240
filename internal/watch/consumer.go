package watch

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/qquiz/qquiz/internal/models"
	"github.com/rs/zerolog/log"
)

// Dialer opens the raw event stream of an exam's parsing progress.
type Dialer interface {
	OpenProgressStream(ctx context.Context, examID int64, token string) (io.ReadCloser, error)
}

// ExamFetcher loads the current state of an exam.
type ExamFetcher interface {
	GetExam(ctx context.Context, examID int64) (*models.Exam, error)
}

// Consumer maps exam ids to their open progress handles.
type Consumer struct {
	dialer   Dialer
	fetcher  ExamFetcher
	observer Observer

	mu      sync.Mutex
	handles map[int64]*Handle
}

// NewConsumer creates a Consumer. observer may be nil.
func NewConsumer(dialer Dialer, fetcher ExamFetcher, observer Observer) *Consumer {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	return &Consumer{
		dialer:   dialer,
		fetcher:  fetcher,
		observer: observer,
		handles:  make(map[int64]*Handle),
	}
}

// Open connects to the progress stream of examID. It fails with
// ErrAlreadyOpen while another handle for the same exam is live; close that
// handle first or use Reopen.
//
// ctx bounds the whole life of the handle: cancelling it closes the handle.
func (c *Consumer) Open(ctx context.Context, examID int64, token string) (*Handle, error) {
	return c.open(ctx, examID, token, nil)
}

// Reopen closes any live handle for examID and opens a new one.
func (c *Consumer) Reopen(ctx context.Context, examID int64, token string) (*Handle, error) {
	if h, ok := c.Get(examID); ok {
		log.Debug().Int64("exam_id", examID).Msg("Closing previous progress stream before reopening")
		h.Close()
	}
	return c.Open(ctx, examID, token)
}

// Watch fetches the exam and opens its progress stream only when the exam
// is currently processing. The returned handle is nil otherwise.
func (c *Consumer) Watch(ctx context.Context, examID int64, token string) (*models.Exam, *Handle, error) {
	exam, err := c.fetcher.GetExam(ctx, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch exam %d: %w", examID, err)
	}
	if exam.Status != models.ExamProcessing {
		return exam, nil, nil
	}
	h, err := c.open(ctx, examID, token, exam)
	if err != nil {
		return exam, nil, err
	}
	return exam, h, nil
}

// Get returns the live handle for examID, if any.
func (c *Consumer) Get(examID int64) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[examID]
	return h, ok
}

// Len returns the number of live handles.
func (c *Consumer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// Close closes the handle of examID if one is live.
func (c *Consumer) Close(examID int64) {
	if h, ok := c.Get(examID); ok {
		h.Close()
	}
}

// CloseAll closes every live handle.
func (c *Consumer) CloseAll() {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

func (c *Consumer) open(ctx context.Context, examID int64, token string, exam *models.Exam) (*Handle, error) {
	c.mu.Lock()
	if _, ok := c.handles[examID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: exam %d", ErrAlreadyOpen, examID)
	}
	// The slot is reserved before dialing so a concurrent Open is rejected.
	h := newHandle(ctx, examID, exam, c.fetcher, c.observer, c.release)
	c.handles[examID] = h
	c.mu.Unlock()

	log.Debug().Int64("exam_id", examID).Msg("Connecting to progress stream")
	streamCtx, cancel := context.WithCancel(ctx)
	body, err := c.dialer.OpenProgressStream(streamCtx, examID, token)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("open progress stream for exam %d: %w", examID, err)
	}
	if err := h.start(cancel, body); err != nil {
		return nil, err
	}
	return h, nil
}

func (c *Consumer) release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles[h.examID] == h {
		delete(c.handles, h.examID)
	}
}
