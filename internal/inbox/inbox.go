// Package inbox watches a drop folder and appends every new document to an
// exam, following its parse before taking the next one.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/qquiz/qquiz/internal/client"
	"github.com/qquiz/qquiz/internal/ingest"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/watch"
	"github.com/rs/zerolog/log"
)

const (
	// ProcessedDir and FailedDir are created inside the inbox; finished
	// documents are moved there.
	ProcessedDir = "processed"
	FailedDir    = "failed"

	queueSize = 64
)

// Uploader sends a document to an exam. *client.Client satisfies it.
type Uploader interface {
	AppendDocument(ctx context.Context, examID int64, filename string, doc io.Reader) (*models.ExamUploadResponse, error)
}

// Result reports what happened to one document.
type Result struct {
	Path    string
	Outcome watch.State
	Err     error
}

// Options configures a Watcher. Zero values get defaults.
type Options struct {
	Token         string
	DebounceDelay time.Duration
	RetryDelay    time.Duration
	MaxAttempts   int
	OnResult      func(Result)
}

// Watcher feeds documents dropped into a directory to one exam.
type Watcher struct {
	dir      string
	examID   int64
	uploader Uploader
	consumer *watch.Consumer
	opts     Options

	mu            sync.Mutex
	changed       map[string]bool
	queued        map[string]bool
	debounceTimer *time.Timer
	queue         chan string
}

func New(dir string, examID int64, uploader Uploader, consumer *watch.Consumer, opts Options) *Watcher {
	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = 2 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Watcher{
		dir:      dir,
		examID:   examID,
		uploader: uploader,
		consumer: consumer,
		opts:     opts,
		changed:  make(map[string]bool),
		queued:   make(map[string]bool),
		queue:    make(chan string, queueSize),
	}
}

// Run watches the directory until ctx ends. Documents already in the
// directory are queued first.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx)
	}()
	defer func() {
		cancel()
		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.mu.Unlock()
		wg.Wait()
	}()

	if err := w.queueExisting(); err != nil {
		return err
	}
	log.Info().Str("dir", w.dir).Int64("exam_id", w.examID).Msg("Inbox watcher started")

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", w.dir).Msg("Inbox watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) queueExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read inbox %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && isDocument(e.Name()) {
			w.enqueue(filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

// handleEvent collects created or written documents and restarts the
// debounce timer, so a file is picked up only after writes settle.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !isDocument(filepath.Base(event.Name)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.changed[event.Name] = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.opts.DebounceDelay, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.changed))
	for path := range w.changed {
		paths = append(paths, path)
	}
	w.changed = make(map[string]bool)
	w.mu.Unlock()

	sort.Strings(paths)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		w.enqueue(path)
	}
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	if w.queued[path] {
		w.mu.Unlock()
		return
	}
	w.queued[path] = true
	w.mu.Unlock()

	select {
	case w.queue <- path:
	default:
		log.Warn().Str("file", path).Msg("Inbox queue full, skipping document")
		w.mu.Lock()
		delete(w.queued, path)
		w.mu.Unlock()
	}
}

// worker handles one document at a time; the exam accepts a single parse
// at once.
func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case path := <-w.queue:
			res := w.process(ctx, path)
			w.mu.Lock()
			delete(w.queued, path)
			w.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			w.settle(res)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) Result {
	res := Result{Path: path, Outcome: watch.StateErrored}
	name := filepath.Base(path)

	var err error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		err = w.upload(ctx, path, name)
		var apiErr *client.APIError
		if err == nil || !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
			break
		}
		log.Info().Str("file", name).Int("attempt", attempt).Msg("Exam is busy, retrying upload later")
		select {
		case <-time.After(w.opts.RetryDelay):
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		}
	}
	if err != nil {
		res.Err = err
		return res
	}

	h, err := w.consumer.Reopen(ctx, w.examID, w.opts.Token)
	if err != nil {
		res.Err = err
		return res
	}
	outcome, err := h.Wait(ctx)
	res.Outcome = outcome
	res.Err = err
	return res
}

func (w *Watcher) upload(ctx context.Context, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	resp, err := w.uploader.AppendDocument(ctx, w.examID, name, f)
	if err != nil {
		return err
	}
	log.Info().Str("file", name).Int64("exam_id", resp.ExamID).Msg(resp.Message)
	return nil
}

// settle moves the document out of the inbox and reports the result.
func (w *Watcher) settle(res Result) {
	target := ProcessedDir
	if res.Err != nil || res.Outcome != watch.StateCompleted {
		target = FailedDir
		log.Warn().Err(res.Err).Str("file", res.Path).Stringer("outcome", res.Outcome).Msg("Inbox document was not imported")
	} else {
		log.Info().Str("file", res.Path).Msg("Inbox document imported")
	}

	dir := filepath.Join(w.dir, target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("Failed to create inbox folder")
	} else if err := os.Rename(res.Path, filepath.Join(dir, filepath.Base(res.Path))); err != nil {
		log.Error().Err(err).Str("file", res.Path).Msg("Failed to move inbox document")
	}

	if w.opts.OnResult != nil {
		w.opts.OnResult(res)
	}
}

// isDocument skips hidden files such as editor lock files.
func isDocument(name string) bool {
	return !strings.HasPrefix(name, ".") && ingest.IsAllowedFile(name)
}
