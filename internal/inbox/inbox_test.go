package inbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qquiz/qquiz/internal/client"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu       sync.Mutex
	files    []string
	busyLeft int
}

func (u *fakeUploader) AppendDocument(ctx context.Context, examID int64, filename string, doc io.Reader) (*models.ExamUploadResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.busyLeft > 0 {
		u.busyLeft--
		return nil, &client.APIError{StatusCode: http.StatusConflict, Message: "busy"}
	}
	if _, err := io.ReadAll(doc); err != nil {
		return nil, err
	}
	u.files = append(u.files, filename)
	return &models.ExamUploadResponse{ExamID: examID, Status: models.ExamProcessing, Message: "accepted"}, nil
}

func (u *fakeUploader) uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.files...)
}

// completingDialer answers every stream with a single terminal event.
type completingDialer struct {
	status models.ProgressStatus
}

func (d completingDialer) OpenProgressStream(ctx context.Context, examID int64, token string) (io.ReadCloser, error) {
	frame := fmt.Sprintf("data: {\"exam_id\": %d, \"status\": %q, \"progress\": 100}\n\n", examID, d.status)
	return io.NopCloser(strings.NewReader(frame)), nil
}

type readyFetcher struct{}

func (readyFetcher) GetExam(ctx context.Context, examID int64) (*models.Exam, error) {
	return &models.Exam{ID: examID, Status: models.ExamReady}, nil
}

func startWatcher(t *testing.T, dir string, up Uploader, status models.ProgressStatus, opts Options) <-chan Result {
	t.Helper()
	results := make(chan Result, 8)
	opts.DebounceDelay = 50 * time.Millisecond
	opts.RetryDelay = 10 * time.Millisecond
	opts.OnResult = func(r Result) { results <- r }

	consumer := watch.NewConsumer(completingDialer{status: status}, readyFetcher{}, nil)
	w := New(dir, 3, up, consumer, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return results
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbox result")
		return Result{}
	}
}

func TestWatcher_ImportsExistingAndNewDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "first.txt"), []byte("1. question"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.xlsx"), []byte("skip"), 0o644))

	up := &fakeUploader{}
	results := startWatcher(t, dir, up, models.ProgressCompleted, Options{})

	first := waitResult(t, results)
	assert.Equal(t, filepath.Join(dir, "first.txt"), first.Path)
	assert.Equal(t, watch.StateCompleted, first.Outcome)
	assert.NoError(t, first.Err)
	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "first.txt"))

	// Give the watcher time to subscribe before dropping the next file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.html"), []byte("<p>1. question</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".~lock.third.docx"), []byte("lock"), 0o644))

	second := waitResult(t, results)
	assert.Equal(t, filepath.Join(dir, "second.html"), second.Path)
	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "second.html"))

	assert.Equal(t, []string{"first.txt", "second.html"}, up.uploaded())
	assert.FileExists(t, filepath.Join(dir, "notes.xlsx"))
}

func TestWatcher_FailedParseMovesDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("%PDF"), 0o644))

	results := startWatcher(t, dir, &fakeUploader{}, models.ProgressFailed, Options{})

	res := waitResult(t, results)
	assert.Equal(t, watch.StateFailed, res.Outcome)
	assert.FileExists(t, filepath.Join(dir, FailedDir, "broken.pdf"))
}

func TestWatcher_RetriesBusyExam(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bank.txt"), []byte("1. question"), 0o644))

	up := &fakeUploader{busyLeft: 2}
	results := startWatcher(t, dir, up, models.ProgressCompleted, Options{MaxAttempts: 3})

	res := waitResult(t, results)
	assert.NoError(t, res.Err)
	assert.Equal(t, watch.StateCompleted, res.Outcome)
	assert.Equal(t, []string{"bank.txt"}, up.uploaded())
}

func TestWatcher_GivesUpWhenExamStaysBusy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bank.txt"), []byte("1. question"), 0o644))

	up := &fakeUploader{busyLeft: 5}
	results := startWatcher(t, dir, up, models.ProgressCompleted, Options{MaxAttempts: 2})

	res := waitResult(t, results)
	var apiErr *client.APIError
	require.ErrorAs(t, res.Err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.FileExists(t, filepath.Join(dir, FailedDir, "bank.txt"))
}

func TestIsDocument(t *testing.T) {
	assert.True(t, isDocument("bank.PDF"))
	assert.True(t, isDocument("notes.htm"))
	assert.False(t, isDocument(".~lock.bank.docx"))
	assert.False(t, isDocument("sheet.xlsx"))
	assert.False(t, isDocument("README"))
}
