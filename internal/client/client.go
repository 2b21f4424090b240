// Package client talks to the qquiz HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrUnauthorized is matched by errors of requests the server rejected with 401.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	// stream has no timeout; progress streams stay open for the whole parse.
	stream *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for the API at baseURL. A zero timeout disables it.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		token:   token,
	}
}

// NewFromConfig creates a client from the client section of the configuration.
func NewFromConfig(cfg config.ClientConfig) *Client {
	return New(cfg.BaseURL, cfg.Token, time.Duration(cfg.Timeout)*time.Second)
}

// Token returns the bearer token sent with every request.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Login exchanges credentials for a token and keeps it for later requests.
func (c *Client) Login(ctx context.Context, username, password string) (*models.Token, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	var token models.Token
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", bytes.NewReader(body), "application/json", &token); err != nil {
		return nil, err
	}
	c.SetToken(token.AccessToken)
	return &token, nil
}

// Me returns the user the token belongs to.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, "", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListExams returns a page of the user's exams, newest first.
func (c *Client) ListExams(ctx context.Context, skip, limit int) (*models.ExamList, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	var list models.ExamList
	if err := c.do(ctx, http.MethodGet, "/api/exams/?"+q.Encode(), nil, "", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetExam returns one exam with its current status.
func (c *Client) GetExam(ctx context.Context, examID int64) (*models.Exam, error) {
	var exam models.Exam
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/exams/%d", examID), nil, "", &exam); err != nil {
		return nil, err
	}
	return &exam, nil
}

// CreateExam uploads a document as a new exam. Parsing continues on the
// server; follow it with OpenProgressStream.
func (c *Client) CreateExam(ctx context.Context, title, filename string, doc io.Reader) (*models.ExamUploadResponse, error) {
	return c.upload(ctx, "/api/exams/create", map[string]string{"title": title}, filename, doc)
}

// AppendDocument uploads another document into an existing exam.
func (c *Client) AppendDocument(ctx context.Context, examID int64, filename string, doc io.Reader) (*models.ExamUploadResponse, error) {
	return c.upload(ctx, fmt.Sprintf("/api/exams/%d/append", examID), nil, filename, doc)
}

// DeleteExam removes an exam and its questions.
func (c *Client) DeleteExam(ctx context.Context, examID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/exams/%d", examID), nil, "", nil)
}

// ListQuestions returns a page of an exam's questions.
func (c *Client) ListQuestions(ctx context.Context, examID int64, skip, limit int) (*models.QuestionList, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	var list models.QuestionList
	path := fmt.Sprintf("/api/questions/exam/%d/questions?%s", examID, q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, "", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CheckAnswer submits an answer. A wrong answer lands in the mistake book.
func (c *Client) CheckAnswer(ctx context.Context, questionID int64, answer string) (*models.AnswerCheck, error) {
	body, err := json.Marshal(models.AnswerSubmission{QuestionID: questionID, UserAnswer: answer})
	if err != nil {
		return nil, err
	}
	var check models.AnswerCheck
	if err := c.do(ctx, http.MethodPost, "/api/questions/check", bytes.NewReader(body), "application/json", &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// ListMistakes returns a page of the mistake book. A non-zero examID limits
// it to one exam.
func (c *Client) ListMistakes(ctx context.Context, examID int64, skip, limit int) (*models.MistakeList, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	if examID != 0 {
		q.Set("exam_id", strconv.FormatInt(examID, 10))
	}
	var list models.MistakeList
	if err := c.do(ctx, http.MethodGet, "/api/mistakes/?"+q.Encode(), nil, "", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// RemoveMistake takes a question out of the mistake book.
func (c *Client) RemoveMistake(ctx context.Context, questionID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/mistakes/question/%d", questionID), nil, "", nil)
}

// Version returns the server's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var payload struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, "", &payload); err != nil {
		return "", err
	}
	return payload.Version, nil
}

// OpenProgressStream connects to the progress stream of an exam and returns
// the raw event-stream body. The token travels in the query string; an
// empty token falls back to the client's own. ctx cancels the stream.
func (c *Client) OpenProgressStream(ctx context.Context, examID int64, token string) (io.ReadCloser, error) {
	if token == "" {
		token = c.Token()
	}
	target := fmt.Sprintf("%s/api/exams/%d/progress?token=%s", c.baseURL, examID, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

func (c *Client) upload(ctx context.Context, path string, fields map[string]string, filename string, doc io.Reader) (*models.ExamUploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, doc); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var resp models.ExamUploadResponse
	if err := c.do(ctx, http.MethodPost, path, &buf, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("API request")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeError reads the server's error message. The API answers with
// {"error": ...}; {"detail": ...} is accepted too.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &payload) == nil {
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Detail
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
