package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/qquiz/qquiz/internal/models"
)

// ErrNoQuestions is returned when a document yields no questions at all.
var ErrNoQuestions = errors.New("no questions found in document")

// MissingAnswer is stored for questions whose source gives no answer.
const MissingAnswer = "（答案未提供）"

// Extractor finds questions in plain text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]*models.Question, error)
}

// rawQuestion is the JSON shape extractors exchange.
type rawQuestion struct {
	Content  string          `json:"content"`
	Type     string          `json:"type"`
	Options  []string        `json:"options"`
	Answer   json.RawMessage `json:"answer"`
	Analysis string          `json:"analysis"`
}

// ParseQuestionsJSON decodes a JSON array of questions, tolerating a
// surrounding Markdown code fence.
func ParseQuestionsJSON(s string) ([]*models.Question, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	// Models sometimes add prose around the array.
	if start, end := strings.Index(s, "["), strings.LastIndex(s, "]"); start > 0 && end > start {
		s = s[start : end+1]
	}

	var raw []rawQuestion
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	questions := make([]*models.Question, 0, len(raw))
	for _, r := range raw {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			continue
		}
		q := &models.Question{
			Content:  content,
			Type:     NormalizeType(r.Type, r.Options),
			Options:  r.Options,
			Answer:   answerString(r.Answer),
			Analysis: strings.TrimSpace(r.Analysis),
		}
		q.ContentHash = ContentHash(q.Content)
		questions = append(questions, q)
	}
	return questions, nil
}

// answerString accepts answers given as a string, a list of strings or a
// boolean.
func answerString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "null" {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, "")
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		if b {
			return "正确"
		}
		return "错误"
	}
	return strings.TrimSpace(string(raw))
}

// NormalizeType maps the type labels seen in documents and model output to
// a QuestionType.
func NormalizeType(t string, options []string) models.QuestionType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "single", "单选", "单选题", "single_choice":
		return models.QuestionSingle
	case "multiple", "多选", "多选题", "multiple_choice":
		return models.QuestionMultiple
	case "judge", "判断", "判断题", "true_false", "truefalse":
		return models.QuestionJudge
	case "short", "简答", "简答题", "填空", "填空题", "essay":
		return models.QuestionShort
	}
	if len(options) > 0 {
		return models.QuestionSingle
	}
	return models.QuestionShort
}
