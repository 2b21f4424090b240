// Package grading checks submitted answers against a question's answer.
// Short answers are scored by a Grader; the other question types are
// compared directly.
package grading

import (
	"context"
	"sort"
	"strings"

	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/ingest"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/rs/zerolog/log"
)

// PassScore is the lowest short answer score counted as correct.
const PassScore = 0.7

// FailedFeedback is reported when a short answer could not be graded.
const FailedFeedback = "Unable to grade answer due to an error."

// Result is the score of a short answer between 0 and 1.
type Result struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Grader scores a free text answer against the reference answer.
type Grader interface {
	Grade(ctx context.Context, question, reference, answer string) (Result, error)
}

// New builds the grader for an extractor provider. The rule based provider
// grades by text similarity; model providers ask the model.
func New(provider string, cfg config.LLMConfig) (Grader, error) {
	switch strings.ToLower(provider) {
	case "", "rules":
		return SimilarityGrader{}, nil
	default:
		llm, err := ingest.NewModel(provider, cfg)
		if err != nil {
			return nil, err
		}
		return NewLLMGrader(llm), nil
	}
}

// Check compares answer with the question's answer. A grader error scores
// the answer 0 instead of failing the check.
func Check(ctx context.Context, g Grader, q *models.Question, answer string) models.AnswerCheck {
	answer = strings.TrimSpace(answer)
	correct := strings.TrimSpace(q.Answer)
	check := models.AnswerCheck{
		UserAnswer:    answer,
		CorrectAnswer: correct,
		Analysis:      q.Analysis,
	}

	switch q.Type {
	case models.QuestionShort:
		res, err := g.Grade(ctx, q.Content, correct, answer)
		if err != nil {
			log.Warn().Err(err).Int64("question_id", q.ID).Msg("Failed to grade short answer")
			res = Result{Score: 0, Feedback: FailedFeedback}
		}
		check.AIScore = &res.Score
		check.AIFeedback = &res.Feedback
		check.Correct = res.Score >= PassScore
	case models.QuestionMultiple:
		check.Correct = normalizeChoices(answer) == normalizeChoices(correct)
	default:
		check.Correct = strings.EqualFold(answer, correct)
	}
	return check
}

// normalizeChoices upper-cases the letters of a multiple choice answer, drops
// separators and sorts them, so "c, a" matches "AC".
func normalizeChoices(s string) string {
	letters := []rune(strings.ToUpper(strings.NewReplacer(" ", "", ",", "", "，", "", "、", "").Replace(s)))
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return string(letters)
}
