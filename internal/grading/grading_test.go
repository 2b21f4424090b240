package grading

import (
	"context"
	"errors"
	"testing"

	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// scriptedModel answers every request with a canned completion and records
// the messages it was sent.
type scriptedModel struct {
	completion string
	err        error
	messages   []llms.MessageContent
	opts       llms.CallOptions
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.completion}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type fixedGrader struct {
	res Result
	err error
}

func (g fixedGrader) Grade(context.Context, string, string, string) (Result, error) {
	return g.res, g.err
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	single := &models.Question{ID: 1, Type: models.QuestionSingle, Answer: "B", Analysis: "Layer 3"}
	multiple := &models.Question{ID: 2, Type: models.QuestionMultiple, Answer: "ACD"}
	judge := &models.Question{ID: 3, Type: models.QuestionJudge, Answer: "正确"}
	short := &models.Question{ID: 4, Type: models.QuestionShort, Content: "What is TCP?", Answer: "A reliable transport protocol"}

	tests := []struct {
		name    string
		q       *models.Question
		answer  string
		correct bool
	}{
		{"Single is case insensitive", single, " b ", true},
		{"Single wrong", single, "C", false},
		{"Multiple in any order", multiple, "d c a", true},
		{"Multiple with separators", multiple, "a,c，d", true},
		{"Multiple missing a choice", multiple, "AC", false},
		{"Judge", judge, "正确", true},
		{"Judge wrong", judge, "错误", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := Check(ctx, fixedGrader{}, tt.q, tt.answer)
			assert.Equal(t, tt.correct, check.Correct)
			assert.Nil(t, check.AIScore)
			assert.Nil(t, check.AIFeedback)
		})
	}

	t.Run("Answers are trimmed", func(t *testing.T) {
		check := Check(ctx, fixedGrader{}, single, "  B\n")
		assert.Equal(t, "B", check.UserAnswer)
		assert.Equal(t, "B", check.CorrectAnswer)
		assert.Equal(t, "Layer 3", check.Analysis)
	})

	t.Run("Short answer passes at the threshold", func(t *testing.T) {
		check := Check(ctx, fixedGrader{res: Result{Score: PassScore, Feedback: "Good"}}, short, "reliable transport")
		assert.True(t, check.Correct)
		require.NotNil(t, check.AIScore)
		assert.Equal(t, PassScore, *check.AIScore)
		assert.Equal(t, "Good", *check.AIFeedback)
	})

	t.Run("Short answer below the threshold", func(t *testing.T) {
		check := Check(ctx, fixedGrader{res: Result{Score: 0.69}}, short, "a protocol")
		assert.False(t, check.Correct)
	})

	t.Run("Grader error scores zero", func(t *testing.T) {
		check := Check(ctx, fixedGrader{err: errors.New("timeout")}, short, "anything")
		assert.False(t, check.Correct)
		require.NotNil(t, check.AIScore)
		assert.Zero(t, *check.AIScore)
		assert.Equal(t, FailedFeedback, *check.AIFeedback)
	})
}

func TestLLMGrader(t *testing.T) {
	ctx := context.Background()

	t.Run("Parses fenced JSON", func(t *testing.T) {
		model := &scriptedModel{completion: "```json\n{\"score\": 0.85, \"feedback\": \"Mostly right\"}\n```"}
		res, err := NewLLMGrader(model).Grade(ctx, "What is TCP?", "A reliable transport protocol", "reliable transport")
		require.NoError(t, err)
		assert.Equal(t, 0.85, res.Score)
		assert.Equal(t, "Mostly right", res.Feedback)

		require.Len(t, model.messages, 2)
		assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
		assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
		prompt := model.messages[1].Parts[0].(llms.TextContent).Text
		assert.Contains(t, prompt, "Question: What is TCP?")
		assert.Contains(t, prompt, "Student Answer: reliable transport")
		assert.Equal(t, 0.5, model.opts.Temperature)
	})

	t.Run("Clamps the score", func(t *testing.T) {
		res, err := NewLLMGrader(&scriptedModel{completion: `Here you go: {"score": 3, "feedback": "!"}`}).Grade(ctx, "q", "a", "a")
		require.NoError(t, err)
		assert.Equal(t, 1.0, res.Score)
	})

	t.Run("Model and decode errors", func(t *testing.T) {
		_, err := NewLLMGrader(&scriptedModel{err: errors.New("rate limited")}).Grade(ctx, "q", "a", "b")
		assert.ErrorContains(t, err, "rate limited")

		_, err = NewLLMGrader(&scriptedModel{completion: "I think it is fine"}).Grade(ctx, "q", "a", "b")
		assert.ErrorContains(t, err, "decode grade")
	})
}

func TestSimilarityGrader(t *testing.T) {
	g := SimilarityGrader{}
	res, err := g.Grade(context.Background(), "q", "A reliable transport protocol", "a reliable transport protocol.")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Score, PassScore)

	res, err = g.Grade(context.Background(), "q", "A reliable transport protocol", "a kind of fish")
	require.NoError(t, err)
	assert.Less(t, res.Score, PassScore)
	assert.Contains(t, res.Feedback, "A reliable transport protocol")
}

func TestNew(t *testing.T) {
	g, err := New("rules", config.LLMConfig{})
	require.NoError(t, err)
	assert.IsType(t, SimilarityGrader{}, g)

	g, err = New("ollama", config.LLMConfig{Model: "qwen2.5", BaseURL: "http://127.0.0.1:11434"})
	require.NoError(t, err)
	assert.IsType(t, &LLMGrader{}, g)

	_, err = New("magic", config.LLMConfig{})
	assert.Error(t, err)
}
