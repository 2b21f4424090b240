package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const extractPrompt = `You are a professional question parser. Parse the given document and extract all questions.

For each question, identify:
1. Question content (the question text)
2. Question type: single (单选), multiple (多选), judge (判断), short (简答)
3. Options (for choice questions only, format: ["A. Option1", "B. Option2", ...])
4. Correct answer
5. Analysis/Explanation (if available)

Return ONLY a JSON array of questions, with no additional text:
[
  {
    "content": "question text",
    "type": "single",
    "options": ["A. Option1", "B. Option2", "C. Option3", "D. Option4"],
    "answer": "A",
    "analysis": "explanation"
  }
]

Document content:
---
%s
---

IMPORTANT: Return ONLY the JSON array, no markdown code blocks or explanations.`

// LLMExtractor asks a language model to extract questions.
type LLMExtractor struct {
	llm llms.Model
}

func NewLLMExtractor(llm llms.Model) *LLMExtractor {
	return &LLMExtractor{llm: llm}
}

func (e *LLMExtractor) Extract(ctx context.Context, text string) ([]*models.Question, error) {
	completion, err := llms.GenerateFromSinglePrompt(ctx, e.llm, fmt.Sprintf(extractPrompt, text),
		llms.WithTemperature(0.3))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	questions, err := ParseQuestionsJSON(completion)
	if err != nil {
		log.Debug().Str("completion", truncate(completion, 200)).Msg("Model returned unparsable questions")
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return questions, nil
}

// NewExtractor builds the extractor selected by cfg.Ingest.Extractor.
func NewExtractor(cfg *config.Config) (Extractor, error) {
	switch provider := strings.ToLower(cfg.Ingest.Extractor); provider {
	case "", "rules":
		return NewRuleExtractor(), nil
	default:
		llm, err := NewModel(provider, cfg.LLM)
		if err != nil {
			return nil, err
		}
		return NewLLMExtractor(llm), nil
	}
}

// NewModel connects to the language model of the named provider, "openai"
// or "ollama".
func NewModel(provider string, cfg config.LLMConfig) (llms.Model, error) {
	switch strings.ToLower(provider) {
	case "openai":
		opts := []openai.Option{}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return llm, nil
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", provider)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
