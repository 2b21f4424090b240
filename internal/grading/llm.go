package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

const graderSystemPrompt = "You are a fair and strict grader. Return only JSON."

const gradePrompt = `Grade the following short answer question.

Question: %s

Standard Answer: %s

Student Answer: %s

Provide a score from 0.0 to 1.0 (where 1.0 is perfect) and detailed feedback.

Return ONLY a JSON object:
{
  "score": 0.85,
  "feedback": "Your detailed feedback here"
}

Be fair but strict. Consider:
1. Correctness of key points
2. Completeness of answer
3. Clarity of expression

Return ONLY the JSON object, no markdown or explanations.`

// LLMGrader asks a language model to score short answers.
type LLMGrader struct {
	llm llms.Model
}

func NewLLMGrader(llm llms.Model) *LLMGrader {
	return &LLMGrader{llm: llm}
}

func (g *LLMGrader) Grade(ctx context.Context, question, reference, answer string) (Result, error) {
	resp, err := g.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, graderSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(gradePrompt, question, reference, answer)),
	}, llms.WithTemperature(0.5))
	if err != nil {
		return Result{}, fmt.Errorf("grade answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("grade answer: empty response")
	}
	return parseResult(resp.Choices[0].Content)
}

func parseResult(s string) (Result, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start > 0 && end > start {
		s = s[start : end+1]
	}

	var res Result
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		return Result{}, fmt.Errorf("decode grade: %w", err)
	}
	res.Score = min(max(res.Score, 0), 1)
	return res, nil
}
