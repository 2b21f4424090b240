package grading

import (
	"context"
	"fmt"

	"github.com/qquiz/qquiz/internal/ingest"
)

// SimilarityGrader scores a short answer by its text similarity to the
// reference answer. It is used when no language model is configured.
type SimilarityGrader struct{}

func (SimilarityGrader) Grade(_ context.Context, _, reference, answer string) (Result, error) {
	score := ingest.Similarity(reference, answer)
	feedback := "The answer covers the key points of the reference answer."
	if score < PassScore {
		feedback = fmt.Sprintf("The answer differs from the reference answer: %s", reference)
	}
	return Result{Score: score, Feedback: feedback}, nil
}
