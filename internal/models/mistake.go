// This file defines the mistake book and answer checking models.

package models

import "time"

// Mistake is a question the user answered wrong or saved for review.
type Mistake struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	QuestionID int64     `json:"question_id"`
	Question   *Question `json:"question"`
	CreatedAt  time.Time `json:"created_at"`
}

// MistakeList is the paginated response for a user's mistake book.
type MistakeList struct {
	Mistakes []*Mistake `json:"mistakes"`
	Total    int        `json:"total"`
}

// AnswerSubmission is the body of an answer check.
type AnswerSubmission struct {
	QuestionID int64  `json:"question_id"`
	UserAnswer string `json:"user_answer"`
}

// AnswerCheck is the result of checking a submitted answer. AIScore and
// AIFeedback are only set for graded short answers.
type AnswerCheck struct {
	Correct       bool     `json:"correct"`
	UserAnswer    string   `json:"user_answer"`
	CorrectAnswer string   `json:"correct_answer"`
	Analysis      string   `json:"analysis,omitempty"`
	AIScore       *float64 `json:"ai_score"`
	AIFeedback    *string  `json:"ai_feedback"`
}
