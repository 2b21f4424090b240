// This file defines the exam (question bank) and question models.

package models

import "time"

// ExamStatus is the processing state of an exam.
type ExamStatus string

const (
	ExamPending    ExamStatus = "pending"
	ExamProcessing ExamStatus = "processing"
	ExamReady      ExamStatus = "ready"
	ExamFailed     ExamStatus = "failed"
)

// Exam is a question bank built from one or more uploaded documents.
type Exam struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	Title          string     `json:"title"`
	Status         ExamStatus `json:"status"`
	CurrentIndex   int        `json:"current_index"`
	TotalQuestions int        `json:"total_questions"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ExamList is the paginated response for the exam list endpoint.
type ExamList struct {
	Exams []*Exam `json:"exams"`
	Total int     `json:"total"`
}

// ExamUploadResponse is returned after a document has been accepted for parsing.
type ExamUploadResponse struct {
	ExamID  int64      `json:"exam_id"`
	Title   string     `json:"title"`
	Status  ExamStatus `json:"status"`
	Message string     `json:"message"`
}

// QuestionType classifies a question.
type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
	QuestionJudge    QuestionType = "judge"
	QuestionShort    QuestionType = "short"
)

// Question is a single parsed question belonging to an exam.
type Question struct {
	ID          int64        `json:"id"`
	ExamID      int64        `json:"exam_id"`
	Content     string       `json:"content"`
	Type        QuestionType `json:"type"`
	Options     []string     `json:"options,omitempty"`
	Answer      string       `json:"answer"`
	Analysis    string       `json:"analysis,omitempty"`
	ContentHash string       `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
}

// QuestionList is the paginated response for an exam's questions.
type QuestionList struct {
	Questions []*Question `json:"questions"`
	Total     int         `json:"total"`
}
