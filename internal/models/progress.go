package models

// ProgressStatus is the stage of a document parse reported on the progress stream.
type ProgressStatus string

const (
	ProgressPending         ProgressStatus = "pending"
	ProgressParsing         ProgressStatus = "parsing"
	ProgressSplitting       ProgressStatus = "splitting"
	ProgressProcessingChunk ProgressStatus = "processing_chunk"
	ProgressDeduplicating   ProgressStatus = "deduplicating"
	ProgressSaving          ProgressStatus = "saving"
	ProgressCompleted       ProgressStatus = "completed"
	ProgressFailed          ProgressStatus = "failed"
)

// Terminal reports whether no further events follow a status on the same stream.
// Unknown statuses are treated as non-terminal.
func (s ProgressStatus) Terminal() bool {
	return s == ProgressCompleted || s == ProgressFailed
}

// ProgressEvent is one push-delivered update about an exam's parse.
type ProgressEvent struct {
	ExamID             int64          `json:"exam_id"`
	Status             ProgressStatus `json:"status"`
	Message            string         `json:"message"`
	Progress           float64        `json:"progress"` // 0-100
	TotalChunks        int            `json:"total_chunks"`
	CurrentChunk       int            `json:"current_chunk"`
	QuestionsExtracted int            `json:"questions_extracted"`
	QuestionsAdded     int            `json:"questions_added"`
	DuplicatesRemoved  int            `json:"duplicates_removed"`
	Timestamp          string         `json:"timestamp,omitempty"`
}
