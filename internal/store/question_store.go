package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/qquiz/qquiz/internal/models"
)

// ListQuestions returns a page of an exam's questions in insertion order and
// the total number of questions.
func (s *Store) ListQuestions(examID int64, skip, limit int) ([]*models.Question, int, error) {
	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM questions WHERE exam_id = ?", examID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT `+questionColumns+`
		FROM questions q WHERE q.exam_id = ? ORDER BY q.id LIMIT ? OFFSET ?`, examID, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	questions := []*models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, 0, err
		}
		questions = append(questions, q)
	}
	return questions, total, rows.Err()
}

const questionColumns = "q.id, q.exam_id, q.content, q.type, q.options, q.answer, q.analysis, q.content_hash, q.created_at"

func scanQuestion(row rowScanner, extra ...any) (*models.Question, error) {
	var q models.Question
	var options string
	dest := append([]any{&q.ID, &q.ExamID, &q.Content, &q.Type, &options, &q.Answer, &q.Analysis, &q.ContentHash, &q.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return nil, fmt.Errorf("decode options of question %d: %w", q.ID, err)
	}
	return &q, nil
}

// GetQuestionForUser retrieves a question only if its exam belongs to userID.
func (s *Store) GetQuestionForUser(id, userID int64) (*models.Question, error) {
	q, err := scanQuestion(s.db.QueryRow(`
		SELECT `+questionColumns+`
		FROM questions q JOIN exams e ON e.id = q.exam_id
		WHERE q.id = ? AND e.user_id = ?`, id, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return q, nil
}

// ListQuestionFingerprints returns the hash and content of every question of
// an exam, for deduplicating new questions against them.
func (s *Store) ListQuestionFingerprints(examID int64) ([]*models.Question, error) {
	rows, err := s.db.Query("SELECT id, content, content_hash FROM questions WHERE exam_id = ? ORDER BY id", examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []*models.Question
	for rows.Next() {
		q := &models.Question{ExamID: examID}
		if err := rows.Scan(&q.ID, &q.Content, &q.ContentHash); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// InsertQuestions adds questions to an exam in a single transaction.
func (s *Store) InsertQuestions(examID int64, questions []*models.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() // Rollback is a no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT INTO questions (exam_id, content, type, options, answer, analysis, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, q := range questions {
		options := q.Options
		if options == nil {
			options = []string{}
		}
		encoded, err := json.Marshal(options)
		if err != nil {
			return err
		}
		res, err := stmt.Exec(examID, q.Content, q.Type, string(encoded), q.Answer, q.Analysis, q.ContentHash, now)
		if err != nil {
			return err
		}
		q.ID, _ = res.LastInsertId()
		q.ExamID = examID
		q.CreatedAt = now
	}
	return tx.Commit()
}
