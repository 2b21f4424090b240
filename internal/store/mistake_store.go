package store

import (
	"errors"
	"time"

	"github.com/qquiz/qquiz/internal/models"
)

// ErrAlreadyExists is returned when a row violates a uniqueness rule.
var ErrAlreadyExists = errors.New("already exists")

// AddMistake puts a question into the user's mistake book. It returns
// ErrAlreadyExists when the question is already there.
func (s *Store) AddMistake(userID, questionID int64) (*models.Mistake, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO mistakes (user_id, question_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, question_id) DO NOTHING`, userID, questionID, now)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrAlreadyExists
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Mistake{ID: id, UserID: userID, QuestionID: questionID, CreatedAt: now}, nil
}

// ListMistakes returns a page of the user's mistakes, newest first, with
// their questions. A non-zero examID restricts the list to that exam.
func (s *Store) ListMistakes(userID, examID int64, skip, limit int) ([]*models.Mistake, int, error) {
	where := "m.user_id = ?"
	args := []any{userID}
	if examID != 0 {
		where += " AND q.exam_id = ?"
		args = append(args, examID)
	}

	var total int
	err := s.db.QueryRow("SELECT COUNT(*) FROM mistakes m JOIN questions q ON q.id = m.question_id WHERE "+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT `+questionColumns+`, m.id, m.user_id, m.created_at
		FROM mistakes m JOIN questions q ON q.id = m.question_id
		WHERE `+where+`
		ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?`, append(args, limit, skip)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	mistakes := []*models.Mistake{}
	for rows.Next() {
		var m models.Mistake
		q, err := scanQuestion(rows, &m.ID, &m.UserID, &m.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		m.QuestionID = q.ID
		m.Question = q
		mistakes = append(mistakes, &m)
	}
	return mistakes, total, rows.Err()
}

// DeleteMistake removes one of the user's mistakes by its id.
func (s *Store) DeleteMistake(id, userID int64) error {
	return s.deleteMistakes("DELETE FROM mistakes WHERE id = ? AND user_id = ?", id, userID)
}

// DeleteMistakeByQuestion removes a question from the user's mistake book.
func (s *Store) DeleteMistakeByQuestion(userID, questionID int64) error {
	return s.deleteMistakes("DELETE FROM mistakes WHERE user_id = ? AND question_id = ?", userID, questionID)
}

func (s *Store) deleteMistakes(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
