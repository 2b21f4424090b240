package store

import (
	"time"

	"github.com/qquiz/qquiz/internal/models"
)

const examColumns = "id, user_id, title, status, current_index, total_questions, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(row rowScanner) (*models.Exam, error) {
	var e models.Exam
	err := row.Scan(&e.ID, &e.UserID, &e.Title, &e.Status, &e.CurrentIndex, &e.TotalQuestions, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateExam inserts a new exam owned by userID.
func (s *Store) CreateExam(userID int64, title string, status models.ExamStatus) (*models.Exam, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		"INSERT INTO exams (user_id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		userID, title, status, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Exam{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetExam retrieves an exam by id.
func (s *Store) GetExam(id int64) (*models.Exam, error) {
	e, err := scanExam(s.db.QueryRow("SELECT "+examColumns+" FROM exams WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// GetExamForUser retrieves an exam only if it belongs to userID.
func (s *Store) GetExamForUser(id, userID int64) (*models.Exam, error) {
	e, err := scanExam(s.db.QueryRow("SELECT "+examColumns+" FROM exams WHERE id = ? AND user_id = ?", id, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// ListExams returns a page of the user's exams, newest first, and the
// total number of exams the user owns.
func (s *Store) ListExams(userID int64, skip, limit int) ([]*models.Exam, int, error) {
	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM exams WHERE user_id = ?", userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(
		"SELECT "+examColumns+" FROM exams WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		userID, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	exams := []*models.Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// ListExamsByStatus returns every exam currently in status.
func (s *Store) ListExamsByStatus(status models.ExamStatus) ([]*models.Exam, error) {
	rows, err := s.db.Query("SELECT "+examColumns+" FROM exams WHERE status = ? ORDER BY id", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []*models.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// UpdateExamStatus sets the status of an exam.
func (s *Store) UpdateExamStatus(id int64, status models.ExamStatus) error {
	res, err := s.db.Exec("UPDATE exams SET status = ?, updated_at = ? WHERE id = ?", status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimExamForProcessing moves an exam to processing unless it already is.
// It reports false when another parse holds the exam.
func (s *Store) ClaimExamForProcessing(id int64) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE exams SET status = ?, updated_at = ? WHERE id = ? AND status != ?",
		models.ExamProcessing, time.Now().UTC(), id, models.ExamProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateExamProgress stores the user's position in the quiz.
func (s *Store) UpdateExamProgress(id int64, currentIndex int) error {
	res, err := s.db.Exec("UPDATE exams SET current_index = ?, updated_at = ? WHERE id = ?", currentIndex, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RefreshExamTotal recounts the questions of an exam and stores the total.
func (s *Store) RefreshExamTotal(id int64) (int, error) {
	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM questions WHERE exam_id = ?", id).Scan(&total); err != nil {
		return 0, err
	}
	_, err := s.db.Exec("UPDATE exams SET total_questions = ?, updated_at = ? WHERE id = ?", total, time.Now().UTC(), id)
	return total, err
}

// DeleteExam removes an exam. Its questions are removed by cascade.
func (s *Store) DeleteExam(id int64) error {
	res, err := s.db.Exec("DELETE FROM exams WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
