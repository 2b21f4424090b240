package store

import "time"

// RecordUpload logs an accepted document upload.
func (s *Store) RecordUpload(userID, examID int64, filename string, size int64) error {
	_, err := s.db.Exec(
		"INSERT INTO uploads (user_id, exam_id, filename, size, created_at) VALUES (?, ?, ?, ?, ?)",
		userID, examID, filename, size, time.Now().UTC())
	return err
}

// CountUploadsSince returns how many documents the user uploaded after since.
func (s *Store) CountUploadsSince(userID int64, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM uploads WHERE user_id = ? AND created_at >= ?", userID, since.UTC()).Scan(&count)
	return count, err
}
