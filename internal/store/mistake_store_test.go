package store_test

import (
	"testing"

	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/store"
	"github.com/qquiz/qquiz/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMistakeStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)
	alice := testutil.CreateUser(t, s, "alice", "pw", "user")
	bob := testutil.CreateUser(t, s, "bob", "pw", "user")

	networks, err := s.CreateExam(alice.ID, "Networks", models.ExamReady)
	require.NoError(t, err)
	databases, err := s.CreateExam(alice.ID, "Databases", models.ExamReady)
	require.NoError(t, err)

	q1 := &models.Question{Content: "Which layer routes packets?", Type: models.QuestionSingle, Options: []string{"A. Network", "B. Link"}, Answer: "A", ContentHash: "h1"}
	q2 := &models.Question{Content: "TCP is reliable.", Type: models.QuestionJudge, Answer: "正确", ContentHash: "h2"}
	q3 := &models.Question{Content: "Define a primary key.", Type: models.QuestionShort, Answer: "A unique row identifier", ContentHash: "h3"}
	require.NoError(t, s.InsertQuestions(networks.ID, []*models.Question{q1, q2}))
	require.NoError(t, s.InsertQuestions(databases.ID, []*models.Question{q3}))

	t.Run("Question ownership", func(t *testing.T) {
		got, err := s.GetQuestionForUser(q1.ID, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, networks.ID, got.ExamID)
		assert.Equal(t, []string{"A. Network", "B. Link"}, got.Options)

		_, err = s.GetQuestionForUser(q1.ID, bob.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetQuestionForUser(999, alice.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Add is unique per user and question", func(t *testing.T) {
		m, err := s.AddMistake(alice.ID, q1.ID)
		require.NoError(t, err)
		assert.NotZero(t, m.ID)

		_, err = s.AddMistake(alice.ID, q1.ID)
		assert.ErrorIs(t, err, store.ErrAlreadyExists)

		_, err = s.AddMistake(alice.ID, q3.ID)
		require.NoError(t, err)
		_, err = s.AddMistake(bob.ID, q1.ID)
		require.NoError(t, err)
	})

	t.Run("List newest first and by exam", func(t *testing.T) {
		list, total, err := s.ListMistakes(alice.ID, 0, 0, 50)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, list, 2)
		assert.Equal(t, q3.ID, list[0].QuestionID)
		assert.Equal(t, "Define a primary key.", list[0].Question.Content)
		assert.Equal(t, q1.ID, list[1].QuestionID)

		list, total, err = s.ListMistakes(alice.ID, networks.ID, 0, 50)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, list, 1)
		assert.Equal(t, q1.ID, list[0].Question.ID)

		list, total, err = s.ListMistakes(alice.ID, 0, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, list, 1)
		assert.Equal(t, q1.ID, list[0].QuestionID)
	})

	t.Run("Delete", func(t *testing.T) {
		list, _, err := s.ListMistakes(bob.ID, 0, 0, 50)
		require.NoError(t, err)
		require.Len(t, list, 1)

		assert.ErrorIs(t, s.DeleteMistake(list[0].ID, alice.ID), store.ErrNotFound)
		require.NoError(t, s.DeleteMistake(list[0].ID, bob.ID))
		assert.ErrorIs(t, s.DeleteMistake(list[0].ID, bob.ID), store.ErrNotFound)

		require.NoError(t, s.DeleteMistakeByQuestion(alice.ID, q3.ID))
		assert.ErrorIs(t, s.DeleteMistakeByQuestion(alice.ID, q3.ID), store.ErrNotFound)
	})

	t.Run("Deleting the exam removes its mistakes", func(t *testing.T) {
		require.NoError(t, s.DeleteExam(networks.ID))
		_, total, err := s.ListMistakes(alice.ID, 0, 0, 50)
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestSettingsStore(t *testing.T) {
	s := store.New(testutil.SetupTestDB(t))

	values, err := s.GetSettings()
	require.NoError(t, err)
	assert.Empty(t, values)

	require.NoError(t, s.PutSettings(map[string]string{"allow_registration": "false", "max_daily_uploads": "5"}))
	require.NoError(t, s.PutSettings(map[string]string{"max_daily_uploads": "7"}))

	values, err = s.GetSettings()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"allow_registration": "false", "max_daily_uploads": "7"}, values)
}
