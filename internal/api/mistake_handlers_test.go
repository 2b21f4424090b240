package api_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/qquiz/qquiz/internal/api"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedQuestions stores a ready exam for the user with one question of each
// type, in the order single, multiple, judge, short.
func seedQuestions(t *testing.T, server *api.Server, username string) (*models.Exam, []*models.Question) {
	t.Helper()
	user, err := server.Store().GetUserByUsername(username)
	require.NoError(t, err)
	exam, err := server.Store().CreateExam(user.ID, "Networking", models.ExamReady)
	require.NoError(t, err)
	questions := []*models.Question{
		{Content: "TCP 属于哪一层？", Type: models.QuestionSingle, Options: []string{"A. 网络层", "B. 传输层"}, Answer: "B", Analysis: "TCP 是传输层协议。", ContentHash: "h1"},
		{Content: "以下哪些是私有地址段？", Type: models.QuestionMultiple, Options: []string{"A. 10/8", "B. 172.16/12", "C. 8.8.8/24"}, Answer: "AB", ContentHash: "h2"},
		{Content: "UDP 是面向连接的协议。", Type: models.QuestionJudge, Answer: "错误", ContentHash: "h3"},
		{Content: "What does TCP guarantee?", Type: models.QuestionShort, Answer: "Reliable ordered delivery of a byte stream", ContentHash: "h4"},
	}
	require.NoError(t, server.Store().InsertQuestions(exam.ID, questions))
	return exam, questions
}

func TestQuestionHandlers(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	router := server.Router()
	token := testutil.GetAuthToken(t, server, "alice", "secret123", models.RoleUser)
	otherToken := testutil.GetAuthToken(t, server, "eve", "secret123", models.RoleUser)
	_, questions := seedQuestions(t, server, "alice")
	single, multiple, judge, short := questions[0], questions[1], questions[2], questions[3]

	check := func(t *testing.T, token string, questionID int64, answer string) *httptest.ResponseRecorder {
		t.Helper()
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/questions/check", token,
			[]byte(fmt.Sprintf(`{"question_id": %d, "user_answer": %q}`, questionID, answer))))
		return rr
	}

	t.Run("Get question", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, fmt.Sprintf("/api/questions/%d", single.ID), token, nil))
		require.Equal(t, http.StatusOK, rr.Code)
		got := decode[models.Question](t, rr)
		assert.Equal(t, single.Content, got.Content)
		assert.Equal(t, single.Options, got.Options)

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, fmt.Sprintf("/api/questions/%d", single.ID), otherToken, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error": "Question not found"}`, rr.Body.String())

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, "/api/questions/abc", token, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Correct answers stay out of the mistake book", func(t *testing.T) {
		for _, tc := range []struct {
			q      *models.Question
			answer string
		}{{single, "b"}, {multiple, "B A"}, {judge, "错误"}} {
			rr := check(t, token, tc.q.ID, tc.answer)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			res := decode[models.AnswerCheck](t, rr)
			assert.True(t, res.Correct, tc.q.Content)
			assert.Nil(t, res.AIScore)
		}
		assert.Equal(t, "TCP 是传输层协议。", decode[models.AnswerCheck](t, check(t, token, single.ID, "B")).Analysis)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, "/api/mistakes", token, nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Zero(t, decode[models.MistakeList](t, rr).Total)
	})

	t.Run("Wrong answers are recorded once", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rr := check(t, token, single.ID, "A")
			require.Equal(t, http.StatusOK, rr.Code)
			res := decode[models.AnswerCheck](t, rr)
			assert.False(t, res.Correct)
			assert.Equal(t, "A", res.UserAnswer)
			assert.Equal(t, "B", res.CorrectAnswer)
		}

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, "/api/mistakes/", token, nil))
		require.Equal(t, http.StatusOK, rr.Code)
		list := decode[models.MistakeList](t, rr)
		assert.Equal(t, 1, list.Total)
		require.Len(t, list.Mistakes, 1)
		assert.Equal(t, single.ID, list.Mistakes[0].QuestionID)
	})

	t.Run("Short answers are graded", func(t *testing.T) {
		rr := check(t, token, short.ID, "reliable ordered delivery of a byte stream")
		require.Equal(t, http.StatusOK, rr.Code)
		res := decode[models.AnswerCheck](t, rr)
		assert.True(t, res.Correct)
		require.NotNil(t, res.AIScore)
		assert.GreaterOrEqual(t, *res.AIScore, 0.7)
		require.NotNil(t, res.AIFeedback)

		res = decode[models.AnswerCheck](t, check(t, token, short.ID, "no idea"))
		assert.False(t, res.Correct)
		require.NotNil(t, res.AIScore)
		assert.Less(t, *res.AIScore, 0.7)
	})

	t.Run("Check rejects bad input and foreign questions", func(t *testing.T) {
		rr := check(t, otherToken, single.ID, "B")
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/questions/check", token, []byte(`{"user_answer": "B"}`)))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestMistakeHandlers(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	router := server.Router()
	token := testutil.GetAuthToken(t, server, "alice", "secret123", models.RoleUser)
	otherToken := testutil.GetAuthToken(t, server, "eve", "secret123", models.RoleUser)
	exam, questions := seedQuestions(t, server, "alice")
	_, otherQuestions := seedQuestions(t, server, "eve")

	add := func(t *testing.T, token string, questionID int64) *httptest.ResponseRecorder {
		t.Helper()
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodPost, "/api/mistakes/add", token,
			[]byte(fmt.Sprintf(`{"question_id": %d}`, questionID))))
		return rr
	}
	list := func(t *testing.T, path string) models.MistakeList {
		t.Helper()
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, path, token, nil))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		return decode[models.MistakeList](t, rr)
	}

	var first models.Mistake
	t.Run("Add", func(t *testing.T) {
		rr := add(t, token, questions[0].ID)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		first = decode[models.Mistake](t, rr)
		assert.Equal(t, questions[0].ID, first.QuestionID)
		require.NotNil(t, first.Question)
		assert.Equal(t, questions[0].Content, first.Question.Content)

		rr = add(t, token, questions[0].ID)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.JSONEq(t, `{"error": "Question already in mistake book"}`, rr.Body.String())

		rr = add(t, token, otherQuestions[0].ID)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error": "Question not found or you don't have access"}`, rr.Body.String())

		require.Equal(t, http.StatusCreated, add(t, token, questions[3].ID).Code)
	})

	t.Run("List", func(t *testing.T) {
		all := list(t, "/api/mistakes")
		assert.Equal(t, 2, all.Total)
		require.Len(t, all.Mistakes, 2)
		assert.Equal(t, questions[3].ID, all.Mistakes[0].QuestionID)

		page := list(t, "/api/mistakes/?skip=1&limit=1")
		assert.Equal(t, 2, page.Total)
		require.Len(t, page.Mistakes, 1)
		assert.Equal(t, questions[0].ID, page.Mistakes[0].QuestionID)

		byExam := list(t, fmt.Sprintf("/api/mistakes/?exam_id=%d", exam.ID))
		assert.Equal(t, 2, byExam.Total)
		assert.Zero(t, list(t, fmt.Sprintf("/api/mistakes/?exam_id=%d", otherQuestions[0].ExamID)).Total)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, "/api/mistakes/?exam_id=x", token, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Delete by id", func(t *testing.T) {
		path := fmt.Sprintf("/api/mistakes/%d", first.ID)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodDelete, path, otherToken, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodDelete, path, token, nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodDelete, path, token, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error": "Mistake record not found"}`, rr.Body.String())
	})

	t.Run("Delete by question", func(t *testing.T) {
		path := fmt.Sprintf("/api/mistakes/question/%d", questions[3].ID)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodDelete, path, token, nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodDelete, path, token, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error": "Question not found in mistake book"}`, rr.Body.String())

		assert.Zero(t, list(t, "/api/mistakes").Total)
	})

	t.Run("Requires authentication", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, testutil.AuthRequest(t, http.MethodGet, "/api/mistakes", "", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
