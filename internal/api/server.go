// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/qquiz/qquiz/internal/core"
	"github.com/qquiz/qquiz/internal/store"
)

// Server holds the dependencies for our API.
type Server struct {
	app   *core.App
	db    *sql.DB
	store *store.Store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:   app,
		db:    app.DB(),
		store: app.Store(),
	}
}

// App returns the application the server was built on.
func (s *Server) App() *core.App {
	return s.app
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer) // Recovers from panics

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleGetVersion)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/api/auth/register", s.handleRegister)
		r.Post("/api/auth/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		// Streams are long lived and are not subject to the request timeout.
		r.Get("/api/exams/{examID}/progress", s.handleExamProgressStream)
		r.With(s.AdminOnlyMiddleware).Get("/ws/admin/progress", s.handleAdminProgressSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/api/auth/me", s.handleGetMe)
			r.Post("/api/auth/logout", s.handleLogout)
			r.Post("/api/auth/change-password", s.handleChangePassword)

			// Exam Routes
			r.Get("/api/exams", s.handleListExams)
			r.Get("/api/exams/", s.handleListExams)
			r.Post("/api/exams/create", s.handleCreateExam)
			r.Get("/api/exams/{examID}", s.handleGetExam)
			r.Delete("/api/exams/{examID}", s.handleDeleteExam)
			r.Post("/api/exams/{examID}/append", s.handleAppendDocument)
			r.Put("/api/exams/{examID}/progress", s.handleUpdateQuizProgress)

			// Question Routes
			r.Get("/api/questions/exam/{examID}/questions", s.handleListQuestions)
			r.Get("/api/questions/exam/{examID}/current", s.handleGetCurrentQuestion)
			r.Post("/api/questions/check", s.handleCheckAnswer)
			r.Get("/api/questions/{questionID}", s.handleGetQuestion)

			// Mistake Book Routes
			r.Get("/api/mistakes", s.handleListMistakes)
			r.Get("/api/mistakes/", s.handleListMistakes)
			r.Post("/api/mistakes/add", s.handleAddMistake)
			r.Delete("/api/mistakes/{mistakeID}", s.handleDeleteMistake)
			r.Delete("/api/mistakes/question/{questionID}", s.handleDeleteMistakeByQuestion)

			r.Route("/api/admin", func(r chi.Router) {
				r.Use(s.AdminOnlyMiddleware)

				r.Get("/jobs/status", s.handleGetAdminJobsStatus)
				r.Post("/jobs/run", s.handleRunAdminJob)

				r.Get("/config", s.handleGetSystemConfig)
				r.Put("/config", s.handleUpdateSystemConfig)

				r.Get("/users", s.handleAdminListUsers)
				r.Post("/users", s.handleAdminCreateUser)
				r.Delete("/users/{userID}", s.handleAdminDeleteUser)
			})
		})
	})

	return r
}
