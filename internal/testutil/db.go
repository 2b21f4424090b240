package testutil

import (
	"database/sql"
	"testing"

	"github.com/qquiz/qquiz/internal/assets"
	"github.com/qquiz/qquiz/internal/db"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// SetupTestDB creates an in-memory SQLite database and applies all migrations.
// It returns the database connection, ready for use in tests.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.InitDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, assets.MigrationsFS); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

// CreateUser inserts a user with a cheaply hashed password.
func CreateUser(t *testing.T, s *store.Store, username, password, role string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password for test user: %v", err)
	}
	user, err := s.CreateUser(username, string(hash), role)
	if err != nil {
		t.Fatalf("Failed to create test user '%s': %v", username, err)
	}
	return user
}

// CreateSession creates a user and returns a valid session token for it.
func CreateSession(t *testing.T, s *store.Store, username, role string) (*models.User, string) {
	t.Helper()
	user := CreateUser(t, s, username, "password", role)
	token, err := s.CreateSession(user.ID)
	if err != nil {
		t.Fatalf("Failed to create session for '%s': %v", username, err)
	}
	return user, token
}
