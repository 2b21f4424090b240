// Shared test server setup, which simplifies all API tests.

package testutil

import (
	"database/sql"
	"testing"

	"github.com/qquiz/qquiz/internal/api"
	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/core"
)

// SetupTestApp builds a core.App on a fresh in-memory database. The
// dashboard hub is running and running jobs are drained on cleanup.
func SetupTestApp(t *testing.T, cfg *config.Config) *core.App {
	t.Helper()
	db := SetupTestDB(t)
	if cfg == nil {
		cfg = config.Default()
	}

	app, err := core.NewApp(cfg, db, "test")
	if err != nil {
		t.Fatalf("Failed to create test app: %v", err)
	}
	go app.WsHub().Run()

	// Registered after the database cleanup, so it runs first.
	t.Cleanup(func() {
		app.JobManager().Wait()
	})
	return app
}

// SetupTestServer initializes a full core.App and api.Server for integration testing.
func SetupTestServer(t *testing.T) (*api.Server, *sql.DB) {
	t.Helper()
	app := SetupTestApp(t, nil)
	return api.NewServer(app), app.DB()
}
