package core

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/qquiz/qquiz/internal/assets"
	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/db"
	"github.com/qquiz/qquiz/internal/grading"
	"github.com/qquiz/qquiz/internal/ingest"
	"github.com/qquiz/qquiz/internal/jobs"
	"github.com/qquiz/qquiz/internal/progress"
	"github.com/qquiz/qquiz/internal/store"
	"github.com/qquiz/qquiz/internal/websocket"
	"github.com/rs/zerolog/log"
)

// App holds the core components of the server. It implements
// jobs.JobContext.
type App struct {
	config     *config.Config
	db         *sql.DB
	store      *store.Store
	broker     *progress.Broker
	wsHub      *websocket.Hub
	jobManager *jobs.JobManager
	version    string

	mu        sync.RWMutex
	extractor ingest.Extractor
	grader    grading.Grader
}

// New opens the database named in cfg, runs migrations and wires the
// application around it.
func New(cfg *config.Config, version string) (*App, error) {
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, assets.MigrationsFS); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app, err := NewApp(cfg, database, version)
	if err != nil {
		database.Close()
		return nil, err
	}
	log.Info().Str("database", cfg.Database.Path).Msg("Core application setup complete")
	return app, nil
}

// NewApp wires the application around an open, migrated database. Progress
// events are forwarded to the dashboard hub; the hub is not started.
func NewApp(cfg *config.Config, database *sql.DB, version string) (*App, error) {
	app := &App{
		config:  cfg,
		db:      database,
		store:   store.New(database),
		broker:  progress.NewBroker(),
		wsHub:   websocket.NewHub(),
		version: version,
	}

	settings, err := app.Settings()
	if err != nil {
		return nil, fmt.Errorf("failed to load system settings: %w", err)
	}
	if err := app.configureModels(settings); err != nil {
		if settings == app.defaultSettings() {
			return nil, err
		}
		// A stored provider that no longer works must not keep the server down.
		log.Warn().Err(err).Str("provider", settings.AIProvider).Msg("Stored AI settings are unusable, using the config file")
		if err := app.configureModels(app.defaultSettings()); err != nil {
			return nil, err
		}
	}

	app.broker.Observe(app.wsHub.BroadcastProgress)
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterDefaults(app.jobManager)
	return app, nil
}

func (a *App) Config() *config.Config       { return a.config }
func (a *App) DB() *sql.DB                  { return a.db }
func (a *App) Store() *store.Store          { return a.store }
func (a *App) Broker() *progress.Broker     { return a.broker }
func (a *App) WsHub() *websocket.Hub        { return a.wsHub }
func (a *App) JobManager() *jobs.JobManager { return a.jobManager }
func (a *App) Version() string              { return a.version }

// SetExtractor replaces the question extractor.
func (a *App) SetExtractor(ex ingest.Extractor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extractor = ex
}

// Grader returns the short answer grader of the configured AI provider.
func (a *App) Grader() grading.Grader {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.grader
}

// Pipeline returns an ingest pipeline bound to the app's store and broker.
func (a *App) Pipeline() *ingest.Pipeline {
	a.mu.RLock()
	extractor := a.extractor
	a.mu.RUnlock()
	return ingest.NewPipeline(a.store, a.broker, extractor, ingest.OptionsFromConfig(a.config.Ingest))
}

// Close closes the database connection.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
