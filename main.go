package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qquiz/qquiz/internal/api"
	"github.com/qquiz/qquiz/internal/auth"
	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/core"
	"github.com/qquiz/qquiz/internal/jobs"
	"github.com/qquiz/qquiz/internal/logging"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	flags := pflag.NewFlagSet("qquiz", pflag.ExitOnError)
	flags.Int("port", 0, "HTTP port to listen on")
	flags.String("database.path", "", "path of the SQLite database")
	flags.String("log.level", "", "log level (debug, info, warn, error)")
	flags.String("ingest.extractor", "", "question extractor (rules, openai, ollama)")
	flags.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	// Initialize the core application components
	app, err := core.New(cfg, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Fatal error during application setup")
	}
	defer app.Close()

	// --- First User Provisioning ---
	if err := provisionAdmin(app.Store()); err != nil {
		log.Fatal().Err(err).Msg("Could not create default admin user")
	}

	// Exams left processing by a previous run can never finish.
	if err := app.JobManager().RunJob(jobs.ReconcileJobID); err != nil {
		log.Warn().Err(err).Msg("Startup reconcile could not start")
	}
	scheduler := jobs.StartJobs(app)
	go app.WsHub().Run()

	// Setup the API server
	server := api.NewServer(app)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("version", version).Msg("Starting web server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Could not start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop()
	// Progress streams never go idle on their own, so cut them off after the deadline.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Server forced to shutdown")
		httpServer.Close()
	}
	if err := app.JobManager().Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Running jobs did not stop in time")
	}

	log.Info().Msg("Server exiting.")
}

func provisionAdmin(st *store.Store) error {
	userCount, err := st.CountUsers()
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if userCount > 0 {
		return nil
	}

	log.Info().Msg("No users found. Creating default admin account.")
	password, err := generateRandomPassword(12)
	if err != nil {
		return err
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := st.CreateUser("admin", passwordHash, models.RoleAdmin); err != nil {
		return err
	}
	log.Warn().
		Str("username", "admin").
		Str("password", password).
		Msg("Default admin user created. Please change this password immediately.")
	return nil
}

func generateRandomPassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}
	return string(b), nil
}
