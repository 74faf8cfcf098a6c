package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greatbit/quack/cmd/quack/api"
	"github.com/greatbit/quack/cmd/quack/config"
	"github.com/greatbit/quack/cmd/quack/datasource"
	"github.com/greatbit/quack/cmd/quack/issuetracker"
	"github.com/greatbit/quack/cmd/quack/session"
	"github.com/greatbit/quack/cmd/quack/storage"
	"github.com/greatbit/quack/cmd/quack/testcase"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

func main() {
	envFile := flag.String("env", ".env", "path of the .env file")
	flag.Parse()

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	log := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stdout })).With().Timestamp().Caller().Logger()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log = log.Level(cfg.LogLevel)
	log.Info().Str("storage", cfg.Storage).Str("addr", cfg.Addr).Msg("Starting quack")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, sessions, closeStores, err := setupStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Stack().Err(err).Msg("Failed to set up storage")
	}
	defer closeStores()

	files, err := storage.NewFileStore(cfg.AttachmentsDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up attachment storage")
	}
	log.Info().Str("dir", files.GetBaseDir()).Msg("Attachment storage ready")

	var tracker issuetracker.Tracker = issuetracker.Disabled{}
	if cfg.TrackerEnabled() {
		client := issuetracker.NewClient(issuetracker.Config{
			BaseURI:  cfg.TrackerURL,
			Token:    cfg.TrackerToken,
			Timeout:  cfg.TrackerTimeout,
			RetryMax: cfg.TrackerRetries,
		}, log)

		cacheConfig := issuetracker.DefaultCacheConfig()
		cacheConfig.TTL = cfg.SuggestTTL
		cacheConfig.Enabled = cfg.SuggestTTL > 0
		cached := issuetracker.NewCachingTracker(client, cacheConfig, log)
		defer cached.Stop()

		tracker = cached
		log.Info().Str("url", cfg.TrackerURL).Msg("Issue tracker configured")
	} else {
		log.Warn().Msg("No issue tracker configured, issue endpoints will return 501")
	}

	service := testcase.NewTestCaseService(repo, files, tracker, log)
	router := api.NewRouter(service, sessions, cfg.MaxUploadBytes, log)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().Msgf("Listening on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// setupStores opens the test case repository and the session provider for
// the configured storage
func setupStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (testcase.Repository, session.Provider, func(), error) {
	if cfg.Storage == config.StorageMemory {
		sessions := session.NewMemoryStore()
		if cfg.DevToken != "" {
			sessions.Put(&session.Session{
				Token:     cfg.DevToken,
				Login:     "dev",
				Name:      "Development user",
				IsAdmin:   true,
				ExpiresAt: time.Now().Add(24 * time.Hour),
			})
			log.Warn().Msg("Seeded development admin session")
		}
		return datasource.NewMemoryRepository(log), sessions, func() {}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}

	repo, err := datasource.NewPostgresRepository(db, log)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	sessions, err := session.NewGormStore(cfg.DatabaseURL, log)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	if err := sessions.Migrate(); err != nil {
		sessions.Close()
		db.Close()
		return nil, nil, nil, err
	}
	return repo, sessions, func() {
		sessions.Close()
		db.Close()
	}, nil
}
