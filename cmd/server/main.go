package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-orchestrator-go/internal/bus"
	"github.com/openclaw/wa-orchestrator-go/internal/config"
	"github.com/openclaw/wa-orchestrator-go/internal/database"
	"github.com/openclaw/wa-orchestrator-go/internal/handler"
	"github.com/openclaw/wa-orchestrator-go/internal/jobs"
	"github.com/openclaw/wa-orchestrator-go/internal/manager"
	"github.com/openclaw/wa-orchestrator-go/internal/middleware"
	"github.com/openclaw/wa-orchestrator-go/internal/platform"
	"github.com/openclaw/wa-orchestrator-go/internal/redis"
	"github.com/openclaw/wa-orchestrator-go/internal/repository"
	"github.com/openclaw/wa-orchestrator-go/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	st, err := store.NewFS(cfg.SessionsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.SessionsDir).Msg("failed to open sessions dir")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	b := bus.New(redisClient)
	defer b.Close()

	m := manager.New(cfg, st, b, platform.Dial)
	defer m.Close()

	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()
		log.Info().Msg("database connected")

		eventRepo := repository.NewEventRepository(db.DB)
		if err := eventRepo.EnsureSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure event schema")
		}

		archiver := jobs.NewArchiver(b, eventRepo)
		archiver.Start()
		defer archiver.Stop()

		retentionJob := jobs.NewRetentionJob(eventRepo, cfg.EventRetention(), config.RetentionJobInterval)
		retentionJob.Start()
		defer retentionJob.Stop()
	}

	sessionHandler := handler.NewSessionHandler(m)
	logsHandler := handler.NewLogsHandler(m)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/", sessionHandler.Routes())
	})

	// SSE routes stay outside the request timeout.
	r.Get("/v1/logs", logsHandler.StreamAll)
	r.Get("/v1/logs/{id}", logsHandler.StreamSession)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	bootstrapCtx, bootstrapCancel := context.WithCancel(context.Background())
	defer bootstrapCancel()
	go func() {
		ids, err := m.BootstrapAll(bootstrapCtx)
		if err != nil {
			log.Error().Err(err).Msg("bootstrap failed")
			return
		}
		log.Info().Int("count", len(ids)).Msg("bootstrap complete")
	}()

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	bootstrapCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
