package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ieraasyl/FitnessShell/internal/database"
	"github.com/ieraasyl/FitnessShell/internal/handlers"
	"github.com/ieraasyl/FitnessShell/internal/middleware"
	"github.com/ieraasyl/FitnessShell/internal/models"
	"github.com/ieraasyl/FitnessShell/internal/services"
	"github.com/ieraasyl/FitnessShell/pkg/cache"
	"github.com/ieraasyl/FitnessShell/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// newLogger writes JSON in production and console output elsewhere, at the
// configured level.
func newLogger(cfg *config.ServerConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsProduction() {
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Logger = newLogger(&cfg.Server, os.Stderr)

	log.Info().
		Str("env", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("installation", cfg.Device.InstallationID).
		Msg("Starting session shell")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgresDB, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	if err := postgresDB.RunMigrations(ctx, database.ProfilesSchema); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	redisDB, err := database.NewRedisDB(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	var profiles services.ProfileRepository = postgresDB
	if cfg.Cache.Enabled {
		profiles = cache.NewProfileCache(cache.NewCache(redisDB.Client()), postgresDB, cfg.Cache.ProfileTTL)
	}

	inspector := services.NewTokenInspector(cfg.Auth.JWTSecret, cfg.Auth.ClockSkew)
	authClient := services.NewAuthClient(&cfg.Auth, inspector)

	store := services.NewSessionStore(authClient, profiles, redisDB, inspector, services.StoreOptions{
		InstallationID:  cfg.Device.InstallationID,
		UserAgent:       cfg.Device.UserAgent,
		MinSecretLength: cfg.Auth.MinSecretLength,
	})

	loop := services.NewRunLoop(64)
	go loop.Run(ctx)

	nav := services.NewRecordingNavigator(cfg.Navigation.LoginPath)
	guard := services.NewNavigationGuard(services.RoutesFromConfig(&cfg.Navigation), nav, loop)
	detach := guard.Attach(ctx, store)
	defer detach()
	guard.SetLocation(cfg.Navigation.LoginPath)

	lifecycle := services.NewLifecycleObserver(store, guard)

	events := make(chan models.AuthEvent, 16)
	go store.Run(ctx, events)

	if err := store.Initialize(ctx); err != nil {
		log.Warn().Err(err).Msg("Session restore failed, starting signed out")
	}

	shellHandler := handlers.NewShellHandler(store, guard, lifecycle, nav, inspector, events)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": postgresDB,
		"redis":    redisDB,
	})
	rateLimiter := middleware.NewRateLimiter(redisDB, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowDuration)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", middleware.MetricsHandler())
	r.Mount("/api/docs", handlers.DocsRoutes("/api/docs"))

	r.Mount("/api/v1", shellHandler.Routes(rateLimiter.Limit, middleware.RequireSession(store)))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = multierr.Combine(
		server.Shutdown(shutdownCtx),
		redisDB.Close(),
		postgresDB.Close(),
	)
	if err != nil {
		log.Error().Err(err).Msg("Shutdown incomplete")
		return
	}

	log.Info().Msg("Server stopped gracefully")
}
