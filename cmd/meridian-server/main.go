// Package main is the entry point for the Meridian identity server.
// Meridian manages account lifecycle, authentication, and multi-factor
// enrollment for the administrative portal.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prn-tf/meridian-identity/internal/challenge"
	"github.com/prn-tf/meridian-identity/internal/command"
	"github.com/prn-tf/meridian-identity/internal/config"
	"github.com/prn-tf/meridian-identity/internal/events"
	"github.com/prn-tf/meridian-identity/internal/handler"
	"github.com/prn-tf/meridian-identity/internal/pkg/fido"
	"github.com/prn-tf/meridian-identity/internal/pkg/totp"
	"github.com/prn-tf/meridian-identity/internal/query"
	"github.com/prn-tf/meridian-identity/internal/repository"
	"github.com/prn-tf/meridian-identity/internal/repository/postgres"
	"github.com/prn-tf/meridian-identity/internal/repository/sqlite"
	"github.com/prn-tf/meridian-identity/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("starting meridian identity server")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventLog := events.NewLogDispatcher(logger)

	var (
		factory repository.UnitOfWorkFactory
		queries query.UserQueries
		health  handler.HealthChecker
		closeDB func() error
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return fmt.Errorf("migrating postgres schema: %w", err)
		}
		factory = postgres.NewFactory(db, eventLog, logger)
		queries = postgres.NewUserQueries(db)
		health = db
		closeDB = db.Close
	case "sqlite":
		sqliteCfg := sqlite.DefaultConfig(cfg.Database.Path)
		if cfg.Database.JournalMode != "" {
			sqliteCfg.JournalMode = cfg.Database.JournalMode
		}
		if cfg.Database.BusyTimeout > 0 {
			sqliteCfg.BusyTimeout = cfg.Database.BusyTimeout
		}
		if cfg.Database.CacheSize != 0 {
			sqliteCfg.CacheSize = cfg.Database.CacheSize
		}
		if cfg.Database.SynchronousMode != "" {
			sqliteCfg.SynchronousMode = cfg.Database.SynchronousMode
		}
		db, err := sqlite.NewDB(ctx, sqliteCfg, logger)
		if err != nil {
			return fmt.Errorf("opening sqlite database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return fmt.Errorf("migrating sqlite schema: %w", err)
		}
		factory = sqlite.NewFactory(db, eventLog, logger)
		queries = sqlite.NewUserQueries(db)
		health = db
		closeDB = db.Close
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
	defer closeDB()

	challenges, closeChallenges, err := buildChallengeStore(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeChallenges()

	generator := totp.NewGenerator(totp.Config{
		Issuer:    cfg.Identity.TOTPIssuer,
		Digits:    cfg.Identity.TOTPDigits,
		Period:    cfg.Identity.TOTPPeriod,
		Skew:      cfg.Identity.TOTPSkew,
		Algorithm: cfg.Identity.TOTPAlgorithm,
	})
	rp := fido.RelyingParty{
		ID:     cfg.Identity.RelyingPartyID,
		Name:   cfg.Identity.RelyingPartyName,
		Origin: cfg.Identity.RelyingPartyOrigin,
	}
	policy := service.Policy{
		LockoutThreshold:            cfg.Identity.LockoutThreshold,
		PasswordResetTokenTTL:       cfg.Identity.PasswordResetTokenTTL,
		AccountConfirmationTokenTTL: cfg.Identity.AccountConfirmationTokenTTL,
		ChallengeTTL:                cfg.Identity.ChallengeTTL,
	}

	handlers := service.NewHandlers(factory, queries, challenges, generator, rp, eventLog, nil, policy, logger)

	var metrics *command.Metrics
	if cfg.Metrics.Enabled {
		metrics = command.NewMetrics(prometheus.DefaultRegisterer)
	}
	dispatcher := command.NewDispatcher(logger, metrics)
	service.Register(dispatcher, handlers)

	router := handler.NewRouter(handler.RouterConfig{
		Identity: handler.NewIdentityHandler(dispatcher, queries, logger),
		Health:   health,
		Metrics:  cfg.Metrics,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// buildChallengeStore prefers Redis when configured so challenges survive
// process restarts and are shared across replicas.
func buildChallengeStore(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (challenge.Store, func(), error) {
	if !cfg.Enabled {
		logger.Info().Msg("using in-memory challenge store")
		return challenge.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr()).Msg("using redis challenge store")
	return challenge.NewRedisStore(client), func() { client.Close() }, nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out *os.File
	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
