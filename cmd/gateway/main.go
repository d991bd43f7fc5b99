package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/config"
	"github.com/marketlens/gateway/internal/database"
	"github.com/marketlens/gateway/internal/jobs"
	"github.com/marketlens/gateway/internal/kv"
	"github.com/marketlens/gateway/internal/redis"
	"github.com/marketlens/gateway/internal/router"
	"github.com/marketlens/gateway/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := strings.EqualFold(os.Getenv("MARKETLENS_ENV"), "production")
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	store, expirer, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.StoreBackend).Msg("failed to open store")
	}
	defer closeStore()
	log.Info().Str("store", cfg.StoreBackend).Msg("store ready")

	var sender service.CodeSender = service.LogSender{}
	if cfg.SMTPEnabled() {
		sender = service.NewSMTPSender(service.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		log.Warn().Msg("SMTP_HOST not set, verification codes will be logged instead of emailed")
	}

	backend := service.NewBackendClient(service.BackendConfig{
		URL:     cfg.BackendURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout(),
	})
	if missing := backend.Missing(); len(missing) > 0 {
		log.Warn().Strs("missing", missing).Msg("analysis backend is not configured; proxied and queued routes will answer 503")
	}

	tokens := service.NewTokenService(cfg.JWTSecret, config.SessionLifetime)
	authenticator := service.NewAuthenticator(store, sender, tokens, service.AuthenticatorConfig{
		CodeTTL:            cfg.OTPTTL(),
		FallbackInResponse: cfg.OTPFallbackInResponse,
	})
	limiter := service.NewRateLimiter(store, cfg.RateLimitPerMin, config.RateLimitWindow)
	queue := service.NewRequestQueue(store, cfg.QueueMaxSize, cfg.QueueTTL())
	consumer := service.NewQueueConsumer(queue, backend)

	handler := router.New(router.Deps{
		StoreBackend: cfg.StoreBackend,
		Tokens:       tokens,
		Auth:         authenticator,
		Limiter:      limiter,
		Queue:        queue,
		Consumer:     consumer,
		Backend:      backend,
		BatchSize:    cfg.ConsumerBatchSize,
		IsProduction: isProduction,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	consumerJob, err := jobs.NewQueueConsumerJob(queue, consumer, cfg.ConsumerSchedule, cfg.ConsumerBatchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule queue consumer")
	}
	consumerJob.Start()

	if expirer != nil {
		cleanupJob := jobs.NewCleanupJob(cfg.StoreBackend, expirer, config.CleanupJobInterval)
		cleanupJob.Start()
		defer cleanupJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Bool("production", isProduction).Msg("starting gateway")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	consumerJob.Stop(shutdownCtx)

	log.Info().Msg("gateway stopped")
}

// openStore returns the configured KV store, the purger for backends that
// keep expired rows, and a close function.
func openStore(cfg *config.Config) (kv.Store, kv.Expirer, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		client, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return kv.NewRedisStore(client.Client), nil, func() { client.Close() }, nil

	case config.StorePostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.StorePingTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		store := kv.NewPostgresStore(db.DB)
		return store, store, func() { db.Close() }, nil

	default:
		store := kv.NewMemoryStore()
		return store, store, func() {}, nil
	}
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
