package container

import (
	"context"
	"fmt"
	"net/http"

	"go-doc-recognizer/internal/config"
	"go-doc-recognizer/internal/docparse"
	"go-doc-recognizer/internal/extract"
	"go-doc-recognizer/internal/logger"
	"go-doc-recognizer/internal/observer"
	"go-doc-recognizer/internal/ratelimit"
	"go-doc-recognizer/internal/repository"
	"go-doc-recognizer/internal/service"
	"go-doc-recognizer/internal/transport"
	"go-doc-recognizer/pkg/validation"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies
type Container struct {
	config  *config.Config
	pool    *pgxpool.Pool
	redis   *redis.Client
	handler http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Build dependency graph
	client := docparse.NewHTTPClient(cfg.DocParseBaseURL, cfg.DocParseAPIToken, cfg.DocParseModel, cfg.SubmitTimeout)
	poller := docparse.NewPoller(client, cfg.PollMaxAttempts, cfg.PollInterval)
	extractor := extract.NewExtractor(extract.NewHTTPFileFetcher())
	validator := validation.NewUploadValidator(cfg.MaxImageSize, cfg.MaxPDFSize)
	recognizer := service.NewRecognitionService(validator, poller, extractor)

	creditStore := repository.NewPostgresCreditStore(pool)
	sessionStore := repository.NewPostgresSessionStore(pool)
	limiter := ratelimit.NewRedisLimiter(redisClient)

	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(observer.NewMetricsObserver())

	handler := transport.NewHandler(recognizer, sessionStore, creditStore, limiter, events, cfg)

	return &Container{
		config:  cfg,
		pool:    pool,
		redis:   redisClient,
		handler: handler,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Close releases pooled store connections
func (c *Container) Close() {
	c.pool.Close()
	if err := c.redis.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close redis client")
	}
}
