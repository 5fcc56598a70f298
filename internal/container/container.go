package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"triplab/internal/config"
	"triplab/internal/observability"
	"triplab/internal/service"
	"triplab/internal/service/auth"
	"triplab/internal/service/chat"
	"triplab/internal/store"
	"triplab/pkg/database"
	"triplab/pkg/logger"
	"triplab/pkg/redis"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *logger.Logger
	Metrics     *observability.Metrics
	Store       *store.DocumentStore
	RedisClient *redis.Client
	DB          *database.PostgresDB
	Services    *service.Services
}

// New creates a new dependency injection container. The store backend is
// chosen by cfg.StoreBackend; reg receives the Prometheus collectors.
func New(ctx context.Context, cfg *config.Config, logger *logger.Logger, reg prometheus.Registerer) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(reg),
	}

	backend, err := c.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	c.Store = store.New(backend, logger.Component("store"), c.Metrics)

	c.Services = c.buildServices()
	logger.WithField("store_backend", backend.Name()).Info("Container initialized")
	return c, nil
}

func (c *Container) openBackend(ctx context.Context) (store.Backend, error) {
	cfg := c.Config
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client, err := redis.NewClient(cfg.RedisURL, cfg.Environment, c.Logger.Component("redis"))
		if err != nil {
			return nil, fmt.Errorf("redis store backend: %w", err)
		}
		c.RedisClient = client
		return store.NewRedisBackend(client, c.Logger.Component("store.redis")), nil

	case config.BackendPostgres:
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres store backend: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		c.DB = db
		return store.NewPostgresBackend(db.Pool, c.Logger.Component("store.postgres")), nil

	case config.BackendMemory, "":
		c.Logger.Warn("Using in-memory store backend, data is lost on restart")
		return store.NewMemoryBackend(), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (c *Container) buildServices() *service.Services {
	cfg := c.Config
	zl := c.Logger.Logger

	trips := service.NewTripService(c.Store, c.Logger.Component("trips"))
	locks := service.NewLockCoordinator(c.Store, c.Logger.Component("locks"), c.Metrics)

	return &service.Services{
		Auth: auth.NewService(cfg.JWTSecret, cfg.TokenTTL, c.Logger.WithField("component", "auth")),
		Chat: chat.NewService(chat.Config{
			APIKey:        cfg.ChatAPIKey,
			BaseURL:       cfg.ChatBaseURL,
			DefaultModel:  cfg.ChatDefaultModel,
			SiteURL:       cfg.SiteURL,
			RatePerMinute: cfg.ChatRatePerMinute,
		}, zl.Named("chat"), c.Metrics),
		Trips:      trips,
		Locks:      locks,
		Activities: service.NewActivityBoard(c.Store, c.Logger.Component("activities")),
		Sessions: service.NewSessionFactory(c.Store, trips, locks, c.Logger.Component("sessions"), c.Metrics, service.SyncOptions{
			Debounce:     cfg.SyncDebounce,
			WriteTimeout: cfg.StoreWriteTimeout,
		}),
	}
}

// Health pings whatever backs the store.
func (c *Container) Health(ctx context.Context) error {
	if c.RedisClient != nil {
		if err := c.RedisClient.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.Logger
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.Config
}

// StoreBackend names the backend in use.
func (c *Container) StoreBackend() string {
	return c.Store.Backend()
}
