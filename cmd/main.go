package main

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/sonarbridge/sonarbridge/internal/config"
	"github.com/sonarbridge/sonarbridge/internal/conversation"
	"github.com/sonarbridge/sonarbridge/internal/domain"
	"github.com/sonarbridge/sonarbridge/internal/http"
	"github.com/sonarbridge/sonarbridge/internal/http/middleware"
	"github.com/sonarbridge/sonarbridge/internal/observability"
	"github.com/sonarbridge/sonarbridge/internal/ratelimit"
	"github.com/sonarbridge/sonarbridge/internal/registry"
	"github.com/sonarbridge/sonarbridge/internal/telemetry"
	"github.com/sonarbridge/sonarbridge/internal/upstream/perplexity"
)

func main() {
	container := buildContainer()

	// Warm the model catalog so the first request doesn't pay for the
	// blocking fetch. Failure is not fatal: the registry fetches lazily.
	err := container.Invoke(func(cfg *config.RegistryConfig, reg domain.ModelRegistry, logger *zap.Logger) {
		if !cfg.RefreshOnStartup {
			return
		}
		count, err := reg.Refresh(context.Background())
		if err != nil {
			logger.Warn("startup catalog refresh failed, will fetch on demand", zap.Error(err))
			return
		}
		logger.Info("model catalog loaded", zap.Int("models", count))
	})
	if err != nil {
		log.Fatalf("Failed to warm model catalog: %v", err)
	}

	err = container.Invoke(func(sweeper *conversation.Sweeper) error {
		return sweeper.Start()
	})
	if err != nil {
		log.Fatalf("Failed to start conversation sweeper: %v", err)
	}

	err = container.Invoke(func(server *http.Server) {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}

	// Upstream client
	if err := container.Provide(perplexity.NewClient); err != nil {
		log.Fatalf("Failed to provide upstream client: %v", err)
	}
	if err := container.Provide(func(c *perplexity.Client) domain.UpstreamClient { return c }); err != nil {
		log.Fatalf("Failed to provide upstream interface: %v", err)
	}
	if err := container.Provide(func(c *perplexity.Client) domain.CatalogFetcher { return c }); err != nil {
		log.Fatalf("Failed to provide catalog fetcher: %v", err)
	}

	// Model registry
	if err := container.Provide(func(fetcher domain.CatalogFetcher, cfg *config.RegistryConfig) domain.ModelRegistry {
		return registry.NewRegistry(fetcher, cfg.DefaultModel)
	}); err != nil {
		log.Fatalf("Failed to provide model registry: %v", err)
	}

	// Conversation store and sweeper
	if err := container.Provide(func(cfg *config.ConversationConfig) *conversation.Store {
		return conversation.NewStore(time.Duration(cfg.TimeoutSeconds) * time.Second)
	}); err != nil {
		log.Fatalf("Failed to provide conversation store: %v", err)
	}
	if err := container.Provide(func(s *conversation.Store) domain.ConversationStore { return s }); err != nil {
		log.Fatalf("Failed to provide conversation store interface: %v", err)
	}
	if err := container.Provide(func(s *conversation.Store, cfg *config.ConversationConfig, logger *zap.Logger) *conversation.Sweeper {
		return conversation.NewSweeper(s, cfg.SweepSchedule, logger)
	}); err != nil {
		log.Fatalf("Failed to provide conversation sweeper: %v", err)
	}

	// Rate limiter
	if err := container.Provide(newRateLimiter); err != nil {
		log.Fatalf("Failed to provide rate limiter: %v", err)
	}

	// Metrics
	if err := container.Provide(func(s *conversation.Store) *telemetry.Metrics {
		return telemetry.NewMetrics(s.Len)
	}); err != nil {
		log.Fatalf("Failed to provide metrics: %v", err)
	}

	// Domain services
	if err := container.Provide(func(
		upstream domain.UpstreamClient,
		reg domain.ModelRegistry,
		store domain.ConversationStore,
		limiter domain.RateLimiter,
		metrics *telemetry.Metrics,
		upstreamCfg *perplexity.Config,
	) *domain.GatewayService {
		turnTimeout := time.Duration(upstreamCfg.TurnTimeout) * time.Second
		return domain.NewGatewayService(upstream, reg, store, limiter, metrics, turnTimeout)
	}); err != nil {
		log.Fatalf("Failed to provide gateway service: %v", err)
	}

	// HTTP layer
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

// newRateLimiter selects the limiter backend: disabled, shared Redis, or
// in-process memory.
func newRateLimiter(cfg *config.RateLimitConfig, logger *zap.Logger) domain.RateLimiter {
	if !cfg.Enabled {
		logger.Info("rate limiting disabled")
		return ratelimit.NewNoop()
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		logger.Info("rate limiting via redis",
			zap.String("addr", cfg.RedisAddr),
			zap.Int("requests_per_minute", cfg.RequestsPerMinute))
		return ratelimit.NewRedis(client, cfg.RequestsPerMinute, time.Minute, logger)
	}

	logger.Info("rate limiting in memory",
		zap.Int("requests_per_minute", cfg.RequestsPerMinute))
	return ratelimit.NewMemory(cfg.RequestsPerMinute, time.Minute)
}
