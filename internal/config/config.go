package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/sonarbridge/sonarbridge/internal/upstream/perplexity"
)

// Config represents the bridge configuration.
type Config struct {
	Server       ServerConfig
	CORS         CORSConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Conversation ConversationConfig
	Registry     RegistryConfig
	Upstream     perplexity.Config
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"300"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// AuthConfig contains inbound authentication settings. An empty APIKey
// leaves the API open.
type AuthConfig struct {
	APIKey string `env:"API_KEY"`
}

// RateLimitConfig contains per-client admission settings. REDIS_ADDR
// switches the limiter to the shared Redis backend.
type RateLimitConfig struct {
	Enabled           bool   `env:"ENABLE_RATE_LIMITING" envDefault:"true"`
	RequestsPerMinute int    `env:"REQUESTS_PER_MINUTE"  envDefault:"60"`
	RedisAddr         string `env:"REDIS_ADDR"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisDB           int    `env:"REDIS_DB"             envDefault:"0"`
}

// ConversationConfig contains session lifecycle settings.
type ConversationConfig struct {
	TimeoutSeconds int    `env:"CONVERSATION_TIMEOUT"        envDefault:"3600"`
	SweepSchedule  string `env:"CONVERSATION_SWEEP_SCHEDULE" envDefault:"@every 5m"`
}

// RegistryConfig contains model catalog settings.
type RegistryConfig struct {
	DefaultModel     string `env:"DEFAULT_MODEL"           envDefault:"pplx_pro"`
	RefreshOnStartup bool   `env:"REFRESH_MODELS_ON_START" envDefault:"true"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*AuthConfig
	*RateLimitConfig
	*ConversationConfig
	*RegistryConfig
	*perplexity.Config
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Auth,
		&cfg.RateLimit,
		&cfg.Conversation,
		&cfg.Registry,
		&cfg.Upstream,
	}
}
