package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	Quota     QuotaConfig
	Prompt    PromptConfig
	Stream    StreamConfig
	Providers ProvidersConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string // empty disables event publishing
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
}

// QuotaConfig parameterizes the daily reset boundary: a fixed local
// time-of-day in a fixed UTC offset, independent of server and client
// locale. The defaults reproduce a 05:30 +05:30 boundary, which lands
// exactly on UTC midnight.
type QuotaConfig struct {
	ResetOffset time.Duration
	ResetHour   int
	ResetMinute int
}

type PromptConfig struct {
	TokenBudget  int
	SystemPrompt string
}

type StreamConfig struct {
	GraceWindow time.Duration
	BufferTTL   time.Duration
}

type ProvidersConfig struct {
	AnthropicAPIKey   string
	OpenAIAPIKey      string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	MaxRequests int
	WindowSec   int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
		},
		Quota: QuotaConfig{
			ResetHour:   k.Int("quota.reset.hour"),
			ResetMinute: k.Int("quota.reset.minute"),
		},
		Prompt: PromptConfig{
			TokenBudget:  k.Int("prompt.token.budget"),
			SystemPrompt: k.String("prompt.system"),
		},
		Providers: ProvidersConfig{
			AnthropicAPIKey:   k.String("providers.anthropic.api.key"),
			OpenAIAPIKey:      k.String("providers.openai.api.key"),
			OpenRouterAPIKey:  k.String("providers.openrouter.api.key"),
			OpenRouterBaseURL: k.String("providers.openrouter.base.url"),
		},
		CORS: CORSConfig{
			AllowedOrigins: k.Strings("cors.allowed.origins"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: k.Int("ratelimit.max.requests"),
			WindowSec:   k.Int("ratelimit.window.sec"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "parley"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "parley"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Quota.ResetHour == 0 && cfg.Quota.ResetMinute == 0 {
		cfg.Quota.ResetHour = 5
		cfg.Quota.ResetMinute = 30
	}
	if cfg.Prompt.TokenBudget == 0 {
		cfg.Prompt.TokenBudget = 4000
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 30
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	offsetStr := k.String("quota.reset.offset")
	if offsetStr == "" {
		offsetStr = "5h30m"
	}
	cfg.Quota.ResetOffset, err = time.ParseDuration(offsetStr)
	if err != nil {
		return nil, fmt.Errorf("parsing quota reset offset: %w", err)
	}

	accessExpStr := k.String("jwt.access.expiry")
	if accessExpStr == "" {
		accessExpStr = "15m"
	}
	cfg.JWT.AccessExpiry, err = time.ParseDuration(accessExpStr)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt access expiry: %w", err)
	}

	graceStr := k.String("stream.grace")
	if graceStr == "" {
		graceStr = "15s"
	}
	cfg.Stream.GraceWindow, err = time.ParseDuration(graceStr)
	if err != nil {
		return nil, fmt.Errorf("parsing stream grace window: %w", err)
	}

	ttlStr := k.String("stream.buffer.ttl")
	if ttlStr == "" {
		ttlStr = "10m"
	}
	cfg.Stream.BufferTTL, err = time.ParseDuration(ttlStr)
	if err != nil {
		return nil, fmt.Errorf("parsing stream buffer ttl: %w", err)
	}

	return cfg, nil
}
