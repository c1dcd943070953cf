package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	if c.Quota.ResetHour < 0 || c.Quota.ResetHour > 23 {
		errs = append(errs, fmt.Sprintf("QUOTA_RESET_HOUR must be 0–23, got %d", c.Quota.ResetHour))
	}
	if c.Quota.ResetMinute < 0 || c.Quota.ResetMinute > 59 {
		errs = append(errs, fmt.Sprintf("QUOTA_RESET_MINUTE must be 0–59, got %d", c.Quota.ResetMinute))
	}

	if c.Prompt.TokenBudget < 1 {
		errs = append(errs, fmt.Sprintf("PROMPT_TOKEN_BUDGET must be positive, got %d", c.Prompt.TokenBudget))
	}
	if c.Stream.GraceWindow <= 0 {
		errs = append(errs, "STREAM_GRACE must be a positive duration")
	}

	// Providers: warn only, the server can still boot for resume-only traffic.
	if c.Providers.AnthropicAPIKey == "" && c.Providers.OpenAIAPIKey == "" && c.Providers.OpenRouterAPIKey == "" {
		slog.Warn("no provider API keys configured; generation requests will fail")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
