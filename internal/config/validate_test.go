package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "parley", Password: "secret", Name: "parley"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		JWT:    JWTConfig{AccessSecret: strings.Repeat("a", 32), AccessExpiry: 15 * time.Minute},
		Quota:  QuotaConfig{ResetOffset: 5*time.Hour + 30*time.Minute, ResetHour: 5, ResetMinute: 30},
		Prompt: PromptConfig{TokenBudget: 4000},
		Stream: StreamConfig{GraceWindow: 15 * time.Second, BufferTTL: 10 * time.Minute},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_ShortJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessSecret = "short"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_ACCESS_SECRET")
}

func TestValidate_MissingDBPassword(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestValidate_BadResetBoundary(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.ResetHour = 24
	cfg.Quota.ResetMinute = 61
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUOTA_RESET_HOUR")
	assert.Contains(t, err.Error(), "QUOTA_RESET_MINUTE")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessSecret = ""
	cfg.DB.Password = ""
	cfg.Prompt.TokenBudget = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_ACCESS_SECRET")
	assert.Contains(t, err.Error(), "DB_PASSWORD")
	assert.Contains(t, err.Error(), "PROMPT_TOKEN_BUDGET")
}

func TestValidate_NonPositiveGrace(t *testing.T) {
	cfg := validConfig()
	cfg.Stream.GraceWindow = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STREAM_GRACE")
}
