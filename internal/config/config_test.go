package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.WebHooks.Store)
	assert.Equal(t, SenderModePool, cfg.Sender.Mode)
	assert.Equal(t, 10, cfg.Sender.Concurrency)
	assert.False(t, cfg.WebHooks.AllowPrivateNetworks)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("WEBHOOK_STORE", "redis")
	t.Setenv("SENDER_MODE", "queue")
	t.Setenv("SENDER_MAX_ATTEMPTS", "7")
	t.Setenv("SENDER_INITIAL_INTERVAL", "250ms")
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.WebHooks.Store)
	assert.Equal(t, 7, cfg.Sender.MaxAttempts)
	assert.Equal(t, "hex", cfg.Encryption.KeyFormat)
	assert.True(t, cfg.NeedsRedis())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "LOG_LEVEL"},
		{"bad store", func(c *Config) { c.WebHooks.Store = "mongo" }, "WEBHOOK_STORE"},
		{"s3 needs bucket", func(c *Config) { c.WebHooks.Store = StoreS3 }, "S3_BUCKET"},
		{"s3 half credentials", func(c *Config) {
			c.WebHooks.Store = StoreS3
			c.S3.Bucket = "hooks"
			c.S3.AccessKey = "AKIA"
		}, "S3_SECRET_KEY"},
		{"bad sender mode", func(c *Config) { c.Sender.Mode = "carrier-pigeon" }, "SENDER_MODE"},
		{"zero attempts", func(c *Config) { c.Sender.MaxAttempts = 0 }, "SENDER_MAX_ATTEMPTS"},
		{"multiplier too small", func(c *Config) { c.Sender.Multiplier = 1 }, "SENDER_MULTIPLIER"},
		{"jitter out of range", func(c *Config) { c.Sender.Jitter = 1 }, "SENDER_JITTER"},
		{"bad key length", func(c *Config) { c.Encryption.Key = "short" }, "ENCRYPTION_KEY"},
		{"production needs key", func(c *Config) {
			c.App.Env = EnvProduction
			c.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.WebHooks.Store = StorePostgres
		}, "ENCRYPTION_KEY is required"},
		{"production rejects memory store", func(c *Config) {
			c.App.Env = EnvProduction
			c.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.Encryption.Key = "0123456789abcdef0123456789abcdef"
		}, "not durable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
