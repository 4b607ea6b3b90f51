package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var allVars = []string{
	"HTTP_ADDR", "STORE_BACKEND", "REDIS_URL", "STORE_KEY_PREFIX", "STORE_DOC_TTL", "DATABASE_URL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_TOPIC_MODEL", "OPENAI_IMAGE_MODEL", "OPENAI_IMAGE_SIZE",
	"GENERATION_TIMEOUT_SEC", "MESSAGES_DIR", "WS_ALLOWED_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, BackendRedis, cfg.StoreBackend)
	require.Equal(t, "pb:", cfg.StoreKeyPrefix)
	require.Zero(t, cfg.StoreDocTTL)
	require.Equal(t, 60*time.Second, cfg.GenerationTimeout)
	require.False(t, cfg.UsesOpenAI())
	require.Empty(t, cfg.WSAllowedOrigins)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("STORE_BACKEND", " Memory ")
	t.Setenv("STORE_KEY_PREFIX", "test:")
	t.Setenv("STORE_DOC_TTL", "3600")
	t.Setenv("OPENAI_API_KEY", "sk-x")
	t.Setenv("GENERATION_TIMEOUT_SEC", "15")
	t.Setenv("WS_ALLOWED_ORIGINS", "example.com, ,*.example.org")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	require.Equal(t, BackendMemory, cfg.StoreBackend)
	require.Equal(t, "test:", cfg.StoreKeyPrefix)
	require.Equal(t, time.Hour, cfg.StoreDocTTL)
	require.Equal(t, 15*time.Second, cfg.GenerationTimeout)
	require.True(t, cfg.UsesOpenAI())
	require.Equal(t, []string{"example.com", "*.example.org"}, cfg.WSAllowedOrigins)
}

func TestFromEnvInvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("STORE_DOC_TTL", "soon")
	t.Setenv("GENERATION_TIMEOUT_SEC", "-4")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Zero(t, cfg.StoreDocTTL)
	require.Equal(t, 60*time.Second, cfg.GenerationTimeout)
}

func TestFromEnvErrors(t *testing.T) {
	clearEnv(t)
	_, err := FromEnv()
	require.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("STORE_BACKEND", "etcd")
	_, err = FromEnv()
	require.ErrorContains(t, err, "etcd")
}
