package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type AppConfig struct {
	HTTPAddr string

	StoreBackend   string
	RedisURL       string
	StoreKeyPrefix string
	StoreDocTTL    time.Duration

	DatabaseURL string

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAITopicModel  string
	OpenAIImageModel  string
	OpenAIImageSize   string
	GenerationTimeout time.Duration

	MessagesDir      string
	WSAllowedOrigins []string
}

// Load reads the environment, after an optional .env file in the working directory.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:          ":8080",
		StoreBackend:      BackendRedis,
		StoreKeyPrefix:    "pb:",
		GenerationTimeout: 60 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))); v != "" {
		cfg.StoreBackend = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("STORE_KEY_PREFIX")); v != "" {
		cfg.StoreKeyPrefix = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_DOC_TTL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StoreDocTTL = time.Duration(n) * time.Second
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.OpenAIBaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	cfg.OpenAITopicModel = strings.TrimSpace(os.Getenv("OPENAI_TOPIC_MODEL"))
	cfg.OpenAIImageModel = strings.TrimSpace(os.Getenv("OPENAI_IMAGE_MODEL"))
	cfg.OpenAIImageSize = strings.TrimSpace(os.Getenv("OPENAI_IMAGE_SIZE"))
	if v := strings.TrimSpace(os.Getenv("GENERATION_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GenerationTimeout = time.Duration(n) * time.Second
		}
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.WSAllowedOrigins = splitList(os.Getenv("WS_ALLOWED_ORIGINS"))

	switch cfg.StoreBackend {
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// UsesOpenAI reports whether content generation goes to the OpenAI API.
func (c *AppConfig) UsesOpenAI() bool { return c != nil && c.OpenAIAPIKey != "" }

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
