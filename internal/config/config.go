// Package config reads server and CLI settings from the environment, after
// loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"mindjournal/internal/crypto"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	AppEnv      string

	// Both keys set enables payload and email sealing.
	EncryptionKey []byte
	BlindIndexKey []byte

	DevicePath   string
	SyncInterval time.Duration

	LLMProvider  string
	OpenAIAPIKey string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string

	LexiconPath string
}

// Development reports whether APP_ENV asks for development logging.
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and validates it. JWT_SECRET is only
// required by the server, see RequireJWT.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Port:         get("PORT", "8080"),
		DatabaseURL:  getenv("DATABASE_URL"),
		JWTSecret:    getenv("JWT_SECRET"),
		AppEnv:       get("APP_ENV", "production"),
		DevicePath:   get("DEVICE_DB_PATH", "data/device.db"),
		LLMProvider:  get("LLM_PROVIDER", ProviderNone),
		OpenAIAPIKey: getenv("OPENAI_API_KEY"),
		OpenAIModel:  getenv("OPENAI_MODEL"),
		GeminiAPIKey: getenv("GEMINI_API_KEY"),
		GeminiModel:  getenv("GEMINI_MODEL"),
		LexiconPath:  getenv("LEXICON_PATH"),
	}

	interval, err := time.ParseDuration(get("SYNC_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	cfg.SyncInterval = interval

	encKey, indexKey := getenv("ENCRYPTION_KEY"), getenv("BLIND_INDEX_KEY")
	if (encKey == "") != (indexKey == "") {
		return nil, errors.New("ENCRYPTION_KEY and BLIND_INDEX_KEY must be set together")
	}
	if encKey != "" {
		if cfg.EncryptionKey, err = crypto.ParseKey(encKey); err != nil {
			return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
		if cfg.BlindIndexKey, err = crypto.ParseKey(indexKey); err != nil {
			return nil, fmt.Errorf("invalid BLIND_INDEX_KEY: %w", err)
		}
	}

	switch cfg.LLMProvider {
	case ProviderNone:
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}

	return cfg, nil
}

func (c *Config) RequireJWT() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

// Encrypted reports whether sealing keys are configured.
func (c *Config) Encrypted() bool {
	return c.EncryptionKey != nil
}
