package chatapi

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the chat server settings.
type Config struct {
	Addr            string        `validate:"required"`
	DefaultProvider string        `validate:"required"`
	MaxRetries      int           `validate:"gte=0,lte=10"`
	MaxTokens       int           `validate:"gte=0"`
	ReadTimeout     time.Duration `validate:"gte=0"`
}

// DefaultConfig mirrors the values LoadConfig falls back to.
func DefaultConfig() Config {
	return Config{
		Addr:            ":5000",
		DefaultProvider: "gemini",
		MaxRetries:      2,
		MaxTokens:       1024,
		ReadTimeout:     30 * time.Second,
	}
}

// LoadConfig reads CHATFLOW_* variables, loading a .env file from the working
// directory first when one exists. Variables already set win over .env.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Addr = envString("CHATFLOW_ADDR", cfg.Addr)
	cfg.DefaultProvider = envString("CHATFLOW_DEFAULT_PROVIDER", cfg.DefaultProvider)

	var err error
	if cfg.MaxRetries, err = envInt("CHATFLOW_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.MaxTokens, err = envInt("CHATFLOW_MAX_TOKENS", cfg.MaxTokens); err != nil {
		return Config{}, err
	}
	if cfg.ReadTimeout, err = envDuration("CHATFLOW_READ_TIMEOUT", cfg.ReadTimeout); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
