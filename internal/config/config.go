package config

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET environment variable is required")

type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string
	JWTSecret    string
}

// Load reads configuration from the environment, with an optional .env
// file. A missing GEMINI_API_KEY is allowed: the service starts in
// not-configured mode and every generation request answers with a
// labeled "not configured" reply instead of calling the backend.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on environment variables")
	}

	cfg := Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:  getEnv("DATABASE_URL", "chatdouble.db"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
	}

	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingJWTSecret
	}
	if cfg.GeminiAPIKey == "" {
		slog.Warn("GEMINI_API_KEY not set, replies will report the backend as not configured")
	}
	return cfg, nil
}

// SlogLevel maps the LOG_LEVEL string onto a slog level, defaulting to
// info for anything unrecognized.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
