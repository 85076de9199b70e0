package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables (RedisAddr falls back to localhost:6379)
	Port           string
	InternalSecret string
	RedisAddr      string

	// Optional variables with defaults
	GoEnv          string
	LogLevel       string
	RedisPassword  string
	RedisDB        int
	AllowedOrigins string
	TickIntervalMs int
	MaxSaveBytes   int64
}

const (
	defaultTickIntervalMs = 50
	defaultMaxSaveBytes   = 25 << 20
)

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: INTERNAL_SECRET (minimum 32 characters, gates the key-registry admin plane)
	cfg.InternalSecret = os.Getenv("INTERNAL_SECRET")
	if cfg.InternalSecret == "" {
		errors = append(errors, "INTERNAL_SECRET is required")
	} else if len(cfg.InternalSecret) < 32 {
		errors = append(errors, fmt.Sprintf("INTERNAL_SECRET must be at least 32 characters (got %d)", len(cfg.InternalSecret)))
	}

	// Optional: REDIS_ADDR (format: host:port, defaults to "localhost:6379")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
		slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
	} else if !isValidHostPort(cfg.RedisAddr) {
		errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err != nil || db < 0 {
			errors = append(errors, fmt.Sprintf("REDIS_DB must be a non-negative integer (got '%s')", dbStr))
		} else {
			cfg.RedisDB = db
		}
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Optional: TICK_INTERVAL_MS (room broadcast period, defaults to 50ms / 20Hz)
	cfg.TickIntervalMs = defaultTickIntervalMs
	if tickStr := os.Getenv("TICK_INTERVAL_MS"); tickStr != "" {
		tick, err := strconv.Atoi(tickStr)
		if err != nil || tick < 10 || tick > 1000 {
			errors = append(errors, fmt.Sprintf("TICK_INTERVAL_MS must be between 10 and 1000 (got '%s')", tickStr))
		} else {
			cfg.TickIntervalMs = tick
		}
	}

	// Optional: MAX_SAVE_BYTES (defaults to 25 MiB)
	cfg.MaxSaveBytes = defaultMaxSaveBytes
	if sizeStr := os.Getenv("MAX_SAVE_BYTES"); sizeStr != "" {
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || size < 1 {
			errors = append(errors, fmt.Sprintf("MAX_SAVE_BYTES must be a positive integer (got '%s')", sizeStr))
		} else {
			cfg.MaxSaveBytes = size
		}
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"port", cfg.Port,
		"internal_secret", redactSecret(cfg.InternalSecret),
		"redis_addr", cfg.RedisAddr,
		"redis_db", cfg.RedisDB,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"tick_interval_ms", cfg.TickIntervalMs,
		"max_save_bytes", cfg.MaxSaveBytes,
	)
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
