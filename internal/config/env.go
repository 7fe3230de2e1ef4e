// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/scanlink/internal/log"
)

// Environment variable names.
const (
	EnvMode            = "SCANLINK_MODE"
	EnvJoinTimeout     = "SCANLINK_JOIN_TIMEOUT"
	EnvReadyTimeout    = "SCANLINK_READY_TIMEOUT"
	EnvTryHarder       = "SCANLINK_TRY_HARDER"
	EnvCharacterSet    = "SCANLINK_CHARACTER_SET"
	EnvSourceDir       = "SCANLINK_SOURCE_DIR"
	EnvSourcePattern   = "SCANLINK_SOURCE_PATTERN"
	EnvMaxFPS          = "SCANLINK_MAX_FPS"
	EnvResultFile      = "SCANLINK_RESULT_FILE"
	EnvHistoryPath     = "SCANLINK_HISTORY_PATH"
	EnvReturnOnSuccess = "SCANLINK_RETURN_ON_SUCCESS"
	EnvRestartDelay    = "SCANLINK_RESTART_DELAY"
	EnvListenAddr      = "SCANLINK_LISTEN_ADDR"
	EnvRateLimit       = "SCANLINK_RATE_LIMIT"
	EnvLogLevel        = "LOG_LEVEL"
	EnvOTelEnabled     = "SCANLINK_OTEL_ENABLED"
	EnvOTelExporter    = "SCANLINK_OTEL_EXPORTER"
	EnvOTelEndpoint    = "SCANLINK_OTEL_ENDPOINT"
	EnvOTelService     = "SCANLINK_OTEL_SERVICE_NAME"
	EnvOTelEnvironment = "SCANLINK_OTEL_ENVIRONMENT"
	EnvOTelSampling    = "SCANLINK_OTEL_SAMPLING_RATE"
)

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			logger.Debug().
				Str("key", key).
				Str("default", defaultValue).
				Str("source", "default").
				Msg("using default value (environment variable is empty)")
			return defaultValue
		}
		logger.Debug().
			Str("key", key).
			Str("value", value).
			Str("source", "environment").
			Msg("using environment variable")
		return value
	}
	return defaultValue
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	if i, err := strconv.Atoi(v); err == nil {
		logger.Debug().
			Str("key", key).
			Int("value", i).
			Str("source", "environment").
			Msg("using environment variable")
		return i
	}
	logger.Warn().
		Str("key", key).
		Str("value", v).
		Int("default", defaultValue).
		Msg("invalid integer in environment variable, using default")
	return defaultValue
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		logger.Debug().
			Str("key", key).
			Float64("value", f).
			Str("source", "environment").
			Msg("using environment variable")
		return f
	}
	logger.Warn().
		Str("key", key).
		Str("value", v).
		Float64("default", defaultValue).
		Msg("invalid float in environment variable, using default")
	return defaultValue
}

// ParseDuration reads a duration from environment variable in Go duration format (e.g. "5s").
// It falls back to default on parse errors or empty variables and logs the choice.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		logger.Debug().
			Str("key", key).
			Dur("value", d).
			Str("source", "environment").
			Msg("using environment variable")
		return d
	}
	logger.Warn().
		Str("key", key).
		Str("value", v).
		Dur("default", defaultValue).
		Msg("invalid duration in environment variable, using default")
	return defaultValue
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		logger.Debug().Str("key", key).Bool("value", true).Str("source", "environment").Msg("using environment variable")
		return true
	case "false", "0", "no":
		logger.Debug().Str("key", key).Bool("value", false).Str("source", "environment").Msg("using environment variable")
		return false
	default:
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}
