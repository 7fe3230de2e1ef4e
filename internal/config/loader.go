// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultMode          = "ALL"
	DefaultJoinTimeout   = 500 * time.Millisecond
	DefaultReadyTimeout  = 5 * time.Second
	DefaultSourcePattern = "*.{png,jpg,jpeg,gif}"
	DefaultMaxFPS        = 10.0
	DefaultListenAddr    = ":8088"
	DefaultRateLimit     = 120
	DefaultLogLevel      = "info"
	DefaultOTelExporter  = "grpc"
	DefaultOTelEndpoint  = "localhost:4317"
	DefaultOTelService   = "scanlink"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults
// It enforces Strict Validated Order: Parse File (Strict) -> Apply Env -> Validate
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	l.mergeEnvConfig(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Capture: CaptureConfig{
			Mode:         DefaultMode,
			JoinTimeout:  DefaultJoinTimeout,
			ReadyTimeout: DefaultReadyTimeout,
		},
		Source: SourceConfig{
			Pattern: DefaultSourcePattern,
			MaxFPS:  DefaultMaxFPS,
		},
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			RateLimit:  DefaultRateLimit,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
		Telemetry: TelemetryConfig{
			ExporterType: DefaultOTelExporter,
			Endpoint:     DefaultOTelEndpoint,
			ServiceName:  DefaultOTelService,
			SamplingRate: 1.0,
		},
	}
}

func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	// Parse YAML with strict mode (unknown fields cause errors)
	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) {
	if c := f.Capture; c != nil {
		setIf(&cfg.Capture.Mode, c.Mode)
		setIf(&cfg.Capture.JoinTimeout, c.JoinTimeout)
		setIf(&cfg.Capture.ReadyTimeout, c.ReadyTimeout)
		setIf(&cfg.Capture.TryHarder, c.TryHarder)
		setIf(&cfg.Capture.CharacterSet, c.CharacterSet)
	}
	if s := f.Source; s != nil {
		setIf(&cfg.Source.Dir, s.Dir)
		setIf(&cfg.Source.Pattern, s.Pattern)
		setIf(&cfg.Source.MaxFPS, s.MaxFPS)
	}
	if u := f.UI; u != nil {
		setIf(&cfg.UI.ResultFile, u.ResultFile)
		setIf(&cfg.UI.HistoryPath, u.HistoryPath)
		setIf(&cfg.UI.ReturnOnSuccess, u.ReturnOnSuccess)
		setIf(&cfg.UI.RestartDelay, u.RestartDelay)
	}
	if s := f.Server; s != nil {
		setIf(&cfg.Server.ListenAddr, s.ListenAddr)
		setIf(&cfg.Server.RateLimit, s.RateLimit)
	}
	if lg := f.Log; lg != nil {
		setIf(&cfg.Log.Level, lg.Level)
	}
	if t := f.Telemetry; t != nil {
		setIf(&cfg.Telemetry.Enabled, t.Enabled)
		setIf(&cfg.Telemetry.ExporterType, t.ExporterType)
		setIf(&cfg.Telemetry.Endpoint, t.Endpoint)
		setIf(&cfg.Telemetry.ServiceName, t.ServiceName)
		setIf(&cfg.Telemetry.Environment, t.Environment)
		setIf(&cfg.Telemetry.SamplingRate, t.SamplingRate)
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.Capture.Mode = l.envString(EnvMode, cfg.Capture.Mode)
	cfg.Capture.JoinTimeout = l.envDuration(EnvJoinTimeout, cfg.Capture.JoinTimeout)
	cfg.Capture.ReadyTimeout = l.envDuration(EnvReadyTimeout, cfg.Capture.ReadyTimeout)
	cfg.Capture.TryHarder = l.envBool(EnvTryHarder, cfg.Capture.TryHarder)
	cfg.Capture.CharacterSet = l.envString(EnvCharacterSet, cfg.Capture.CharacterSet)

	cfg.Source.Dir = l.envString(EnvSourceDir, cfg.Source.Dir)
	cfg.Source.Pattern = l.envString(EnvSourcePattern, cfg.Source.Pattern)
	cfg.Source.MaxFPS = l.envFloat(EnvMaxFPS, cfg.Source.MaxFPS)

	cfg.UI.ResultFile = l.envString(EnvResultFile, cfg.UI.ResultFile)
	cfg.UI.HistoryPath = l.envString(EnvHistoryPath, cfg.UI.HistoryPath)
	cfg.UI.ReturnOnSuccess = l.envBool(EnvReturnOnSuccess, cfg.UI.ReturnOnSuccess)
	cfg.UI.RestartDelay = l.envDuration(EnvRestartDelay, cfg.UI.RestartDelay)

	cfg.Server.ListenAddr = l.envString(EnvListenAddr, cfg.Server.ListenAddr)
	cfg.Server.RateLimit = l.envInt(EnvRateLimit, cfg.Server.RateLimit)

	cfg.Log.Level = l.envString(EnvLogLevel, cfg.Log.Level)

	cfg.Telemetry.Enabled = l.envBool(EnvOTelEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = l.envString(EnvOTelExporter, cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString(EnvOTelEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.ServiceName = l.envString(EnvOTelService, cfg.Telemetry.ServiceName)
	cfg.Telemetry.Environment = l.envString(EnvOTelEnvironment, cfg.Telemetry.Environment)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvOTelSampling, cfg.Telemetry.SamplingRate)
}
