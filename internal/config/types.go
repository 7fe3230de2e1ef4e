// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads scanlink configuration with precedence
// ENV > YAML file > defaults.
package config

import "time"

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version string

	Capture   CaptureConfig
	Source    SourceConfig
	UI        UIConfig
	Server    ServerConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// CaptureConfig configures the capture session.
type CaptureConfig struct {
	Mode         string
	JoinTimeout  time.Duration
	ReadyTimeout time.Duration
	TryHarder    bool
	CharacterSet string
}

// SourceConfig configures the drop-folder frame source.
type SourceConfig struct {
	Dir     string
	Pattern string
	MaxFPS  float64
}

// UIConfig configures the result sink.
type UIConfig struct {
	ResultFile      string
	HistoryPath     string
	ReturnOnSuccess bool
	RestartDelay    time.Duration
}

// ServerConfig configures the status/metrics HTTP listener.
type ServerConfig struct {
	ListenAddr string
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int
}

// LogConfig configures logging.
type LogConfig struct {
	Level string
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled      bool
	ExporterType string
	Endpoint     string
	ServiceName  string
	Environment  string
	SamplingRate float64
}

// FileConfig mirrors the YAML file. Pointer fields distinguish "unset" from
// zero values so only keys present in the file override defaults.
type FileConfig struct {
	Capture   *FileCapture   `yaml:"capture,omitempty"`
	Source    *FileSource    `yaml:"source,omitempty"`
	UI        *FileUI        `yaml:"ui,omitempty"`
	Server    *FileServer    `yaml:"server,omitempty"`
	Log       *FileLog       `yaml:"log,omitempty"`
	Telemetry *FileTelemetry `yaml:"telemetry,omitempty"`
}

type FileCapture struct {
	Mode         *string        `yaml:"mode,omitempty"`
	JoinTimeout  *time.Duration `yaml:"joinTimeout,omitempty"`
	ReadyTimeout *time.Duration `yaml:"readyTimeout,omitempty"`
	TryHarder    *bool          `yaml:"tryHarder,omitempty"`
	CharacterSet *string        `yaml:"characterSet,omitempty"`
}

type FileSource struct {
	Dir     *string  `yaml:"dir,omitempty"`
	Pattern *string  `yaml:"pattern,omitempty"`
	MaxFPS  *float64 `yaml:"maxFPS,omitempty"`
}

type FileUI struct {
	ResultFile      *string        `yaml:"resultFile,omitempty"`
	HistoryPath     *string        `yaml:"historyPath,omitempty"`
	ReturnOnSuccess *bool          `yaml:"returnOnSuccess,omitempty"`
	RestartDelay    *time.Duration `yaml:"restartDelay,omitempty"`
}

type FileServer struct {
	ListenAddr *string `yaml:"listenAddr,omitempty"`
	RateLimit  *int    `yaml:"rateLimit,omitempty"`
}

type FileLog struct {
	Level *string `yaml:"level,omitempty"`
}

type FileTelemetry struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	ExporterType *string  `yaml:"exporterType,omitempty"`
	Endpoint     *string  `yaml:"endpoint,omitempty"`
	ServiceName  *string  `yaml:"serviceName,omitempty"`
	Environment  *string  `yaml:"environment,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}
