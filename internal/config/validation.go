// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/scanlink/internal/hints"
	"github.com/ManuGH/scanlink/internal/validate"
)

// logLevels are the zerolog levels accepted in configuration.
var logLevels = []string{"debug", "info", "warn", "error"}

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := hints.ParseMode(cfg.Capture.Mode); err != nil {
		v.AddError("capture.mode", err.Error(), cfg.Capture.Mode)
	}
	v.DurationRange("capture.joinTimeout", cfg.Capture.JoinTimeout, 10*time.Millisecond, time.Minute)
	v.DurationRange("capture.readyTimeout", cfg.Capture.ReadyTimeout, 10*time.Millisecond, 5*time.Minute)

	if cfg.Source.Dir != "" {
		v.Directory("source.dir", cfg.Source.Dir, true)
	}
	v.NotEmpty("source.pattern", cfg.Source.Pattern)
	v.FloatRange("source.maxFPS", cfg.Source.MaxFPS, 0, 1000)

	v.FilePath("ui.resultFile", cfg.UI.ResultFile)
	v.FilePath("ui.historyPath", cfg.UI.HistoryPath)
	v.DurationRange("ui.restartDelay", cfg.UI.RestartDelay, 0, time.Minute)

	// Empty listen address disables the HTTP server.
	if cfg.Server.ListenAddr != "" {
		v.ListenAddr("server.listenAddr", cfg.Server.ListenAddr)
	}
	if cfg.Server.RateLimit < 0 {
		v.AddError("server.rateLimit", fmt.Sprintf("value cannot be negative, got %d", cfg.Server.RateLimit), cfg.Server.RateLimit)
	}

	v.OneOf("log.level", strings.ToLower(cfg.Log.Level), logLevels)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporterType", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.NotEmpty("telemetry.serviceName", cfg.Telemetry.ServiceName)
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
