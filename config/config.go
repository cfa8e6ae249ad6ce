// Package config loads service settings.
//
// Precedence, lowest first: built-in defaults, YAML file, .env file, process
// environment. Environment keys are the upper-case env tags joined with "_"
// under a prefix, e.g. MESHSIMPLIFY_SIMPLIFIER_TIMEOUT=2m.
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Simplifier SimplifierConfig `yaml:"simplifier" env:"SIMPLIFIER"`
	Workspace  WorkspaceConfig  `yaml:"workspace" env:"WORKSPACE"`
	Reaper     ReaperConfig     `yaml:"reaper" env:"REAPER"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
}

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// MaxUploadBytes caps the multipart body of one simplify request.
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin" env:"CORS_ALLOW_ORIGIN"`
}

type SimplifierConfig struct {
	// Executable is the path of the vcg-simplifier binary.
	Executable string `yaml:"executable" env:"EXECUTABLE"`
	// Timeout bounds one run; 0 disables the bound.
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxOutputBytes int           `yaml:"max_output_bytes" env:"MAX_OUTPUT_BYTES"`
}

type WorkspaceConfig struct {
	Dir string `yaml:"dir" env:"DIR"`
}

type ReaperConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json or console
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, "max_upload_bytes must be positive")
	}
	if c.Simplifier.Executable == "" {
		errs = append(errs, "simplifier executable is required")
	}
	if c.Simplifier.Timeout < 0 {
		errs = append(errs, "simplifier timeout must not be negative")
	}
	// A job must finish before the server gives up writing its response.
	if c.Server.WriteTimeout > 0 && (c.Simplifier.Timeout == 0 || c.Simplifier.Timeout >= c.Server.WriteTimeout) {
		errs = append(errs, "simplifier timeout must be set and shorter than server write_timeout")
	}
	if c.Workspace.Dir == "" {
		errs = append(errs, "workspace dir is required")
	}
	if c.Reaper.Enabled {
		if c.Reaper.TTL <= 0 {
			errs = append(errs, "reaper ttl must be positive")
		}
		if c.Reaper.Interval <= 0 {
			errs = append(errs, "reaper interval must be positive")
		}
		// Otherwise the reaper can remove files of a job that is still running.
		if c.Simplifier.Timeout == 0 {
			errs = append(errs, "reaper requires a simplifier timeout")
		} else if c.Reaper.TTL > 0 && c.Reaper.TTL <= c.Simplifier.Timeout {
			errs = append(errs, "reaper ttl must exceed simplifier timeout")
		}
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
