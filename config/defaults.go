package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        5000,
			MetricsPort:     9091,
			ReadTimeout:     5 * time.Minute,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  256 << 20,
			CORSAllowOrigin: "*",
		},
		Simplifier: SimplifierConfig{
			Executable:     "./build/vcg-simplifier",
			Timeout:        10 * time.Minute,
			MaxOutputBytes: 1 << 20,
		},
		Workspace: WorkspaceConfig{
			Dir: "temp_uploads",
		},
		Reaper: ReaperConfig{
			Enabled:  true,
			TTL:      time.Hour,
			Interval: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "mesh-simplifier",
			SampleRate:   0.1,
		},
	}
}
