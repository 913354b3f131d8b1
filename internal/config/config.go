package config

import (
	"time"
)

// Config represents the complete application configuration. Values come from
// built-in defaults, then the user config file, then PLATESCAN_* environment
// variables, then runtime overrides.
type Config struct {
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Preview  PreviewConfig  `mapstructure:"preview"`
	History  HistoryConfig  `mapstructure:"history"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// AnalysisConfig points at the nutrition webhook.
type AnalysisConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	FieldName string `mapstructure:"field_name"`
	// Timeout bounds one request. Zero disables the client-side limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Camera modes.
const (
	CameraModeAuto   = "auto"
	CameraModeNative = "native"
	CameraModeStream = "stream"
)

// CameraConfig selects and tunes the camera backend.
type CameraConfig struct {
	// Mode is auto, native or stream. Auto prefers the native still command
	// and falls back to the stream.
	Mode          string        `mapstructure:"mode"`
	NativeCommand []string      `mapstructure:"native_command"`
	FFmpeg        string        `mapstructure:"ffmpeg"`
	Device        string        `mapstructure:"device"`
	Width         int           `mapstructure:"width"`
	Height        int           `mapstructure:"height"`
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	Fallback      bool          `mapstructure:"fallback"`
}

// PreviewConfig controls the review thumbnail written after a capture.
type PreviewConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	MaxSize int    `mapstructure:"max_size"`
}

// HistoryConfig contains the opt-in analysis history database settings.
type HistoryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Driver     string `mapstructure:"driver"`
	Path       string `mapstructure:"path"`
	URL        string `mapstructure:"url"`
	AuthToken  string `mapstructure:"auth_token"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxSessions     int           `mapstructure:"max_sessions"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
}

// LoggingConfig contains logging configuration.
//
// Profile is SIMPLE for console output or STRUCTURED for JSON with
// correlation IDs.
type LoggingConfig struct {
	// Valid values: trace, debug, info, warn, error
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
