// Package config provides the configuration schema and loader for capa.
package config

import (
	"log/slog"

	"github.com/MrWong99/capa/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level returns the slog level for l. Unknown or empty values map to
// [slog.LevelInfo].
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Gain bounds accepted for per-role gains, in dB.
const (
	MinGainDB = -60
	MaxGainDB = 24
)

// Config is the root configuration.
type Config struct {
	// LogLevel sets the minimum log level. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// Mix configures the master mix and per-track gains.
	Mix audio.MixConfig `yaml:"mix"`

	// CFR configures the constant frame rate rewrite.
	CFR CFRConfig `yaml:"cfr"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// CFRConfig configures the constant frame rate rewrite.
type CFRConfig struct {
	// FPS is the target frame rate, 1 to 240. Zero disables the rewrite.
	FPS int `yaml:"fps"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	// ListenAddr is the address serving /metrics while a command runs,
	// e.g. ":9090". Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is given: info logs,
// unity gains with the safe limiter on, and a 60 fps CFR target.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Mix:      audio.MixConfig{SafeMixLimiter: true},
		CFR:      CFRConfig{FPS: 60},
	}
}
