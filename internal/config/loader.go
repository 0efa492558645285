package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/capa/internal/retime"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Keys missing from the file keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	gains := []struct {
		key string
		db  float64
	}{
		{"mix.microphone_gain_db", cfg.Mix.MicrophoneGainDB},
		{"mix.system_gain_db", cfg.Mix.SystemGainDB},
	}
	for _, g := range gains {
		if math.IsNaN(g.db) || math.IsInf(g.db, 0) {
			errs = append(errs, fmt.Errorf("%s must be a finite number", g.key))
			continue
		}
		if g.db < MinGainDB || g.db > MaxGainDB {
			errs = append(errs, fmt.Errorf("%s %.1f is out of range [%d, %d]", g.key, g.db, MinGainDB, MaxGainDB))
		}
	}

	if cfg.CFR.FPS != 0 {
		if err := retime.ValidateFPS(cfg.CFR.FPS); err != nil {
			errs = append(errs, fmt.Errorf("cfr.fps: %w", err))
		}
	}

	return errors.Join(errs...)
}
