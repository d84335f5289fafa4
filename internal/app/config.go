package app

import (
	"errors"
	"path/filepath"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	RunConfigPath string // HCL run-configuration file

	WorkDir  string // intermediate task outputs
	CacheDir string // resume cache store

	LogFormat string
	LogLevel  string
	CPUs      int
	MemMB     int
}

// NewConfig validates process-level configuration and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.RunConfigPath == "" {
		return nil, errors.New("RunConfigPath is a required configuration field and cannot be empty")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "work"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.WorkDir, "cache")
	}
	if cfg.CPUs <= 0 {
		return nil, errors.New("CPUs budget must be positive")
	}
	if cfg.MemMB <= 0 {
		return nil, errors.New("MemMB budget must be positive")
	}
	return &cfg, nil
}
