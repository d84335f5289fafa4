// Package app wires the application together: it owns the logger, loads
// and validates the run configuration, assembles the cached runner and
// executor, and drives one pipeline run from build to manifest.
package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/quantflow/internal/config"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	run    *config.Run
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and a loaded,
// validated run configuration.
func NewApp(outW io.Writer, appConfig *Config) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	run, err := config.Load(appConfig.RunConfigPath)
	if err != nil {
		// A failure to load config is a fatal startup error.
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Run configuration loaded and validated.",
		"sets", len(run.Sets), "isobaric", string(run.Isobaric))

	if err := run.ValidateFiles(); err != nil {
		panic(fmt.Errorf("failed to resolve input files: %w", err))
	}
	logger.Debug("All declared input files resolved.")

	return &App{
		outW:   outW,
		logger: logger,
		run:    run,
	}
}

// RunConfig returns the loaded run configuration. This is primarily for
// testing.
func (a *App) RunConfig() *config.Run {
	return a.run
}
