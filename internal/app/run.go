package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vk/quantflow/internal/cache"
	"github.com/vk/quantflow/internal/ctxlog"
	"github.com/vk/quantflow/internal/exec"
	"github.com/vk/quantflow/internal/pipeline"
	"github.com/vk/quantflow/internal/task"
)

// Run executes one pipeline run based on the provided configuration.
func (a *App) Run(ctx context.Context, appConfig *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")
	started := time.Now().UTC()

	if err := os.MkdirAll(appConfig.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	store, err := cache.NewStore(appConfig.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to open resume cache: %w", err)
	}
	a.logger.Debug("Resume cache opened.", "dir", appConfig.CacheDir)

	runner := &task.CachedRunner{
		Inner:    &task.ShellRunner{WorkRoot: appConfig.WorkDir},
		Store:    store,
		WorkRoot: appConfig.WorkDir,
	}
	budget := exec.NewBudget(appConfig.CPUs, appConfig.MemMB)
	executor := exec.New(ctx, a.run, runner, budget, &exec.Warnings{})

	a.logger.Debug("Building pipeline graph from run configuration...")
	p, err := pipeline.Build(executor)
	if err != nil {
		return fmt.Errorf("failed to build pipeline graph: %w", err)
	}
	a.logger.Debug("Pipeline graph built.", "node_count", len(p.Topology().Nodes()))

	a.logger.Info("🚀 Starting pipeline execution...", "cpus", appConfig.CPUs, "mem_mb", appConfig.MemMB)
	summary, err := p.Run()
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("🏁 Execution finished.")

	manifestPath, err := writeManifest(a.run.OutDir, started, time.Now().UTC(), summary)
	if err != nil {
		return err
	}
	a.logger.Info("✅ Run manifest written.", "path", manifestPath,
		"tool_runs", summary.ToolRuns, "cache_hits", summary.CacheHits)

	a.logger.Debug("App.Run method finished.")
	return nil
}
