package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vk/quantflow/internal/pipeline"
)

// manifest is the machine-readable record of one finished run.
type manifest struct {
	RunID      string    `yaml:"run_id"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`

	Published    []string `yaml:"published"`
	Partitions   []string `yaml:"partitions"`
	ToolRuns     int64    `yaml:"tool_runs"`
	CacheHits    int64    `yaml:"cache_hits"`
	WarningCount int      `yaml:"warning_count"`
	VersionsFile string   `yaml:"versions_file,omitempty"`
}

// writeManifest records the run outcome as manifest.yaml in the output
// directory and returns its path. Every run gets a fresh UUID.
func writeManifest(outDir string, started, finished time.Time, sum *pipeline.Summary) (string, error) {
	m := manifest{
		RunID:        uuid.NewString(),
		StartedAt:    started,
		FinishedAt:   finished,
		Published:    sum.Published,
		Partitions:   sum.Partitions,
		ToolRuns:     sum.ToolRuns,
		CacheHits:    sum.CacheHits,
		WarningCount: len(sum.Warnings),
		VersionsFile: sum.VersionsFile,
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("failed to encode run manifest: %w", err)
	}
	path := filepath.Join(outDir, "manifest.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write run manifest: %w", err)
	}
	return path, nil
}
