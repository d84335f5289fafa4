package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNoArgsPrintsUsage(t *testing.T) {
	var buf bytes.Buffer
	cfg, shouldExit, err := Parse(nil, &buf)
	require.NoError(t, err)
	assert.True(t, shouldExit)
	assert.Nil(t, cfg)
	assert.Contains(t, buf.String(), "Usage:")
}

func TestParseConfigPathSources(t *testing.T) {
	var buf bytes.Buffer

	t.Run("long flag", func(t *testing.T) {
		cfg, shouldExit, err := Parse([]string{"--config", "run.hcl"}, &buf)
		require.NoError(t, err)
		assert.False(t, shouldExit)
		assert.Equal(t, "run.hcl", cfg.RunConfigPath)
	})

	t.Run("shorthand", func(t *testing.T) {
		cfg, _, err := Parse([]string{"-c", "run.hcl"}, &buf)
		require.NoError(t, err)
		assert.Equal(t, "run.hcl", cfg.RunConfigPath)
	})

	t.Run("positional", func(t *testing.T) {
		cfg, _, err := Parse([]string{"run.hcl"}, &buf)
		require.NoError(t, err)
		assert.Equal(t, "run.hcl", cfg.RunConfigPath)
	})
}

func TestParseDefaults(t *testing.T) {
	var buf bytes.Buffer
	cfg, _, err := Parse([]string{"run.hcl"}, &buf)
	require.NoError(t, err)

	assert.Equal(t, "work", cfg.WorkDir)
	assert.Equal(t, filepath.Join("work", "cache"), cfg.CacheDir)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.CPUs)
	assert.Equal(t, 16384, cfg.MemMB)
}

func TestParseRejectsInvalidLogOptions(t *testing.T) {
	var buf bytes.Buffer

	_, _, err := Parse([]string{"--log-level", "loud", "run.hcl"}, &buf)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)

	_, _, err = Parse([]string{"--log-format", "xml", "run.hcl"}, &buf)
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}
