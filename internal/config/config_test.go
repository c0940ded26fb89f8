package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2048, cfg.MaxImageWidth)
	assert.Equal(t, 95, cfg.JPEGQuality)
	assert.Equal(t, 3, cfg.QueueMaxRetries)
	assert.True(t, cfg.OCRDualPass)
	assert.InDelta(t, 0.3, cfg.ConfidenceThreshold, 1e-9)
	assert.True(t, cfg.Pipeline.Enabled("denoise"))
}

func TestLoadClampsImageBounds(t *testing.T) {
	t.Setenv("MAX_IMAGE_WIDTH", "100000")
	t.Setenv("MAX_IMAGE_HEIGHT", "1")
	t.Setenv("JPEG_QUALITY", "10")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.MaxImageWidth)
	assert.Equal(t, 512, cfg.MaxImageHeight)
	assert.Equal(t, 50, cfg.JPEGQuality)
}

func TestLoadPipelineOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stages:\n  denoise: false\n  sharpen: true\n"), 0o600))
	t.Setenv("PIPELINE_CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Pipeline.Enabled("denoise"))
	assert.True(t, cfg.Pipeline.Enabled("sharpen"))
	assert.True(t, cfg.Pipeline.Enabled("resize"), "unlisted stages default on")
}

func TestLoadPipelineOverridesMissingFile(t *testing.T) {
	t.Setenv("PIPELINE_CONFIG_PATH", "/nonexistent/pipeline.yaml")
	_, err := Load()
	require.Error(t, err)
}
