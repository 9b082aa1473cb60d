package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8080", c.DirectoryBaseURL)
	assert.Equal(t, "http://127.0.0.1:8081", c.FileServiceBaseURL)
	assert.NotEmpty(t, c.CacheDir)
	assert.NotEmpty(t, c.DatabaseDSN)
	assert.Equal(t, 256*1024, c.InlineThreshold)
	assert.Equal(t, 120, c.PreviewLength)
	assert.Equal(t, 7*24*time.Hour, c.RetentionMaxAge)
	assert.Equal(t, 6*time.Hour, c.RetentionInterval)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "http://127.0.0.1:8080", cfg.DirectoryBaseURL)
	assert.Equal(t, 6*time.Hour, cfg.RetentionInterval)
}
