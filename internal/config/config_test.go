package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"pagechat/internal/config"
)

func TestLoadConfig(t *testing.T) {
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, 200, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, uint16(5), cfg.IngestMaxAttempts)
	assert.Equal(t, 8081, cfg.ServerPort)
}

func TestLoadConfig_Toggles(t *testing.T) {
	os.Setenv("ENABLE_API", "false")
	os.Setenv("ENABLE_INGEST_WORKER", "false")
	os.Setenv("INGEST_CONCURRENCY", "10")
	os.Setenv("YOUTUBE_API_KEY", "yt-key")
	defer os.Unsetenv("ENABLE_API")
	defer os.Unsetenv("ENABLE_INGEST_WORKER")
	defer os.Unsetenv("INGEST_CONCURRENCY")
	defer os.Unsetenv("YOUTUBE_API_KEY")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.False(t, cfg.EnableIngestWorker)
	assert.Equal(t, 10, cfg.IngestConcurrency)
	assert.Equal(t, "yt-key", cfg.YouTubeAPIKey)
}

func TestLoadConfig_InvalidOverlap(t *testing.T) {
	os.Setenv("CHUNK_OVERLAP", "500")
	defer os.Unsetenv("CHUNK_OVERLAP")

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrInvalidValue)
}
