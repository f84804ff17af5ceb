package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	d := Defaults()
	assert.Equal(t, d.Server.Port, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Engine.TriggerWindow)
	assert.Equal(t, 10*time.Minute, cfg.Engine.ExtensionWindow)
	assert.Equal(t, int64(1), cfg.Engine.TieBreakIncrement)
	assert.InDelta(t, 0.80, cfg.Engine.MinPositiveRatio, 1e-9)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "auction-notifications", cfg.Notifications.KafkaTopic)
	assert.True(t, cfg.Features.EnableLogging)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: ${JEWELBID_TEST_PORT}
  logLevel: debug
database:
  driver: sqlite
  path: ${JEWELBID_TEST_DIR}/bids.db
engine:
  triggerWindow: 2m
  tieBreakIncrement: 25
scheduler:
  concurrency: 2
notifications:
  kafkaBrokers: ["localhost:9092"]
features:
  console: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("JEWELBID_TEST_PORT", "9090")
	t.Setenv("JEWELBID_TEST_DIR", "/tmp/jb")
	t.Setenv("SCHEDULER_CONCURRENCY", "3")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/jb/bids.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Minute, cfg.Engine.TriggerWindow)
	assert.Equal(t, 10*time.Minute, cfg.Engine.ExtensionWindow, "unset keys keep their default")
	assert.Equal(t, int64(25), cfg.Engine.TieBreakIncrement)
	assert.Equal(t, 3, cfg.Scheduler.Concurrency, "environment wins over the file")
	assert.Equal(t, []string{"localhost:9092"}, cfg.Notifications.KafkaBrokers)
	assert.True(t, cfg.Features.Console)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [port"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}
