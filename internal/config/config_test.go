package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "kafka", cfg.Broker.Driver)
	assert.Equal(t, "webhook.events", cfg.Topics.Events)
	assert.Equal(t, "webhook.jobs.retry", cfg.Topics.Retries)
	assert.Equal(t, 10*time.Minute, cfg.Retry.VisibilityTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Delivery.BreakerCooldown)
	assert.Equal(t, 10*time.Second, cfg.Delivery.ConcurrencyBackoff)
	assert.Equal(t, 5, cfg.EndpointDefaults.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.EndpointDefaults.Timeout)
	assert.False(t, cfg.ClickHouse.Enabled)
	assert.Equal(t, 3*time.Second, cfg.ClickHouse.PingTimeout)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
broker:
  driver: rabbitmq
clickhouse:
  enabled: true
retry:
  batch_size: 7
`), 0o600))
	t.Setenv("WHGW_MYSQL_DSN", "user:pw@tcp(db:3306)/x")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rabbitmq", cfg.Broker.Driver)
	assert.True(t, cfg.ClickHouse.Enabled)
	assert.Equal(t, 7, cfg.Retry.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Retry.Interval)
	assert.Equal(t, "user:pw@tcp(db:3306)/x", cfg.MySQL.DSN)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
}
