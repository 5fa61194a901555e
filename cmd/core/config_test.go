package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "ledger:\n  wal_path: ledger.wal\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)
	assert.Equal(t, StoreMemory, cfg.Ledger.Store)
	assert.Equal(t, "ledger.wal", cfg.Ledger.WALPath)
	assert.Equal(t, 5, cfg.Ledger.MaxOptimisticAttempts)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockWaitTimeout)
	assert.Equal(t, 5*time.Second, cfg.MySQL.LockWaitTimeout)
	assert.Equal(t, 100, cfg.MySQL.MaxOpenConns)
	assert.Equal(t, "transaction_completed", cfg.Kafka.Topic)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
}

func TestLoadConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("LEDGER_TEST_DB_PASSWORD", "s3cret")
	t.Setenv("LEDGER_TEST_BROKER", "kafka:9092")

	cfg, err := loadConfig(writeConfig(t, `
ledger:
  store: postgres
  lock_wait_timeout: 2s
postgres:
  host: db
  password: ${LEDGER_TEST_DB_PASSWORD}
kafka:
  brokers: ["${LEDGER_TEST_BROKER}"]
`))
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Ledger.Store)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.Equal(t, 2*time.Second, cfg.Postgres.LockWaitTimeout)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "ledger:\n  store: sqlite\n"))
	assert.ErrorContains(t, err, "unknown ledger store")

	_, err = loadConfig(writeConfig(t, "ledger:\n  max_optimistic_attempts: -1\n"))
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
