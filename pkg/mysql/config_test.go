package mysql

import (
	"testing"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{
		Host:            "db",
		User:            "ledger",
		Password:        "secret",
		DBName:          "wallet",
		LockWaitTimeout: 3 * time.Second,
	}

	parsed, err := driver.ParseDSN(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "db:3306", parsed.Addr)
	assert.Equal(t, "ledger", parsed.User)
	assert.Equal(t, "secret", parsed.Passwd)
	assert.Equal(t, "wallet", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, "3", parsed.Params["innodb_lock_wait_timeout"])
	assert.Equal(t, "'READ-COMMITTED'", parsed.Params["transaction_isolation"])
}

func TestConfig_DSN_SubSecondLockWait(t *testing.T) {
	cfg := Config{Host: "db", Port: 3307, LockWaitTimeout: 200 * time.Millisecond}

	parsed, err := driver.ParseDSN(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "db:3307", parsed.Addr)
	assert.Equal(t, "1", parsed.Params["innodb_lock_wait_timeout"])
}

func TestConfig_Options(t *testing.T) {
	cfg := Config{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: time.Hour, LogLevel: "warn"}

	opts := cfg.options()
	assert.Equal(t, "mysql", opts.Name)
	assert.Equal(t, "warn", opts.LogLevel)
	assert.Equal(t, 20, opts.Pool.MaxOpenConns)
	assert.Equal(t, 5, opts.Pool.MaxIdleConns)
	assert.Equal(t, time.Hour, opts.Pool.ConnMaxLifetime)
	assert.Zero(t, opts.Retry.Attempts)
}
