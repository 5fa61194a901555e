package postgres

import (
	"fmt"
	"strings"
	"time"
)

// Config 定義 PostgreSQL 連線與連線池的配置
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // 預設 5432
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"` // 預設 disable

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// LockWaitTimeout 等待 row lock 的上限 (lock_timeout)
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout"`

	LogLevel string `yaml:"log_level"`
}

// DSN 產生 keyword/value 格式的連線字串
// lock_timeout 與隔離等級以 runtime parameter 帶入，每條連線都會套用
func (c *Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		"host=" + quote(c.Host),
		fmt.Sprintf("port=%d", port),
		"user=" + quote(c.User),
		"password=" + quote(c.Password),
		"dbname=" + quote(c.DBName),
		"sslmode=" + sslMode,
		"TimeZone=UTC",
		"default_transaction_isolation='read committed'",
	}
	if c.LockWaitTimeout > 0 {
		parts = append(parts, fmt.Sprintf("lock_timeout=%d", c.LockWaitTimeout.Milliseconds()))
	}
	return strings.Join(parts, " ")
}

// quote 依 libpq 規則跳脫值
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
