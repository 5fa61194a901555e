package mysql

import (
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"
)

// Config 定義 MySQL 連線與連線池的配置
type Config struct {
	Host     string `yaml:"host"`     // 資料庫主機地址
	Port     int    `yaml:"port"`     // 資料庫埠號 (預設 3306)
	User     string `yaml:"user"`     // 使用者名稱
	Password string `yaml:"password"` // 密碼
	DBName   string `yaml:"db_name"`  // 資料庫名稱

	// 連線池設定 (Connection Pool)
	// 參考: https://github.com/go-sql-driver/mysql#important-settings
	MaxOpenConns    int           `yaml:"max_open_conns"`     // 最大開啟連線數
	MaxIdleConns    int           `yaml:"max_idle_conns"`     // 最大閒置連線數
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"` // 連線最大存活時間

	// LockWaitTimeout 等待 row lock 的上限 (innodb_lock_wait_timeout，秒為單位，最少 1 秒)
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout"`

	// GORM 設定
	LogLevel string `yaml:"log_level"` // Log 等級: "silent", "error", "warn", "info"
}

// DSN (Data Source Name) 產生連線字串
// 連線層級固定使用 READ COMMITTED，樂觀鎖重讀時才看得到別人剛 commit 的 version
func (c *Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	cfg := driver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	cfg.DBName = c.DBName
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{
		"charset":               "utf8mb4",
		"transaction_isolation": "'READ-COMMITTED'",
	}
	if c.LockWaitTimeout > 0 {
		seconds := int(c.LockWaitTimeout / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(seconds)
	}
	return cfg.FormatDSN()
}
