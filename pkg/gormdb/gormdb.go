// Package gormdb 負責建立 GORM 連線：啟動時重試、連線池與 SQL log 等級
// MySQL 與 PostgreSQL 客戶端共用
package gormdb

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Pool 連線池設定，零值代表沿用 database/sql 預設
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Retry 啟動時的連線重試策略
type Retry struct {
	Attempts int
	Interval time.Duration
}

// DefaultRetry 資料庫容器通常比服務晚幾秒 ready
var DefaultRetry = Retry{Attempts: 10, Interval: 2 * time.Second}

// Options 建立連線的參數
type Options struct {
	// Name 出現在 log 與錯誤訊息中，例如 "mysql"
	Name     string
	LogLevel string
	Pool     Pool
	Retry    Retry
}

// Client 封裝 GORM DB 實例
type Client struct {
	db *gorm.DB
}

// Open 以 dialect 建立連線並 ping，失敗時依 opts.Retry 重試
//
// 參數:
//
//	open: driver 的建構函數，例如 mysql.Open
//	dsn: 連線字串
//	log: 重試時的 logger，可為 nil
//
// 回傳:
//
//	*Client: 已套用連線池設定的客戶端
//	error: 重試用完或 ctx 取消
func Open(ctx context.Context, open func(dsn string) gorm.Dialector, dsn string, opts Options, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	retry := opts.Retry
	if retry.Attempts <= 0 {
		retry = DefaultRetry
	}
	gormConfig := &gorm.Config{
		// 帳務寫入一律走明確的 Transaction
		SkipDefaultTransaction: true,
		// duplicate key 等 driver 錯誤轉成 gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(LogLevel(opts.LogLevel)),
	}

	var err error
	for attempt := 1; attempt <= retry.Attempts; attempt++ {
		var db *gorm.DB
		if db, err = connect(open(dsn), gormConfig); err == nil {
			if err = applyPool(db, opts.Pool); err != nil {
				return nil, err
			}
			return &Client{db: db}, nil
		}
		if attempt == retry.Attempts {
			break
		}
		log.Warn("failed to connect to database, retrying",
			zap.String("database", opts.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", retry.Attempts),
			zap.Duration("retry_in", retry.Interval),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to %s: %w", opts.Name, ctx.Err())
		case <-time.After(retry.Interval):
		}
	}
	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", opts.Name, retry.Attempts, err)
}

// connect 開啟並 ping，ping 失敗時關掉已建立的 pool
func connect(dialector gorm.Dialector, gormConfig *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		closeQuietly(db)
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func applyPool(db *gorm.DB, pool Pool) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.db: %w", err)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return nil
}

func closeQuietly(db *gorm.DB) {
	if db == nil || db.ConnPool == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// DB 回傳底層的 *gorm.DB，供 adapter 使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 關閉連線池
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LogLevel 將設定檔的字串轉成 GORM log 等級，未知的值只記錄錯誤
func LogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "info":
		return gormlogger.Info
	case "warn":
		return gormlogger.Warn
	case "silent":
		return gormlogger.Silent
	}
	return gormlogger.Error
}
