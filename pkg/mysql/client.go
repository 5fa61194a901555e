package mysql

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"

	"github.com/JoeShih716/go-wallet-ledger/pkg/gormdb"
)

// NewClient 連線 MySQL (連線層級 READ COMMITTED)，啟動時會重試
//
// 參數:
//
//	cfg: MySQL 連線與連線池配置
//	log: 連線重試時的 logger，可為 nil
//
// 回傳值:
//
//	*gormdb.Client: 可取得 *gorm.DB 並負責關閉連線
//	error: 重試用完仍無法連線
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*gormdb.Client, error) {
	return gormdb.Open(ctx, mysql.Open, cfg.DSN(), cfg.options(), log)
}

func (c *Config) options() gormdb.Options {
	return gormdb.Options{
		Name:     "mysql",
		LogLevel: c.LogLevel,
		Pool: gormdb.Pool{
			MaxOpenConns:    c.MaxOpenConns,
			MaxIdleConns:    c.MaxIdleConns,
			ConnMaxLifetime: c.ConnMaxLifetime,
		},
	}
}
