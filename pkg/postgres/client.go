package postgres

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"

	"github.com/JoeShih716/go-wallet-ledger/pkg/gormdb"
)

// NewClient 連線 PostgreSQL (pgx driver)，啟動時會重試
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*gormdb.Client, error) {
	return gormdb.Open(ctx, postgres.Open, cfg.DSN(), cfg.options(), log)
}

func (c *Config) options() gormdb.Options {
	return gormdb.Options{
		Name:     "postgres",
		LogLevel: c.LogLevel,
		Pool: gormdb.Pool{
			MaxOpenConns:    c.MaxOpenConns,
			MaxIdleConns:    c.MaxIdleConns,
			ConnMaxLifetime: c.ConnMaxLifetime,
		},
	}
}
