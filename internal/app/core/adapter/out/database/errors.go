package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// MySQL error numbers
const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlock         = 1213
	mysqlQueryInterrupted = 1317
)

// PostgreSQL SQLSTATE
const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgQueryCanceled        = "57014"
)

// translate 將 driver/GORM 錯誤轉成 domain 錯誤
// 業務錯誤與已包裝過的 StorageError 原樣回傳
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsBusinessError(err) || errors.Is(err, domain.ErrTooMuchContention) {
		return err
	}
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		return err
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return duplicate(op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewStorageError(op, err, true)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldriver.ErrInvalidConn) {
		return domain.NewStorageError(op, err, true)
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlDuplicateEntry:
			return duplicate(op, err)
		case mysqlLockWaitTimeout:
			return domain.NewStorageError(op, fmt.Errorf("%w: %v", domain.ErrLockTimeout, err), true)
		case mysqlDeadlock, mysqlQueryInterrupted:
			return domain.NewStorageError(op, err, true)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return duplicate(op, err)
		case pgLockNotAvailable:
			return domain.NewStorageError(op, fmt.Errorf("%w: %v", domain.ErrLockTimeout, err), true)
		case pgDeadlockDetected, pgSerializationFailure, pgQueryCanceled:
			return domain.NewStorageError(op, err, true)
		}
	}

	return domain.NewStorageError(op, err, false)
}

func duplicate(op string, err error) error {
	return domain.NewStorageError(op, fmt.Errorf("%w: %v", domain.ErrDuplicateKey, err), false)
}
