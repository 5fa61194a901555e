package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		retryable bool
	}{
		{"gorm duplicated key", gorm.ErrDuplicatedKey, domain.ErrDuplicateKey, false},
		{"mysql duplicate entry", &mysqldriver.MySQLError{Number: 1062}, domain.ErrDuplicateKey, false},
		{"mysql lock wait timeout", &mysqldriver.MySQLError{Number: 1205}, domain.ErrLockTimeout, true},
		{"mysql deadlock", &mysqldriver.MySQLError{Number: 1213}, nil, true},
		{"postgres unique violation", &pgconn.PgError{Code: "23505"}, domain.ErrDuplicateKey, false},
		{"postgres lock timeout", &pgconn.PgError{Code: "55P03"}, domain.ErrLockTimeout, true},
		{"postgres deadlock", &pgconn.PgError{Code: "40P01"}, nil, true},
		{"postgres serialization", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), nil, true},
		{"context deadline", context.DeadlineExceeded, context.DeadlineExceeded, true},
		{"bad connection", mysqldriver.ErrInvalidConn, nil, true},
		{"unknown", errors.New("disk full"), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate("op", tt.err)

			var storageErr *domain.StorageError
			assert.True(t, errors.As(err, &storageErr))
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestTranslate_PassThrough(t *testing.T) {
	assert.NoError(t, translate("op", nil))
	assert.Equal(t, domain.ErrInsufficientBalance, translate("op", domain.ErrInsufficientBalance))
	assert.Equal(t, domain.ErrTooMuchContention, translate("op", domain.ErrTooMuchContention))

	wrapped := domain.NewStorageError("inner", errors.New("x"), true)
	assert.Same(t, wrapped, translate("outer", wrapped))
}
