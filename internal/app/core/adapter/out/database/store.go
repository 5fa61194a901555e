package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

// GormStore 以 GORM 實作的帳本儲存 (MySQL / PostgreSQL)
//
// 每個工作單元是一個 READ COMMITTED 的資料庫 transaction:
//
//	悲觀鎖: SELECT ... FOR UPDATE
//	樂觀鎖: UPDATE ... WHERE version = ? (RowsAffected == 0 代表衝突)
type GormStore struct {
	queries
}

// NewGormStore 建立 GormStore，db 由 pkg/mysql 或 pkg/postgres 提供
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{queries: queries{db: db}}
}

// Migrate 建立/更新資料表
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(Models()...)
}

// RunInUnitOfWork 在單一資料庫 transaction 內執行 fn
// fn 回傳錯誤或 panic 時 GORM 會 rollback
func (s *GormStore) RunInUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow usecase.UnitOfWork) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &unitOfWork{queries: queries{db: tx}})
	}, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	return translate("unit of work", err)
}

// CreateAccount 新增帳戶
func (s *GormStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	err := s.db.WithContext(ctx).Create(toAccountModel(account)).Error
	if err == nil {
		return nil
	}
	err = translate("create account", err)
	if errors.Is(err, domain.ErrDuplicateKey) {
		return domain.ErrAccountAlreadyExists
	}
	return err
}

// GetTransaction 取得交易
func (s *GormStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var m transactionModel
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, translate("get transaction", err)
	}
	t, err := m.toDomain()
	if err != nil {
		return nil, domain.NewStorageError("decode transaction", err, false)
	}
	return t, nil
}

// ListEntriesByTransaction 取得交易的分錄
func (s *GormStore) ListEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*domain.LedgerEntry, error) {
	return s.listEntries(ctx, "transaction_id = ?", transactionID.String())
}

// ListEntriesByAccount 依入帳順序取得帳戶的分錄
func (s *GormStore) ListEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.LedgerEntry, error) {
	return s.listEntries(ctx, "account_id = ?", accountID.String())
}

func (s *GormStore) listEntries(ctx context.Context, query string, arg any) ([]*domain.LedgerEntry, error) {
	var models []ledgerEntry
	err := s.db.WithContext(ctx).Where(query, arg).Order("sequence ASC").Find(&models).Error
	if err != nil {
		return nil, translate("list entries", err)
	}
	entries := make([]*domain.LedgerEntry, 0, len(models))
	for i := range models {
		e, err := models[i].toDomain()
		if err != nil {
			return nil, domain.NewStorageError("decode entry", err, false)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// queries 工作單元內外共用的查詢
type queries struct {
	db *gorm.DB
}

func (q queries) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return q.takeAccount(q.db.WithContext(ctx).Where("id = ?", id.String()))
}

func (q queries) GetSystemAccount(ctx context.Context) (*domain.Account, error) {
	return q.takeAccount(q.db.WithContext(ctx).Where("type = ?", string(domain.AccountTypeSystem)))
}

func (q queries) takeAccount(db *gorm.DB) (*domain.Account, error) {
	var m walletAccount
	err := db.Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, translate("get account", err)
	}
	account, err := m.toDomain()
	if err != nil {
		return nil, domain.NewStorageError("decode account", err, false)
	}
	return account, nil
}

// FindIdempotency 不存在時回傳 (nil, nil)
func (q queries) FindIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var m idempotencyKey
	err := q.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("find idempotency", err)
	}
	return m.toDomain(), nil
}

// unitOfWork 綁定在單一 *gorm.DB transaction 上
type unitOfWork struct {
	queries
}

func (u *unitOfWork) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return u.takeAccount(u.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id.String()))
}

func (u *unitOfWork) CompareAndSwapBalance(ctx context.Context, cas usecase.BalanceCAS) (bool, error) {
	q := u.db.WithContext(ctx).Model(&walletAccount{}).
		Where("id = ? AND version = ?", cas.AccountID.String(), cas.ExpectedVersion)
	if cas.CheckMin {
		q = q.Where("cached_balance >= ?", cas.MinBalance)
	}
	res := q.Updates(map[string]any{
		"cached_balance": cas.NewBalance,
		"version":        gorm.Expr("version + 1"),
		"updated_at":     cas.UpdatedAt,
	})
	if res.Error != nil {
		return false, translate("compare and swap balance", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (u *unitOfWork) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus, now time.Time) error {
	res := u.db.WithContext(ctx).Model(&walletAccount{}).
		Where("id = ?", id.String()).
		Updates(map[string]any{
			"status":     string(status),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return translate("update account status", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

func (u *unitOfWork) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	return translate("insert transaction", u.db.WithContext(ctx).Create(toTransactionModel(tx)).Error)
}

// InsertEntries 寫入分錄並回填自增的 Sequence
func (u *unitOfWork) InsertEntries(ctx context.Context, entries ...*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]*ledgerEntry, 0, len(entries))
	for _, e := range entries {
		models = append(models, toEntryModel(e))
	}
	if err := u.db.WithContext(ctx).Create(&models).Error; err != nil {
		return translate("insert entries", err)
	}
	for i, m := range models {
		entries[i].Sequence = m.Sequence
	}
	return nil
}

func (u *unitOfWork) FindReversal(ctx context.Context, originalID uuid.UUID) (bool, error) {
	var count int64
	err := u.db.WithContext(ctx).Model(&transactionModel{}).
		Where("reversal_of = ?", originalID.String()).
		Count(&count).Error
	if err != nil {
		return false, translate("find reversal", err)
	}
	return count > 0, nil
}

// SaveIdempotency 主鍵重複時回傳包含 domain.ErrDuplicateKey 的 StorageError
func (u *unitOfWork) SaveIdempotency(ctx context.Context, record *domain.IdempotencyRecord) error {
	m := &idempotencyKey{
		Key:         record.Key,
		RequestHash: record.RequestHash,
		Response:    record.Response,
		CreatedAt:   record.CreatedAt,
	}
	return translate("save idempotency", u.db.WithContext(ctx).Create(m).Error)
}

var (
	_ usecase.Store      = (*GormStore)(nil)
	_ usecase.UnitOfWork = (*unitOfWork)(nil)
)
