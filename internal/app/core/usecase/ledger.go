package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// Store 是帳務系統的儲存介面
// 所有會異動餘額的寫入都必須在 RunInUnitOfWork 內完成
type Store interface {
	AccountReader

	// RunInUnitOfWork 開啟一個原子工作單元
	// fn 回傳 nil 才 commit；回傳錯誤、panic 或 ctx 取消都會 rollback，並釋放所有 row lock
	RunInUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error

	// CreateAccount 新增帳戶，user id 重複時回傳 domain.ErrAccountAlreadyExists
	CreateAccount(ctx context.Context, account *domain.Account) error

	// FindIdempotency 查詢冪等紀錄，不存在時回傳 (nil, nil)
	FindIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*domain.LedgerEntry, error)
	// ListEntriesByAccount 依入帳順序回傳
	ListEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.LedgerEntry, error)
}

// AccountReader 不上鎖的帳戶讀取
type AccountReader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetSystemAccount(ctx context.Context) (*domain.Account, error)
}

// UnitOfWork 單一工作單元內可用的操作
type UnitOfWork interface {
	AccountStore
	LedgerStore
	IdempotencyStore
}

// AccountStore 帳戶的讀取與條件式更新
type AccountStore interface {
	AccountReader

	// GetAccountForUpdate 取得帳戶並加上排他 row lock，直到工作單元結束才釋放
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// CompareAndSwapBalance 條件式更新餘額 (version 相符才寫入，成功時 version+1)
	// 與 SQL UPDATE 相同，會等待並持有該 row 的鎖
	CompareAndSwapBalance(ctx context.Context, cas BalanceCAS) (bool, error)

	// UpdateAccountStatus 更新帳戶狀態 (version+1)
	UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus, now time.Time) error
}

// LedgerStore 交易與分錄只能新增
type LedgerStore interface {
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
	// InsertEntries 寫入分錄，並回填 Sequence
	InsertEntries(ctx context.Context, entries ...*domain.LedgerEntry) error
	// FindReversal 查詢某筆交易是否已被退款
	FindReversal(ctx context.Context, originalID uuid.UUID) (bool, error)
}

// IdempotencyReader 冪等紀錄查詢 (不需要工作單元)
type IdempotencyReader interface {
	FindIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
}

// IdempotencyStore 冪等紀錄
type IdempotencyStore interface {
	IdempotencyReader
	// SaveIdempotency 重複的 key 必須回傳 domain.ErrDuplicateKey，不可覆寫
	SaveIdempotency(ctx context.Context, record *domain.IdempotencyRecord) error
}

// BalanceCAS 條件式更新餘額的參數
//
//	UPDATE wallet_accounts SET cached_balance = NewBalance, version = version + 1
//	WHERE id = AccountID AND version = ExpectedVersion [AND cached_balance >= MinBalance]
type BalanceCAS struct {
	AccountID       uuid.UUID
	ExpectedVersion int64
	NewBalance      int64
	// CheckMin 為 true 時額外要求 cached_balance >= MinBalance
	CheckMin   bool
	MinBalance int64
	UpdatedAt  time.Time
}

// IdempotencyCache 冪等紀錄的讀取快取 (例如 Redis)，只在 commit 後寫入
type IdempotencyCache interface {
	// Get 不存在時回傳 (nil, nil)
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Set(ctx context.Context, record *domain.IdempotencyRecord) error
}

// EventPublisher 交易完成事件發布
type EventPublisher interface {
	Publish(ctx context.Context, event domain.TransactionCompletedEvent) error
}

// Metrics 引擎指標
type Metrics interface {
	PostingCompleted(txType domain.TransactionType, elapsed time.Duration)
	PostingFailed(txType domain.TransactionType, reason string)
	PostingReplayed(txType domain.TransactionType)
	OptimisticConflict()
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.TransactionCompletedEvent) error { return nil }

type nopMetrics struct{}

func (nopMetrics) PostingCompleted(domain.TransactionType, time.Duration) {}
func (nopMetrics) PostingFailed(domain.TransactionType, string)           {}
func (nopMetrics) PostingReplayed(domain.TransactionType)                 {}
func (nopMetrics) OptimisticConflict()                                    {}
