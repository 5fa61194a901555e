package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// DefaultMaxOptimisticAttempts 樂觀鎖預設最多嘗試次數
const DefaultMaxOptimisticAttempts = 5

// PessimisticLocker 悲觀鎖：依固定順序對帳戶 row 加排他鎖
type PessimisticLocker struct{}

// Lock 依 ID 升冪逐一上鎖，與呼叫端傳入的來源/目的順序無關
//
// 參數:
//
//	uow: 工作單元，鎖會持有到 commit/rollback
//	ids: 要上鎖的帳號
//
// 回傳:
//
//	map[uuid.UUID]*domain.Account: 上鎖後讀到的最新帳戶資料
//	error: domain.ErrWalletNotFound / domain.ErrWalletFrozen / store 錯誤
func (PessimisticLocker) Lock(ctx context.Context, uow AccountStore, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	locked := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range domain.LockOrder(ids...) {
		account, err := uow.GetAccountForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := account.EnsureActive(); err != nil {
			return nil, err
		}
		locked[id] = account
	}
	return locked, nil
}

// Apply 在已持有鎖的帳戶上套用金額異動
// 鎖住期間 version 不可能被別人改，CAS 失敗代表 store 狀態不一致
func (PessimisticLocker) Apply(ctx context.Context, uow AccountStore, account *domain.Account, delta int64, now time.Time) error {
	if delta < 0 {
		if err := account.CanDebit(-delta); err != nil {
			return err
		}
	}
	newBalance, err := domain.AddBalance(account.CachedBalance, delta)
	if err != nil {
		return err
	}
	ok, err := uow.CompareAndSwapBalance(ctx, BalanceCAS{
		AccountID:       account.ID,
		ExpectedVersion: account.Version,
		NewBalance:      newBalance,
		UpdatedAt:       now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewStorageError("update locked balance",
			fmt.Errorf("account %s changed while locked", account.ID), false)
	}
	account.CachedBalance = newBalance
	account.Version++
	account.UpdatedAt = now
	return nil
}

// OptimisticUpdater 樂觀鎖：讀 version -> 計算 -> 條件式更新，衝突時有限次數重試
type OptimisticUpdater struct {
	MaxAttempts int
	// OnConflict 每次 CAS 失敗 (version 被搶先) 時呼叫，可為 nil
	OnConflict func()
}

// Apply 對帳戶套用 delta
//
// 參數:
//
//	id: 帳號
//	delta: 正數入帳、負數扣款
//	requireFunds: 扣款時是否要求餘額足夠
//
// 回傳:
//
//	*domain.Account: 更新後的帳戶 (餘額與 version)
//	error: domain.ErrInsufficientBalance / domain.ErrBalanceOverflow (不可重試) / domain.ErrTooMuchContention (可重試)
func (o OptimisticUpdater) Apply(ctx context.Context, uow AccountStore, id uuid.UUID, delta int64, requireFunds bool, now time.Time) (*domain.Account, error) {
	attempts := o.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxOptimisticAttempts
	}
	checkMin := requireFunds && delta < 0

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewStorageError("optimistic update", err, true)
		}
		account, err := uow.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := account.EnsureActive(); err != nil {
			return nil, err
		}
		if checkMin && account.CachedBalance < -delta {
			return nil, domain.ErrInsufficientBalance
		}

		newBalance, err := domain.AddBalance(account.CachedBalance, delta)
		if err != nil {
			return nil, err
		}

		cas := BalanceCAS{
			AccountID:       id,
			ExpectedVersion: account.Version,
			NewBalance:      newBalance,
			CheckMin:        checkMin,
			UpdatedAt:       now,
		}
		if checkMin {
			cas.MinBalance = -delta
		}
		ok, err := uow.CompareAndSwapBalance(ctx, cas)
		if err != nil {
			return nil, err
		}
		if ok {
			account.CachedBalance = cas.NewBalance
			account.Version++
			account.UpdatedAt = now
			return account, nil
		}

		if o.OnConflict != nil {
			o.OnConflict()
		}
		// 0 筆更新：可能是 version 被搶先，也可能是餘額已不足，重新讀取判斷
		if checkMin {
			current, err := uow.GetAccount(ctx, id)
			if err != nil {
				return nil, err
			}
			if current.CachedBalance < -delta {
				return nil, domain.ErrInsufficientBalance
			}
		}
	}
	return nil, domain.ErrTooMuchContention
}

// isContention 樂觀鎖重試用完
func isContention(err error) bool {
	return errors.Is(err, domain.ErrTooMuchContention)
}
