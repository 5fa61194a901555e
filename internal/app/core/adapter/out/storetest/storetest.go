// Package storetest 提供 usecase.Store 實作共用的行為測試
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

var errAbort = errors.New("abort")

// Run 對 store 執行所有行為測試
// 每個子測試使用隨機的 user id，可以重複在同一個資料庫上執行
func Run(t *testing.T, store usecase.Store) {
	t.Run("CreateAndGetAccount", func(t *testing.T) { testCreateAndGetAccount(t, store) })
	t.Run("CommitPosting", func(t *testing.T) { testCommitPosting(t, store) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, store) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, store) })
	t.Run("DuplicateIdempotencyKey", func(t *testing.T) { testDuplicateIdempotencyKey(t, store) })
	t.Run("UpdateAccountStatus", func(t *testing.T) { testUpdateAccountStatus(t, store) })
	t.Run("LockWaitBoundedByContext", func(t *testing.T) { testLockWaitBoundedByContext(t, store) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewAccount 建立並寫入一個 USER 帳戶
func NewAccount(t *testing.T, store usecase.Store) *domain.Account {
	t.Helper()
	account, err := domain.NewAccount(uuid.NewString(), domain.AccountTypeUser, now())
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

// EnsureSystem 取得或建立 SYSTEM 帳戶
func EnsureSystem(t *testing.T, store usecase.Store) *domain.Account {
	t.Helper()
	ctx := context.Background()
	system, err := store.GetSystemAccount(ctx)
	if err == nil {
		return system
	}
	require.ErrorIs(t, err, domain.ErrWalletNotFound)
	system, err = domain.NewAccount("", domain.AccountTypeSystem, now())
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(ctx, system))
	return system
}

func testCreateAndGetAccount(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := NewAccount(t, store)

	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.UserID, got.UserID)
	assert.Equal(t, domain.AccountStatusActive, got.Status)
	assert.Equal(t, int64(0), got.CachedBalance)
	assert.Equal(t, int64(0), got.Version)

	duplicate, err := domain.NewAccount(account.UserID, domain.AccountTypeUser, now())
	require.NoError(t, err)
	assert.ErrorIs(t, store.CreateAccount(ctx, duplicate), domain.ErrAccountAlreadyExists)

	_, err = store.GetAccount(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)

	system := EnsureSystem(t, store)
	assert.Equal(t, domain.SystemUserID, system.UserID)
	again, err := domain.NewAccount("", domain.AccountTypeSystem, now())
	require.NoError(t, err)
	assert.ErrorIs(t, store.CreateAccount(ctx, again), domain.ErrAccountAlreadyExists)
}

// post 在一個工作單元內完成 source -> destination 的入帳 (不檢查餘額)
func post(ctx context.Context, store usecase.Store, source, destination *domain.Account, amount int64, key string) (*domain.Transaction, [2]*domain.LedgerEntry, error) {
	var (
		txn     *domain.Transaction
		entries [2]*domain.LedgerEntry
	)
	err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow usecase.UnitOfWork) error {
		ts := now()
		var err error
		txn, err = domain.NewTransaction(domain.TransactionTypeTransfer, source.ID, destination.ID, amount, key, ts)
		if err != nil {
			return err
		}
		balances := make([]int64, 2)
		for i, leg := range []struct {
			id    uuid.UUID
			delta int64
		}{{source.ID, -amount}, {destination.ID, amount}} {
			current, err := uow.GetAccountForUpdate(ctx, leg.id)
			if err != nil {
				return err
			}
			ok, err := uow.CompareAndSwapBalance(ctx, usecase.BalanceCAS{
				AccountID:       leg.id,
				ExpectedVersion: current.Version,
				NewBalance:      current.CachedBalance + leg.delta,
				UpdatedAt:       ts,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("unexpected cas failure")
			}
			balances[i] = current.CachedBalance + leg.delta
		}
		if err := txn.Complete(); err != nil {
			return err
		}
		if err := uow.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		entries = domain.NewEntryPair(txn, balances[0], balances[1])
		if err := uow.InsertEntries(ctx, entries[0], entries[1]); err != nil {
			return err
		}
		return uow.SaveIdempotency(ctx, &domain.IdempotencyRecord{
			Key:         key,
			RequestHash: "hash-" + key,
			Response:    []byte(`{"ok":true}`),
			CreatedAt:   ts,
		})
	})
	return txn, entries, err
}

func testCommitPosting(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	source := NewAccount(t, store)
	destination := NewAccount(t, store)
	key := uuid.NewString()

	txn, entries, err := post(ctx, store, source, destination, 250, key)
	require.NoError(t, err)

	gotSource, err := store.GetAccount(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-250), gotSource.CachedBalance)
	assert.Equal(t, int64(1), gotSource.Version)
	gotDestination, err := store.GetAccount(ctx, destination.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), gotDestination.CachedBalance)

	gotTxn, err := store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, gotTxn.Status)
	assert.Equal(t, key, gotTxn.IdempotencyKey)

	assert.NotZero(t, entries[0].Sequence)
	assert.Less(t, entries[0].Sequence, entries[1].Sequence)

	listed, err := store.ListEntriesByTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	var sum int64
	for _, e := range listed {
		sum += e.SignedAmount()
	}
	assert.Equal(t, int64(0), sum)

	record, err := store.FindIdempotency(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "hash-"+key, record.RequestHash)

	// 第二筆之後帳戶分錄依入帳順序排列
	_, _, err = post(ctx, store, destination, source, 100, uuid.NewString())
	require.NoError(t, err)
	history, err := store.ListEntriesByAccount(ctx, destination.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(250), history[0].RunningBalance)
	assert.Equal(t, int64(150), history[1].RunningBalance)
	assert.Less(t, history[0].Sequence, history[1].Sequence)
}

func testRollbackOnError(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := NewAccount(t, store)
	key := uuid.NewString()

	err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow usecase.UnitOfWork) error {
		ok, err := uow.CompareAndSwapBalance(ctx, usecase.BalanceCAS{
			AccountID:       account.ID,
			ExpectedVersion: 0,
			NewBalance:      999,
			UpdatedAt:       now(),
		})
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, uow.SaveIdempotency(ctx, &domain.IdempotencyRecord{Key: key, RequestHash: "h", Response: []byte("{}"), CreatedAt: now()}))
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.CachedBalance)
	assert.Equal(t, int64(0), got.Version)

	record, err := store.FindIdempotency(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, record)

	// 鎖已釋放，下一個工作單元可以立即取得
	lockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = store.RunInUnitOfWork(lockCtx, func(ctx context.Context, uow usecase.UnitOfWork) error {
		_, err := uow.GetAccountForUpdate(ctx, account.ID)
		return err
	})
	assert.NoError(t, err)
}

func testCompareAndSwap(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := NewAccount(t, store)

	err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow usecase.UnitOfWork) error {
		ok, err := uow.CompareAndSwapBalance(ctx, usecase.BalanceCAS{AccountID: account.ID, ExpectedVersion: 7, NewBalance: 1, UpdatedAt: now()})
		require.NoError(t, err)
		assert.False(t, ok, "stale version")

		ok, err = uow.CompareAndSwapBalance(ctx, usecase.BalanceCAS{AccountID: account.ID, ExpectedVersion: 0, NewBalance: -5, CheckMin: true, MinBalance: 5, UpdatedAt: now()})
		require.NoError(t, err)
		assert.False(t, ok, "balance below minimum")

		ok, err = uow.CompareAndSwapBalance(ctx, usecase.BalanceCAS{AccountID: account.ID, ExpectedVersion: 0, NewBalance: 40, UpdatedAt: now()})
		require.NoError(t, err)
		assert.True(t, ok)

		current, err := uow.GetAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(40), current.CachedBalance)
		assert.Equal(t, int64(1), current.Version)
		return nil
	})
	require.NoError(t, err)
}

func testDuplicateIdempotencyKey(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	source := NewAccount(t, store)
	destination := NewAccount(t, store)
	key := uuid.NewString()

	_, _, err := post(ctx, store, source, destination, 10, key)
	require.NoError(t, err)

	err = store.RunInUnitOfWork(ctx, func(ctx context.Context, uow usecase.UnitOfWork) error {
		return uow.SaveIdempotency(ctx, &domain.IdempotencyRecord{Key: key, RequestHash: "other", Response: []byte("{}"), CreatedAt: now()})
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)

	record, err := store.FindIdempotency(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hash-"+key, record.RequestHash)
}

func testUpdateAccountStatus(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := NewAccount(t, store)

	err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow usecase.UnitOfWork) error {
		if _, err := uow.GetAccountForUpdate(ctx, account.ID); err != nil {
			return err
		}
		return uow.UpdateAccountStatus(ctx, account.ID, domain.AccountStatusFrozen, now())
	})
	require.NoError(t, err)

	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusFrozen, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func testLockWaitBoundedByContext(t *testing.T, store usecase.Store) {
	account := NewAccount(t, store)
	locked := make(chan struct{})
	finish := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.RunInUnitOfWork(context.Background(), func(ctx context.Context, uow usecase.UnitOfWork) error {
			if _, err := uow.GetAccountForUpdate(ctx, account.ID); err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-finish
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow usecase.UnitOfWork) error {
		_, err := uow.GetAccountForUpdate(ctx, account.ID)
		return err
	})
	close(finish)
	wg.Wait()

	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err), "lock wait failure must be retryable: %v", err)
}
