package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

func newEngine(t *testing.T, store usecase.Store, opts ...usecase.Option) *usecase.CoreUseCase {
	t.Helper()
	core := usecase.NewCoreUseCase(store, opts...)
	_, err := core.EnsureSystemAccount(context.Background())
	require.NoError(t, err)
	return core
}

func newMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore()
	require.NoError(t, err)
	return store
}

func newWallet(t *testing.T, core *usecase.CoreUseCase, userID string, balance int64) *domain.Account {
	t.Helper()
	ctx := context.Background()
	account, err := core.CreateAccount(ctx, userID, domain.AccountTypeUser)
	require.NoError(t, err)
	if balance > 0 {
		_, err = core.Credit(ctx, usecase.CreditRequest{
			AccountID:      account.ID,
			Amount:         balance,
			IdempotencyKey: "seed-" + userID,
		})
		require.NoError(t, err)
	}
	return account
}

func balanceOf(t *testing.T, core *usecase.CoreUseCase, id uuid.UUID) int64 {
	t.Helper()
	b, err := core.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b.Balance
}

func assertConsistent(t *testing.T, core *usecase.CoreUseCase, ids ...uuid.UUID) {
	t.Helper()
	for _, id := range ids {
		r, err := core.Reconcile(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, r.Consistent, "account %s: cached %d ledger %d", id, r.CachedBalance, r.LedgerBalance)
	}
}

func TestCore_PostingScenario(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{}
	core := newEngine(t, newMemoryStore(t), usecase.WithPublisher(publisher))
	alice := newWallet(t, core, "alice", 0)
	bob := newWallet(t, core, "bob", 0)

	credit, err := core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 1000, IdempotencyKey: "k1", Metadata: map[string]string{"channel": "bank"}})
	require.NoError(t, err)
	assert.False(t, credit.Replayed)
	assert.Equal(t, domain.TransactionStatusCompleted, credit.Result.Status)

	_, err = core.Debit(ctx, usecase.DebitRequest{AccountID: alice.ID, Amount: 200, IdempotencyKey: "k2"})
	require.NoError(t, err)
	_, err = core.Transfer(ctx, usecase.TransferRequest{SourceAccountID: alice.ID, DestinationAccountID: bob.ID, Amount: 300, IdempotencyKey: "k3"})
	require.NoError(t, err)

	system, err := core.EnsureSystemAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balanceOf(t, core, alice.ID))
	assert.Equal(t, int64(300), balanceOf(t, core, bob.ID))
	assert.Equal(t, int64(-800), balanceOf(t, core, system.ID))
	assertConsistent(t, core, alice.ID, bob.ID, system.ID)

	id, err := uuid.Parse(credit.Result.TransactionID)
	require.NoError(t, err)
	detail, err := core.GetTransaction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "bank", detail.Transaction.Metadata["channel"])
	require.Len(t, detail.Entries, 2)
	assert.Zero(t, detail.Entries[0].SignedAmount()+detail.Entries[1].SignedAmount())

	require.Len(t, publisher.events, 3)
	assert.Equal(t, credit.Result.TransactionID, publisher.events[0].TransactionID)
}

func TestCore_Validation(t *testing.T) {
	ctx := context.Background()
	core := newEngine(t, newMemoryStore(t))
	alice := newWallet(t, core, "alice", 100)

	_, err := core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 10})
	assert.ErrorIs(t, err, domain.ErrMissingIdempotencyKey)

	_, err = core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 0, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, domain.ErrAmountMustBePositive)

	_, err = core.Transfer(ctx, usecase.TransferRequest{SourceAccountID: alice.ID, DestinationAccountID: alice.ID, Amount: 10, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, domain.ErrSameAccount)

	_, err = core.Credit(ctx, usecase.CreditRequest{AccountID: uuid.New(), Amount: 10, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)

	_, err = core.Debit(ctx, usecase.DebitRequest{AccountID: alice.ID, Amount: 101, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = core.GetTransaction(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	// 失敗的請求不會留下冪等紀錄，同一個 key 可以重送
	_, err = core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 10, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, int64(110), balanceOf(t, core, alice.ID))
}

func TestCore_CreateAccount(t *testing.T) {
	ctx := context.Background()
	core := newEngine(t, newMemoryStore(t))

	_, err := core.CreateAccount(ctx, "alice", domain.AccountTypeMerchant)
	require.NoError(t, err)
	_, err = core.CreateAccount(ctx, "alice", domain.AccountTypeUser)
	assert.ErrorIs(t, err, domain.ErrAccountAlreadyExists)
	_, err = core.CreateAccount(ctx, "  ", domain.AccountTypeUser)
	assert.ErrorIs(t, err, domain.ErrMissingUserID)
	_, err = core.CreateAccount(ctx, "bob", domain.AccountType("GOLD"))
	assert.ErrorIs(t, err, domain.ErrInvalidAccountType)

	first, err := core.EnsureSystemAccount(ctx)
	require.NoError(t, err)
	second, err := core.EnsureSystemAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCore_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	metrics := newCountingMetrics()
	core := newEngine(t, newMemoryStore(t), usecase.WithMetrics(metrics))
	alice := newWallet(t, core, "alice", 0)

	req := usecase.CreditRequest{AccountID: alice.ID, Amount: 500, IdempotencyKey: "deposit-1"}
	first, err := core.Credit(ctx, req)
	require.NoError(t, err)
	second, err := core.Credit(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, int64(500), balanceOf(t, core, alice.ID))
	assert.Equal(t, 1, metrics.replayed)

	req.Amount = 600
	_, err = core.Credit(ctx, req)
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.Equal(t, 1, metrics.failed["idempotency_conflict"])

	// 同一個 key 用在不同操作也算衝突
	_, err = core.Debit(ctx, usecase.DebitRequest{AccountID: alice.ID, Amount: 500, IdempotencyKey: "deposit-1"})
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	// 被拒絕的請求不可留下分錄
	r, err := core.Reconcile(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Entries)
	assert.Equal(t, int64(500), r.LedgerBalance)
	assert.Equal(t, int64(500), balanceOf(t, core, alice.ID))
}

func TestCore_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	core := newEngine(t, newMemoryStore(t))
	alice := newWallet(t, core, "alice", 0)

	const workers = 10
	results := make([]*domain.PostingResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 70, IdempotencyKey: "same-key"})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if !results[i].Replayed {
			fresh++
		}
		assert.Equal(t, results[0].Result.TransactionID, results[i].Result.TransactionID)
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int64(70), balanceOf(t, core, alice.ID))
	assertConsistent(t, core, alice.ID)
}

func TestCore_ConcurrentOverDebit(t *testing.T) {
	ctx := context.Background()
	core := newEngine(t, newMemoryStore(t))
	alice := newWallet(t, core, "alice", 1000)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = core.Debit(ctx, usecase.DebitRequest{AccountID: alice.ID, Amount: 600, IdempotencyKey: fmt.Sprintf("debit-%d", i)})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(400), balanceOf(t, core, alice.ID))
	assertConsistent(t, core, alice.ID)
}

func TestCore_OppositeTransfersDoNotDeadlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	core := newEngine(t, newMemoryStore(t))
	alice := newWallet(t, core, "alice", 10000)
	bob := newWallet(t, core, "bob", 10000)

	const perDirection = 50
	var wg sync.WaitGroup
	errCh := make(chan error, perDirection*2)
	for i := 0; i < perDirection; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := core.Transfer(ctx, usecase.TransferRequest{SourceAccountID: alice.ID, DestinationAccountID: bob.ID, Amount: 10, IdempotencyKey: fmt.Sprintf("ab-%d", i)})
			errCh <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := core.Transfer(ctx, usecase.TransferRequest{SourceAccountID: bob.ID, DestinationAccountID: alice.ID, Amount: 7, IdempotencyKey: fmt.Sprintf("ba-%d", i)})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(10000-perDirection*3), balanceOf(t, core, alice.ID))
	assert.Equal(t, int64(10000+perDirection*3), balanceOf(t, core, bob.ID))
	assertConsistent(t, core, alice.ID, bob.ID)
}

func TestCore_FrozenAccount(t *testing.T) {
	ctx := context.Background()
	core := newEngine(t, newMemoryStore(t))
	alice := newWallet(t, core, "alice", 100)
	bob := newWallet(t, core, "bob", 100)

	frozen, err := core.SetAccountStatus(ctx, alice.ID, domain.AccountStatusFrozen)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusFrozen, frozen.Status)

	_, err = core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 10, IdempotencyKey: "c"})
	assert.ErrorIs(t, err, domain.ErrWalletFrozen)
	_, err = core.Debit(ctx, usecase.DebitRequest{AccountID: alice.ID, Amount: 10, IdempotencyKey: "d"})
	assert.ErrorIs(t, err, domain.ErrWalletFrozen)
	_, err = core.Transfer(ctx, usecase.TransferRequest{SourceAccountID: bob.ID, DestinationAccountID: alice.ID, Amount: 10, IdempotencyKey: "t"})
	assert.ErrorIs(t, err, domain.ErrWalletFrozen)
	assert.Equal(t, int64(100), balanceOf(t, core, bob.ID))

	// 凍結期間只有開戶時的那筆入帳
	r, err := core.Reconcile(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Entries)
	assert.Equal(t, int64(100), r.CachedBalance)

	_, err = core.SetAccountStatus(ctx, alice.ID, domain.AccountStatus("LOCKED"))
	assert.ErrorIs(t, err, domain.ErrInvalidAccountStatus)

	_, err = core.SetAccountStatus(ctx, alice.ID, domain.AccountStatusActive)
	require.NoError(t, err)
	_, err = core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 10, IdempotencyKey: "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(110), balanceOf(t, core, alice.ID))
}

func TestCore_Refund(t *testing.T) {
	ctx := context.Background()
	core := newEngine(t, newMemoryStore(t))
	alice := newWallet(t, core, "alice", 1000)
	bob := newWallet(t, core, "bob", 0)

	transfer, err := core.Transfer(ctx, usecase.TransferRequest{SourceAccountID: alice.ID, DestinationAccountID: bob.ID, Amount: 300, IdempotencyKey: "t1"})
	require.NoError(t, err)
	originalID := uuid.MustParse(transfer.Result.TransactionID)

	refund, err := core.Refund(ctx, usecase.RefundRequest{TransactionID: originalID, IdempotencyKey: "r1"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), refund.Result.Amount)
	assert.Equal(t, int64(1000), balanceOf(t, core, alice.ID))
	assert.Zero(t, balanceOf(t, core, bob.ID))

	replay, err := core.Refund(ctx, usecase.RefundRequest{TransactionID: originalID, IdempotencyKey: "r1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	_, err = core.Refund(ctx, usecase.RefundRequest{TransactionID: originalID, IdempotencyKey: "r2"})
	assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)

	refundID := uuid.MustParse(refund.Result.TransactionID)
	detail, err := core.GetTransaction(ctx, refundID)
	require.NoError(t, err)
	require.NotNil(t, detail.Transaction.ReversalOf)
	assert.Equal(t, originalID, *detail.Transaction.ReversalOf)

	_, err = core.Refund(ctx, usecase.RefundRequest{TransactionID: refundID, IdempotencyKey: "r3"})
	assert.ErrorIs(t, err, domain.ErrNotRefundable)
	assertConsistent(t, core, alice.ID, bob.ID)
}

func TestCore_RefundNeedsFunds(t *testing.T) {
	ctx := context.Background()
	core := newEngine(t, newMemoryStore(t))
	alice := newWallet(t, core, "alice", 500)
	bob := newWallet(t, core, "bob", 0)

	transfer, err := core.Transfer(ctx, usecase.TransferRequest{SourceAccountID: alice.ID, DestinationAccountID: bob.ID, Amount: 500, IdempotencyKey: "t1"})
	require.NoError(t, err)
	_, err = core.Debit(ctx, usecase.DebitRequest{AccountID: bob.ID, Amount: 400, IdempotencyKey: "d1"})
	require.NoError(t, err)

	_, err = core.Refund(ctx, usecase.RefundRequest{TransactionID: uuid.MustParse(transfer.Result.TransactionID), IdempotencyKey: "r1"})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestCore_RollbackWhenIdempotencySaveFails(t *testing.T) {
	ctx := context.Background()
	saveErr := errors.New("disk full")
	store := &faultyStore{
		Store: newMemoryStore(t),
		wrap: func(uow usecase.UnitOfWork) usecase.UnitOfWork {
			return failingSave{UnitOfWork: uow, err: saveErr}
		},
	}
	core := newEngine(t, store)
	alice, err := core.CreateAccount(ctx, "alice", domain.AccountTypeUser)
	require.NoError(t, err)

	_, err = core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 100, IdempotencyKey: "k"})
	var engineErr *domain.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.ErrorIs(t, err, saveErr)

	assert.Zero(t, balanceOf(t, core, alice.ID))
	entries, err := store.ListEntriesByAccount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	record, err := store.FindIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestCore_OptimisticContentionExhausted(t *testing.T) {
	ctx := context.Background()
	inner := newMemoryStore(t)
	core := newEngine(t, inner)
	alice := newWallet(t, core, "alice", 0)
	system, err := core.EnsureSystemAccount(ctx)
	require.NoError(t, err)

	metrics := newCountingMetrics()
	store := &faultyStore{
		Store: inner,
		wrap: func(uow usecase.UnitOfWork) usecase.UnitOfWork {
			return losingCAS{UnitOfWork: uow, accountID: system.ID}
		},
	}
	contended := usecase.NewCoreUseCase(store, usecase.WithMetrics(metrics), usecase.WithMaxOptimisticAttempts(3))

	_, err = contended.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 100, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, domain.ErrTooMuchContention)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 3, metrics.conflicts)
	assert.Equal(t, 1, metrics.failed["contention"])
	assert.Zero(t, balanceOf(t, core, alice.ID))
}

func TestCore_PublishFailureDoesNotFailPosting(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{err: errors.New("broker down")}
	core := newEngine(t, newMemoryStore(t), usecase.WithPublisher(publisher))
	alice := newWallet(t, core, "alice", 0)

	_, err := core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: 10, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Len(t, publisher.events, 1)
}

func TestCore_IdempotencyCache(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	core := newEngine(t, newMemoryStore(t), usecase.WithIdempotencyCache(cache))
	alice := newWallet(t, core, "alice", 0)

	req := usecase.CreditRequest{AccountID: alice.ID, Amount: 10, IdempotencyKey: "cached"}
	first, err := core.Credit(ctx, req)
	require.NoError(t, err)
	require.Contains(t, cache.records, "cached")

	second, err := core.Credit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Body, second.Body)
}

func TestCore_CreditReplayThenOverdraw(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	core := newEngine(t, store)
	account := newWallet(t, core, "alice", 0)

	req := usecase.CreditRequest{AccountID: account.ID, Amount: 1000, IdempotencyKey: "K1"}
	first, err := core.Credit(ctx, req)
	require.NoError(t, err)
	entries, err := store.ListEntriesByTransaction(ctx, uuid.MustParse(first.Result.TransactionID))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, int64(1000), e.Amount)
	}

	again, err := core.Credit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Body, again.Body)
	assert.Equal(t, int64(1000), balanceOf(t, core, account.ID))

	_, err = core.Debit(ctx, usecase.DebitRequest{AccountID: account.ID, Amount: 1500, IdempotencyKey: "K2"})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(1000), balanceOf(t, core, account.ID))

	all, err := store.ListEntriesByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCore_BalanceOverflow(t *testing.T) {
	ctx := context.Background()
	metrics := newCountingMetrics()
	core := newEngine(t, newMemoryStore(t), usecase.WithMetrics(metrics))
	system, err := core.EnsureSystemAccount(ctx)
	require.NoError(t, err)
	alice := newWallet(t, core, "alice", 0)
	bob := newWallet(t, core, "bob", 0)

	_, err = core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: math.MaxInt64, IdempotencyKey: "o1"})
	require.NoError(t, err)
	_, err = core.Credit(ctx, usecase.CreditRequest{AccountID: alice.ID, Amount: math.MaxInt64, IdempotencyKey: "o2"})
	assert.ErrorIs(t, err, domain.ErrBalanceOverflow)
	assert.Equal(t, 1, metrics.failed["balance_overflow"])

	assert.Equal(t, int64(math.MaxInt64), balanceOf(t, core, alice.ID))
	assert.Equal(t, int64(-math.MaxInt64), balanceOf(t, core, system.ID))

	// 使用者端溢位：bob 轉 1 給已達上限的 alice，bob 的扣款要一併回滾
	_, err = core.Credit(ctx, usecase.CreditRequest{AccountID: bob.ID, Amount: 1, IdempotencyKey: "o3"})
	require.NoError(t, err)
	_, err = core.Transfer(ctx, usecase.TransferRequest{SourceAccountID: bob.ID, DestinationAccountID: alice.ID, Amount: 1, IdempotencyKey: "o4"})
	assert.ErrorIs(t, err, domain.ErrBalanceOverflow)
	assert.Equal(t, int64(1), balanceOf(t, core, bob.ID))
	assert.Equal(t, int64(math.MaxInt64), balanceOf(t, core, alice.ID))

	r, err := core.Reconcile(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Entries)
	assertConsistent(t, core, alice.ID, bob.ID, system.ID)
}
