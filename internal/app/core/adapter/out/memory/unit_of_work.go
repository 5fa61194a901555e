package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

// unitOfWork 暫存一個工作單元內的所有寫入，commit 前對其他人不可見
type unitOfWork struct {
	store *Store
	held  map[uuid.UUID]chan struct{}

	accounts     map[uuid.UUID]*domain.Account
	transactions []*domain.Transaction
	entries      []*domain.LedgerEntry
	idempotency  map[string]*domain.IdempotencyRecord
}

func newUnitOfWork(s *Store) *unitOfWork {
	return &unitOfWork{
		store:       s,
		held:        make(map[uuid.UUID]chan struct{}),
		accounts:    make(map[uuid.UUID]*domain.Account),
		idempotency: make(map[string]*domain.IdempotencyRecord),
	}
}

// lock 取得帳戶的排他鎖，同一工作單元可重入
// 等待受 ctx 與 lockWaitTimeout 限制，逾時回傳可重試的 StorageError
func (u *unitOfWork) lock(ctx context.Context, id uuid.UUID) error {
	if _, ok := u.held[id]; ok {
		return nil
	}
	ch := u.store.rowLock(id)

	var timeout <-chan time.Time
	if u.store.lockWaitTimeout > 0 {
		timer := time.NewTimer(u.store.lockWaitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ch <- struct{}{}:
		u.held[id] = ch
		return nil
	case <-ctx.Done():
		return domain.NewStorageError("lock account", ctx.Err(), true)
	case <-timeout:
		return domain.NewStorageError("lock account", domain.ErrLockTimeout, true)
	}
}

// release 釋放所有持有的鎖，可重複呼叫
func (u *unitOfWork) release() {
	for id, ch := range u.held {
		<-ch
		delete(u.held, id)
	}
}

// current 優先讀取本工作單元的暫存版本
func (u *unitOfWork) current(id uuid.UUID) (*domain.Account, error) {
	if account, ok := u.accounts[id]; ok {
		return account.Clone(), nil
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	account, ok := u.store.accounts[id]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return account.Clone(), nil
}

func (u *unitOfWork) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return u.current(id)
}

func (u *unitOfWork) GetSystemAccount(ctx context.Context) (*domain.Account, error) {
	u.store.mu.RLock()
	id := u.store.systemID
	u.store.mu.RUnlock()
	if id == uuid.Nil {
		return nil, domain.ErrWalletNotFound
	}
	return u.current(id)
}

func (u *unitOfWork) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	// 不存在的帳號不建立鎖
	if _, err := u.current(id); err != nil {
		return nil, err
	}
	if err := u.lock(ctx, id); err != nil {
		return nil, err
	}
	return u.current(id)
}

func (u *unitOfWork) CompareAndSwapBalance(ctx context.Context, cas usecase.BalanceCAS) (bool, error) {
	if _, err := u.current(cas.AccountID); err != nil {
		return false, err
	}
	if err := u.lock(ctx, cas.AccountID); err != nil {
		return false, err
	}
	account, err := u.current(cas.AccountID)
	if err != nil {
		return false, err
	}
	if account.Version != cas.ExpectedVersion {
		return false, nil
	}
	if cas.CheckMin && account.CachedBalance < cas.MinBalance {
		return false, nil
	}
	account.CachedBalance = cas.NewBalance
	account.Version++
	account.UpdatedAt = cas.UpdatedAt
	u.accounts[account.ID] = account
	return true, nil
}

func (u *unitOfWork) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus, now time.Time) error {
	if err := u.lock(ctx, id); err != nil {
		return err
	}
	account, err := u.current(id)
	if err != nil {
		return err
	}
	account.Status = status
	account.Version++
	account.UpdatedAt = now
	u.accounts[id] = account
	return nil
}

func (u *unitOfWork) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	for _, t := range u.transactions {
		if t.IdempotencyKey == tx.IdempotencyKey {
			return domain.NewStorageError("insert transaction", domain.ErrDuplicateKey, false)
		}
	}
	u.store.mu.RLock()
	_, exists := u.store.keyIndex[tx.IdempotencyKey]
	u.store.mu.RUnlock()
	if exists {
		return domain.NewStorageError("insert transaction", domain.ErrDuplicateKey, false)
	}
	c := *tx
	u.transactions = append(u.transactions, &c)
	return nil
}

// InsertEntries 暫存分錄，Sequence 在 commit 時回填
func (u *unitOfWork) InsertEntries(ctx context.Context, entries ...*domain.LedgerEntry) error {
	u.entries = append(u.entries, entries...)
	return nil
}

func (u *unitOfWork) FindReversal(ctx context.Context, originalID uuid.UUID) (bool, error) {
	for _, t := range u.transactions {
		if t.ReversalOf != nil && *t.ReversalOf == originalID {
			return true, nil
		}
	}
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	_, ok := u.store.reversals[originalID]
	return ok, nil
}

func (u *unitOfWork) FindIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	if record, ok := u.idempotency[key]; ok {
		c := *record
		return &c, nil
	}
	return u.store.FindIdempotency(ctx, key)
}

func (u *unitOfWork) SaveIdempotency(ctx context.Context, record *domain.IdempotencyRecord) error {
	if _, ok := u.idempotency[record.Key]; ok {
		return domain.NewStorageError("save idempotency", domain.ErrDuplicateKey, false)
	}
	existing, _ := u.store.FindIdempotency(ctx, record.Key)
	if existing != nil {
		return domain.NewStorageError("save idempotency", domain.ErrDuplicateKey, false)
	}
	c := *record
	u.idempotency[record.Key] = &c
	return nil
}

var _ usecase.UnitOfWork = (*unitOfWork)(nil)
