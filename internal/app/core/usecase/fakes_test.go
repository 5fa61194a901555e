package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

// faultyStore 把每個工作單元包一層，用來注入錯誤
type faultyStore struct {
	*memory.Store
	wrap func(uow usecase.UnitOfWork) usecase.UnitOfWork
}

func (s *faultyStore) RunInUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow usecase.UnitOfWork) error) error {
	return s.Store.RunInUnitOfWork(ctx, func(ctx context.Context, uow usecase.UnitOfWork) error {
		return fn(ctx, s.wrap(uow))
	})
}

// failingSave SaveIdempotency 永遠失敗
type failingSave struct {
	usecase.UnitOfWork
	err error
}

func (u failingSave) SaveIdempotency(ctx context.Context, record *domain.IdempotencyRecord) error {
	return u.err
}

// losingCAS 指定帳戶的 CAS 永遠輸
type losingCAS struct {
	usecase.UnitOfWork
	accountID uuid.UUID
}

func (u losingCAS) CompareAndSwapBalance(ctx context.Context, cas usecase.BalanceCAS) (bool, error) {
	if cas.AccountID == u.accountID {
		return false, nil
	}
	return u.UnitOfWork.CompareAndSwapBalance(ctx, cas)
}

// scriptedAccounts 依序回傳指定的餘額，CAS 永遠失敗
type scriptedAccounts struct {
	usecase.AccountStore
	accountType domain.AccountType
	balances    []int64
	reads       int
	swaps       int
	lockOrder   []uuid.UUID
	status      domain.AccountStatus
}

func (s *scriptedAccounts) account(id uuid.UUID) *domain.Account {
	status := s.status
	if status == "" {
		status = domain.AccountStatusActive
	}
	var balance int64
	if len(s.balances) > 0 {
		balance = s.balances[min(s.reads, len(s.balances)-1)]
	}
	return &domain.Account{
		ID:            id,
		Type:          s.accountType,
		Status:        status,
		CachedBalance: balance,
		Version:       int64(s.reads),
	}
}

func (s *scriptedAccounts) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	a := s.account(id)
	s.reads++
	return a, nil
}

func (s *scriptedAccounts) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.lockOrder = append(s.lockOrder, id)
	return s.account(id), nil
}

func (s *scriptedAccounts) CompareAndSwapBalance(ctx context.Context, cas usecase.BalanceCAS) (bool, error) {
	s.swaps++
	return false, nil
}

type mapCache struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord
	getErr  error
	gets    int
}

func newMapCache() *mapCache {
	return &mapCache{records: make(map[string]*domain.IdempotencyRecord)}
}

func (c *mapCache) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.records[key], nil
}

func (c *mapCache) Set(ctx context.Context, record *domain.IdempotencyRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[record.Key] = record
	return nil
}

// staticIdempotency 只提供 FindIdempotency
type staticIdempotency struct {
	record *domain.IdempotencyRecord
	err    error
}

func (s staticIdempotency) FindIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	return s.record, s.err
}

func (s staticIdempotency) SaveIdempotency(ctx context.Context, record *domain.IdempotencyRecord) error {
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TransactionCompletedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.TransactionCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type countingMetrics struct {
	mu        sync.Mutex
	completed int
	failed    map[string]int
	replayed  int
	conflicts int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{failed: make(map[string]int)}
}

func (m *countingMetrics) PostingCompleted(domain.TransactionType, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *countingMetrics) PostingFailed(_ domain.TransactionType, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[reason]++
}

func (m *countingMetrics) PostingReplayed(domain.TransactionType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayed++
}

func (m *countingMetrics) OptimisticConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}
