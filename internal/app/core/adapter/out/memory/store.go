package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/wal"
)

// DefaultLockWaitTimeout 等待 row lock 的預設上限
const DefaultLockWaitTimeout = 5 * time.Second

// Store 是一個記憶體版的帳本儲存
//
// 結構:
//
//	accounts / transactions / entries / idempotency: 已 commit 的資料，由 mu 保護
//	rowLocks: 每個帳戶一把排他鎖，模擬 SELECT ... FOR UPDATE，持有到工作單元結束
//	wal: Write-Ahead Log，每次 commit 先寫 WAL 再套用到記憶體 (可為 nil)
type Store struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*domain.Account
	userIndex    map[string]uuid.UUID
	systemID     uuid.UUID
	transactions map[uuid.UUID]*domain.Transaction
	keyIndex     map[string]uuid.UUID
	reversals    map[uuid.UUID]uuid.UUID
	entries      []*domain.LedgerEntry
	idempotency  map[string]*domain.IdempotencyRecord
	sequence     uint64

	rowLocksMu sync.Mutex
	rowLocks   map[uuid.UUID]chan struct{}

	lockWaitTimeout time.Duration
	wal             *wal.WAL
}

// StoreOption 定義了 Store 的配置選項函數
type StoreOption func(*Store)

// WithLockWaitTimeout 設定等待 row lock 的上限，<= 0 代表只受 ctx 限制
func WithLockWaitTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.lockWaitTimeout = d
	}
}

// WithWAL 啟用 WAL，建立時會先從 WAL 恢復資料
func WithWAL(w *wal.WAL) StoreOption {
	return func(s *Store) {
		s.wal = w
	}
}

// commitRecord 一次 commit 的內容，也是 WAL 的一筆紀錄
type commitRecord struct {
	Accounts     []*domain.Account           `json:"accounts,omitempty"`
	Transactions []*domain.Transaction       `json:"transactions,omitempty"`
	Entries      []*domain.LedgerEntry       `json:"entries,omitempty"`
	Idempotency  []*domain.IdempotencyRecord `json:"idempotency,omitempty"`
}

// NewStore 建立一個新的 Store 實例
//
// 回傳:
//
//	*Store: Store 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewStore(opts ...StoreOption) (*Store, error) {
	s := &Store{
		accounts:        make(map[uuid.UUID]*domain.Account),
		userIndex:       make(map[string]uuid.UUID),
		transactions:    make(map[uuid.UUID]*domain.Transaction),
		keyIndex:        make(map[string]uuid.UUID),
		reversals:       make(map[uuid.UUID]uuid.UUID),
		idempotency:     make(map[string]*domain.IdempotencyRecord),
		rowLocks:        make(map[uuid.UUID]chan struct{}),
		lockWaitTimeout: DefaultLockWaitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.wal != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(raw json.RawMessage) error {
		var record commitRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		s.apply(&record)
		return nil
	})
}

// RunInUnitOfWork 執行一個工作單元
// fn 成功才 commit；失敗、panic、ctx 取消都會丟棄所有暫存寫入並釋放 row lock
func (s *Store) RunInUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow usecase.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("begin", err, true)
	}
	u := newUnitOfWork(s)
	defer u.release()

	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("commit", err, true)
	}
	return s.commit(u)
}

// commit 檢查唯一鍵後先寫 WAL，再套用到記憶體
func (s *Store) commit(u *unitOfWork) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range u.idempotency {
		if _, ok := s.idempotency[key]; ok {
			return domain.NewStorageError("commit idempotency key", domain.ErrDuplicateKey, false)
		}
	}
	for _, t := range u.transactions {
		if _, ok := s.keyIndex[t.IdempotencyKey]; ok {
			return domain.NewStorageError("commit transaction", domain.ErrDuplicateKey, false)
		}
		if t.ReversalOf != nil {
			if _, ok := s.reversals[*t.ReversalOf]; ok {
				return domain.NewStorageError("commit reversal", domain.ErrDuplicateKey, false)
			}
		}
	}

	record := &commitRecord{
		Transactions: u.transactions,
		Entries:      u.entries,
	}
	for _, a := range u.accounts {
		record.Accounts = append(record.Accounts, a)
	}
	for _, r := range u.idempotency {
		record.Idempotency = append(record.Idempotency, r)
	}
	// 分錄序號在 commit 時分配，確保與實際入帳順序一致
	seq := s.sequence
	for _, e := range record.Entries {
		seq++
		e.Sequence = seq
	}

	if s.wal != nil {
		if err := s.wal.Write(record); err != nil {
			return domain.NewStorageError("write wal", err, false)
		}
	}
	s.apply(record)
	return nil
}

// apply 套用一次 commit，呼叫端需持有寫鎖 (或處於恢復階段)
func (s *Store) apply(record *commitRecord) {
	for _, a := range record.Accounts {
		s.accounts[a.ID] = a.Clone()
		s.userIndex[a.UserID] = a.ID
		if a.Type == domain.AccountTypeSystem {
			s.systemID = a.ID
		}
	}
	for _, t := range record.Transactions {
		c := *t
		s.transactions[t.ID] = &c
		s.keyIndex[t.IdempotencyKey] = t.ID
		if t.ReversalOf != nil {
			s.reversals[*t.ReversalOf] = t.ID
		}
	}
	for _, e := range record.Entries {
		c := *e
		s.entries = append(s.entries, &c)
		if e.Sequence > s.sequence {
			s.sequence = e.Sequence
		}
	}
	for _, r := range record.Idempotency {
		c := *r
		s.idempotency[r.Key] = &c
	}
}

// rowLock 取得帳戶的鎖 (容量 1 的 channel，可配合 ctx 與逾時等待)
func (s *Store) rowLock(id uuid.UUID) chan struct{} {
	s.rowLocksMu.Lock()
	defer s.rowLocksMu.Unlock()
	ch, ok := s.rowLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[id] = ch
	}
	return ch
}

// GetAccount 讀取已 commit 的帳戶 (不上鎖)
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return account.Clone(), nil
}

// GetSystemAccount 讀取 SYSTEM 帳戶
func (s *Store) GetSystemAccount(ctx context.Context) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[s.systemID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return account.Clone(), nil
}

// CreateAccount 新增帳戶
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userIndex[account.UserID]; ok {
		return domain.ErrAccountAlreadyExists
	}
	if _, ok := s.accounts[account.ID]; ok {
		return domain.ErrAccountAlreadyExists
	}
	if account.Type == domain.AccountTypeSystem && s.systemID != uuid.Nil {
		return domain.ErrAccountAlreadyExists
	}
	record := &commitRecord{Accounts: []*domain.Account{account.Clone()}}
	if s.wal != nil {
		if err := s.wal.Write(record); err != nil {
			return domain.NewStorageError("write wal", err, false)
		}
	}
	s.apply(record)
	return nil
}

// FindIdempotency 查詢已 commit 的冪等紀錄
func (s *Store) FindIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.idempotency[key]
	if !ok {
		return nil, nil
	}
	c := *record
	return &c, nil
}

// GetTransaction 取得交易
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	c := *t
	return &c, nil
}

// ListEntriesByTransaction 取得交易的分錄
func (s *Store) ListEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*domain.LedgerEntry, error) {
	return s.filterEntries(func(e *domain.LedgerEntry) bool {
		return e.TransactionID == transactionID
	}), nil
}

// ListEntriesByAccount 依入帳順序取得帳戶的分錄
func (s *Store) ListEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.LedgerEntry, error) {
	return s.filterEntries(func(e *domain.LedgerEntry) bool {
		return e.AccountID == accountID
	}), nil
}

func (s *Store) filterEntries(match func(e *domain.LedgerEntry) bool) []*domain.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*domain.LedgerEntry, 0)
	for _, e := range s.entries {
		if match(e) {
			c := *e
			result = append(result, &c)
		}
	}
	return result
}

var _ usecase.Store = (*Store)(nil)
