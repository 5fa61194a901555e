package domain

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SystemUserID 系統帳戶固定使用的 user id，確保全域只會有一個 SYSTEM 帳戶
const SystemUserID = "system"

// AccountType 帳戶類別
type AccountType string

const (
	AccountTypeUser     AccountType = "USER_ACCOUNT"
	AccountTypeMerchant AccountType = "MERCHANT_ACCOUNT"
	AccountTypeSystem   AccountType = "SYSTEM"
)

// Valid 檢查帳戶類別是否合法
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeUser, AccountTypeMerchant, AccountTypeSystem:
		return true
	}
	return false
}

// AccountStatus 帳戶狀態
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Valid 檢查帳戶狀態是否合法
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return true
	}
	return false
}

// ConcurrencyStrategy 帳戶餘額異動時採用的併發控制策略
type ConcurrencyStrategy uint8

const (
	// StrategyPessimistic 先鎖 row (SELECT ... FOR UPDATE)，直到 commit/rollback 才釋放
	StrategyPessimistic ConcurrencyStrategy = iota + 1
	// StrategyOptimistic 讀取 version 後以 CAS 更新，衝突時重試
	StrategyOptimistic
)

func (s ConcurrencyStrategy) String() string {
	switch s {
	case StrategyPessimistic:
		return "pessimistic"
	case StrategyOptimistic:
		return "optimistic"
	}
	return "unknown"
}

// Account 錢包帳戶
//
// CachedBalance 為最小貨幣單位的整數，必須永遠等於該帳戶所有分錄的有號金額總和。
// Version 每次餘額或狀態異動都會 +1，作為樂觀鎖的 token。
type Account struct {
	ID            uuid.UUID
	UserID        string
	Type          AccountType
	Status        AccountStatus
	CachedBalance int64
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewAccount 建立一個 ACTIVE、餘額 0、version 0 的新帳戶
func NewAccount(userID string, accountType AccountType, now time.Time) (*Account, error) {
	if !accountType.Valid() {
		return nil, ErrInvalidAccountType
	}
	if accountType == AccountTypeSystem {
		userID = SystemUserID
	}
	return &Account{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      accountType,
		Status:    AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone 回傳一份複本，store 之間傳遞帳戶時避免共用指標
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// EnsureActive 非 ACTIVE 的帳戶不可入帳
func (a *Account) EnsureActive() error {
	if a.Status != AccountStatusActive {
		return ErrWalletFrozen
	}
	return nil
}

// AllowsOverdraft 只有 SYSTEM 帳戶允許負餘額 (入金的資金來源)
func (a *Account) AllowsOverdraft() bool {
	return a.Type == AccountTypeSystem
}

// Strategy 依帳戶類別決定併發控制策略，同一個帳戶永遠只走一種
func (a *Account) Strategy() ConcurrencyStrategy {
	if a.Type == AccountTypeSystem {
		return StrategyOptimistic
	}
	return StrategyPessimistic
}

// CanDebit 檢查扣款後是否會變成負餘額
func (a *Account) CanDebit(amount int64) error {
	if amount <= 0 {
		return ErrAmountMustBePositive
	}
	if !a.AllowsOverdraft() && a.CachedBalance < amount {
		return ErrInsufficientBalance
	}
	return nil
}

// LockOrder 回傳排序後且去重的帳號 ID，所有多帳戶上鎖都必須依此順序以避免死鎖
func LockOrder(ids ...uuid.UUID) []uuid.UUID {
	ordered := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i][:], ordered[j][:]) < 0
	})
	return ordered
}

// Balance GetBalance 的回應
type Balance struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int64     `json:"balance"`
}
