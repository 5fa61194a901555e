package database

import (
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// walletAccount 對應 wallet_accounts 表
// UUID 以小寫字串儲存，字串排序與位元組排序一致
type walletAccount struct {
	ID            string    `gorm:"primaryKey;size:36"`
	UserID        string    `gorm:"size:64;not null;uniqueIndex"`
	Type          string    `gorm:"size:32;not null;index"`
	Status        string    `gorm:"size:16;not null"`
	CachedBalance int64     `gorm:"not null;default:0"`
	Version       int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (*walletAccount) TableName() string {
	return "wallet_accounts"
}

func toAccountModel(a *domain.Account) *walletAccount {
	return &walletAccount{
		ID:            a.ID.String(),
		UserID:        a.UserID,
		Type:          string(a.Type),
		Status:        string(a.Status),
		CachedBalance: a.CachedBalance,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func (m *walletAccount) toDomain() (*domain.Account, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &domain.Account{
		ID:            id,
		UserID:        m.UserID,
		Type:          domain.AccountType(m.Type),
		Status:        domain.AccountStatus(m.Status),
		CachedBalance: m.CachedBalance,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

// transactionModel 對應 transactions 表，只新增不修改
type transactionModel struct {
	ID                   string            `gorm:"primaryKey;size:36"`
	Type                 string            `gorm:"size:16;not null"`
	Status               string            `gorm:"size:16;not null"`
	SourceAccountID      string            `gorm:"size:36;not null;index"`
	DestinationAccountID string            `gorm:"size:36;not null;index"`
	Amount               int64             `gorm:"not null"`
	IdempotencyKey       string            `gorm:"size:128;not null;uniqueIndex"`
	ReversalOf           *string           `gorm:"size:36;uniqueIndex"`
	Metadata             map[string]string `gorm:"serializer:json;type:text"`
	CreatedAt            time.Time         `gorm:"autoCreateTime:false"`
}

func (*transactionModel) TableName() string {
	return "transactions"
}

func toTransactionModel(t *domain.Transaction) *transactionModel {
	m := &transactionModel{
		ID:                   t.ID.String(),
		Type:                 string(t.Type),
		Status:               string(t.Status),
		SourceAccountID:      t.SourceAccountID.String(),
		DestinationAccountID: t.DestinationAccountID.String(),
		Amount:               t.Amount,
		IdempotencyKey:       t.IdempotencyKey,
		Metadata:             t.Metadata,
		CreatedAt:            t.CreatedAt,
	}
	if t.ReversalOf != nil {
		original := t.ReversalOf.String()
		m.ReversalOf = &original
	}
	return m
}

func (m *transactionModel) toDomain() (*domain.Transaction, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	source, err := uuid.Parse(m.SourceAccountID)
	if err != nil {
		return nil, err
	}
	destination, err := uuid.Parse(m.DestinationAccountID)
	if err != nil {
		return nil, err
	}
	t := &domain.Transaction{
		ID:                   id,
		Type:                 domain.TransactionType(m.Type),
		Status:               domain.TransactionStatus(m.Status),
		SourceAccountID:      source,
		DestinationAccountID: destination,
		Amount:               m.Amount,
		IdempotencyKey:       m.IdempotencyKey,
		Metadata:             m.Metadata,
		CreatedAt:            m.CreatedAt,
	}
	if m.ReversalOf != nil {
		original, err := uuid.Parse(*m.ReversalOf)
		if err != nil {
			return nil, err
		}
		t.ReversalOf = &original
	}
	return t, nil
}

// ledgerEntry 對應 ledger_entries 表
// Sequence 為自增主鍵，同一帳戶內的排序即入帳順序
type ledgerEntry struct {
	Sequence       uint64    `gorm:"primaryKey;autoIncrement;index:idx_entries_account_sequence,priority:2"`
	ID             string    `gorm:"size:36;not null;uniqueIndex"`
	AccountID      string    `gorm:"size:36;not null;index:idx_entries_account_sequence,priority:1"`
	TransactionID  string    `gorm:"size:36;not null;index"`
	Amount         int64     `gorm:"not null"`
	EntryType      string    `gorm:"size:8;not null"`
	RunningBalance int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
}

func (*ledgerEntry) TableName() string {
	return "ledger_entries"
}

func toEntryModel(e *domain.LedgerEntry) *ledgerEntry {
	return &ledgerEntry{
		ID:             e.ID.String(),
		AccountID:      e.AccountID.String(),
		TransactionID:  e.TransactionID.String(),
		Amount:         e.Amount,
		EntryType:      string(e.EntryType),
		RunningBalance: e.RunningBalance,
		CreatedAt:      e.CreatedAt,
	}
}

func (m *ledgerEntry) toDomain() (*domain.LedgerEntry, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := uuid.Parse(m.AccountID)
	if err != nil {
		return nil, err
	}
	transactionID, err := uuid.Parse(m.TransactionID)
	if err != nil {
		return nil, err
	}
	return &domain.LedgerEntry{
		ID:             id,
		Sequence:       m.Sequence,
		AccountID:      accountID,
		TransactionID:  transactionID,
		Amount:         m.Amount,
		EntryType:      domain.EntryType(m.EntryType),
		RunningBalance: m.RunningBalance,
		CreatedAt:      m.CreatedAt,
	}, nil
}

// idempotencyKey 對應 idempotency_keys 表
type idempotencyKey struct {
	Key         string    `gorm:"column:idempotency_key;primaryKey;size:128"`
	RequestHash string    `gorm:"size:64;not null"`
	Response    []byte    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
}

func (*idempotencyKey) TableName() string {
	return "idempotency_keys"
}

func (m *idempotencyKey) toDomain() *domain.IdempotencyRecord {
	return &domain.IdempotencyRecord{
		Key:         m.Key,
		RequestHash: m.RequestHash,
		Response:    m.Response,
		CreatedAt:   m.CreatedAt,
	}
}

// Models 所有需要 migrate 的表
func Models() []any {
	return []any{
		&walletAccount{},
		&transactionModel{},
		&ledgerEntry{},
		&idempotencyKey{},
	}
}
