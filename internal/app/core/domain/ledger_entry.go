package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryType 分錄方向
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// LedgerEntry 帳本分錄，寫入後不可修改 (append-only)
type LedgerEntry struct {
	ID uuid.UUID
	// Sequence 由 store 在寫入時分配，代表入帳順序
	Sequence      uint64
	AccountID     uuid.UUID
	TransactionID uuid.UUID
	// Amount 永遠為正數，方向由 EntryType 決定
	Amount    int64
	EntryType EntryType
	// RunningBalance 此分錄套用後帳戶的餘額
	RunningBalance int64
	CreatedAt      time.Time
}

// SignedAmount CREDIT 為正、DEBIT 為負
func (e *LedgerEntry) SignedAmount() int64 {
	if e.EntryType == EntryTypeDebit {
		return -e.Amount
	}
	return e.Amount
}

// NewEntryPair 為一筆交易建立借貸兩筆分錄
//
// 參數:
//
//	tx: 交易
//	sourceBalance: 來源帳戶扣款後的餘額
//	destinationBalance: 目的帳戶入帳後的餘額
//
// 回傳:
//
//	[2]*LedgerEntry: DEBIT(來源) 與 CREDIT(目的)
func NewEntryPair(tx *Transaction, sourceBalance, destinationBalance int64) [2]*LedgerEntry {
	debit := &LedgerEntry{
		ID:             uuid.New(),
		AccountID:      tx.SourceAccountID,
		TransactionID:  tx.ID,
		Amount:         tx.Amount,
		EntryType:      EntryTypeDebit,
		RunningBalance: sourceBalance,
		CreatedAt:      tx.CreatedAt,
	}
	credit := &LedgerEntry{
		ID:             uuid.New(),
		AccountID:      tx.DestinationAccountID,
		TransactionID:  tx.ID,
		Amount:         tx.Amount,
		EntryType:      EntryTypeCredit,
		RunningBalance: destinationBalance,
		CreatedAt:      tx.CreatedAt,
	}
	return [2]*LedgerEntry{debit, credit}
}
