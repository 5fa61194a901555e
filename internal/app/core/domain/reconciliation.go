package domain

import "github.com/google/uuid"

// Reconciliation 帳戶快取餘額與分錄的核對結果
type Reconciliation struct {
	AccountID     uuid.UUID `json:"account_id"`
	CachedBalance int64     `json:"cached_balance"`
	LedgerBalance int64     `json:"ledger_balance"`
	Entries       int       `json:"entries"`
	// BrokenSequence 第一筆 running balance 對不上的分錄序號，0 代表沒有
	BrokenSequence uint64 `json:"broken_sequence,omitempty"`
	Consistent     bool   `json:"consistent"`
}

// Reconcile 核對帳戶
// entries 必須依入帳順序排列
func Reconcile(account *Account, entries []*LedgerEntry) Reconciliation {
	r := Reconciliation{
		AccountID:     account.ID,
		CachedBalance: account.CachedBalance,
		Entries:       len(entries),
	}
	for _, e := range entries {
		r.LedgerBalance += e.SignedAmount()
		if r.BrokenSequence == 0 && e.RunningBalance != r.LedgerBalance {
			r.BrokenSequence = e.Sequence
		}
	}
	r.Consistent = r.BrokenSequence == 0 && r.LedgerBalance == r.CachedBalance
	return r
}
