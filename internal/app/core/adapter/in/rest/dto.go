package rest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

type createWalletRequest struct {
	UserID      string             `json:"user_id"`
	AccountType domain.AccountType `json:"account_type"`
}

type walletResponse struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	AccountType   domain.AccountType   `json:"account_type"`
	Status        domain.AccountStatus `json:"status"`
	CachedBalance int64                `json:"cached_balance"`
	Version       int64                `json:"version"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func toWalletResponse(a *domain.Account) walletResponse {
	return walletResponse{
		ID:            a.ID.String(),
		UserID:        a.UserID,
		AccountType:   a.Type,
		Status:        a.Status,
		CachedBalance: a.CachedBalance,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// amountRequest 金額接受 JSON 數字或字串，交給 domain.ParseAmount 驗證
type amountRequest struct {
	Amount   decimal.Decimal   `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type transferRequest struct {
	SourceAccountID      string            `json:"source_account_id"`
	DestinationAccountID string            `json:"destination_account_id"`
	Amount               decimal.Decimal   `json:"amount"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

type statusRequest struct {
	Status domain.AccountStatus `json:"status"`
}

type entryResponse struct {
	ID             string           `json:"id"`
	Sequence       uint64           `json:"sequence"`
	AccountID      string           `json:"account_id"`
	EntryType      domain.EntryType `json:"entry_type"`
	Amount         int64            `json:"amount"`
	RunningBalance int64            `json:"running_balance"`
	CreatedAt      time.Time        `json:"created_at"`
}

type transactionResponse struct {
	ID                   string                   `json:"id"`
	TransactionType      domain.TransactionType   `json:"transaction_type"`
	Status               domain.TransactionStatus `json:"status"`
	SourceAccountID      string                   `json:"source_account_id"`
	DestinationAccountID string                   `json:"destination_account_id"`
	Amount               int64                    `json:"amount"`
	ReversalOf           string                   `json:"reversal_of,omitempty"`
	Metadata             map[string]string        `json:"metadata,omitempty"`
	CreatedAt            time.Time                `json:"created_at"`
	Entries              []entryResponse          `json:"entries"`
}

func toTransactionResponse(d *domain.TransactionDetail) transactionResponse {
	t := d.Transaction
	resp := transactionResponse{
		ID:                   t.ID.String(),
		TransactionType:      t.Type,
		Status:               t.Status,
		SourceAccountID:      t.SourceAccountID.String(),
		DestinationAccountID: t.DestinationAccountID.String(),
		Amount:               t.Amount,
		Metadata:             t.Metadata,
		CreatedAt:            t.CreatedAt,
		Entries:              make([]entryResponse, 0, len(d.Entries)),
	}
	if t.ReversalOf != nil {
		resp.ReversalOf = t.ReversalOf.String()
	}
	for _, e := range d.Entries {
		resp.Entries = append(resp.Entries, entryResponse{
			ID:             e.ID.String(),
			Sequence:       e.Sequence,
			AccountID:      e.AccountID.String(),
			EntryType:      e.EntryType,
			Amount:         e.Amount,
			RunningBalance: e.RunningBalance,
			CreatedAt:      e.CreatedAt,
		})
	}
	return resp
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
