package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType 交易類型
type TransactionType string

const (
	// 入金：SYSTEM -> 帳戶
	TransactionTypeCredit TransactionType = "CREDIT"
	// 出金：帳戶 -> SYSTEM
	TransactionTypeDebit TransactionType = "DEBIT"
	// 轉帳：帳戶 -> 帳戶
	TransactionTypeTransfer TransactionType = "TRANSFER"
	// 退款：反向沖銷一筆已完成的交易
	TransactionTypeRefund TransactionType = "REFUND"
)

// TransactionStatus 交易狀態
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// Transaction 一筆邏輯上的資金移動
// 建立後金額與雙方帳戶不可再變更，狀態只能 PENDING -> COMPLETED / FAILED 一次
type Transaction struct {
	ID                   uuid.UUID
	Type                 TransactionType
	Status               TransactionStatus
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               int64
	IdempotencyKey       string
	// ReversalOf 只有 REFUND 會有值，指向被沖銷的原交易
	ReversalOf *uuid.UUID
	Metadata   map[string]string
	CreatedAt  time.Time
}

// NewTransaction 建立一筆 PENDING 交易
func NewTransaction(txType TransactionType, source, destination uuid.UUID, amount int64, key string, now time.Time) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrAmountMustBePositive
	}
	if key == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if source == destination {
		return nil, ErrSameAccount
	}
	return &Transaction{
		ID:                   uuid.New(),
		Type:                 txType,
		Status:               TransactionStatusPending,
		SourceAccountID:      source,
		DestinationAccountID: destination,
		Amount:               amount,
		IdempotencyKey:       key,
		CreatedAt:            now,
	}, nil
}

// Complete PENDING -> COMPLETED
func (t *Transaction) Complete() error {
	if t.Status != TransactionStatusPending {
		return ErrInvalidTransition
	}
	t.Status = TransactionStatusCompleted
	return nil
}

// Fail PENDING -> FAILED
func (t *Transaction) Fail() error {
	if t.Status != TransactionStatusPending {
		return ErrInvalidTransition
	}
	t.Status = TransactionStatusFailed
	return nil
}

// Refundable 只有已完成且不是退款本身的交易可以退款
func (t *Transaction) Refundable() error {
	if t.Status != TransactionStatusCompleted || t.Type == TransactionTypeRefund {
		return ErrNotRefundable
	}
	return nil
}

// Result 轉成對外回傳 (也是冪等重放) 的結果
func (t *Transaction) Result() TransactionResult {
	return TransactionResult{
		TransactionID: t.ID.String(),
		Amount:        t.Amount,
		Status:        t.Status,
	}
}

// TransactionResult Credit/Debit/Transfer/Refund 的回應內容
type TransactionResult struct {
	TransactionID string            `json:"transaction_id"`
	Amount        int64             `json:"amount"`
	Status        TransactionStatus `json:"status"`
}

// PostingResult 引擎處理結果
//
// Body 是序列化後的 TransactionResult，重放時直接回傳當初存下來的 bytes。
type PostingResult struct {
	Result   TransactionResult
	Body     []byte
	Replayed bool
}

// TransactionDetail 交易與其分錄
type TransactionDetail struct {
	Transaction *Transaction
	Entries     []*LedgerEntry
}

// TransactionCompletedEvent 交易完成後對外發布的事件
type TransactionCompletedEvent struct {
	TransactionID        string          `json:"transaction_id"`
	Type                 TransactionType `json:"transaction_type"`
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	Amount               int64           `json:"amount"`
	OccurredAt           time.Time       `json:"occurred_at"`
}

// CompletedEvent 由已完成的交易建立事件
func (t *Transaction) CompletedEvent() TransactionCompletedEvent {
	return TransactionCompletedEvent{
		TransactionID:        t.ID.String(),
		Type:                 t.Type,
		SourceAccountID:      t.SourceAccountID.String(),
		DestinationAccountID: t.DestinationAccountID.String(),
		Amount:               t.Amount,
		OccurredAt:           t.CreatedAt,
	}
}
