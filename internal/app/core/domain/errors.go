package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAmountMustBePositive 金額必須為正整數
	ErrAmountMustBePositive = errors.New("amount must be a positive integer")

	// ErrInsufficientBalance 餘額不足
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBalanceOverflow 入帳/扣款後餘額超出 int64 範圍
	ErrBalanceOverflow = errors.New("balance would overflow")

	// ErrWalletNotFound 找不到帳戶
	ErrWalletNotFound = errors.New("wallet account not found")

	// ErrWalletFrozen 帳戶不是 ACTIVE
	ErrWalletFrozen = errors.New("account is frozen")

	// ErrAccountAlreadyExists 帳戶已存在
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrIdempotencyConflict 同一個 idempotency key 但請求內容不同
	ErrIdempotencyConflict = errors.New("idempotency key conflict: request hash mismatch")

	// ErrMissingIdempotencyKey 異動餘額的操作必須帶 idempotency key
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrTooMuchContention 樂觀鎖重試次數用完，呼叫端可 backoff 後重試
	ErrTooMuchContention = errors.New("too much contention, please retry")

	// ErrSameAccount 來源與目的帳戶相同
	ErrSameAccount = errors.New("source and destination must differ")

	// ErrMissingUserID 一般帳戶必須帶 user id
	ErrMissingUserID = errors.New("user id is required")

	ErrInvalidAccountType   = errors.New("invalid account type")
	ErrInvalidAccountStatus = errors.New("invalid account status")

	// ErrTransactionNotFound 找不到交易
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyRefunded 交易已退款過
	ErrAlreadyRefunded = errors.New("transaction already refunded")

	// ErrNotRefundable 交易不可退款
	ErrNotRefundable = errors.New("transaction is not refundable")

	// ErrInvalidTransition 交易狀態只能由 PENDING 轉換一次
	ErrInvalidTransition = errors.New("invalid transaction status transition")

	// ErrDuplicateKey 唯一鍵重複寫入 (store 層回報)
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrLockTimeout 等待 row lock 逾時
	ErrLockTimeout = errors.New("lock wait timeout")
)

// businessErrors 業務規則錯誤，原樣回傳給呼叫端，不重試
var businessErrors = []error{
	ErrAmountMustBePositive,
	ErrInsufficientBalance,
	ErrBalanceOverflow,
	ErrWalletNotFound,
	ErrWalletFrozen,
	ErrAccountAlreadyExists,
	ErrIdempotencyConflict,
	ErrMissingIdempotencyKey,
	ErrSameAccount,
	ErrMissingUserID,
	ErrInvalidAccountType,
	ErrInvalidAccountStatus,
	ErrTransactionNotFound,
	ErrAlreadyRefunded,
	ErrNotRefundable,
}

// IsBusinessError 是否為業務規則錯誤
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StorageError 底層儲存失敗 (I/O、lock 逾時、非預期的 constraint)
type StorageError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError 包裝 store 錯誤
func NewStorageError(op string, err error, retryable bool) *StorageError {
	return &StorageError{Op: op, Err: err, Retryable: retryable}
}

// EngineError 非預期的內部錯誤，對外只回傳通用訊息，細節寫進 log
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return "failed to " + e.Op
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsRetryable 呼叫端是否可以 backoff 後重送
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTooMuchContention) {
		return true
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Retryable
	}
	return false
}
