package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// CoreUseCase 是核心業務邏輯層 (交易引擎)
//
// 每筆請求的流程:
//
//	冪等檢查 -> 解析並驗證帳戶 -> 依序上鎖 -> 餘額檢查 -> 入帳 (交易 + 兩筆分錄 + 餘額) -> 保存冪等紀錄 -> commit
type CoreUseCase struct {
	store       Store
	idempotency *IdempotencyCoordinator
	locker      PessimisticLocker
	optimistic  OptimisticUpdater
	publisher   EventPublisher
	metrics     Metrics
	logger      *zap.Logger
	now         func() time.Time
}

type coreOptions struct {
	cache       IdempotencyCache
	publisher   EventPublisher
	metrics     Metrics
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time
}

// Option 定義了 CoreUseCase 的配置選項函數
type Option func(*coreOptions)

// WithLogger 設定 logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *coreOptions) { o.logger = logger }
}

// WithIdempotencyCache 設定冪等紀錄快取
func WithIdempotencyCache(cache IdempotencyCache) Option {
	return func(o *coreOptions) { o.cache = cache }
}

// WithPublisher 設定交易完成事件的發布者
func WithPublisher(publisher EventPublisher) Option {
	return func(o *coreOptions) { o.publisher = publisher }
}

// WithMetrics 設定指標
func WithMetrics(metrics Metrics) Option {
	return func(o *coreOptions) { o.metrics = metrics }
}

// WithMaxOptimisticAttempts 設定樂觀鎖最多嘗試次數
func WithMaxOptimisticAttempts(n int) Option {
	return func(o *coreOptions) { o.maxAttempts = n }
}

// WithClock 測試用
func WithClock(now func() time.Time) Option {
	return func(o *coreOptions) { o.now = now }
}

// NewCoreUseCase 建立交易引擎
func NewCoreUseCase(store Store, opts ...Option) *CoreUseCase {
	o := coreOptions{
		publisher:   nopPublisher{},
		metrics:     nopMetrics{},
		logger:      zap.NewNop(),
		maxAttempts: DefaultMaxOptimisticAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	metrics := o.metrics
	return &CoreUseCase{
		store:       store,
		idempotency: NewIdempotencyCoordinator(store, o.cache, o.logger),
		optimistic: OptimisticUpdater{
			MaxAttempts: o.maxAttempts,
			OnConflict:  metrics.OptimisticConflict,
		},
		publisher: o.publisher,
		metrics:   metrics,
		logger:    o.logger,
		now:       o.now,
	}
}

// CreditRequest SYSTEM -> 帳戶
type CreditRequest struct {
	AccountID      uuid.UUID
	Amount         int64
	IdempotencyKey string
	Metadata       map[string]string
}

// DebitRequest 帳戶 -> SYSTEM
type DebitRequest struct {
	AccountID      uuid.UUID
	Amount         int64
	IdempotencyKey string
	Metadata       map[string]string
}

// TransferRequest 帳戶 -> 帳戶
type TransferRequest struct {
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               int64
	IdempotencyKey       string
	Metadata             map[string]string
}

// RefundRequest 全額沖銷一筆已完成的交易
type RefundRequest struct {
	TransactionID  uuid.UUID
	IdempotencyKey string
}

// fingerprint 正規化後的請求內容，用來計算 request hash
type fingerprint struct {
	Operation            domain.TransactionType `json:"operation"`
	AccountID            string                 `json:"account_id,omitempty"`
	SourceAccountID      string                 `json:"source_account_id,omitempty"`
	DestinationAccountID string                 `json:"destination_account_id,omitempty"`
	TransactionID        string                 `json:"transaction_id,omitempty"`
	Amount               int64                  `json:"amount,omitempty"`
	Metadata             map[string]string      `json:"metadata,omitempty"`
}

// legs 解析後的入帳雙方
type legs struct {
	source      *domain.Account
	destination *domain.Account
	amount      int64
	reversalOf  *uuid.UUID
}

type posting struct {
	txType      domain.TransactionType
	key         string
	amount      int64
	metadata    map[string]string
	fingerprint fingerprint
	resolve     func(ctx context.Context) (*legs, error)
}

// Credit 入金：SYSTEM 帳戶 DEBIT、目標帳戶 CREDIT
func (c *CoreUseCase) Credit(ctx context.Context, req CreditRequest) (*domain.PostingResult, error) {
	return c.post(ctx, posting{
		txType:   domain.TransactionTypeCredit,
		key:      req.IdempotencyKey,
		amount:   req.Amount,
		metadata: req.Metadata,
		fingerprint: fingerprint{
			Operation: domain.TransactionTypeCredit,
			AccountID: req.AccountID.String(),
			Amount:    req.Amount,
			Metadata:  req.Metadata,
		},
		resolve: func(ctx context.Context) (*legs, error) {
			account, err := c.store.GetAccount(ctx, req.AccountID)
			if err != nil {
				return nil, err
			}
			system, err := c.store.GetSystemAccount(ctx)
			if err != nil {
				return nil, err
			}
			return &legs{source: system, destination: account, amount: req.Amount}, nil
		},
	})
}

// Debit 出金：目標帳戶 DEBIT、SYSTEM 帳戶 CREDIT，需要餘額足夠
func (c *CoreUseCase) Debit(ctx context.Context, req DebitRequest) (*domain.PostingResult, error) {
	return c.post(ctx, posting{
		txType:   domain.TransactionTypeDebit,
		key:      req.IdempotencyKey,
		amount:   req.Amount,
		metadata: req.Metadata,
		fingerprint: fingerprint{
			Operation: domain.TransactionTypeDebit,
			AccountID: req.AccountID.String(),
			Amount:    req.Amount,
			Metadata:  req.Metadata,
		},
		resolve: func(ctx context.Context) (*legs, error) {
			account, err := c.store.GetAccount(ctx, req.AccountID)
			if err != nil {
				return nil, err
			}
			system, err := c.store.GetSystemAccount(ctx)
			if err != nil {
				return nil, err
			}
			return &legs{source: account, destination: system, amount: req.Amount}, nil
		},
	})
}

// Transfer 轉帳：來源 DEBIT、目的 CREDIT，兩個帳戶都必須是 ACTIVE
func (c *CoreUseCase) Transfer(ctx context.Context, req TransferRequest) (*domain.PostingResult, error) {
	return c.post(ctx, posting{
		txType:   domain.TransactionTypeTransfer,
		key:      req.IdempotencyKey,
		amount:   req.Amount,
		metadata: req.Metadata,
		fingerprint: fingerprint{
			Operation:            domain.TransactionTypeTransfer,
			SourceAccountID:      req.SourceAccountID.String(),
			DestinationAccountID: req.DestinationAccountID.String(),
			Amount:               req.Amount,
			Metadata:             req.Metadata,
		},
		resolve: func(ctx context.Context) (*legs, error) {
			if req.SourceAccountID == req.DestinationAccountID {
				return nil, domain.ErrSameAccount
			}
			source, err := c.store.GetAccount(ctx, req.SourceAccountID)
			if err != nil {
				return nil, err
			}
			destination, err := c.store.GetAccount(ctx, req.DestinationAccountID)
			if err != nil {
				return nil, err
			}
			return &legs{source: source, destination: destination, amount: req.Amount}, nil
		},
	})
}

// Refund 反向沖銷原交易 (原目的帳戶 DEBIT、原來源帳戶 CREDIT)，每筆交易只能退一次
func (c *CoreUseCase) Refund(ctx context.Context, req RefundRequest) (*domain.PostingResult, error) {
	return c.post(ctx, posting{
		txType: domain.TransactionTypeRefund,
		key:    req.IdempotencyKey,
		fingerprint: fingerprint{
			Operation:     domain.TransactionTypeRefund,
			TransactionID: req.TransactionID.String(),
		},
		resolve: func(ctx context.Context) (*legs, error) {
			original, err := c.store.GetTransaction(ctx, req.TransactionID)
			if err != nil {
				return nil, err
			}
			if err := original.Refundable(); err != nil {
				return nil, err
			}
			source, err := c.store.GetAccount(ctx, original.DestinationAccountID)
			if err != nil {
				return nil, err
			}
			destination, err := c.store.GetAccount(ctx, original.SourceAccountID)
			if err != nil {
				return nil, err
			}
			originalID := original.ID
			return &legs{source: source, destination: destination, amount: original.Amount, reversalOf: &originalID}, nil
		},
	})
}

func (c *CoreUseCase) post(ctx context.Context, p posting) (*domain.PostingResult, error) {
	start := c.now()
	result, err := c.execute(ctx, p)
	if err != nil {
		c.metrics.PostingFailed(p.txType, failureReason(err))
		return nil, err
	}
	if result.Replayed {
		c.metrics.PostingReplayed(p.txType)
	} else {
		c.metrics.PostingCompleted(p.txType, c.now().Sub(start))
	}
	return result, nil
}

func (c *CoreUseCase) execute(ctx context.Context, p posting) (*domain.PostingResult, error) {
	if p.key == "" {
		return nil, domain.ErrMissingIdempotencyKey
	}
	if p.txType != domain.TransactionTypeRefund && p.amount <= 0 {
		return nil, domain.ErrAmountMustBePositive
	}
	requestHash, err := HashRequest(p.fingerprint)
	if err != nil {
		return nil, c.engineError(p, "hash request", err)
	}

	// 1. 冪等檢查 (只是讀取，不需要上鎖)
	replay, err := c.replay(ctx, p, requestHash)
	if err != nil || replay != nil {
		return replay, err
	}

	// 2. 解析帳戶並驗證狀態
	l, err := p.resolve(ctx)
	if err != nil {
		return nil, c.classify(p, "resolve accounts", err)
	}
	if l.source.ID == l.destination.ID {
		return nil, domain.ErrSameAccount
	}
	if err := l.source.EnsureActive(); err != nil {
		return nil, err
	}
	if err := l.destination.EnsureActive(); err != nil {
		return nil, err
	}
	// 上鎖前先擋掉明顯餘額不足的請求，上鎖後會再檢查一次
	// 退款要先確認是否已退過，留到工作單元內檢查
	if l.reversalOf == nil {
		if err := l.source.CanDebit(l.amount); err != nil {
			return nil, err
		}
	}

	var (
		txn    *domain.Transaction
		record *domain.IdempotencyRecord
		body   []byte
	)
	err = c.store.RunInUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		now := c.now()
		var err error
		txn, err = domain.NewTransaction(p.txType, l.source.ID, l.destination.ID, l.amount, p.key, now)
		if err != nil {
			return err
		}
		txn.Metadata = p.metadata
		if l.reversalOf != nil {
			refunded, err := uow.FindReversal(ctx, *l.reversalOf)
			if err != nil {
				return err
			}
			if refunded {
				return domain.ErrAlreadyRefunded
			}
			txn.ReversalOf = l.reversalOf
		}

		// 3. 悲觀鎖帳戶依 ID 升冪上鎖
		locked, err := c.locker.Lock(ctx, uow, pessimisticIDs(l.source, l.destination)...)
		if err != nil {
			return err
		}

		// 4. 任何異動之前先檢查餘額
		if held, ok := locked[l.source.ID]; ok {
			if err := held.CanDebit(l.amount); err != nil {
				return err
			}
		}

		// 5. 入帳
		sourceBalance, err := c.applyLeg(ctx, uow, locked, l.source, -l.amount, now)
		if err != nil {
			return err
		}
		destinationBalance, err := c.applyLeg(ctx, uow, locked, l.destination, l.amount, now)
		if err != nil {
			return err
		}
		if err := txn.Complete(); err != nil {
			return err
		}
		if err := uow.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		entries := domain.NewEntryPair(txn, sourceBalance, destinationBalance)
		if err := uow.InsertEntries(ctx, entries[0], entries[1]); err != nil {
			return err
		}

		// 6. 冪等紀錄與入帳一起 commit
		body, err = json.Marshal(txn.Result())
		if err != nil {
			return err
		}
		record, err = c.idempotency.Save(ctx, uow, p.key, requestHash, body, now)
		return err
	})
	if err != nil {
		return c.recoverPostingError(ctx, p, requestHash, err)
	}

	c.afterCommit(ctx, txn, record)
	return &domain.PostingResult{Result: txn.Result(), Body: body}, nil
}

// applyLeg 依帳戶類別走對應的併發控制，回傳異動後的餘額
func (c *CoreUseCase) applyLeg(ctx context.Context, uow UnitOfWork, locked map[uuid.UUID]*domain.Account, account *domain.Account, delta int64, now time.Time) (int64, error) {
	if account.Strategy() == domain.StrategyPessimistic {
		held, ok := locked[account.ID]
		if !ok {
			return 0, domain.NewStorageError("apply leg", errors.New("account not locked"), false)
		}
		if err := c.locker.Apply(ctx, uow, held, delta, now); err != nil {
			return 0, err
		}
		return held.CachedBalance, nil
	}
	updated, err := c.optimistic.Apply(ctx, uow, account.ID, delta, !account.AllowsOverdraft(), now)
	if err != nil {
		return 0, err
	}
	return updated.CachedBalance, nil
}

func pessimisticIDs(accounts ...*domain.Account) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(accounts))
	for _, account := range accounts {
		if account.Strategy() == domain.StrategyPessimistic {
			ids = append(ids, account.ID)
		}
	}
	return ids
}

// replay 已處理過的 key 直接回傳當初的結果
func (c *CoreUseCase) replay(ctx context.Context, p posting, requestHash string) (*domain.PostingResult, error) {
	record, err := c.idempotency.Check(ctx, p.key, requestHash)
	if err != nil {
		return nil, c.classify(p, "check idempotency", err)
	}
	if record == nil {
		return nil, nil
	}
	var result domain.TransactionResult
	if err := json.Unmarshal(record.Response, &result); err != nil {
		return nil, c.engineError(p, "decode idempotent response", err)
	}
	return &domain.PostingResult{Result: result, Body: record.Response, Replayed: true}, nil
}

// recoverPostingError 工作單元已 rollback，決定回傳給呼叫端的錯誤
func (c *CoreUseCase) recoverPostingError(ctx context.Context, p posting, requestHash string, err error) (*domain.PostingResult, error) {
	if errors.Is(err, domain.ErrDuplicateKey) {
		// 同一個 key 的另一個請求先 commit 了
		replay, checkErr := c.replay(ctx, p, requestHash)
		if checkErr != nil {
			return nil, checkErr
		}
		if replay != nil {
			return replay, nil
		}
		if p.txType == domain.TransactionTypeRefund {
			return nil, domain.ErrAlreadyRefunded
		}
	}
	return nil, c.classify(p, "post transaction", err)
}

// classify 業務錯誤與樂觀鎖衝突原樣回傳，其餘包成 EngineError
func (c *CoreUseCase) classify(p posting, op string, err error) error {
	if domain.IsBusinessError(err) || isContention(err) {
		return err
	}
	return c.engineError(p, op, err)
}

func (c *CoreUseCase) engineError(p posting, op string, err error) error {
	c.logger.Error("ledger engine failure",
		zap.String("op", op),
		zap.String("transaction_type", string(p.txType)),
		zap.String("idempotency_key", p.key),
		zap.Bool("retryable", domain.IsRetryable(err)),
		zap.Error(err),
	)
	return &domain.EngineError{Op: strings.ToLower(string(p.txType)), Err: err}
}

// afterCommit commit 後的副作用，失敗不影響結果
func (c *CoreUseCase) afterCommit(ctx context.Context, txn *domain.Transaction, record *domain.IdempotencyRecord) {
	ctx = context.WithoutCancel(ctx)
	c.idempotency.Remember(ctx, record)
	if err := c.publisher.Publish(ctx, txn.CompletedEvent()); err != nil {
		c.logger.Warn("publish transaction event failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, domain.ErrWalletFrozen):
		return "wallet_frozen"
	case errors.Is(err, domain.ErrWalletNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, domain.ErrTooMuchContention):
		return "contention"
	case domain.IsBusinessError(err):
		return "invalid_request"
	}
	return "internal"
}
