package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// CreateAccount 建立帳戶 (ACTIVE、餘額 0、version 0)
func (c *CoreUseCase) CreateAccount(ctx context.Context, userID string, accountType domain.AccountType) (*domain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" && accountType != domain.AccountTypeSystem {
		return nil, domain.ErrMissingUserID
	}
	account, err := domain.NewAccount(userID, accountType, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.store.CreateAccount(ctx, account); err != nil {
		if domain.IsBusinessError(err) {
			return nil, err
		}
		c.logger.Error("create account failed", zap.String("user_id", userID), zap.Error(err))
		return nil, &domain.EngineError{Op: "create account", Err: err}
	}
	return account, nil
}

// EnsureSystemAccount 啟動時確保 SYSTEM 帳戶存在
func (c *CoreUseCase) EnsureSystemAccount(ctx context.Context) (*domain.Account, error) {
	system, err := c.store.GetSystemAccount(ctx)
	if err == nil {
		return system, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}
	system, err = c.CreateAccount(ctx, domain.SystemUserID, domain.AccountTypeSystem)
	if errors.Is(err, domain.ErrAccountAlreadyExists) {
		// 其他 instance 同時建立了
		return c.store.GetSystemAccount(ctx)
	}
	return system, err
}

// GetAccount 取得帳戶
func (c *CoreUseCase) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, err := c.store.GetAccount(ctx, id)
	if err != nil {
		return nil, c.wrapRead("get account", err)
	}
	return account, nil
}

// GetBalance 取得帳戶餘額
func (c *CoreUseCase) GetBalance(ctx context.Context, id uuid.UUID) (*domain.Balance, error) {
	account, err := c.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.Balance{AccountID: account.ID, Balance: account.CachedBalance}, nil
}

// SetAccountStatus 凍結/解凍/關閉帳戶
// 會對帳戶加鎖，進行中的入帳完成後才會生效
func (c *CoreUseCase) SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidAccountStatus
	}
	var updated *domain.Account
	err := c.store.RunInUnitOfWork(ctx, func(ctx context.Context, uow UnitOfWork) error {
		account, err := uow.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if account.Status != status {
			now := c.now()
			if err := uow.UpdateAccountStatus(ctx, id, status, now); err != nil {
				return err
			}
			account.Status = status
			account.Version++
			account.UpdatedAt = now
		}
		updated = account
		return nil
	})
	if err != nil {
		return nil, c.wrapRead("set account status", err)
	}
	return updated, nil
}

// GetTransaction 取得交易與其分錄
func (c *CoreUseCase) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.TransactionDetail, error) {
	txn, err := c.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, c.wrapRead("get transaction", err)
	}
	entries, err := c.store.ListEntriesByTransaction(ctx, id)
	if err != nil {
		return nil, c.wrapRead("list entries", err)
	}
	return &domain.TransactionDetail{Transaction: txn, Entries: entries}, nil
}

// Reconcile 核對帳戶快取餘額與分錄總和
func (c *CoreUseCase) Reconcile(ctx context.Context, id uuid.UUID) (*domain.Reconciliation, error) {
	account, err := c.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := c.store.ListEntriesByAccount(ctx, id)
	if err != nil {
		return nil, c.wrapRead("list entries", err)
	}
	result := domain.Reconcile(account, entries)
	if !result.Consistent {
		c.logger.Error("account out of balance",
			zap.String("account_id", id.String()),
			zap.Int64("cached_balance", result.CachedBalance),
			zap.Int64("ledger_balance", result.LedgerBalance),
			zap.Uint64("broken_sequence", result.BrokenSequence),
		)
	}
	return &result, nil
}

func (c *CoreUseCase) wrapRead(op string, err error) error {
	if domain.IsBusinessError(err) {
		return err
	}
	c.logger.Error("ledger read failure", zap.String("op", op), zap.Error(err))
	return &domain.EngineError{Op: op, Err: err}
}
