package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// HashRequest 計算請求內容的 sha256
// struct 依欄位順序、map 依 key 排序序列化，所以同樣的請求一定得到同樣的 hash
func HashRequest(request any) (string, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// IdempotencyCoordinator 負責冪等紀錄的查詢與保存
type IdempotencyCoordinator struct {
	store  IdempotencyReader
	cache  IdempotencyCache
	logger *zap.Logger
}

// NewIdempotencyCoordinator cache 可為 nil
func NewIdempotencyCoordinator(store IdempotencyReader, cache IdempotencyCache, logger *zap.Logger) *IdempotencyCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyCoordinator{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Check 查詢先前的結果
//
// 回傳:
//
//	*domain.IdempotencyRecord: nil 代表第一次看到這個 key，可以繼續處理
//	error: hash 不同時為 domain.ErrIdempotencyConflict
func (c *IdempotencyCoordinator) Check(ctx context.Context, key, requestHash string) (*domain.IdempotencyRecord, error) {
	record := c.fromCache(ctx, key)
	if record == nil {
		var err error
		record, err = c.store.FindIdempotency(ctx, key)
		if err != nil {
			return nil, err
		}
	}
	if record == nil {
		return nil, nil
	}
	if !record.Matches(requestHash) {
		return nil, domain.ErrIdempotencyConflict
	}
	return record, nil
}

// Save 在同一個工作單元內寫入冪等紀錄，失敗必須讓整個工作單元 rollback
func (c *IdempotencyCoordinator) Save(ctx context.Context, uow IdempotencyStore, key, requestHash string, response []byte, now time.Time) (*domain.IdempotencyRecord, error) {
	record := &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Response:    response,
		CreatedAt:   now,
	}
	if err := uow.SaveIdempotency(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Remember commit 成功後寫入快取，失敗只記 log
func (c *IdempotencyCoordinator) Remember(ctx context.Context, record *domain.IdempotencyRecord) {
	if c.cache == nil || record == nil {
		return
	}
	if err := c.cache.Set(ctx, record); err != nil {
		c.logger.Warn("idempotency cache set failed", zap.String("key", record.Key), zap.Error(err))
	}
}

func (c *IdempotencyCoordinator) fromCache(ctx context.Context, key string) *domain.IdempotencyRecord {
	if c.cache == nil {
		return nil
	}
	record, err := c.cache.Get(ctx, key)
	if err != nil {
		// 快取只是加速，錯誤時退回 store
		c.logger.Warn("idempotency cache get failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return record
}
