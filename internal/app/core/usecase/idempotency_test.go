package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

func TestHashRequest_Deterministic(t *testing.T) {
	a, err := usecase.HashRequest(map[string]any{"amount": 10, "metadata": map[string]string{"x": "1", "y": "2"}})
	require.NoError(t, err)
	b, err := usecase.HashRequest(map[string]any{"metadata": map[string]string{"y": "2", "x": "1"}, "amount": 10})
	require.NoError(t, err)
	c, err := usecase.HashRequest(map[string]any{"amount": 11})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestIdempotencyCoordinator_Check(t *testing.T) {
	ctx := context.Background()
	record := &domain.IdempotencyRecord{Key: "k", RequestHash: "h1", Response: []byte(`{}`), CreatedAt: time.Now()}

	coordinator := usecase.NewIdempotencyCoordinator(staticIdempotency{}, nil, nil)
	got, err := coordinator.Check(ctx, "k", "h1")
	require.NoError(t, err)
	assert.Nil(t, got)

	coordinator = usecase.NewIdempotencyCoordinator(staticIdempotency{record: record}, nil, nil)
	got, err = coordinator.Check(ctx, "k", "h1")
	require.NoError(t, err)
	assert.Equal(t, record, got)

	_, err = coordinator.Check(ctx, "k", "h2")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestIdempotencyCoordinator_CacheFirst(t *testing.T) {
	ctx := context.Background()
	record := &domain.IdempotencyRecord{Key: "k", RequestHash: "h1"}
	cache := newMapCache()
	require.NoError(t, cache.Set(ctx, record))

	// store 壞掉也能從快取回應
	coordinator := usecase.NewIdempotencyCoordinator(staticIdempotency{err: errors.New("db down")}, cache, nil)
	got, err := coordinator.Check(ctx, "k", "h1")
	require.NoError(t, err)
	assert.Equal(t, record, got)

	_, err = coordinator.Check(ctx, "k", "other")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestIdempotencyCoordinator_CacheErrorFallsBack(t *testing.T) {
	ctx := context.Background()
	record := &domain.IdempotencyRecord{Key: "k", RequestHash: "h1"}
	cache := newMapCache()
	cache.getErr = errors.New("redis timeout")

	coordinator := usecase.NewIdempotencyCoordinator(staticIdempotency{record: record}, cache, nil)
	got, err := coordinator.Check(ctx, "k", "h1")
	require.NoError(t, err)
	assert.Equal(t, record, got)
	assert.Equal(t, 1, cache.gets)
}

func TestIdempotencyCoordinator_SaveAndRemember(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	coordinator := usecase.NewIdempotencyCoordinator(staticIdempotency{}, cache, nil)

	record, err := coordinator.Save(ctx, staticIdempotency{}, "k", "h", []byte(`{"ok":true}`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, cache.records)

	coordinator.Remember(ctx, record)
	assert.Equal(t, record, cache.records["k"])
	coordinator.Remember(ctx, nil)
}

func TestIdempotencyCoordinator_ReadsFromLedgerStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	core := newEngine(t, store)
	alice := newWallet(t, core, "alice", 0)

	req := usecase.CreditRequest{AccountID: alice.ID, Amount: 100, IdempotencyKey: "deposit-1"}
	_, err := core.Credit(ctx, req)
	require.NoError(t, err)

	// 只需查詢能力，一般 Store 即可使用
	var reader usecase.IdempotencyReader = store
	coordinator := usecase.NewIdempotencyCoordinator(reader, nil, nil)
	record, err := coordinator.Check(ctx, "deposit-1", "other-hash")
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	assert.Nil(t, record)

	record, err = coordinator.Check(ctx, "unknown", "h")
	require.NoError(t, err)
	assert.Nil(t, record)
}
