package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

const (
	// DefaultNamespace key 前綴
	DefaultNamespace = "ledger:idempotency"
	// DefaultTTL 快取保存時間，過期後改查資料庫
	DefaultTTL = 24 * time.Hour
)

// Config Redis 設定
type Config struct {
	Addrs      []string      `yaml:"addrs"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	UseCluster bool          `yaml:"use_cluster"`
	TTL        time.Duration `yaml:"ttl"`
}

// NewClient 依設定建立單機或 cluster client
func NewClient(cfg Config) (redis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis: no address configured")
	}
	if cfg.UseCluster && len(cfg.Addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		}), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addrs[0],
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// IdempotencyCache 冪等紀錄的 Redis 快取
// 資料庫才是真正的依據，快取 miss 或錯誤時呼叫端會回頭查資料庫
type IdempotencyCache struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewIdempotencyCache ttl <= 0 時使用 DefaultTTL
func NewIdempotencyCache(client redis.UniversalClient, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdempotencyCache{
		client:    client,
		namespace: DefaultNamespace,
		ttl:       ttl,
	}
}

func (c *IdempotencyCache) key(key string) string {
	return c.namespace + ":" + key
}

// Get 不存在時回傳 (nil, nil)
func (c *IdempotencyCache) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Set 只寫入不存在的 key，已存在的紀錄不會被覆寫
func (c *IdempotencyCache) Set(ctx context.Context, record *domain.IdempotencyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, c.key(record.Key), raw, c.ttl).Err()
}
