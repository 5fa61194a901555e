package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/kafka"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
	"github.com/JoeShih716/go-wallet-ledger/pkg/postgres"
)

// StoreKind 帳本使用的儲存
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreMySQL    StoreKind = "mysql"
	StorePostgres StoreKind = "postgres"
)

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LedgerConfig struct {
	Store StoreKind `yaml:"store"`
	// WALPath 只有 memory store 使用，空字串代表不落地
	WALPath               string        `yaml:"wal_path"`
	LockWaitTimeout       time.Duration `yaml:"lock_wait_timeout"`
	MaxOptimisticAttempts int           `yaml:"max_optimistic_attempts"`
	EventBufferSize       int           `yaml:"event_buffer_size"`
}

type Config struct {
	Logger   logger.Config   `yaml:"logger"`
	Server   ServerConfig    `yaml:"server"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	MySQL    mysql.Config    `yaml:"mysql"`
	Postgres postgres.Config `yaml:"postgres"`
	// Redis 沒有設定地址時不啟用冪等快取
	Redis redis.Config `yaml:"redis"`
	// Kafka 沒有設定 broker 時事件只寫 log
	Kafka kafka.Config `yaml:"kafka"`
}

// loadConfig 讀取設定檔
// 先載入 .env (可不存在)，再以環境變數展開 ${VAR}，最後補上預設值
func loadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Ledger.Store == "" {
		c.Ledger.Store = StoreMemory
	}
	if c.Ledger.LockWaitTimeout == 0 {
		c.Ledger.LockWaitTimeout = 5 * time.Second
	}
	if c.Ledger.MaxOptimisticAttempts == 0 {
		c.Ledger.MaxOptimisticAttempts = 5
	}
	if c.Ledger.EventBufferSize == 0 {
		c.Ledger.EventBufferSize = 1000
	}

	// 補全連線池預設配置 (如果 yaml 沒寫)
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 100
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 10
	}
	if c.MySQL.ConnMaxLifetime == 0 {
		c.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	if c.MySQL.LockWaitTimeout == 0 {
		c.MySQL.LockWaitTimeout = c.Ledger.LockWaitTimeout
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 100
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 10
	}
	if c.Postgres.ConnMaxLifetime == 0 {
		c.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Postgres.LockWaitTimeout == 0 {
		c.Postgres.LockWaitTimeout = c.Ledger.LockWaitTimeout
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = redis.DefaultTTL
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = kafka.DefaultTopic
	}
}

func (c *Config) validate() error {
	switch c.Ledger.Store {
	case StoreMemory, StoreMySQL, StorePostgres:
	default:
		return fmt.Errorf("unknown ledger store %q", c.Ledger.Store)
	}
	if c.Ledger.MaxOptimisticAttempts < 1 {
		return fmt.Errorf("max_optimistic_attempts must be >= 1, got %d", c.Ledger.MaxOptimisticAttempts)
	}
	return nil
}
