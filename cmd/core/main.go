package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/in/rest"
	database_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/database"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/event"
	kafka_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/metrics"
	redis_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
	"github.com/JoeShih716/go-wallet-ledger/pkg/postgres"
	"github.com/JoeShih716/go-wallet-ledger/pkg/wal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(shutdown(log, run(cfg, log)))
}

// shutdown 記錄結束原因並 flush log，回傳 exit code
// os.Exit 不會執行 defer，必須在這裡先 Sync
func shutdown(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("ledger exited with error", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func run(cfg Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化 Store
	store, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. 周邊: metrics / 冪等快取 / 事件
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []usecase.Option{
		usecase.WithLogger(log),
		usecase.WithMetrics(metrics.NewPrometheus(registry)),
		usecase.WithMaxOptimisticAttempts(cfg.Ledger.MaxOptimisticAttempts),
	}

	if len(cfg.Redis.Addrs) > 0 {
		client, err := redis_adapter.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			// 快取只是加速，連不上時照樣啟動
			log.Warn("redis unavailable, idempotency cache still enabled", zap.Error(err))
		}
		opts = append(opts, usecase.WithIdempotencyCache(redis_adapter.NewIdempotencyCache(client, cfg.Redis.TTL)))
		log.Info("idempotency cache enabled", zap.Strings("addrs", cfg.Redis.Addrs))
	}

	sinks := []event.Sink{event.LogSink{Logger: log}}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafka_adapter.NewPublisher(cfg.Kafka)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sinks = []event.Sink{publisher}
		log.Info("publishing events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	dispatcher := event.NewDispatcher(sinks,
		event.WithBufferSize(cfg.Ledger.EventBufferSize),
		event.WithLogger(log),
	)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatcher.Start(dispatchCtx)
	defer func() {
		// 停止後會先送完輸送帶上剩餘的事件
		stopDispatch()
		<-dispatcher.Done()
	}()
	opts = append(opts, usecase.WithPublisher(dispatcher))

	// 4. 初始化 UseCase
	core := usecase.NewCoreUseCase(store, opts...)
	system, err := core.EnsureSystemAccount(ctx)
	if err != nil {
		return fmt.Errorf("ensure system account: %w", err)
	}
	log.Info("system account ready", zap.String("account_id", system.ID.String()))

	// 5. 啟動 REST 與 gRPC Server
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: rest.NewRouter(rest.NewHandler(core, log), log, registry),
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpc_adapter.UnaryLoggingInterceptor(log)))
	grpc_adapter.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(core))
	reflection.Register(grpcServer)

	errCh := make(chan error, 2)
	go func() {
		log.Info("starting http server", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info("starting grpc server", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// Graceful Shutdown
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down server...")
	case serveErr = <-errCh:
		log.Error("server failed, shutting down", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	log.Info("server exited")
	return serveErr
}

// newStore 依設定建立帳本儲存
// 回傳的 close 函數負責釋放連線或 WAL
func newStore(ctx context.Context, cfg Config, log *zap.Logger) (usecase.Store, func(), error) {
	switch cfg.Ledger.Store {
	case StoreMySQL:
		client, err := mysql.NewClient(ctx, cfg.MySQL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mysql: %w", err)
		}
		store := database_adapter.NewGormStore(client.DB())
		if err := store.Migrate(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("migrate mysql: %w", err)
		}
		log.Info("using mysql store", zap.String("host", cfg.MySQL.Host), zap.String("db", cfg.MySQL.DBName))
		return store, func() { _ = client.Close() }, nil

	case StorePostgres:
		client, err := postgres.NewClient(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store := database_adapter.NewGormStore(client.DB())
		if err := store.Migrate(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("using postgres store", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.DBName))
		return store, func() { _ = client.Close() }, nil
	}

	opts := []memory_adapter.StoreOption{memory_adapter.WithLockWaitTimeout(cfg.Ledger.LockWaitTimeout)}
	closeFn := func() {}
	if cfg.Ledger.WALPath != "" {
		walFile, err := wal.NewWAL(cfg.Ledger.WALPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init wal: %w", err)
		}
		opts = append(opts, memory_adapter.WithWAL(walFile))
		closeFn = func() { _ = walFile.Close() }
	}
	store, err := memory_adapter.NewStore(opts...)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to recover memory store: %w", err)
	}
	log.Info("using memory store", zap.String("wal", cfg.Ledger.WALPath))
	return store, closeFn, nil
}
