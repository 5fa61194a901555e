package event

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// ErrQueueFull 輸送帶已滿，事件被丟棄
var ErrQueueFull = errors.New("event queue is full")

// DefaultBufferSize 輸送帶預設容量
const DefaultBufferSize = 1000

// Sink 事件的最終去處 (Kafka、log ...)
type Sink interface {
	Publish(ctx context.Context, event domain.TransactionCompletedEvent) error
}

// Dispatcher 單一 goroutine 依序把事件送往所有 Sink
//
// Publish(不等待) -> Channel -> Run Loop -> Sinks
//
// 入帳流程只負責把事件放上輸送帶，sink 變慢或失敗都不會拖住交易
type Dispatcher struct {
	sinks          []Sink
	events         chan domain.TransactionCompletedEvent
	deliverTimeout time.Duration
	logger         *zap.Logger
	done           chan struct{}
}

// DispatcherOption 定義了 Dispatcher 的配置選項函數
type DispatcherOption func(*Dispatcher)

// WithBufferSize 設定輸送帶容量
func WithBufferSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.events = make(chan domain.TransactionCompletedEvent, size)
		}
	}
}

// WithDeliverTimeout 設定單一 sink 的送出逾時
func WithDeliverTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.deliverTimeout = timeout
	}
}

// WithLogger 設定 logger
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher 建立 Dispatcher，需呼叫 Start 才會開始送出
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:          sinks,
		events:         make(chan domain.TransactionCompletedEvent, DefaultBufferSize),
		deliverTimeout: 5 * time.Second,
		logger:         zap.NewNop(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish 將事件放上輸送帶，不等待送出結果
func (d *Dispatcher) Publish(ctx context.Context, event domain.TransactionCompletedEvent) error {
	select {
	case d.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Start 啟動送出迴圈 (非同步)，ctx 取消後會先把剩下的事件送完
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Done 送出迴圈結束後關閉
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的事件處理完
			d.drain()
			return
		case event := <-d.events:
			d.deliver(event)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.events:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event domain.TransactionCompletedEvent) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.deliverTimeout)
		err := sink.Publish(ctx, event)
		cancel()
		if err != nil {
			d.logger.Error("deliver transaction event failed",
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err),
			)
		}
	}
}

// LogSink 將事件寫進 log，未設定 Kafka 時使用
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Publish(ctx context.Context, event domain.TransactionCompletedEvent) error {
	s.Logger.Info("transaction completed",
		zap.String("transaction_id", event.TransactionID),
		zap.String("transaction_type", string(event.Type)),
		zap.String("source_account_id", event.SourceAccountID),
		zap.String("destination_account_id", event.DestinationAccountID),
		zap.Int64("amount", event.Amount),
		zap.Time("occurred_at", event.OccurredAt),
	)
	return nil
}
