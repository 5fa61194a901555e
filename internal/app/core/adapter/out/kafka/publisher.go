package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// DefaultTopic 交易完成事件的預設 topic
const DefaultTopic = "transaction_completed"

// Config Kafka 發布設定
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// messageWriter kafka.Writer 的最小介面，方便測試替換
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 將交易完成事件寫入 Kafka
// 以 transaction id 作為 message key，同一筆交易的事件會進同一個 partition
type Publisher struct {
	writer messageWriter
}

// NewPublisher 建立 Kafka Publisher
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           writeTimeout,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish 寫入一筆事件
func (p *Publisher) Publish(ctx context.Context, event domain.TransactionCompletedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: data,
		Time:  event.OccurredAt,
	})
}

// Close 關閉 writer，會先送出 buffer 內的訊息
func (p *Publisher) Close() error {
	return p.writer.Close()
}
