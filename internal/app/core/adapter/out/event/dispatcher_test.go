package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.TransactionCompletedEvent
	err    error
}

func (s *recordingSink) Publish(ctx context.Context, event domain.TransactionCompletedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.events))
	for _, e := range s.events {
		ids = append(ids, e.TransactionID)
	}
	return ids
}

func TestDispatcher_DeliversInOrderAndDrainsOnShutdown(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	d := NewDispatcher([]Sink{first, second})

	// 先放事件再啟動，確認關閉時會把輸送帶清空
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, d.Publish(context.Background(), domain.TransactionCompletedEvent{TransactionID: id}))
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()
	<-d.Done()

	assert.Equal(t, []string{"t1", "t2", "t3"}, first.ids())
	assert.Equal(t, []string{"t1", "t2", "t3"}, second.ids())
}

func TestDispatcher_QueueFull(t *testing.T) {
	d := NewDispatcher(nil, WithBufferSize(1))
	require.NoError(t, d.Publish(context.Background(), domain.TransactionCompletedEvent{TransactionID: "t1"}))
	err := d.Publish(context.Background(), domain.TransactionCompletedEvent{TransactionID: "t2"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDispatcher_SinkErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	failing := &recordingSink{err: errors.New("broker down")}
	healthy := &recordingSink{}
	d := NewDispatcher([]Sink{failing, healthy}, WithLogger(zap.New(core)))

	require.NoError(t, d.Publish(context.Background(), domain.TransactionCompletedEvent{TransactionID: "t1"}))
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()
	<-d.Done()

	assert.Equal(t, []string{"t1"}, healthy.ids())
	assert.Equal(t, 1, logs.FilterMessage("deliver transaction event failed").Len())
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := LogSink{Logger: zap.New(core)}
	require.NoError(t, sink.Publish(context.Background(), domain.TransactionCompletedEvent{
		TransactionID: "t1",
		Type:          domain.TransactionTypeCredit,
		Amount:        100,
	}))
	entries := logs.FilterMessage("transaction completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "t1", entries[0].ContextMap()["transaction_id"])
}
