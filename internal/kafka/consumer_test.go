package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/item-price-sync/internal/logging"
	"github.com/trogers1052/item-price-sync/internal/market"
	"github.com/trogers1052/item-price-sync/internal/models"
	"github.com/trogers1052/item-price-sync/internal/pricing"
)

type mockRefresher struct {
	mu      sync.Mutex
	errs    map[string]error
	records []*models.PriceHistoryRecord

	// blocked names wait for their channel to close, or for ctx
	blocked map[string]chan struct{}
}

func newMockRefresher() *mockRefresher {
	return &mockRefresher{
		errs:    make(map[string]error),
		blocked: make(map[string]chan struct{}),
	}
}

func (m *mockRefresher) FetchAndRecord(ctx context.Context, marketHashName string, itemID int64) (*models.PriceHistoryRecord, error) {
	m.mu.Lock()
	release := m.blocked[marketHashName]
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.errs[marketHashName]; err != nil {
		return nil, err
	}
	record := &models.PriceHistoryRecord{
		ID:         int64(len(m.records) + 1),
		ItemID:     itemID,
		Price:      decimal.RequireFromString("1.50"),
		RecordedAt: time.Now(),
	}
	m.records = append(m.records, record)
	return record, nil
}

func (m *mockRefresher) Records() []*models.PriceHistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.PriceHistoryRecord(nil), m.records...)
}

type mockReader struct {
	cfg  kafka.ReaderConfig
	msgs chan kafka.Message

	mu         sync.Mutex
	committed  []kafka.Message
	closeCalls int
	fetchErr   error
}

func newMockReader(topic string, buffer int) *mockReader {
	return &mockReader{
		cfg:  kafka.ReaderConfig{Topic: topic},
		msgs: make(chan kafka.Message, buffer),
	}
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetchErr != nil {
		err := r.fetchErr
		r.fetchErr = nil
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	r.mu.Unlock()

	select {
	case msg := <-r.msgs:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *mockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *mockReader) Close() error {
	r.mu.Lock()
	r.closeCalls++
	r.mu.Unlock()
	return nil
}

func (r *mockReader) Config() kafka.ReaderConfig {
	return r.cfg
}

func (r *mockReader) Committed() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.committed...)
}

func requestMessage(t *testing.T, offset int64, itemID int64, name string) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(models.PriceRefreshRequest{ItemID: itemID, MarketHashName: name})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: payload}
}

func startConsumer(t *testing.T, consumer *Consumer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(ctx)
	}()
	return cancel, done
}

func waitForCommits(t *testing.T, reader *mockReader, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(reader.Committed()) >= n
	}, 2*time.Second, 5*time.Millisecond, "timed out waiting for %d commits", n)
}

func stopConsumer(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for consumer to shut down")
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"item_id":7,"market_hash_name":"AK-47 | Redline (Field-Tested)"}`, false},
		{"not json", `not json`, true},
		{"missing item id", `{"market_hash_name":"Case Key"}`, true},
		{"negative item id", `{"item_id":-1,"market_hash_name":"Case Key"}`, true},
		{"missing name", `{"item_id":7}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := decodeRequest([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, errMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(7), req.ItemID)
		})
	}
}

func TestConsumer_Start_processesAndCommits(t *testing.T) {
	refresher := newMockRefresher()
	reader := newMockReader("price-refresh-requests", 4)
	consumer := &Consumer{reader: reader, refresher: refresher, workers: 1, logger: logging.Discard()}

	cancel, done := startConsumer(t, consumer)
	reader.msgs <- requestMessage(t, 0, 1, "Case Key")

	waitForCommits(t, reader, 1)
	stopConsumer(t, cancel, done)

	records := refresher.Records()
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ItemID)
	assert.Equal(t, 1, reader.closeCalls)
}

func TestConsumer_Start_duplicateDeliveryRecordsTwice(t *testing.T) {
	refresher := newMockRefresher()
	reader := newMockReader("price-refresh-requests", 4)
	consumer := &Consumer{reader: reader, refresher: refresher, workers: 1, logger: logging.Discard()}

	cancel, done := startConsumer(t, consumer)
	msg := requestMessage(t, 5, 3, "Case Key")
	reader.msgs <- msg
	reader.msgs <- msg

	waitForCommits(t, reader, 2)
	stopConsumer(t, cancel, done)

	assert.Len(t, refresher.Records(), 2)
}

func TestConsumer_Start_failuresDoNotStopTheLoop(t *testing.T) {
	refresher := newMockRefresher()
	refresher.errs["limited"] = fmt.Errorf("fetch: %w", market.ErrRateLimited)
	refresher.errs["gone"] = &market.FetchError{StatusCode: 500}
	refresher.errs["garbled"] = pricing.ErrUnparsablePrice
	refresher.errs["unsaved"] = &pricing.PersistenceError{ItemID: 4, Err: errors.New("db down")}

	reader := newMockReader("price-refresh-requests", 8)
	reader.fetchErr = errors.New("broker unavailable")
	consumer := &Consumer{reader: reader, refresher: refresher, workers: 1, logger: logging.Discard()}

	cancel, done := startConsumer(t, consumer)
	reader.msgs <- kafka.Message{Offset: 0, Value: []byte("{broken")}
	reader.msgs <- requestMessage(t, 1, 1, "limited")
	reader.msgs <- requestMessage(t, 2, 2, "gone")
	reader.msgs <- requestMessage(t, 3, 3, "garbled")
	reader.msgs <- requestMessage(t, 4, 4, "unsaved")
	reader.msgs <- requestMessage(t, 5, 5, "Case Key")

	waitForCommits(t, reader, 6)
	stopConsumer(t, cancel, done)

	records := refresher.Records()
	require.Len(t, records, 1)
	assert.Equal(t, int64(5), records[0].ItemID)

	offsets := make([]int64, 0, 6)
	for _, m := range reader.Committed() {
		offsets = append(offsets, m.Offset)
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, offsets)
}

func TestConsumer_Start_multipleWorkers(t *testing.T) {
	refresher := newMockRefresher()
	reader := newMockReader("price-refresh-requests", 10)
	consumer := &Consumer{reader: reader, refresher: refresher, workers: 3, logger: logging.Discard()}

	cancel, done := startConsumer(t, consumer)
	for i := int64(0); i < 10; i++ {
		reader.msgs <- requestMessage(t, i, i+1, "Case Key")
	}

	require.Eventually(t, func() bool {
		committed := reader.Committed()
		return len(committed) > 0 && committed[len(committed)-1].Offset == 9
	}, 2*time.Second, 5*time.Millisecond)
	stopConsumer(t, cancel, done)

	assert.Len(t, refresher.Records(), 10)
	assert.Equal(t, 1, reader.closeCalls)

	var last int64 = -1
	for _, m := range reader.Committed() {
		assert.Greater(t, m.Offset, last, "committed offsets only move forward")
		last = m.Offset
	}
}

func TestConsumer_Start_slowMessageHoldsBackLaterCommits(t *testing.T) {
	refresher := newMockRefresher()
	release := make(chan struct{})
	refresher.blocked["slow"] = release

	reader := newMockReader("price-refresh-requests", 4)
	consumer := &Consumer{reader: reader, refresher: refresher, workers: 2, logger: logging.Discard()}

	cancel, done := startConsumer(t, consumer)
	reader.msgs <- requestMessage(t, 10, 1, "slow")
	reader.msgs <- requestMessage(t, 11, 2, "fast")

	require.Eventually(t, func() bool {
		return len(refresher.Records()) == 1
	}, 2*time.Second, 5*time.Millisecond, "offset 11 should be handled while 10 is blocked")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, reader.Committed(), "offset 11 must not be committed past in-flight offset 10")

	close(release)
	require.Eventually(t, func() bool {
		committed := reader.Committed()
		return len(committed) == 1 && committed[0].Offset == 11
	}, 2*time.Second, 5*time.Millisecond)

	stopConsumer(t, cancel, done)
	assert.Len(t, refresher.Records(), 2)
}

func TestConsumer_Start_shutdownLeavesInterruptedMessageUncommitted(t *testing.T) {
	refresher := newMockRefresher()
	refresher.blocked["slow"] = make(chan struct{})

	reader := newMockReader("price-refresh-requests", 4)
	consumer := &Consumer{reader: reader, refresher: refresher, workers: 2, logger: logging.Discard()}

	cancel, done := startConsumer(t, consumer)
	reader.msgs <- requestMessage(t, 10, 1, "slow")
	reader.msgs <- requestMessage(t, 11, 2, "fast")

	require.Eventually(t, func() bool {
		return len(refresher.Records()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	stopConsumer(t, cancel, done)

	assert.Empty(t, reader.Committed(), "both offsets must be redelivered after restart")
}

func TestConsumer_Start_returnsOnCancelWithNoMessages(t *testing.T) {
	reader := newMockReader("price-refresh-requests", 1)
	consumer := &Consumer{reader: reader, refresher: newMockRefresher(), workers: 2, logger: logging.Discard()}

	cancel, done := startConsumer(t, consumer)
	stopConsumer(t, cancel, done)

	assert.Empty(t, reader.Committed())
	assert.Equal(t, 1, reader.closeCalls)
}
