package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/item-price-sync/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes price refresh requests to Kafka
type Producer struct {
	writer messageWriter
	now    func() time.Time
}

// NewProducer creates a new Kafka producer for refresh requests
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		now:    time.Now,
	}
}

// PublishRefreshRequest publishes a single refresh request
func (p *Producer) PublishRefreshRequest(ctx context.Context, req models.PriceRefreshRequest) error {
	return p.PublishRefreshRequests(ctx, []models.PriceRefreshRequest{req})
}

// PublishRefreshRequests publishes the requests in one batch. Requests
// missing an id or timestamp get one assigned.
func (p *Producer) PublishRefreshRequests(ctx context.Context, reqs []models.PriceRefreshRequest) error {
	if len(reqs) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(reqs))
	for _, req := range reqs {
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}
		if req.RequestedAt.IsZero() {
			req.RequestedAt = p.now().UTC()
		}

		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal refresh request: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(req.ItemID, 10)),
			Value: data,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
