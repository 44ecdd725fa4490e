package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/trogers1052/item-price-sync/internal/market"
	"github.com/trogers1052/item-price-sync/internal/models"
	"github.com/trogers1052/item-price-sync/internal/pricing"
	"golang.org/x/sync/errgroup"
)

// PriceRefresher fetches and records the current price of one item
type PriceRefresher interface {
	FetchAndRecord(ctx context.Context, marketHashName string, itemID int64) (*models.PriceHistoryRecord, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Config() kafka.ReaderConfig
}

// fetchRetryDelay pauses a worker after a reader error
const fetchRetryDelay = 250 * time.Millisecond

// errMalformed marks a message that can never be processed
var errMalformed = errors.New("malformed refresh request")

// Consumer handles price refresh requests from Kafka.
// A message is committed once handled, whatever the outcome, so a bad
// message cannot block its partition. With several workers a partition is
// never committed past a message that is still being handled.
type Consumer struct {
	reader    messageReader
	refresher PriceRefresher
	workers   int
	logger    *logrus.Logger

	fetchMu  sync.Mutex
	commitMu sync.Mutex
	offsets  *offsetTracker
}

// NewConsumer creates a new Kafka consumer group member for refresh requests
func NewConsumer(brokers []string, topic, groupID string, workers int, refresher PriceRefresher, logger *logrus.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		StartOffset: kafka.FirstOffset,
	})

	if workers < 1 {
		workers = 1
	}

	return &Consumer{
		reader:    reader,
		refresher: refresher,
		workers:   workers,
		logger:    logger,
	}
}

// Start consumes messages until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.WithFields(logrus.Fields{
		"topic":   c.reader.Config().Topic,
		"workers": c.workers,
	}).Info("Starting Kafka consumer")

	c.offsets = newOffsetTracker()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		worker := i
		g.Go(func() error {
			c.run(gctx, worker)
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("Kafka consumer shutting down")
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}

func (c *Consumer) run(ctx context.Context, worker int) {
	for {
		msg, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).WithField("worker", worker).Error("Error reading message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		if err := c.processMessage(ctx, msg); err != nil && ctx.Err() != nil {
			// interrupted by shutdown; leave uncommitted for redelivery
			return
		}

		if err := c.commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("Error committing message")
		}
	}
}

// commit marks msg handled and commits its partition as far as the
// tracker allows. Commits are sent one at a time so a partition's
// committed offset only moves forward.
func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	next, ok := c.offsets.finish(msg)
	if !ok {
		return nil
	}
	return c.reader.CommitMessages(ctx, next)
}

// fetch reads the next message and registers it as in flight before any
// other worker can fetch, so offsets enter the tracker in fetch order.
func (c *Consumer) fetch(ctx context.Context) (kafka.Message, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, err
	}
	c.offsets.start(msg)
	return msg, nil
}

// processMessage handles a single refresh request and logs its outcome
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	log := c.logger.WithFields(logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	req, err := decodeRequest(msg.Value)
	if err != nil {
		log.WithError(err).Warn("Skipping malformed refresh request")
		return err
	}

	log = log.WithFields(logrus.Fields{
		"item_id":          req.ItemID,
		"market_hash_name": req.MarketHashName,
		"request_id":       req.RequestID,
	})

	record, err := c.refresher.FetchAndRecord(ctx, req.MarketHashName, req.ItemID)
	var fetchErr *market.FetchError
	var persistErr *pricing.PersistenceError
	switch {
	case err == nil:
		log.WithField("price", record.Price.String()).Info("Refreshed item price")
	case ctx.Err() != nil:
		log.WithError(err).Info("Refresh interrupted by shutdown")
	case errors.Is(err, market.ErrRateLimited):
		log.Warn("Market API rate limited, dropping refresh request")
	case errors.As(err, &fetchErr):
		log.WithField("status", fetchErr.StatusCode).WithError(err).Warn("Market API fetch failed")
	case errors.Is(err, pricing.ErrUnparsablePrice):
		log.Info("No usable market price this cycle")
	case errors.As(err, &persistErr):
		log.WithError(persistErr.Err).Error("Failed to persist fetched price")
	default:
		log.WithError(err).Error("Error processing refresh request")
	}
	return err
}

func decodeRequest(data []byte) (*models.PriceRefreshRequest, error) {
	var req models.PriceRefreshRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if req.ItemID <= 0 {
		return nil, fmt.Errorf("%w: item_id must be positive", errMalformed)
	}
	if req.MarketHashName == "" {
		return nil, fmt.Errorf("%w: market_hash_name is required", errMalformed)
	}
	return &req, nil
}
