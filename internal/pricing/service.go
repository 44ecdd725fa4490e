package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/trogers1052/item-price-sync/internal/market"
	"github.com/trogers1052/item-price-sync/internal/models"
	"golang.org/x/sync/semaphore"
)

// Default pacing values
const (
	DefaultMinDelay          = 6 * time.Second
	DefaultRateLimitCooldown = 60 * time.Second
	DefaultFetchTimeout      = 15 * time.Second
)

// PriceFetcher is the market API as seen by the service
type PriceFetcher interface {
	PriceOverview(ctx context.Context, marketHashName string) (*market.PriceOverview, error)
}

// PriceRecorder appends a price history record to the ledger store
type PriceRecorder interface {
	RecordPrice(ctx context.Context, record *models.PriceHistoryRecord) error
}

// Gate is a capacity-1 lock guarding the market API.
// *semaphore.Weighted satisfies it.
type Gate interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// Options tunes the service. Zero values take the defaults.
type Options struct {
	MinDelay          time.Duration
	RateLimitCooldown time.Duration
	FetchTimeout      time.Duration
	Clock             clockwork.Clock
	Gate              Gate
}

// Service fetches market prices one call at a time, paces the calls and
// records every successful price.
type Service struct {
	fetcher  PriceFetcher
	recorder PriceRecorder
	logger   *logrus.Logger

	minDelay     time.Duration
	cooldown     time.Duration
	fetchTimeout time.Duration
	clock        clockwork.Clock
	gate         Gate

	// notBefore is the earliest instant the next market call may start.
	// Only read or written while holding gate.
	notBefore time.Time
}

// NewService creates a throttled price service
func NewService(fetcher PriceFetcher, recorder PriceRecorder, opts Options, logger *logrus.Logger) *Service {
	s := &Service{
		fetcher:      fetcher,
		recorder:     recorder,
		logger:       logger,
		minDelay:     opts.MinDelay,
		cooldown:     opts.RateLimitCooldown,
		fetchTimeout: opts.FetchTimeout,
		clock:        opts.Clock,
		gate:         opts.Gate,
	}
	if s.minDelay == 0 {
		s.minDelay = DefaultMinDelay
	}
	if s.cooldown == 0 {
		s.cooldown = DefaultRateLimitCooldown
	}
	if s.fetchTimeout == 0 {
		s.fetchTimeout = DefaultFetchTimeout
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.gate == nil {
		s.gate = semaphore.NewWeighted(1)
	}
	return s
}

// FetchAndRecord fetches the current price of one item and appends it to
// the price history. Only one market call is in flight at a time; the
// caller blocks while waiting for its turn, while the pacing delay runs
// after its call, and through the cooldown after a rate limit.
func (s *Service) FetchAndRecord(ctx context.Context, marketHashName string, itemID int64) (*models.PriceHistoryRecord, error) {
	log := s.logger.WithFields(logrus.Fields{
		"item_id":          itemID,
		"market_hash_name": marketHashName,
	})

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed waiting for market api slot: %w", err)
	}
	defer s.gate.Release(1)

	// a previous holder may have been cancelled before its delay ran out
	if err := s.sleepUntil(ctx, s.notBefore); err != nil {
		return nil, fmt.Errorf("failed waiting for market api slot: %w", err)
	}

	overview, err := s.fetch(ctx, marketHashName)
	if errors.Is(err, market.ErrRateLimited) {
		s.notBefore = s.clock.Now().Add(s.cooldown)
		log.WithField("cooldown", s.cooldown).Warn("Market API rate limit hit, cooling down")
		if sleepErr := s.sleepUntil(ctx, s.notBefore); sleepErr != nil {
			log.WithError(sleepErr).Warn("Cooldown interrupted")
		}
		return nil, fmt.Errorf("price fetch for item %d: %w", itemID, err)
	}

	respondedAt := s.clock.Now()
	s.notBefore = respondedAt.Add(s.minDelay)
	defer func() {
		if err := s.sleepUntil(ctx, s.notBefore); err != nil {
			log.WithError(err).Debug("Pacing delay interrupted")
		}
	}()

	if err != nil {
		return nil, fmt.Errorf("price fetch for item %d: %w", itemID, err)
	}

	price, ok := overview.BestPrice()
	if !ok {
		log.WithFields(logrus.Fields{
			"lowest_price": overview.LowestPrice,
			"median_price": overview.MedianPrice,
		}).Info("No parsable price this cycle")
		return nil, fmt.Errorf("item %d (lowest %q, median %q): %w",
			itemID, overview.LowestPrice, overview.MedianPrice, ErrUnparsablePrice)
	}

	record := &models.PriceHistoryRecord{
		ItemID:     itemID,
		Price:      price,
		RecordedAt: respondedAt,
	}
	if err := s.recorder.RecordPrice(ctx, record); err != nil {
		return nil, &PersistenceError{ItemID: itemID, Err: err}
	}

	log.WithField("price", record.Price.String()).Info("Recorded market price")
	return record, nil
}

func (s *Service) fetch(ctx context.Context, marketHashName string) (*market.PriceOverview, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	return s.fetcher.PriceOverview(ctx, marketHashName)
}

func (s *Service) sleepUntil(ctx context.Context, t time.Time) error {
	d := t.Sub(s.clock.Now())
	if d <= 0 {
		return nil
	}

	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
