package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/trogers1052/item-price-sync/internal/config"
	"github.com/trogers1052/item-price-sync/internal/models"
)

const refreshJobName = "refresh-tracked-prices"

// TrackedItemSource lists the items whose prices are kept fresh
type TrackedItemSource interface {
	ListTrackedItems(ctx context.Context) ([]*models.Item, error)
}

// RequestPublisher enqueues refresh requests on the message channel
type RequestPublisher interface {
	PublishRefreshRequests(ctx context.Context, reqs []models.PriceRefreshRequest) error
}

// RefreshScheduler periodically enqueues a refresh request for every tracked item
type RefreshScheduler struct {
	source    TrackedItemSource
	publisher RequestPublisher
	cfg       config.SchedulerConfig
	clock     clockwork.Clock
	logger    *logrus.Logger

	scheduler gocron.Scheduler
}

// New creates a refresh scheduler. A nil clock uses the wall clock.
func New(source TrackedItemSource, publisher RequestPublisher, cfg config.SchedulerConfig, clock clockwork.Clock, logger *logrus.Logger) (*RefreshScheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &RefreshScheduler{
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		scheduler: s,
	}, nil
}

// RefreshAll enqueues one refresh request per tracked item and returns how
// many were enqueued. It does not wait for the prices to be fetched.
func (s *RefreshScheduler) RefreshAll(ctx context.Context) (int, error) {
	items, err := s.source.ListTrackedItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tracked items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	now := s.clock.Now().UTC()
	reqs := make([]models.PriceRefreshRequest, 0, len(items))
	for _, item := range items {
		reqs = append(reqs, models.PriceRefreshRequest{
			ItemID:         item.ID,
			MarketHashName: item.MarketHashName,
			RequestedAt:    now,
		})
	}

	if err := s.publisher.PublishRefreshRequests(ctx, reqs); err != nil {
		return 0, fmt.Errorf("failed to enqueue refresh requests: %w", err)
	}
	return len(reqs), nil
}

// Start registers the refresh job and starts the scheduler. The first run
// happens after the configured initial delay.
func (s *RefreshScheduler) Start() error {
	startAt := gocron.WithStartImmediately()
	if s.cfg.InitialDelay > 0 {
		startAt = gocron.WithStartDateTime(s.clock.Now().Add(s.cfg.InitialDelay))
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(s.taskWithRecover(s.tick)),
		gocron.WithName(refreshJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(startAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh job: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"initial_delay": s.cfg.InitialDelay.String(),
		"interval":      s.cfg.Interval.String(),
	}).Info("Starting refresh scheduler")

	s.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down, waiting for a running tick to finish
func (s *RefreshScheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

func (s *RefreshScheduler) tick(ctx context.Context) error {
	n, err := s.RefreshAll(ctx)
	if err != nil {
		return err
	}
	s.logger.WithField("enqueued", n).Info("Enqueued periodic price refresh")
	return nil
}

func (s *RefreshScheduler) taskWithRecover(fn func(ctx context.Context) error) func(ctx context.Context) {
	return func(ctx context.Context) {
		log := s.logger.WithField("job", refreshJobName)
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"panic":      r,
					"stacktrace": string(debug.Stack()),
				}).Error("Panic recovered in scheduler job")
			}
		}()

		if err := fn(ctx); err != nil {
			log.WithError(err).Error("Scheduler job failed")
		}
	}
}
