package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/metrics"
	"github.com/votefest/wallet-service/internal/store"
	"github.com/votefest/wallet-service/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = time.Second
	defaultStaleProcessing = 2 * time.Minute
)

// PublisherFactory opens a broker publisher on demand.
type PublisherFactory func() (rabbitmq.Publisher, error)

// OutboxDispatcher relays committed outbox rows to the broker.
type OutboxDispatcher struct {
	repo                store.OutboxRepository
	dial                PublisherFactory
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	producer            rabbitmq.Publisher
	logger              *zap.Logger
	metrics             *metrics.Registry
}

func NewOutboxDispatcher(repo store.OutboxRepository, dial PublisherFactory, pollInterval time.Duration, logger *zap.Logger, m *metrics.Registry) *OutboxDispatcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxDispatcher{
		repo:                repo,
		dial:                dial,
		batchSize:           defaultBatchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultStaleProcessing,
		logger:              logger.With(zap.String("component", "outbox_dispatcher")),
		metrics:             m,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closeProducer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				d.logger.Warn("outbox flush failed", zap.Error(err))
			}
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}

	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			d.logger.Warn("outbox publish failed",
				zap.Int64("outbox_id", message.ID),
				zap.String("routing_key", message.RoutingKey),
				zap.Int("attempts", message.Attempts),
				zap.Int("retry_after_s", retryAfter),
				zap.Error(err),
			)
			d.metrics.OutboxProcessed(metrics.OutcomeError)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("failed to mark outbox message failed", zap.Int64("outbox_id", message.ID), zap.Error(markErr))
			}
			continue
		}
		d.metrics.OutboxProcessed(metrics.OutcomeSuccess)
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.logger.Error("failed to mark outbox message published", zap.Int64("outbox_id", message.ID), zap.Error(err))
		}
	}
	return nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.producer == nil {
		producer, err := d.dial()
		if err != nil {
			return err
		}
		d.producer = producer
	}

	if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, message.Payload); err != nil {
		d.closeProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closeProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

// retryDelaySeconds backs off exponentially, capped at five minutes.
func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
