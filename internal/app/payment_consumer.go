package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/ledger"
)

// PaymentApplier is the slice of WalletService the consumer needs.
type PaymentApplier interface {
	ApplyVerifiedPayment(ctx context.Context, event domain.PaymentVerifiedEvent) (PaymentOutcome, error)
}

// PaymentConsumer applies payment.verified events from the broker.
type PaymentConsumer struct {
	payments PaymentApplier
	logger   *zap.Logger
	timeout  time.Duration
}

func NewPaymentConsumer(payments PaymentApplier, logger *zap.Logger) *PaymentConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentConsumer{
		payments: payments,
		logger:   logger.With(zap.String("component", "payment_consumer")),
		timeout:  15 * time.Second,
	}
}

// HandleMessage returns true to acknowledge and false to re-queue. Malformed
// and permanently rejected events are acknowledged so they do not loop.
func (c *PaymentConsumer) HandleMessage(ctx context.Context, body []byte) bool {
	var event domain.PaymentVerifiedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("failed to unmarshal payment event", zap.Error(err))
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outcome, err := c.payments.ApplyVerifiedPayment(ctx, event)
	switch {
	case err == nil:
		c.logger.Info("payment applied",
			zap.String("reference", outcome.Reference),
			zap.String("purpose", outcome.Purpose),
			zap.Bool("duplicate", outcome.Duplicate),
		)
		return true
	case errors.Is(err, ledger.ErrStorage):
		c.logger.Warn("payment apply failed; will retry", zap.String("reference", event.ExternalReference), zap.Error(err))
		return false
	case IsPermanentPaymentError(err):
		c.logger.Error("payment rejected", zap.String("reference", event.ExternalReference), zap.Error(err))
		return true
	default:
		c.logger.Error("payment apply failed", zap.String("reference", event.ExternalReference), zap.Error(err))
		return false
	}
}
