package notifications

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"token-sale/sale-backend/internal/sale"
)

// FanOut delivers events to every sink, even when an earlier one fails.
type FanOut []sale.EventSink

func (f FanOut) Publish(ctx context.Context, events []sale.Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort wraps a sink whose failures are logged but never reported, so
// they do not hold events back for redelivery.
func BestEffort(sink sale.EventSink, logger *zap.Logger) sale.EventSink {
	return sale.EventSinkFunc(func(ctx context.Context, events []sale.Event) error {
		if err := sink.Publish(ctx, events); err != nil {
			logger.Warn("Dropped live event delivery", zap.Int("events", len(events)), zap.Error(err))
		}
		return nil
	})
}
