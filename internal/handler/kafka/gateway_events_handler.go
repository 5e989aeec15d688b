package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"donations/internal/app/reconcile"
	"donations/internal/domain"
	kafka_infra "donations/internal/infrastructure/kafka"
)

// GatewayEventsMessageHandler feeds gateway notifications arriving over
// Kafka into the same reconciliation path as HTTP webhooks. The message
// key carries the gateway event id used for deduplication.
func GatewayEventsMessageHandler(service reconcile.ReconcileService, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		externalEventID := string(msg.Key)
		logger.Info("Received gateway event message",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("external_event_id", externalEventID),
		)

		if err := service.ProcessGatewayEvent(ctx, msg.Value, externalEventID, domain.EventSourceWebhook); err != nil {
			logger.Error("Failed to process gateway event message",
				zap.String("external_event_id", externalEventID),
				zap.Error(err),
			)
			return fmt.Errorf("failed to process gateway event %s: %w", externalEventID, err)
		}
		return nil
	}
}
