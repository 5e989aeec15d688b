package outbox

import (
	"context"
	"sync"
	"time"

	"donations/internal/domain"
	kafka_infra "donations/internal/infrastructure/kafka"

	"go.uber.org/zap"
)

// OutboxRepository is the slice of the outbox store the processor needs.
type OutboxRepository interface {
	GetPendingMessages(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkMessagesAsSent(ctx context.Context, ids []string) error
	MarkMessagesAsFailed(ctx context.Context, ids []string) error
}

// Processor drains pending outbox messages to Kafka on a fixed interval.
// Messages are marked SENT only after the broker acknowledged the write,
// so consumers may see a status event more than once but never miss one.
type Processor struct {
	outboxRepo   OutboxRepository
	producer     kafka_infra.Producer
	pollInterval time.Duration
	batchSize    int
	logger       *zap.Logger
	stopOnce     sync.Once
	stopped      chan struct{}
	done         chan struct{}
}

func NewProcessor(
	outboxRepo OutboxRepository,
	producer kafka_infra.Producer,
	pollInterval time.Duration,
	batchSize int,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		outboxRepo:   outboxRepo,
		producer:     producer,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
		stopped:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor", zap.Duration("poll_interval", p.pollInterval))
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopped:
				return
			case <-ticker.C:
				p.drain(ctx)
			}
		}
	}()
}

// Stop signals the processor to finish the current batch and exit.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
	})
	<-p.done
	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) drain(ctx context.Context) {
	messages, err := p.outboxRepo.GetPendingMessages(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("Failed to load pending outbox messages", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	var sent, failed []string
	for _, msg := range messages {
		if err := p.producer.Produce(ctx, msg.Key, msg.Topic, msg.Payload); err != nil {
			p.logger.Error("Failed to publish outbox message",
				zap.String("message_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Error(err))
			failed = append(failed, msg.ID)
			continue
		}
		sent = append(sent, msg.ID)
	}

	if err := p.outboxRepo.MarkMessagesAsSent(ctx, sent); err != nil {
		p.logger.Error("Failed to mark outbox messages as sent", zap.Error(err))
	}
	if err := p.outboxRepo.MarkMessagesAsFailed(ctx, failed); err != nil {
		p.logger.Error("Failed to mark outbox messages as failed", zap.Error(err))
	}
	if len(sent) > 0 {
		p.logger.Info("Published outbox messages", zap.Int("sent", len(sent)), zap.Int("failed", len(failed)))
	}
}
