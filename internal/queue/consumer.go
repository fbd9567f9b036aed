package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is cancelled, re-subscribing with backoff whenever
// the broker drops the subscription.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("signal subscription lost, resubscribing",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery acks on success. Malformed payloads and validation failures
// go straight to the DLQ; other handler errors are requeued once and
// dead-lettered on the second failure.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	var msg SignalMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("dead-lettering signal: invalid JSON",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return reject(d, "invalid message")
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("dead-lettering signal: validation failed",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return reject(d, "invalid payload")
	}

	err := handler(ctx, msg)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			return fmt.Errorf("failed to ack delivery: %w", ackErr)
		}
		return nil
	}

	if errors.Is(err, domain.ErrValidation) || d.Redelivered {
		c.logger.Error("dead-lettering signal after handler failure",
			zap.String("messageId", msg.MessageID()),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err),
		)
		return reject(d, "handler failure")
	}

	c.logger.Warn("requeueing signal after handler failure",
		zap.String("messageId", msg.MessageID()),
		zap.Error(err),
	)
	if nackErr := d.Nack(false, true); nackErr != nil {
		return fmt.Errorf("handler failed and nack failed: %w", nackErr)
	}
	return nil
}

func reject(d amqp.Delivery, what string) error {
	if err := d.Reject(false); err != nil {
		return fmt.Errorf("failed to reject %s: %w", what, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
