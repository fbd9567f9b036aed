package queue

import (
	"context"
	"fmt"
)

// Publisher publishes engine signals to their queue.
type Publisher interface {
	Publish(ctx context.Context, msg SignalMessage) error
	Close() error
}

// MessageHandler handles a consumed signal.
type MessageHandler func(ctx context.Context, msg SignalMessage) error

// Consumer consumes signals from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const queuePrefix = "recovery"

var signalKinds = []SignalKind{SignalFailed, SignalRecovered}

// QueueName returns the work queue for a signal kind, e.g. recovery.failed.
func QueueName(kind SignalKind) string {
	return fmt.Sprintf("%s.%s", queuePrefix, kind)
}

// DLQName returns the dead-letter queue for a signal kind, e.g. dlq.recovery.failed.
func DLQName(kind SignalKind) string {
	return "dlq." + QueueName(kind)
}

func SignalQueueNames() []string {
	names := make([]string, 0, len(signalKinds))
	for _, k := range signalKinds {
		names = append(names, QueueName(k))
	}
	return names
}

func DLQNames() []string {
	names := make([]string, 0, len(signalKinds))
	for _, k := range signalKinds {
		names = append(names, DLQName(k))
	}
	return names
}
